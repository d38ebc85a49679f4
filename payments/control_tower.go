package payments

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/routing/route"
)

// Persister stores payments. Every mutation of the control tower is written
// through before it becomes visible.
type Persister interface {
	// PutPayment inserts or overwrites a payment.
	PutPayment(payment *Payment) error

	// FetchPayments returns all stored payments.
	FetchPayments() ([]*Payment, error)
}

// ControlTower tracks all outgoing payments made, whose primary purpose is
// to prevent duplicate payments to the same payment hash. Payments are
// transitioned through various payment states, and the ControlTower provides
// access to driving the state transitions.
type ControlTower struct {
	db    Persister
	clock clock.Clock

	mu       sync.Mutex
	payments map[lntypes.Hash]*Payment
	lastSeq  uint64

	subscribers    map[lntypes.Hash][]chan PaymentResult
	subscribersMtx sync.Mutex
}

// NewControlTower creates a new instance of the ControlTower and loads the
// stored payments. A nil db keeps payments in memory only.
func NewControlTower(db Persister, clk clock.Clock) (*ControlTower,
	error) {

	p := &ControlTower{
		db:          db,
		clock:       clk,
		payments:    make(map[lntypes.Hash]*Payment),
		subscribers: make(map[lntypes.Hash][]chan PaymentResult),
	}

	if db == nil {
		return p, nil
	}

	stored, err := db.FetchPayments()
	if err != nil {
		return nil, fmt.Errorf("unable to load payments: %w", err)
	}
	for _, payment := range stored {
		p.payments[payment.Info.PaymentHash] = payment
		if payment.SequenceNum > p.lastSeq {
			p.lastSeq = payment.SequenceNum
		}
	}

	return p, nil
}

// updatePayment applies f to a copy of the payment, persists the result and
// swaps it in. The caller must hold mu.
func (p *ControlTower) updatePayment(hash lntypes.Hash,
	f func(*Payment) error) (*Payment, error) {

	existing, ok := p.payments[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPaymentNotInitiated, hash)
	}

	payment := existing.Copy()
	if err := f(payment); err != nil {
		return nil, err
	}

	if p.db != nil {
		if err := p.db.PutPayment(payment); err != nil {
			return nil, err
		}
	}
	p.payments[hash] = payment

	return payment.Copy(), nil
}

// InitPayment checks or records the given PaymentCreationInfo, making sure
// the hash isn't already being paid or paid. A payment that failed before
// is replaced, so a failed payment can be sent again. After this method
// returns successfully, the payment is Pending.
func (p *ControlTower) InitPayment(hash lntypes.Hash,
	info *PaymentCreationInfo) error {

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.payments[hash]; ok {
		switch existing.Status {
		case StatusSucceeded:
			return fmt.Errorf("%w: %v", ErrAlreadyPaid, hash)

		case StatusPending, StatusInFlight:
			return fmt.Errorf("%w: %v", ErrPaymentInFlight, hash)
		}
	}

	infoCopy := *info
	payment := &Payment{
		SequenceNum: p.lastSeq + 1,
		Info:        &infoCopy,
		Status:      StatusPending,
	}

	if p.db != nil {
		if err := p.db.PutPayment(payment); err != nil {
			return err
		}
	}
	p.lastSeq++
	p.payments[hash] = payment

	log.Debugf("Initiated %v", payment)

	return nil
}

// RegisterAttempt records a new attempt over rt and moves the payment to
// InFlight. Only one attempt may be unresolved at a time.
func (p *ControlTower) RegisterAttempt(hash lntypes.Hash,
	rt *route.Route) (*HTLCAttempt, error) {

	p.mu.Lock()
	defer p.mu.Unlock()

	var attempt HTLCAttempt
	_, err := p.updatePayment(hash, func(payment *Payment) error {
		if payment.Status.IsTerminal() {
			return fmt.Errorf("%w: %v is %v", ErrPaymentTerminal,
				hash, payment.Status)
		}
		if _, ok := payment.activeAttempt(); ok {
			return fmt.Errorf("%w: %v", ErrAttemptInFlight, hash)
		}

		attempt = HTLCAttempt{
			HTLCAttemptInfo: HTLCAttemptInfo{
				AttemptID:   uint64(len(payment.HTLCs)),
				Route:       *rt.Copy(),
				AttemptTime: p.clock.Now(),
			},
		}
		payment.HTLCs = append(payment.HTLCs, attempt)
		payment.Status = StatusInFlight

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &attempt, nil
}

// resolveAttempt applies f to an unresolved attempt of the payment.
func (p *ControlTower) resolveAttempt(hash lntypes.Hash, attemptID uint64,
	f func(*Payment, *HTLCAttempt)) (*Payment, error) {

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.updatePayment(hash, func(payment *Payment) error {
		if attemptID >= uint64(len(payment.HTLCs)) {
			return fmt.Errorf("%w: %d of %v", ErrAttemptNotFound,
				attemptID, hash)
		}

		attempt := &payment.HTLCs[attemptID]
		if attempt.IsResolved() {
			return fmt.Errorf("%w: %d of %v",
				ErrAttemptAlreadyResolved, attemptID, hash)
		}

		f(payment, attempt)

		return nil
	})
}

// SettleAttempt marks the given attempt settled, which completes the
// payment. After invoking this method, InitPayment always returns an error
// to prevent us from making duplicate payments to the same payment hash.
func (p *ControlTower) SettleAttempt(hash lntypes.Hash,
	attemptID uint64) (*Payment, error) {

	payment, err := p.resolveAttempt(hash, attemptID,
		func(payment *Payment, attempt *HTLCAttempt) {
			attempt.Settle = &HTLCSettleInfo{
				SettleTime: p.clock.Now(),
			}
			payment.Status = StatusSucceeded
		},
	)
	if err != nil {
		return nil, err
	}

	log.Infof("Payment %v succeeded with attempt %d", hash, attemptID)

	// Notify subscribers of success event.
	p.notifyFinalEvent(hash, &PaymentResult{
		Success: true,
		HTLCs:   payment.HTLCs,
	})

	return payment, nil
}

// FailAttempt marks the given payment attempt failed. The payment stays in
// flight, so another attempt may follow.
func (p *ControlTower) FailAttempt(hash lntypes.Hash, attemptID uint64,
	failInfo *HTLCFailInfo) (*Payment, error) {

	payment, err := p.resolveAttempt(hash, attemptID,
		func(_ *Payment, attempt *HTLCAttempt) {
			info := *failInfo
			if info.FailTime.IsZero() {
				info.FailTime = p.clock.Now()
			}
			attempt.Failure = &info
		},
	)
	if err != nil {
		return nil, err
	}

	log.Debugf("Attempt %d of payment %v failed: %v", attemptID, hash,
		failInfo.Message)

	return payment, nil
}

// Fail transitions a payment into the Failed state, and records the reason
// the payment failed. All attempts must be resolved. After invoking this
// method, InitPayment returns nil on its next call for this payment hash,
// allowing the user to make a subsequent payment.
func (p *ControlTower) Fail(hash lntypes.Hash,
	reason FailureReason) (*Payment, error) {

	p.mu.Lock()
	payment, err := p.updatePayment(hash, func(payment *Payment) error {
		if payment.Status.IsTerminal() {
			return fmt.Errorf("%w: %v is %v", ErrPaymentTerminal,
				hash, payment.Status)
		}
		if _, ok := payment.activeAttempt(); ok {
			return fmt.Errorf("%w: %v", ErrPaymentHasActiveAttempt,
				hash)
		}

		payment.Status = StatusFailed
		payment.FailureReason = fn.Some(reason)

		return nil
	})
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	log.Infof("Payment %v failed: %v", hash, reason)

	// Notify subscribers of fail event.
	p.notifyFinalEvent(hash, &PaymentResult{
		FailureReason: reason,
		HTLCs:         payment.HTLCs,
	})

	return payment, nil
}

// Cancel fails a payment that has no attempt yet. Payments in flight run to
// completion and cannot be canceled.
func (p *ControlTower) Cancel(hash lntypes.Hash) (*Payment, error) {
	p.mu.Lock()
	existing, ok := p.payments[hash]
	if ok && existing.Status != StatusPending {
		p.mu.Unlock()

		return nil, fmt.Errorf("%w: %v is %v", ErrPaymentNotPending,
			hash, existing.Status)
	}
	p.mu.Unlock()

	// Fail re-checks the status under the lock, an attempt registered in
	// between makes it refuse.
	payment, err := p.Fail(hash, FailureReasonCanceled)
	if errors.Is(err, ErrPaymentHasActiveAttempt) {
		return nil, fmt.Errorf("%w: %v", ErrPaymentNotPending, hash)
	}

	return payment, err
}

// FetchPayment fetches the payment corresponding to the given payment hash.
func (p *ControlTower) FetchPayment(hash lntypes.Hash) (*Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payment, ok := p.payments[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrPaymentNotInitiated, hash)
	}

	return payment.Copy(), nil
}

// FetchPayments returns all payments in the order they were initiated.
func (p *ControlTower) FetchPayments() []*Payment {
	p.mu.Lock()
	payments := make([]*Payment, 0, len(p.payments))
	for _, payment := range p.payments {
		payments = append(payments, payment.Copy())
	}
	p.mu.Unlock()

	sort.Slice(payments, func(i, j int) bool {
		return payments[i].SequenceNum < payments[j].SequenceNum
	})

	return payments
}

// FetchInFlightPayments returns all payments that did not reach a terminal
// status.
func (p *ControlTower) FetchInFlightPayments() []*Payment {
	var inFlight []*Payment
	for _, payment := range p.FetchPayments() {
		if !payment.Status.IsTerminal() {
			inFlight = append(inFlight, payment)
		}
	}

	return inFlight
}

// SubscribePayment subscribes to updates for the payment with the given
// hash. It returns a boolean indicating whether the payment is still in
// flight and a channel that provides the final outcome of the payment.
func (p *ControlTower) SubscribePayment(hash lntypes.Hash) (bool,
	chan PaymentResult, error) {

	// Create a channel with buffer size 1. For every payment there will
	// be exactly one event sent.
	c := make(chan PaymentResult, 1)

	// Take lock before querying the payment to prevent this scenario:
	// FetchPayment returns us an in-flight state -> payment succeeds,
	// but there is no subscriber to notify yet -> we add ourselves as a
	// subscriber -> ... we will never receive a notification.
	p.subscribersMtx.Lock()
	defer p.subscribersMtx.Unlock()

	payment, err := p.FetchPayment(hash)
	if err != nil {
		return false, nil, err
	}

	var event PaymentResult

	switch payment.Status {
	// Payment is currently pending or in flight. Register this
	// subscriber and return without writing a result to the channel
	// yet.
	case StatusPending, StatusInFlight:
		p.subscribers[hash] = append(p.subscribers[hash], c)

		return true, c, nil

	case StatusSucceeded:
		event = PaymentResult{
			Success: true,
			HTLCs:   payment.HTLCs,
		}

	case StatusFailed:
		event = PaymentResult{
			FailureReason: payment.FailureReason.UnwrapOr(
				FailureReasonError,
			),
			HTLCs: payment.HTLCs,
		}

	default:
		return false, nil, errors.New("unknown payment status")
	}

	// Write immediate result to the channel.
	c <- event
	close(c)

	return false, c, nil
}

// notifyFinalEvent sends a final payment event to all subscribers of this
// payment. The channel will be closed after this.
func (p *ControlTower) notifyFinalEvent(hash lntypes.Hash,
	event *PaymentResult) {

	// Get all subscribers for this hash. As there is only a single
	// outcome, the subscriber list can be cleared.
	p.subscribersMtx.Lock()
	list, ok := p.subscribers[hash]
	if !ok {
		p.subscribersMtx.Unlock()
		return
	}
	delete(p.subscribers, hash)
	p.subscribersMtx.Unlock()

	// Notify all subscribers of the event. The subscriber channel is
	// buffered, so it cannot block here.
	for _, subscriber := range list {
		subscriber <- *event
		close(subscriber)
	}
}
