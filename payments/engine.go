package payments

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/chanstore"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing"
	"github.com/lightningnetwork/lnpay/routing/route"
	"github.com/lightningnetwork/lnpay/zpay32"
)

const (
	// DefaultMaxRetries is the number of attempts made after the first
	// one failed.
	DefaultMaxRetries = 3

	// DefaultPaymentTimeout is the time a payment may take before it is
	// failed.
	DefaultPaymentTimeout = 60 * time.Second
)

// ChannelSource is the local channel store payments spend from.
type ChannelSource interface {
	// Active returns all channels that can send.
	Active() []*chanstore.Channel

	// FetchByShortID looks up a channel by its short channel id.
	FetchByShortID(scid lnwire.ShortChannelID) (*chanstore.Channel,
		error)

	// AvailableBalance is the local balance of a channel minus its
	// outstanding reservations.
	AvailableBalance(chanID lnwire.ChannelID) lnwire.MilliSatoshi

	// TotalLocalBalance sums the local balance of all active channels.
	TotalLocalBalance() lnwire.MilliSatoshi

	// TotalAvailableBalance sums the available balance of all active
	// channels.
	TotalAvailableBalance() lnwire.MilliSatoshi

	// Reserve sets local balance aside for an attempt.
	Reserve(chanID lnwire.ChannelID,
		amt lnwire.MilliSatoshi) (*chanstore.Reservation, error)

	// Release drops a reservation.
	Release(res *chanstore.Reservation) error

	// Commit moves a reservation to the remote side.
	Commit(res *chanstore.Reservation) error

	// CommitFor is Commit that records ref in the same write.
	CommitFor(res *chanstore.Reservation, ref []byte) error

	// IsCommitted reports whether a commit with ref landed.
	IsCommitted(ref []byte) bool

	// ForgetCommit drops the record of ref.
	ForgetCommit(ref []byte) error
}

// RouteFinder computes routes.
type RouteFinder interface {
	// FindRoute returns the best route for the request.
	FindRoute(req *routing.RouteRequest) (*route.Route, error)
}

// Forwarder settles the remote hops of a route.
type Forwarder interface {
	// ForwardPayment settles every hop after the first one, either all
	// of them or none.
	ForwardPayment(ctx context.Context, rt *route.Route) error
}

// PaymentRequestVerifier checks and decodes payment requests.
type PaymentRequestVerifier interface {
	// Verify reports whether the payment request can be paid now.
	Verify(payReq string) (bool, error)

	// DecodePayReq decodes a payment request.
	DecodePayReq(payReq string) (*zpay32.Invoice, error)
}

// Config holds the dependencies of the payment engine.
type Config struct {
	// Channels is the channel store payments spend from.
	Channels ChannelSource

	// Router computes routes.
	Router RouteFinder

	// Forwarder settles remote hops.
	Forwarder Forwarder

	// Invoices verifies payment requests.
	Invoices PaymentRequestVerifier

	// Control tracks payments.
	Control *ControlTower

	// Clock drives the payment timeout.
	Clock clock.Clock

	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// PaymentTimeout bounds a whole payment.
	PaymentTimeout time.Duration
}

// SendRequest describes a payment.
type SendRequest struct {
	// PaymentRequest is the encoded invoice to pay.
	PaymentRequest string

	// Amount is the amount to pay. It must be set for zero amount
	// invoices and left empty otherwise.
	Amount lnwire.MilliSatoshi

	// Destination overrides the destination named by the invoice.
	Destination fn.Option[route.Vertex]
}

// Engine executes payments: it verifies the invoice, checks the balance,
// finds a route, reserves the first hop, forwards and settles, retrying
// transient failures over fresh routes.
type Engine struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg *Config

	policyMtx  sync.RWMutex
	maxRetries int
	timeout    time.Duration

	gm *fn.GoroutineManager
}

// NewEngine creates a payment engine.
func NewEngine(cfg *Config) (*Engine, error) {
	switch {
	case cfg.Channels == nil, cfg.Router == nil, cfg.Forwarder == nil,
		cfg.Invoices == nil, cfg.Control == nil:

		return nil, errors.New("payment engine config incomplete")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	e := &Engine{
		cfg: cfg,
		gm:  fn.NewGoroutineManager(),
	}

	timeout := cfg.PaymentTimeout
	if timeout == 0 {
		timeout = DefaultPaymentTimeout
	}
	if err := e.SetRetryPolicy(cfg.MaxRetries, timeout); err != nil {
		return nil, err
	}

	return e, nil
}

// Start reconciles payments that were interrupted by a shutdown. An
// attempt whose balance move already reached the channel store is settled.
// Other unresolved attempts are failed and their payments marked
// interrupted.
func (e *Engine) Start() error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}

	for _, payment := range e.cfg.Control.FetchInFlightPayments() {
		hash := payment.Info.PaymentHash

		attempt, ok := payment.activeAttempt()
		if ok {
			ref := commitRef(payment.SequenceNum, attempt.AttemptID)
			if e.cfg.Channels.IsCommitted(ref) {
				_, err := e.cfg.Control.SettleAttempt(
					hash, attempt.AttemptID,
				)
				if err != nil {
					return err
				}
				err = e.cfg.Channels.ForgetCommit(ref)
				if err != nil {
					return err
				}

				log.Infof("Settled payment %v committed before "+
					"shutdown", hash)

				continue
			}

			_, err := e.cfg.Control.FailAttempt(
				hash, attempt.AttemptID, &HTLCFailInfo{
					Message: "interrupted by shutdown",
				},
			)
			if err != nil {
				return err
			}
		}

		_, err := e.cfg.Control.Fail(hash, FailureReasonInterrupted)
		if err != nil {
			return err
		}

		log.Infof("Failed interrupted payment %v", hash)
	}

	log.Info("Payment engine started")

	return nil
}

// Stop aborts running payments and waits for them to reach a terminal
// status.
func (e *Engine) Stop() error {
	if !e.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Payment engine shutting down...")
	e.gm.Stop()

	return nil
}

// SetRetryPolicy changes the number of retries and the payment timeout of
// payments started from now on.
func (e *Engine) SetRetryPolicy(maxRetries int, timeout time.Duration) error {
	if maxRetries < 0 || timeout <= 0 {
		return fmt.Errorf("%w: retries=%d, timeout=%v",
			ErrInvalidRetryPolicy, maxRetries, timeout)
	}

	e.policyMtx.Lock()
	e.maxRetries = maxRetries
	e.timeout = timeout
	e.policyMtx.Unlock()

	return nil
}

// RetryPolicy returns the current number of retries and payment timeout.
func (e *Engine) RetryPolicy() (int, time.Duration) {
	e.policyMtx.RLock()
	defer e.policyMtx.RUnlock()

	return e.maxRetries, e.timeout
}

// SendPayment pays an invoice and blocks until the payment succeeded or
// failed. Resubmitting a hash that is still being paid returns the tracked
// payment without starting a second one. On failure the failed payment is
// returned along with the error, if it was tracked.
func (e *Engine) SendPayment(ctx context.Context,
	req *SendRequest) (*Payment, error) {

	type result struct {
		payment *Payment
		err     error
	}
	resultChan := make(chan result, 1)

	ok := e.gm.Go(ctx, func(ctx context.Context) {
		payment, err := e.sendPayment(ctx, req)
		resultChan <- result{payment, err}
	})
	if !ok {
		return nil, ErrEngineShuttingDown
	}

	res := <-resultChan

	return res.payment, res.err
}

// SendPaymentAsync pays an invoice in the background. The returned channel
// receives the outcome once.
func (e *Engine) SendPaymentAsync(ctx context.Context,
	req *SendRequest) <-chan fn.Result[*Payment] {

	resultChan := make(chan fn.Result[*Payment], 1)

	ok := e.gm.Go(ctx, func(ctx context.Context) {
		payment, err := e.sendPayment(ctx, req)
		if err != nil {
			resultChan <- fn.Err[*Payment](err)
			return
		}

		resultChan <- fn.Ok(payment)
	})
	if !ok {
		resultChan <- fn.Err[*Payment](ErrEngineShuttingDown)
	}

	return resultChan
}

// CancelPayment cancels a payment that has not made an attempt yet.
func (e *Engine) CancelPayment(hash lntypes.Hash) (*Payment, error) {
	return e.cfg.Control.Cancel(hash)
}

// sendPayment validates the request and runs the payment lifecycle.
func (e *Engine) sendPayment(ctx context.Context,
	req *SendRequest) (*Payment, error) {

	// Validation happens before anything is recorded or reserved.
	if _, err := e.cfg.Invoices.Verify(req.PaymentRequest); err != nil {
		return nil, err
	}
	invoice, err := e.cfg.Invoices.DecodePayReq(req.PaymentRequest)
	if err != nil {
		return nil, err
	}

	amt, err := paymentAmount(invoice, req.Amount)
	if err != nil {
		return nil, err
	}

	var dest route.Vertex
	switch {
	case req.Destination.IsSome():
		dest = req.Destination.UnsafeFromSome()

	case invoice.Destination != nil:
		dest = route.NewVertex(invoice.Destination)

	default:
		return nil, ErrNoDestination
	}

	// A paid invoice is reported as paid whatever balance is left.
	paid, err := e.cfg.Control.FetchPayment(invoice.PaymentHash)
	if err == nil && paid.Status == StatusSucceeded {
		return nil, fmt.Errorf("%w: %v", ErrAlreadyPaid,
			invoice.PaymentHash)
	}

	localBalance := e.cfg.Channels.TotalLocalBalance()
	if amt > localBalance {
		return nil, fmt.Errorf("%w: sending %v, local balance %v",
			ErrInsufficientFunds, amt, localBalance)
	}

	maxRetries, timeout := e.RetryPolicy()

	p := &paymentLifecycle{
		engine:         e,
		hash:           invoice.PaymentHash,
		amount:         amt,
		destination:    dest,
		finalCltvDelta: invoice.MinFinalCLTVExpiryDelta(),
		maxRetries:     maxRetries,
		ignoredEdges:   make(map[lnwire.ShortChannelID]struct{}),
	}

	// The timer is armed before the payment is recorded, so the
	// payment can't be observed without its deadline.
	timeoutChan := e.cfg.Clock.TickAfter(timeout)

	err = e.cfg.Control.InitPayment(p.hash, &PaymentCreationInfo{
		PaymentHash:    p.hash,
		Value:          amt,
		Destination:    dest,
		CreationTime:   e.cfg.Clock.Now(),
		PaymentRequest: req.PaymentRequest,
	})
	switch {
	case errors.Is(err, ErrPaymentInFlight):
		log.Debugf("Payment %v already in flight", p.hash)
		return e.cfg.Control.FetchPayment(p.hash)

	case err != nil:
		return nil, err
	}

	payment, err := e.cfg.Control.FetchPayment(p.hash)
	if err != nil {
		return nil, err
	}
	p.seq = payment.SequenceNum

	return p.resumePayment(ctx, timeoutChan)
}

// commitRef identifies an attempt in the channel store. The sequence number
// is new for every InitPayment, so a payment sent again after a failure
// never reuses the refs of its earlier attempts.
func commitRef(seq, attemptID uint64) []byte {
	var ref [16]byte
	binary.BigEndian.PutUint64(ref[:8], seq)
	binary.BigEndian.PutUint64(ref[8:], attemptID)

	return ref[:]
}

// paymentAmount returns the amount to pay for an invoice.
func paymentAmount(invoice *zpay32.Invoice,
	amt lnwire.MilliSatoshi) (lnwire.MilliSatoshi, error) {

	invoiceAmt := invoice.MilliSat.UnwrapOr(0)
	switch {
	case invoiceAmt == 0 && amt == 0:
		return 0, ErrAmountRequired

	case invoiceAmt == 0:
		return amt, nil

	case amt != 0 && amt != invoiceAmt:
		return 0, ErrAmountMismatch
	}

	return invoiceAmt, nil
}
