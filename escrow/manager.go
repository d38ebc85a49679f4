package escrow

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/lnpay/chanstore"
	"github.com/lightningnetwork/lnpay/input"
	"github.com/lightningnetwork/lnpay/invoices"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing/route"
)

const (
	// DefaultTimeout is the deadline of escrows funded without one.
	DefaultTimeout = 24 * time.Hour

	// DefaultSweepInterval is how often expired escrows are refunded.
	DefaultSweepInterval = time.Minute
)

// multiSigIDTag is the tag of the hash that derives multisig escrow ids.
var multiSigIDTag = []byte("lnpay/escrow/multisig")

// ChannelReserver sets channel balance aside for hold escrows.
type ChannelReserver interface {
	// Reserve sets amt of the channel's local balance aside.
	Reserve(chanID lnwire.ChannelID,
		amt lnwire.MilliSatoshi) (*chanstore.Reservation, error)

	// Release drops a reservation.
	Release(res *chanstore.Reservation) error

	// Commit moves a reservation to the remote side of the channel.
	Commit(res *chanstore.Reservation) error
}

// HoldInvoiceRegistry manages the hold invoices of hold escrows.
type HoldInvoiceRegistry interface {
	// AddHoldInvoice creates a hold invoice for hash.
	AddHoldInvoice(hash lntypes.Hash, amt lnwire.MilliSatoshi,
		description string,
		opts ...invoices.AddInvoiceOption) (*invoices.Invoice, error)

	// AcceptHoldInvoice locks the payment of a hold invoice in.
	AcceptHoldInvoice(hash lntypes.Hash, amt lnwire.MilliSatoshi) error

	// SettleInvoice settles the invoice with its preimage.
	SettleInvoice(hash lntypes.Hash, preimage lntypes.Preimage) error

	// CancelInvoice cancels the invoice.
	CancelInvoice(hash lntypes.Hash) error
}

// Persister stores escrow records.
type Persister interface {
	// PutEscrow inserts or replaces an escrow.
	PutEscrow(e *Escrow) error

	// FetchEscrows returns every stored escrow.
	FetchEscrows() ([]*Escrow, error)
}

// Config holds the dependencies of the escrow manager.
type Config struct {
	// Channels backs hold escrows with channel balance.
	Channels ChannelReserver

	// Invoices issues the hold invoices of hold escrows.
	Invoices HoldInvoiceRegistry

	// Clock provides timestamps and evaluates deadlines.
	Clock clock.Clock

	// SweepTicker drives the refund of expired escrows. Defaults to a
	// ticker firing every DefaultSweepInterval.
	SweepTicker ticker.Ticker

	// Net is the network multisig escrow addresses are encoded for.
	Net *chaincfg.Params

	// Entropy seeds multisig escrow ids. Defaults to crypto/rand.
	Entropy io.Reader

	// DefaultTimeout is the deadline of escrows funded without one.
	DefaultTimeout time.Duration

	// DB persists escrows. When nil the manager is memory only.
	DB Persister
}

// HoldRequest describes a new hold escrow.
type HoldRequest struct {
	// ChanID is the channel whose local balance funds the escrow.
	ChanID lnwire.ChannelID

	// Amount is the escrowed amount.
	Amount btcutil.Amount

	// PaymentHash locks the funds. The claimant gets them by revealing
	// its preimage.
	PaymentHash lntypes.Hash

	// Description is written into the hold invoice.
	Description string

	// Timeout overrides the default deadline.
	Timeout time.Duration
}

// MultiSigRequest describes a new 2-of-3 multisig escrow.
type MultiSigRequest struct {
	Funder   *btcec.PublicKey
	Claimant *btcec.PublicKey
	Arbiter  *btcec.PublicKey

	// Amount is the escrowed amount.
	Amount btcutil.Amount

	// FundingOutpoint is the on-chain output locking the funds, if
	// already known.
	FundingOutpoint fn.Option[wire.OutPoint]

	// Timeout overrides the default deadline.
	Timeout time.Duration
}

// Manager tracks escrows from funding to release or refund. Hold escrows
// keep a reservation on their channel while they are open, so the escrowed
// balance can't be spent by payments.
type Manager struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg *Config

	// net is the network new multisig addresses are encoded for.
	net atomic.Pointer[chaincfg.Params]

	// mu guards the maps below and serializes escrow transitions.
	mu           sync.Mutex
	escrows      map[ID]*Escrow
	reservations map[ID]*chanstore.Reservation

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewManager creates an escrow manager and loads persisted escrows.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.Channels == nil || cfg.Invoices == nil {
		return nil, errors.New("escrow manager needs channels and " +
			"invoices")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.SweepTicker == nil {
		cfg.SweepTicker = ticker.New(DefaultSweepInterval)
	}
	if cfg.Net == nil {
		cfg.Net = &chaincfg.MainNetParams
	}
	if cfg.Entropy == nil {
		cfg.Entropy = rand.Reader
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}

	m := &Manager{
		cfg:          cfg,
		escrows:      make(map[ID]*Escrow),
		reservations: make(map[ID]*chanstore.Reservation),
		quit:         make(chan struct{}),
	}
	m.net.Store(cfg.Net)

	if cfg.DB != nil {
		escrows, err := cfg.DB.FetchEscrows()
		if err != nil {
			return nil, fmt.Errorf("unable to load escrows: %w",
				err)
		}
		for _, e := range escrows {
			m.escrows[e.ID] = e
		}

		log.Infof("Loaded %d escrows from disk", len(escrows))
	}

	return m, nil
}

// SetNetwork changes the network of the addresses of new multisig escrows.
func (m *Manager) SetNetwork(net *chaincfg.Params) {
	m.net.Store(net)
}

// Start restores the reservations of open hold escrows and launches the
// sweeper.
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Escrow manager starting")

	m.restoreReservations()

	m.cfg.SweepTicker.Resume()

	m.wg.Add(1)
	go m.sweeper()

	return nil
}

// Stop halts the sweeper. Reservations of open escrows stay in place.
func (m *Manager) Stop() error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}

	log.Info("Escrow manager shutting down...")

	close(m.quit)
	m.wg.Wait()
	m.cfg.SweepTicker.Stop()

	return nil
}

// restoreReservations reserves the balance of every open hold escrow again.
// Escrows whose channel can no longer cover them are refunded.
func (m *Manager) restoreReservations() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.escrows {
		hold, ok := e.Contract.(*LightningHold)
		if !ok || e.Status.IsTerminal() {
			continue
		}
		if _, ok := m.reservations[id]; ok {
			continue
		}

		res, err := m.cfg.Channels.Reserve(
			hold.ChanID, lnwire.NewMSatFromSatoshis(e.Amount),
		)
		if err == nil {
			m.reservations[id] = res
			log.Debugf("Restored reservation of %v", e)

			continue
		}

		log.Errorf("Unable to restore reservation of %v, "+
			"refunding: %v", e, err)

		_, err = m.transitionLocked(id, func(e *Escrow) (func() error,
			error) {

			return m.refund(e), nil
		})
		if err != nil {
			log.Errorf("Unable to refund %v: %v", e, err)
		}
	}
}

// sweeper refunds expired escrows on every tick.
func (m *Manager) sweeper() {
	defer m.wg.Done()

	for {
		select {
		case <-m.cfg.SweepTicker.Ticks():
			swept, err := m.SweepExpired()
			if err != nil {
				log.Errorf("Unable to sweep escrows: %v", err)
			}
			if len(swept) > 0 {
				log.Infof("Refunded %d expired escrows",
					len(swept))
			}

		case <-m.quit:
			return
		}
	}
}

// deadline turns a relative timeout into the escrow deadline.
func (m *Manager) deadline(now time.Time, timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	return now.Add(timeout)
}

// FundHold creates a hold escrow. The amount is reserved on the channel and
// a hold invoice for the payment hash is issued and accepted.
func (m *Manager) FundHold(req *HoldRequest) (*Escrow, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.PaymentHash.IsZero() {
		return nil, errors.New("hold escrow needs a payment hash")
	}

	description := req.Description
	if strings.TrimSpace(description) == "" {
		description = fmt.Sprintf("escrow %v", req.PaymentHash)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[req.PaymentHash]; ok {
		return nil, fmt.Errorf("%w: %v", ErrEscrowExists,
			req.PaymentHash)
	}

	amt := lnwire.NewMSatFromSatoshis(req.Amount)
	res, err := m.cfg.Channels.Reserve(req.ChanID, amt)
	if err != nil {
		return nil, fmt.Errorf("unable to reserve escrow funds: %w",
			err)
	}

	now := m.cfg.Clock.Now()
	deadline := m.deadline(now, req.Timeout)

	rollback := func(cancelInvoice bool) {
		if cancelInvoice {
			err := m.cfg.Invoices.CancelInvoice(req.PaymentHash)
			if err != nil {
				log.Errorf("Unable to cancel hold invoice "+
					"%v: %v", req.PaymentHash, err)
			}
		}
		if err := m.cfg.Channels.Release(res); err != nil {
			log.Criticalf("Unable to release %v: %v", res, err)
		}
	}

	invoice, err := m.cfg.Invoices.AddHoldInvoice(
		req.PaymentHash, amt, description,
		invoices.WithExpiry(deadline.Sub(now)),
	)
	if err != nil {
		rollback(false)
		return nil, err
	}

	err = m.cfg.Invoices.AcceptHoldInvoice(req.PaymentHash, amt)
	if err != nil {
		rollback(true)
		return nil, err
	}

	e := &Escrow{
		ID:     req.PaymentHash,
		Amount: req.Amount,
		Contract: &LightningHold{
			PaymentHash:    req.PaymentHash,
			ChanID:         req.ChanID,
			PaymentRequest: invoice.PaymentRequest,
		},
		Status:    StatusFunded,
		CreatedAt: now,
		Deadline:  deadline,
	}
	if err := m.persist(e); err != nil {
		rollback(true)
		return nil, err
	}

	m.escrows[e.ID] = e
	m.reservations[e.ID] = res

	log.Infof("Funded %v on channel %v", e, req.ChanID)

	return e.Copy(), nil
}

// FundMultiSig records a 2-of-3 multisig escrow and derives its witness
// script and address.
func (m *Manager) FundMultiSig(req *MultiSigRequest) (*Escrow, error) {
	witnessScript, _, err := input.GenEscrowPkScript(
		req.Funder, req.Claimant, req.Arbiter, req.Amount,
	)
	switch {
	case req.Amount <= 0:
		return nil, ErrInvalidAmount

	case err != nil:
		return nil, err
	}

	addr, err := input.EscrowAddress(witnessScript, m.net.Load())
	if err != nil {
		return nil, err
	}

	var nonce [32]byte
	if _, err := io.ReadFull(m.cfg.Entropy, nonce[:]); err != nil {
		return nil, fmt.Errorf("unable to draw escrow id: %w", err)
	}
	id := ID(*chainhash.TaggedHash(multiSigIDTag, witnessScript, nonce[:]))

	now := m.cfg.Clock.Now()
	e := &Escrow{
		ID:     id,
		Amount: req.Amount,
		Contract: &MultiSig{
			Funder:          route.NewVertex(req.Funder),
			Claimant:        route.NewVertex(req.Claimant),
			Arbiter:         route.NewVertex(req.Arbiter),
			WitnessScript:   witnessScript,
			Address:         addr.EncodeAddress(),
			FundingOutpoint: req.FundingOutpoint,
		},
		Status:    StatusFunded,
		CreatedAt: now,
		Deadline:  m.deadline(now, req.Timeout),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[id]; ok {
		return nil, fmt.Errorf("%w: %v", ErrEscrowExists, id)
	}
	if err := m.persist(e); err != nil {
		return nil, err
	}
	m.escrows[id] = e

	log.Infof("Funded %v at %v", e, addr)

	return e.Copy(), nil
}

// Approve records the release approval of a multisig participant.
// Approving twice is a no-op.
func (m *Manager) Approve(id ID, participant *btcec.PublicKey) (*Escrow,
	error) {

	if participant == nil {
		return nil, ErrNotParticipant
	}
	key := route.NewVertex(participant)

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transitionLocked(id, func(e *Escrow) (func() error, error) {
		ms, ok := e.Contract.(*MultiSig)
		if !ok {
			return nil, fmt.Errorf("%w: approve %v",
				ErrWrongContract, e.Contract.Type())
		}
		if e.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: approve %v escrow",
				ErrInvalidTransition, e.Status)
		}
		if !ms.isParticipant(key) {
			return nil, fmt.Errorf("%w: %v", ErrNotParticipant,
				key)
		}
		if !ms.hasApproved(key) {
			ms.Approvals = append(ms.Approvals, key)
			log.Debugf("Participant %v approved %v", key, e)
		}

		return nil, nil
	})
}

// Release pays an undisputed escrow out to the claimant. Hold escrows need
// the preimage of their payment hash, multisig escrows approvals of two
// distinct participants.
func (m *Manager) Release(id ID,
	preimage fn.Option[lntypes.Preimage]) (*Escrow, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transitionLocked(id, func(e *Escrow) (func() error, error) {
		if e.Status != StatusFunded {
			return nil, fmt.Errorf("%w: release %v escrow",
				ErrInvalidTransition, e.Status)
		}

		return m.release(e, preimage)
	})
}

// Refund returns an undisputed escrow to the funder.
func (m *Manager) Refund(id ID) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transitionLocked(id, func(e *Escrow) (func() error, error) {
		if e.Status != StatusFunded {
			return nil, fmt.Errorf("%w: refund %v escrow",
				ErrInvalidTransition, e.Status)
		}

		return m.refund(e), nil
	})
}

// Dispute moves an open escrow into dispute. Disputed escrows are neither
// released nor swept until they are resolved.
func (m *Manager) Dispute(id ID, reason string) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transitionLocked(id, func(e *Escrow) (func() error, error) {
		if e.Status != StatusFunded {
			return nil, fmt.Errorf("%w: dispute %v escrow",
				ErrInvalidTransition, e.Status)
		}

		e.Status = StatusDisputed
		e.DisputeReason = reason

		return nil, nil
	})
}

// Resolve settles a dispute with the given outcome, which must be
// StatusReleased or StatusRefunded. Releasing has the same requirements as
// Release.
func (m *Manager) Resolve(id ID, outcome Status,
	preimage fn.Option[lntypes.Preimage]) (*Escrow, error) {

	if !outcome.IsTerminal() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResolution, outcome)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transitionLocked(id, func(e *Escrow) (func() error, error) {
		if e.Status != StatusDisputed {
			return nil, fmt.Errorf("%w: resolve %v escrow",
				ErrInvalidTransition, e.Status)
		}

		e.Resolution = fn.Some(outcome)
		if outcome == StatusReleased {
			return m.release(e, preimage)
		}

		return m.refund(e), nil
	})
}

// release validates a release and moves e to Released. The returned
// function pays the claimant.
func (m *Manager) release(e *Escrow,
	preimage fn.Option[lntypes.Preimage]) (func() error, error) {

	switch c := e.Contract.(type) {
	case *LightningHold:
		if preimage.IsNone() {
			return nil, ErrPreimageRequired
		}
		p := preimage.UnsafeFromSome()
		if !p.Matches(c.PaymentHash) {
			return nil, fmt.Errorf("%w: %v", ErrPreimageMismatch,
				c.PaymentHash)
		}

		res, ok := m.reservations[e.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrNoReservation,
				e.ID)
		}

		c.Preimage = fn.Some(p)
		e.Status = StatusReleased
		e.ClosedAt = m.cfg.Clock.Now()

		return func() error {
			err := m.cfg.Invoices.SettleInvoice(c.PaymentHash, p)
			if err != nil {
				return err
			}

			if err := m.cfg.Channels.Commit(res); err != nil {
				log.Criticalf("Hold invoice %v settled but "+
					"%v not committed: %v", c.PaymentHash,
					res, err)

				return err
			}
			delete(m.reservations, e.ID)

			return nil
		}, nil

	case *MultiSig:
		if len(c.Approvals) < input.EscrowRequiredSigs {
			return nil, fmt.Errorf("%w: have %d",
				ErrNotEnoughApprovals, len(c.Approvals))
		}

		e.Status = StatusReleased
		e.ClosedAt = m.cfg.Clock.Now()

		return nil, nil
	}

	return nil, fmt.Errorf("%w: %T", ErrWrongContract, e.Contract)
}

// refund moves e to Refunded. The returned function hands the funds back.
func (m *Manager) refund(e *Escrow) func() error {
	e.Status = StatusRefunded
	e.ClosedAt = m.cfg.Clock.Now()

	hold, ok := e.Contract.(*LightningHold)
	if !ok {
		return nil
	}

	return func() error {
		if res, ok := m.reservations[e.ID]; ok {
			if err := m.cfg.Channels.Release(res); err != nil {
				return err
			}
			delete(m.reservations, e.ID)
		}

		err := m.cfg.Invoices.CancelInvoice(hold.PaymentHash)
		if err != nil {
			log.Warnf("Unable to cancel hold invoice of %v: %v",
				e, err)
		}

		return nil
	}
}

// transitionLocked applies cb to a copy of the escrow. The new version is
// persisted before the side effects cb returns run, and restored on disk
// if they fail. The caller must hold mu.
func (m *Manager) transitionLocked(id ID,
	cb func(*Escrow) (func() error, error)) (*Escrow, error) {

	current, ok := m.escrows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrEscrowNotFound, id)
	}

	updated := current.Copy()
	apply, err := cb(updated)
	if err != nil {
		return nil, err
	}

	if err := m.persist(updated); err != nil {
		return nil, err
	}

	if apply != nil {
		if err := apply(); err != nil {
			if perr := m.persist(current); perr != nil {
				log.Criticalf("Unable to restore %v: %v",
					current, perr)
			}

			return nil, err
		}
	}

	m.escrows[id] = updated

	if updated.Status != current.Status {
		log.Infof("Escrow %v: %v -> %v", id, current.Status,
			updated.Status)
	}

	return updated.Copy(), nil
}

// persist writes the escrow through to the database.
func (m *Manager) persist(e *Escrow) error {
	if m.cfg.DB == nil {
		return nil
	}
	if err := m.cfg.DB.PutEscrow(e); err != nil {
		return fmt.Errorf("unable to persist escrow: %w", err)
	}

	return nil
}

// SweepExpired refunds every funded escrow whose deadline passed and
// returns their ids. Disputed escrows are left alone.
func (m *Manager) SweepExpired() ([]ID, error) {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		swept []ID
		errs  []error
	)
	for id, e := range m.escrows {
		if e.Status != StatusFunded || !e.IsExpired(now) {
			continue
		}

		_, err := m.transitionLocked(id, func(e *Escrow) (func() error,
			error) {

			return m.refund(e), nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("escrow %v: %w", id,
				err))
			continue
		}

		swept = append(swept, id)
	}

	return swept, errors.Join(errs...)
}

// Fetch returns the escrow with the given id.
func (m *Manager) Fetch(id ID) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrEscrowNotFound, id)
	}

	return e.Copy(), nil
}

// List returns all escrows ordered by creation time.
func (m *Manager) List() []*Escrow {
	m.mu.Lock()
	escrows := make([]*Escrow, 0, len(m.escrows))
	for _, e := range m.escrows {
		escrows = append(escrows, e.Copy())
	}
	m.mu.Unlock()

	sort.Slice(escrows, func(i, j int) bool {
		a, b := escrows[i], escrows[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}

		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})

	return escrows
}

// CountByStatus returns the number of escrows in each status.
func (m *Manager) CountByStatus() map[Status]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[Status]int)
	for _, e := range m.escrows {
		counts[e.Status]++
	}

	return counts
}
