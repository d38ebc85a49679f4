package payments

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing/route"
)

// PaymentStatus represent current status of payment.
type PaymentStatus byte

const (
	// StatusPending is the status of a payment that was initiated but has
	// no attempt yet.
	StatusPending PaymentStatus = 0

	// StatusInFlight is the status of a payment with at least one
	// attempt.
	StatusInFlight PaymentStatus = 1

	// StatusSucceeded is the status of a settled payment.
	StatusSucceeded PaymentStatus = 2

	// StatusFailed is the status of a payment that failed for good. A
	// failed payment may be sent again.
	StatusFailed PaymentStatus = 3
)

// String returns readable representation of payment status.
func (ps PaymentStatus) String() string {
	switch ps {
	case StatusPending:
		return "Pending"

	case StatusInFlight:
		return "In Flight"

	case StatusSucceeded:
		return "Succeeded"

	case StatusFailed:
		return "Failed"

	default:
		return "Unknown"
	}
}

// IsTerminal returns true if the payment can no longer change.
func (ps PaymentStatus) IsTerminal() bool {
	return ps == StatusSucceeded || ps == StatusFailed
}

// FailureReason encodes the reason a payment ultimately failed.
type FailureReason byte

const (
	// FailureReasonTimeout indicates that the payment did not finish
	// within the payment timeout.
	FailureReasonTimeout FailureReason = 0

	// FailureReasonNoRoute indicates no route to the destination could
	// be found.
	FailureReasonNoRoute FailureReason = 1

	// FailureReasonError indicates that an unexpected error happened, or
	// that all retries failed.
	FailureReasonError FailureReason = 2

	// FailureReasonInsufficientBalance indicates that we didn't have
	// enough balance to complete the payment.
	FailureReasonInsufficientBalance FailureReason = 3

	// FailureReasonCanceled indicates that the payment was canceled
	// before its first attempt.
	FailureReasonCanceled FailureReason = 4

	// FailureReasonInterrupted indicates that the node stopped while the
	// payment was in flight.
	FailureReasonInterrupted FailureReason = 5
)

// String returns a human readable FailureReason.
func (r FailureReason) String() string {
	switch r {
	case FailureReasonTimeout:
		return "timeout"

	case FailureReasonNoRoute:
		return "no_route"

	case FailureReasonError:
		return "error"

	case FailureReasonInsufficientBalance:
		return "insufficient_balance"

	case FailureReasonCanceled:
		return "canceled"

	case FailureReasonInterrupted:
		return "interrupted"
	}

	return "unknown"
}

// PaymentCreationInfo is the information necessary to have ready when
// initiating a payment.
type PaymentCreationInfo struct {
	// PaymentHash is the hash this payment is paying to.
	PaymentHash lntypes.Hash

	// Value is the amount we are paying.
	Value lnwire.MilliSatoshi

	// Destination is the node the payment is sent to.
	Destination route.Vertex

	// CreationTime is the time when this payment was initiated.
	CreationTime time.Time

	// PaymentRequest is the full payment request, if any.
	PaymentRequest string
}

// HTLCAttemptInfo contains static information about a specific attempt for
// a payment.
type HTLCAttemptInfo struct {
	// AttemptID is the unique ID used for this attempt within the
	// payment.
	AttemptID uint64

	// Route is the route attempted to send the HTLC.
	Route route.Route

	// AttemptTime is the time at which this attempt was started.
	AttemptTime time.Time
}

// HTLCSettleInfo encapsulates the information that augments an attempt in
// the event that it succeeds.
type HTLCSettleInfo struct {
	// SettleTime is the time at which this attempt was settled.
	SettleTime time.Time
}

// HTLCFailInfo encapsulates the information that augments an attempt in the
// event that it fails.
type HTLCFailInfo struct {
	// FailTime is the time at which this attempt was failed.
	FailTime time.Time

	// FailureSourceIndex is the index of the node that failed the
	// attempt, 0 being our own node.
	FailureSourceIndex uint32

	// Message describes the failure.
	Message string
}

// HTLCAttempt contains information about a specific attempt for a given
// payment. It contains the attempt info and its outcome, if any.
type HTLCAttempt struct {
	HTLCAttemptInfo

	// Settle is the settle info of the attempt, if settled.
	Settle *HTLCSettleInfo

	// Failure is the fail info of the attempt, if failed.
	Failure *HTLCFailInfo
}

// IsResolved returns true if the attempt was settled or failed.
func (h *HTLCAttempt) IsResolved() bool {
	return h.Settle != nil || h.Failure != nil
}

// copy returns a deep copy of the attempt.
func (h *HTLCAttempt) copy() HTLCAttempt {
	c := *h
	c.Route = *h.Route.Copy()
	if h.Settle != nil {
		settle := *h.Settle
		c.Settle = &settle
	}
	if h.Failure != nil {
		failure := *h.Failure
		c.Failure = &failure
	}

	return c
}

// Payment is a wrapper around a payment's PaymentCreationInfo and
// HTLCAttempts. All payments start out as Pending, move to InFlight with
// their first attempt and end in Succeeded or Failed.
type Payment struct {
	// SequenceNum is a unique identifier used to sort the payments in
	// order of creation.
	SequenceNum uint64

	// Info holds all static information about this payment, and is
	// populated when the payment is initiated.
	Info *PaymentCreationInfo

	// HTLCs holds the information about individual attempts of this
	// payment, in attempt order.
	HTLCs []HTLCAttempt

	// FailureReason is the failure reason code indicating the reason the
	// payment failed.
	FailureReason fn.Option[FailureReason]

	// Status is the current PaymentStatus of this payment.
	Status PaymentStatus
}

// Copy returns a deep copy of the payment.
func (p *Payment) Copy() *Payment {
	c := *p

	info := *p.Info
	c.Info = &info

	c.HTLCs = make([]HTLCAttempt, len(p.HTLCs))
	for i := range p.HTLCs {
		c.HTLCs[i] = p.HTLCs[i].copy()
	}

	return &c
}

// activeAttempt returns the attempt that is neither settled nor failed.
func (p *Payment) activeAttempt() (*HTLCAttempt, bool) {
	for i := range p.HTLCs {
		if !p.HTLCs[i].IsResolved() {
			return &p.HTLCs[i], true
		}
	}

	return nil, false
}

// SettledAttempt returns the attempt that completed the payment.
func (p *Payment) SettledAttempt() fn.Option[HTLCAttempt] {
	for i := range p.HTLCs {
		if p.HTLCs[i].Settle != nil {
			return fn.Some(p.HTLCs[i].copy())
		}
	}

	return fn.None[HTLCAttempt]()
}

// TotalFees returns the fees paid by the settled attempt.
func (p *Payment) TotalFees() lnwire.MilliSatoshi {
	return fn.MapOptionZ(p.SettledAttempt(),
		func(a HTLCAttempt) lnwire.MilliSatoshi {
			return a.Route.TotalFees()
		},
	)
}

// String returns a short description of the payment for logs.
func (p *Payment) String() string {
	return fmt.Sprintf("payment %v (%v to %v, status=%v, attempts=%d)",
		p.Info.PaymentHash, p.Info.Value, p.Info.Destination, p.Status,
		len(p.HTLCs))
}

// PaymentResult is the struct describing the events received by payment
// subscribers.
type PaymentResult struct {
	// Success indicates whether the payment was successful.
	Success bool

	// FailureReason is a failure reason code indicating the reason the
	// payment failed. It is only set for failed payments.
	FailureReason FailureReason

	// HTLCs is a list of HTLCs that have been attempted in order to settle
	// the payment.
	HTLCs []HTLCAttempt
}
