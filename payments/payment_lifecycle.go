package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/chanstore"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing"
	"github.com/lightningnetwork/lnpay/routing/route"
)

// paymentLifecycle holds all information about the current state of a
// payment needed to drive it to a terminal status.
type paymentLifecycle struct {
	engine         *Engine
	hash           lntypes.Hash
	amount         lnwire.MilliSatoshi
	destination    route.Vertex
	finalCltvDelta uint32
	maxRetries     int

	// seq is the sequence number InitPayment gave the payment.
	seq uint64

	// ignoredEdges collects the channels that failed earlier attempts.
	ignoredEdges map[lnwire.ShortChannelID]struct{}

	// failedAttempts counts the attempts that failed with a retryable
	// error.
	failedAttempts int

	timedOut atomic.Bool
}

// attemptFailure describes why an attempt failed and whether another
// attempt may follow.
type attemptFailure struct {
	err    error
	reason FailureReason
	retry  bool

	// failedChannel is the channel to avoid in later attempts.
	failedChannel fn.Option[lnwire.ShortChannelID]
}

// resumePayment runs attempts until the payment succeeds, fails for good or
// times out.
func (p *paymentLifecycle) resumePayment(ctx context.Context,
	timeoutChan <-chan time.Time) (*Payment, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Abort whatever step is running once the payment times out.
	go func() {
		select {
		case <-timeoutChan:
			p.timedOut.Store(true)
			cancel()

		case <-ctx.Done():
		}
	}()

	control := p.engine.cfg.Control

	for {
		if err := ctx.Err(); err != nil {
			return p.fail(p.contextFailure(err))
		}

		rt, err := p.requestRoute()
		if err != nil {
			return p.fail(p.routeFailure(err))
		}

		log.Tracef("Attempting route for payment %v: %v", p.hash,
			newLogClosure(func() string {
				return spew.Sdump(rt)
			}),
		)

		attempt, err := control.RegisterAttempt(p.hash, rt)
		if err != nil {
			return p.registerFailure(err)
		}

		payment, failure := p.sendAttempt(ctx, attempt)
		if failure == nil {
			return payment, nil
		}

		if !failure.retry {
			return p.fail(failure)
		}

		p.failedAttempts++
		if p.failedAttempts > p.maxRetries {
			return p.fail(&attemptFailure{
				err: fmt.Errorf("%w after %d attempts: %w",
					ErrRetriesExhausted, p.failedAttempts,
					failure.err),
				reason: FailureReasonError,
			})
		}

		failure.failedChannel.WhenSome(func(scid lnwire.ShortChannelID) {
			p.ignoredEdges[scid] = struct{}{}
		})

		log.Debugf("Attempt %d of payment %v failed, retrying: %v",
			attempt.AttemptID, p.hash, failure.err)
	}
}

// requestRoute asks the router for a route over the current available
// balances of our channels, avoiding channels that failed before.
func (p *paymentLifecycle) requestRoute() (*route.Route, error) {
	channels := p.engine.cfg.Channels

	hints := make(map[lnwire.ShortChannelID]lnwire.MilliSatoshi)
	for _, c := range channels.Active() {
		hints[c.ShortChanID] = channels.AvailableBalance(c.ChanID)
	}

	return p.engine.cfg.Router.FindRoute(&routing.RouteRequest{
		Target:         p.destination,
		Amount:         p.amount,
		FinalCltvDelta: p.finalCltvDelta,
		IgnoredEdges:   p.ignoredEdges,
		BandwidthHints: hints,
	})
}

// sendAttempt reserves the route amount on the first hop, forwards the
// payment over the remote hops and commits the reservation. Any failure
// after the reservation releases it again.
func (p *paymentLifecycle) sendAttempt(ctx context.Context,
	attempt *HTLCAttempt) (*Payment, *attemptFailure) {

	channels := p.engine.cfg.Channels
	rt := &attempt.Route

	local, err := channels.FetchByShortID(rt.FirstHopChannel())
	if err != nil {
		return nil, p.failAttempt(attempt, 0, &attemptFailure{
			err: fmt.Errorf("%w: %v", ErrUnknownFirstHop,
				err),
			reason: FailureReasonError,
		})
	}

	res, err := channels.Reserve(local.ChanID, rt.TotalAmount)
	switch {
	// Another payment claimed the liquidity first.
	case errors.Is(err, chanstore.ErrInsufficientBalance):
		return nil, p.failAttempt(attempt, 0, &attemptFailure{
			err: fmt.Errorf("%w: %w", ErrInsufficientFunds,
				err),
			reason: FailureReasonInsufficientBalance,
		})

	case err != nil:
		return nil, p.failAttempt(attempt, 0, &attemptFailure{
			err:    err,
			reason: FailureReasonError,
		})
	}

	fwdErr := p.engine.cfg.Forwarder.ForwardPayment(ctx, rt)
	if fwdErr != nil {
		if err := channels.Release(res); err != nil {
			log.Criticalf("Unable to release %v of payment %v: %v",
				res, p.hash, err)

			return nil, p.failAttempt(attempt, 0, &attemptFailure{
				err: fmt.Errorf("%w: %w", ErrRollbackFailed,
					err),
				reason: FailureReasonError,
			})
		}

		return nil, p.forwardFailure(attempt, fwdErr)
	}

	ref := commitRef(p.seq, attempt.AttemptID)
	if err := channels.CommitFor(res, ref); err != nil {
		log.Criticalf("Unable to commit %v of forwarded payment %v: %v",
			res, p.hash, err)

		return nil, p.failAttempt(attempt, 0, &attemptFailure{
			err:    err,
			reason: FailureReasonError,
		})
	}

	payment, err := p.engine.cfg.Control.SettleAttempt(
		p.hash, attempt.AttemptID,
	)
	if err != nil {
		return nil, &attemptFailure{err: err, reason: FailureReasonError}
	}

	// A stale ref is harmless: the payment is no longer in flight.
	if err := channels.ForgetCommit(ref); err != nil {
		log.Errorf("Unable to forget commit of payment %v: %v",
			p.hash, err)
	}

	return payment, nil
}

// forwardFailure classifies an error of the forwarder. Hop failures are
// retried without the failing channel, everything else ends the payment.
func (p *paymentLifecycle) forwardFailure(attempt *HTLCAttempt,
	err error) *attemptFailure {

	var fwdErr *routing.ForwardingError
	switch {
	case p.timedOut.Load():
		return p.failAttempt(attempt, 0, &attemptFailure{
			err:    ErrPaymentTimeout,
			reason: FailureReasonTimeout,
		})

	case errors.As(err, &fwdErr):
		return p.failAttempt(
			attempt, uint32(fwdErr.FailureSourceIdx),
			&attemptFailure{
				err:           err,
				reason:        FailureReasonError,
				retry:         true,
				failedChannel: fn.Some(fwdErr.ChannelID),
			},
		)

	default:
		return p.failAttempt(attempt, 0, &attemptFailure{
			err:    err,
			reason: FailureReasonError,
		})
	}
}

// failAttempt records the failure of an attempt and returns the failure.
func (p *paymentLifecycle) failAttempt(attempt *HTLCAttempt,
	sourceIdx uint32, failure *attemptFailure) *attemptFailure {

	_, err := p.engine.cfg.Control.FailAttempt(
		p.hash, attempt.AttemptID, &HTLCFailInfo{
			FailureSourceIndex: sourceIdx,
			Message:            failure.err.Error(),
		},
	)
	if err != nil {
		log.Errorf("Unable to fail attempt %d of payment %v: %v",
			attempt.AttemptID, p.hash, err)
	}

	return failure
}

// routeFailure classifies a routing error. When the graph has a route that
// only our own channels can't carry, the payment lacks funds rather than a
// route.
func (p *paymentLifecycle) routeFailure(err error) *attemptFailure {
	if !routing.IsError(err, routing.ErrInsufficientCapacity) {
		return &attemptFailure{err: err, reason: FailureReasonNoRoute}
	}

	channels := p.engine.cfg.Channels
	unlimited := make(map[lnwire.ShortChannelID]lnwire.MilliSatoshi)
	for _, c := range channels.Active() {
		unlimited[c.ShortChanID] = math.MaxUint64
	}

	_, routeErr := p.engine.cfg.Router.FindRoute(&routing.RouteRequest{
		Target:         p.destination,
		Amount:         p.amount,
		FinalCltvDelta: p.finalCltvDelta,
		IgnoredEdges:   p.ignoredEdges,
		BandwidthHints: unlimited,
	})
	if routeErr != nil {
		return &attemptFailure{err: err, reason: FailureReasonNoRoute}
	}

	return &attemptFailure{
		err: fmt.Errorf("%w: sending %v, available %v",
			ErrInsufficientFunds, p.amount,
			channels.TotalAvailableBalance()),
		reason: FailureReasonInsufficientBalance,
	}
}

// contextFailure classifies the end of the payment context.
func (p *paymentLifecycle) contextFailure(err error) *attemptFailure {
	if p.timedOut.Load() {
		return &attemptFailure{
			err:    ErrPaymentTimeout,
			reason: FailureReasonTimeout,
		}
	}

	return &attemptFailure{err: err, reason: FailureReasonError}
}

// registerFailure handles a refused attempt registration. A payment that was
// canceled while we looked for a route ends here.
func (p *paymentLifecycle) registerFailure(err error) (*Payment, error) {
	payment, fetchErr := p.engine.cfg.Control.FetchPayment(p.hash)
	if fetchErr != nil {
		return nil, err
	}

	reason := payment.FailureReason.UnwrapOr(FailureReasonError)
	if payment.Status == StatusFailed && reason == FailureReasonCanceled {
		return payment, fmt.Errorf("%w: %v", ErrPaymentCanceled, p.hash)
	}

	return payment, err
}

// fail moves the payment to Failed and returns it with the failure error.
func (p *paymentLifecycle) fail(failure *attemptFailure) (*Payment, error) {
	payment, err := p.engine.cfg.Control.Fail(p.hash, failure.reason)
	if err != nil {
		// A payment canceled while its route was computed is already
		// failed.
		if errors.Is(err, ErrPaymentTerminal) {
			return p.registerFailure(failure.err)
		}

		log.Errorf("Unable to fail payment %v: %v", p.hash, err)

		return nil, errors.Join(failure.err, err)
	}

	return payment, failure.err
}
