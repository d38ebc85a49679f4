package payments

import "errors"

var (
	// ErrInsufficientFunds is returned when the amount to send, fees
	// included, exceeds what our channels can spend.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPaymentTimeout is returned when a payment did not complete
	// within the payment timeout.
	ErrPaymentTimeout = errors.New("payment timed out")

	// ErrAlreadyPaid signals we have already paid this payment hash.
	ErrAlreadyPaid = errors.New("invoice is already paid")

	// ErrPaymentInFlight signals that the payment hash is already being
	// paid.
	ErrPaymentInFlight = errors.New("payment is in transition")

	// ErrPaymentNotInitiated is returned if the payment wasn't initiated.
	ErrPaymentNotInitiated = errors.New("payment isn't initiated")

	// ErrPaymentTerminal is returned when a payment that already
	// succeeded or failed is updated.
	ErrPaymentTerminal = errors.New("payment has reached terminal " +
		"condition")

	// ErrPaymentNotPending is returned when canceling a payment that
	// already has an attempt.
	ErrPaymentNotPending = errors.New("only pending payments can be " +
		"canceled")

	// ErrPaymentCanceled is returned by a send whose payment was canceled
	// before its first attempt.
	ErrPaymentCanceled = errors.New("payment canceled")

	// ErrAttemptInFlight is returned when registering an attempt while
	// another attempt of the payment is unresolved.
	ErrAttemptInFlight = errors.New("payment has an attempt in flight")

	// ErrAttemptNotFound is returned when updating an unknown attempt.
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrAttemptAlreadyResolved is returned when settling or failing an
	// attempt twice.
	ErrAttemptAlreadyResolved = errors.New("attempt already resolved")

	// ErrPaymentHasActiveAttempt is returned when failing a payment
	// whose attempt is still unresolved.
	ErrPaymentHasActiveAttempt = errors.New("payment has an unresolved " +
		"attempt")

	// ErrRetriesExhausted is returned when every allowed attempt failed.
	ErrRetriesExhausted = errors.New("payment attempts exhausted")

	// ErrRollbackFailed is returned when a reservation could not be
	// released after a failed attempt. The channel balances may no
	// longer be consistent.
	ErrRollbackFailed = errors.New("reservation rollback failed")

	// ErrNoDestination is returned when neither the invoice nor the
	// request names the receiving node.
	ErrNoDestination = errors.New("payment destination unknown")

	// ErrAmountRequired is returned when paying a zero amount invoice
	// without an amount.
	ErrAmountRequired = errors.New("amount must be specified when " +
		"paying a zero amount invoice")

	// ErrAmountMismatch is returned when an amount is given for an
	// invoice that carries a different one.
	ErrAmountMismatch = errors.New("amount must not be specified " +
		"when paying a non-zero amount invoice")

	// ErrUnknownFirstHop is returned when a route leaves through a
	// channel the channel store doesn't know.
	ErrUnknownFirstHop = errors.New("route uses unknown first hop")

	// ErrEngineShuttingDown is returned when a payment is started while
	// the engine stops.
	ErrEngineShuttingDown = errors.New("payment engine shutting down")

	// ErrInvalidRetryPolicy is returned for negative retries or a
	// non-positive timeout.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")
)
