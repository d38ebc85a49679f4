package chanstore

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnpay/lnwire"
)

var (
	// ErrInvalidPeerKey is returned when the peer key is not a valid
	// 33-byte compressed secp256k1 public key.
	ErrInvalidPeerKey = errors.New("invalid peer public key")

	// ErrCapacityTooSmall is returned when a channel would be opened
	// below the configured minimum capacity.
	ErrCapacityTooSmall = errors.New("channel capacity below minimum")

	// ErrCapacityTooLarge is returned when a channel would be opened
	// above the configured maximum capacity.
	ErrCapacityTooLarge = errors.New("channel capacity above maximum")

	// ErrInvalidPushAmount is returned when the push amount is negative
	// or exceeds the capacity.
	ErrInvalidPushAmount = errors.New("invalid push amount")

	// ErrChannelNotFound is returned for unknown channel ids.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelTerminal is returned for operations on a channel that is
	// already Closed or ForceClosed.
	ErrChannelTerminal = errors.New("channel already closed")

	// ErrInvalidTransition is returned when an operation would move a
	// channel along an edge missing from the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid channel state transition")

	// ErrChannelNotActive is returned by balance operations on channels
	// that are not Active.
	ErrChannelNotActive = errors.New("channel not active")

	// ErrInvalidShortChanID is returned when funding is confirmed with a
	// zero or already used short channel id.
	ErrInvalidShortChanID = errors.New("invalid short channel id")

	// ErrInsufficientBalance is returned when a reservation or settlement
	// needs more local balance than is available.
	ErrInsufficientBalance = errors.New("insufficient channel balance")

	// ErrPendingReservations is returned when closing a channel that
	// still has balance reserved by in-flight payments.
	ErrPendingReservations = errors.New("channel has pending reservations")

	// ErrUnknownReservation is returned when releasing or committing a
	// reservation that is not outstanding.
	ErrUnknownReservation = errors.New("unknown reservation")

	// ErrInvalidAmount is returned for zero reservations.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrBalanceInvariant signals that local + remote no longer equals
	// capacity. It is an internal consistency failure and is fatal.
	ErrBalanceInvariant = errors.New("channel balance invariant violated")
)

// ChannelError ties a channel store failure to the channel and operation it
// happened on.
type ChannelError struct {
	// ChanID is the channel the operation targeted. It is zero for
	// failures detected before a channel id was allocated.
	ChanID lnwire.ChannelID

	// Op names the failed operation.
	Op string

	// Err is the underlying sentinel error.
	Err error
}

// Error implements the error interface.
func (e *ChannelError) Error() string {
	if e.ChanID.IsZero() {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s channel %v: %v", e.Op, e.ChanID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ChannelError) Unwrap() error {
	return e.Err
}

// chanErr builds a ChannelError.
func chanErr(op string, chanID lnwire.ChannelID, err error) error {
	return &ChannelError{ChanID: chanID, Op: op, Err: err}
}

// IsChannelError returns true if err is a ChannelError.
func IsChannelError(err error) bool {
	var cErr *ChannelError
	return errors.As(err, &cErr)
}
