package routing

import (
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnpay/lnwire"
)

// errorCode is used to represent the various errors that can occur within
// this package.
type errorCode uint8

const (
	// ErrNoPathFound is returned when a path to the target destination
	// does not exist in the graph.
	ErrNoPathFound errorCode = iota

	// ErrInsufficientCapacity is returned when a path is found, yet the
	// liquidity of one of the channels in the path is insufficient to
	// carry the payment.
	ErrInsufficientCapacity

	// ErrMaxHopsExceeded is returned when a candidate path is found, but
	// the length of that path exceeds HopLimit.
	ErrMaxHopsExceeded

	// ErrSelfPayment is returned when the target is the source node.
	ErrSelfPayment

	// ErrInvalidAmount is returned for a route request without an
	// amount.
	ErrInvalidAmount
)

// String returns the name of the error code.
func (c errorCode) String() string {
	switch c {
	case ErrNoPathFound:
		return "NoPathFound"

	case ErrInsufficientCapacity:
		return "InsufficientCapacity"

	case ErrMaxHopsExceeded:
		return "MaxHopsExceeded"

	case ErrSelfPayment:
		return "SelfPayment"

	case ErrInvalidAmount:
		return "InvalidAmount"
	}

	return "Unknown"
}

// routerError is a structure that represent the error inside the routing
// package, this structure carries additional information about error code
// in order to be able distinguish errors outside of the current package.
type routerError struct {
	err  error
	code errorCode
}

// Error represents errors as the string
// NOTE: Part of the error interface.
func (e *routerError) Error() string {
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *routerError) Unwrap() error {
	return e.err
}

// A compile time check to ensure routerError implements the error interface.
var _ error = (*routerError)(nil)

// newErr creates a routerError by the given error description and its
// corresponding error code.
func newErr(code errorCode, a string) *routerError {
	return &routerError{
		code: code,
		err:  errors.New(a),
	}
}

// newErrf creates a routerError by the given error formatted description and
// its corresponding error code.
func newErrf(code errorCode, format string, a ...interface{}) *routerError {
	return &routerError{
		code: code,
		err:  fmt.Errorf(format, a...),
	}
}

// IsError is a helper function which is needed to have ability to check that
// returned error has specific error code.
func IsError(e error, codes ...errorCode) bool {
	var err *routerError
	if !errors.As(e, &err) {
		return false
	}

	for _, code := range codes {
		if err.code == code {
			return true
		}
	}

	return false
}

// Graph mutation errors.
var (
	// ErrEdgeNotFound is returned when a channel is not in the graph.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrNodeNotFound is returned when a node is not in the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeConflict is returned when a channel id is re-added with
	// different endpoints or capacity.
	ErrEdgeConflict = errors.New("channel id already used by another " +
		"edge")

	// ErrSelfLoop is returned for channels whose endpoints are the same
	// node.
	ErrSelfLoop = errors.New("channel endpoints must differ")

	// ErrInvalidLiquidity is returned when a liquidity split exceeds the
	// channel capacity.
	ErrInvalidLiquidity = errors.New("liquidity exceeds channel capacity")
)

// ForwardingError is returned when a remote hop of a route could not carry
// the payment. FailureSourceIdx is the index of the node that failed to
// forward, where 0 is the source node.
type ForwardingError struct {
	// FailureSourceIdx is the index of the node in the route that
	// reported the failure.
	FailureSourceIdx int

	// ChannelID is the outgoing channel of the failing node.
	ChannelID lnwire.ShortChannelID

	// Reason describes the failure.
	Reason error
}

// Error implements the error interface.
func (f *ForwardingError) Error() string {
	return fmt.Sprintf("node %d failed to forward over %v: %v",
		f.FailureSourceIdx, f.ChannelID, f.Reason)
}

// Unwrap returns the failure reason.
func (f *ForwardingError) Unwrap() error {
	return f.Reason
}

// ErrTemporaryChannelFailure is the reason of a ForwardingError raised by a
// hop without enough outgoing liquidity.
var ErrTemporaryChannelFailure = errors.New("temporary channel failure")
