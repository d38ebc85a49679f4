package invoices

import (
	"errors"
)

var (
	// ErrInvoiceNotFound is returned when a targeted invoice can't be
	// found.
	ErrInvoiceNotFound = errors.New("unable to locate invoice")

	// ErrDuplicateInvoice is returned when an invoice with the same
	// payment hash already exists.
	ErrDuplicateInvoice = errors.New("invoice with payment hash " +
		"already exists")

	// ErrEmptyDescription is returned when an invoice is created without
	// a description.
	ErrEmptyDescription = errors.New("invoice description must not be " +
		"empty")

	// ErrInvoiceExpired is returned when an invoice is used after its
	// expiry.
	ErrInvoiceExpired = errors.New("invoice expired")

	// ErrInvalidPaymentRequest is returned when an encoded invoice cannot
	// be decoded.
	ErrInvalidPaymentRequest = errors.New("invalid payment request")

	// ErrInvoiceAlreadySettled is returned when the invoice is already
	// settled.
	ErrInvoiceAlreadySettled = errors.New("invoice already settled")

	// ErrInvoiceAlreadyCanceled is returned when the invoice is already
	// canceled.
	ErrInvoiceAlreadyCanceled = errors.New("invoice already canceled")

	// ErrInvoiceCannotAccept is returned when an attempt is made to accept
	// an invoice while the invoice is not in the open state.
	ErrInvoiceCannotAccept = errors.New("cannot accept invoice")

	// ErrInvoiceStillOpen is returned when a hold invoice is settled
	// before it was accepted.
	ErrInvoiceStillOpen = errors.New("invoice still open")

	// ErrInvoicePreimageMismatch is returned when the preimage doesn't
	// match the invoice hash.
	ErrInvoicePreimageMismatch = errors.New("preimage does not match")

	// ErrAmountTooLow is returned when an invoice is accepted for less
	// than it asks for.
	ErrAmountTooLow = errors.New("paid amount less than required")

	// ErrInvalidExpiry is returned for non-positive invoice expiries.
	ErrInvalidExpiry = errors.New("invoice expiry must be positive")
)

// IsInvoiceError reports whether err originates from the invoice registry.
func IsInvoiceError(err error) bool {
	for _, target := range []error{
		ErrInvoiceNotFound, ErrDuplicateInvoice, ErrEmptyDescription,
		ErrInvoiceExpired, ErrInvalidPaymentRequest,
		ErrInvoiceAlreadySettled, ErrInvoiceAlreadyCanceled,
		ErrInvoiceCannotAccept, ErrInvoiceStillOpen,
		ErrInvoicePreimageMismatch, ErrAmountTooLow, ErrInvalidExpiry,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
