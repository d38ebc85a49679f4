package invoices

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
)

// ContractState describes the state the invoice is in.
type ContractState uint8

const (
	// ContractOpen means the invoice has only been created.
	ContractOpen ContractState = 0

	// ContractSettled means the invoice has been paid and its preimage
	// released.
	ContractSettled ContractState = 1

	// ContractCanceled means the invoice has been canceled.
	ContractCanceled ContractState = 2

	// ContractAccepted means the payment has been locked in but not
	// settled. Only hold invoices pass through this state.
	ContractAccepted ContractState = 3
)

// String returns a human readable identifier for the ContractState type.
func (c ContractState) String() string {
	switch c {
	case ContractOpen:
		return "Open"

	case ContractSettled:
		return "Settled"

	case ContractCanceled:
		return "Canceled"

	case ContractAccepted:
		return "Accepted"
	}

	return "Unknown"
}

// IsFinal returns a boolean indicating whether an invoice state is final.
func (c ContractState) IsFinal() bool {
	return c == ContractSettled || c == ContractCanceled
}

// Invoice is a payment invoice issued by the registry. The payment terms
// never change after creation; only the state and settlement fields do.
type Invoice struct {
	// PaymentRequest is the encoded form handed to the payer.
	PaymentRequest string

	// PaymentHash identifies the invoice.
	PaymentHash lntypes.Hash

	// Preimage is known for regular invoices from creation on and for
	// hold invoices once they are settled.
	Preimage fn.Option[lntypes.Preimage]

	// Amount is the requested amount. Zero means any amount.
	Amount lnwire.MilliSatoshi

	// Description is the purpose of the payment.
	Description string

	// CreationDate is when the invoice was issued.
	CreationDate time.Time

	// Expiry is the absolute time after which the invoice can't be paid.
	Expiry time.Time

	// PaymentSecret is the optional secret the payer must present.
	PaymentSecret fn.Option[[32]byte]

	// FinalCltvDelta is the min final cltv delta of the invoice.
	FinalCltvDelta uint32

	// HodlInvoice is true for invoices whose preimage is held by the
	// caller.
	HodlInvoice bool

	// State is the lifecycle state.
	State ContractState

	// AmtPaid is the amount locked in when the invoice was accepted or
	// settled.
	AmtPaid lnwire.MilliSatoshi

	// SettleDate is when the invoice was settled.
	SettleDate time.Time

	// AddIndex orders invoices by creation.
	AddIndex uint64
}

// Copy returns a copy of the invoice.
func (i *Invoice) Copy() *Invoice {
	cp := *i
	return &cp
}

// IsExpired reports whether the invoice expired at time now. An invoice is
// still valid at its exact expiry.
func (i *Invoice) IsExpired(now time.Time) bool {
	return i.Expiry.Before(now)
}

// String returns a short description of the invoice for logs.
func (i *Invoice) String() string {
	return fmt.Sprintf("invoice(hash=%v, amt=%v, state=%v)",
		i.PaymentHash, i.Amount, i.State)
}

// InvoiceEvent is sent to subscribers when an invoice is added or changes
// state.
type InvoiceEvent struct {
	Invoice *Invoice
}
