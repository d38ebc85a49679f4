package lncfg

import "time"

const (
	// DefaultInvoiceExpiry is the relative expiry of new invoices.
	DefaultInvoiceExpiry = time.Hour

	// DefaultFinalCltvDelta is the min final cltv delta of new invoices.
	DefaultFinalCltvDelta = 40
)

// Invoices holds the configuration options for invoices.
//
//nolint:lll
type Invoices struct {
	Expiry time.Duration `long:"expiry" description:"The default expiry of new invoices."`

	FinalCltvDelta uint32 `long:"finalcltvdelta" description:"The min final cltv delta written into new invoices."`
}

// DefaultInvoices returns the default invoice options.
func DefaultInvoices() *Invoices {
	return &Invoices{
		Expiry:         DefaultInvoiceExpiry,
		FinalCltvDelta: DefaultFinalCltvDelta,
	}
}

// Validate checks that the various invoice config options are sane.
//
// NOTE: this is part of the Validator interface.
func (i *Invoices) Validate() error {
	if i.Expiry <= 0 {
		return configErr("invoices.expiry", i.Expiry, ErrOutOfRange)
	}
	if i.FinalCltvDelta == 0 {
		return configErr("invoices.finalcltvdelta", i.FinalCltvDelta,
			ErrOutOfRange)
	}

	return nil
}

// Compile-time constraint to ensure Invoices implements the Validator
// interface.
var _ Validator = (*Invoices)(nil)
