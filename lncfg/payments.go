package lncfg

import "time"

const (
	// DefaultMaxPaymentRetries is the number of attempts made after the
	// first one failed.
	DefaultMaxPaymentRetries = 3

	// DefaultPaymentTimeout bounds a whole payment.
	DefaultPaymentTimeout = 60 * time.Second
)

// Payments holds the payment engine options.
//
//nolint:lll
type Payments struct {
	MaxRetries int `long:"maxretries" description:"The number of attempts made over fresh routes after the first attempt of a payment failed."`

	Timeout time.Duration `long:"timeout" description:"The time a payment may take before it is failed and its reservations are rolled back."`
}

// DefaultPayments returns the default payment options.
func DefaultPayments() *Payments {
	return &Payments{
		MaxRetries: DefaultMaxPaymentRetries,
		Timeout:    DefaultPaymentTimeout,
	}
}

// Validate checks the retry policy.
//
// NOTE: this is part of the Validator interface.
func (p *Payments) Validate() error {
	if p.MaxRetries < 0 {
		return configErr("payments.maxretries", p.MaxRetries,
			ErrOutOfRange)
	}
	if p.Timeout <= 0 {
		return configErr("payments.timeout", p.Timeout, ErrOutOfRange)
	}

	return nil
}

// Compile-time constraint to ensure Payments implements the Validator
// interface.
var _ Validator = (*Payments)(nil)
