package lncfg

import "time"

const (
	// DefaultEscrowTimeout is the deadline of escrows funded without one.
	DefaultEscrowTimeout = 24 * time.Hour

	// DefaultEscrowSweepInterval is how often expired escrows are
	// refunded.
	DefaultEscrowSweepInterval = time.Minute
)

// Escrow holds the escrow manager options.
//
//nolint:lll
type Escrow struct {
	DefaultTimeout time.Duration `long:"defaulttimeout" description:"The deadline of escrows funded without an explicit timeout. Funded escrows past their deadline are refunded."`

	SweepInterval time.Duration `long:"sweepinterval" description:"How often escrows past their deadline are looked for."`
}

// DefaultEscrow returns the default escrow options.
func DefaultEscrow() *Escrow {
	return &Escrow{
		DefaultTimeout: DefaultEscrowTimeout,
		SweepInterval:  DefaultEscrowSweepInterval,
	}
}

// Validate checks the escrow options.
//
// NOTE: this is part of the Validator interface.
func (e *Escrow) Validate() error {
	if e.DefaultTimeout <= 0 {
		return configErr("escrow.defaulttimeout", e.DefaultTimeout,
			ErrOutOfRange)
	}
	if e.SweepInterval <= 0 {
		return configErr("escrow.sweepinterval", e.SweepInterval,
			ErrOutOfRange)
	}

	return nil
}

// Compile-time constraint to ensure Escrow implements the Validator
// interface.
var _ Validator = (*Escrow)(nil)
