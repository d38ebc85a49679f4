package lncfg

import "github.com/btcsuite/btcd/btcutil"

const (
	// DefaultMinChanCapacity is the smallest channel that may be opened.
	DefaultMinChanCapacity btcutil.Amount = 20_000

	// DefaultMaxChanCapacity is the largest channel that may be opened.
	DefaultMaxChanCapacity btcutil.Amount = 10_000_000
)

// Channels holds the channel store options.
//
//nolint:lll
type Channels struct {
	MinCapacity int64 `long:"mincapacity" description:"The smallest channel in satoshis that may be opened."`

	MaxCapacity int64 `long:"maxcapacity" description:"The largest channel in satoshis that may be opened."`

	NoAutoManage bool `long:"noautomanage" description:"Leave the funding confirmation of new channels and the announcement of own channels to the operator."`
}

// DefaultChannels returns the default channel options.
func DefaultChannels() *Channels {
	return &Channels{
		MinCapacity: int64(DefaultMinChanCapacity),
		MaxCapacity: int64(DefaultMaxChanCapacity),
	}
}

// AutoManage reports whether the node manages its channels itself.
func (c *Channels) AutoManage() bool {
	return !c.NoAutoManage
}

// Validate checks that both capacities are positive and ordered.
//
// NOTE: this is part of the Validator interface.
func (c *Channels) Validate() error {
	switch {
	case c.MinCapacity <= 0:
		return configErr("channels.mincapacity", c.MinCapacity,
			ErrOutOfRange)

	case c.MaxCapacity <= 0:
		return configErr("channels.maxcapacity", c.MaxCapacity,
			ErrOutOfRange)

	case c.MinCapacity > c.MaxCapacity:
		return configErr("channels.mincapacity", c.MinCapacity,
			ErrInvalidBounds)
	}

	return nil
}

// Compile-time constraint to ensure Channels implements the Validator
// interface.
var _ Validator = (*Channels)(nil)
