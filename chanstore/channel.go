package chanstore

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnpay/lnwire"
)

// PeerKeySize is the size of a compressed secp256k1 public key.
const PeerKeySize = 33

// Channel is a bidirectional payment channel with a single peer. Balances are
// tracked in millisatoshis so routing fees settle exactly; the capacity is
// fixed in satoshis when the channel is opened.
type Channel struct {
	// ChanID is the channel's unique identifier.
	ChanID lnwire.ChannelID

	// ShortChanID locates the funding output. It is zero until funding
	// confirms.
	ShortChanID lnwire.ShortChannelID

	// PeerPub is the compressed public key of the remote peer.
	PeerPub [PeerKeySize]byte

	// Capacity is the total amount locked into the channel.
	Capacity btcutil.Amount

	// PushAmount is the part of the capacity handed to the peer at open.
	PushAmount btcutil.Amount

	// LocalBalance is our side of the channel.
	LocalBalance lnwire.MilliSatoshi

	// RemoteBalance is the peer's side of the channel.
	RemoteBalance lnwire.MilliSatoshi

	// State is the lifecycle state.
	State ChannelState

	// OpenedAt is when the channel was opened.
	OpenedAt time.Time

	// ClosedAt is when the channel reached a terminal state.
	ClosedAt time.Time
}

// Copy returns a copy of the channel that shares no memory with it.
func (c *Channel) Copy() *Channel {
	cp := *c
	return &cp
}

// capacityMSat returns the capacity in millisatoshis.
func (c *Channel) capacityMSat() lnwire.MilliSatoshi {
	return lnwire.NewMSatFromSatoshis(c.Capacity)
}

// CheckBalanceInvariant verifies local + remote == capacity.
func (c *Channel) CheckBalanceInvariant() error {
	if c.LocalBalance+c.RemoteBalance != c.capacityMSat() {
		return fmt.Errorf("%w: channel %v local=%v remote=%v "+
			"capacity=%v", ErrBalanceInvariant, c.ChanID,
			c.LocalBalance, c.RemoteBalance, c.Capacity)
	}

	return nil
}

// String returns a short description of the channel for logs.
func (c *Channel) String() string {
	return fmt.Sprintf("%v(%v, cap=%v, local=%v, remote=%v)", c.ChanID,
		c.State, c.Capacity, c.LocalBalance, c.RemoteBalance)
}
