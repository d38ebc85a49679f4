package lnwire

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// ChannelID is the 32-byte identifier of a payment channel. It is assigned
// once when the channel is opened and never changes afterwards, even when the
// channel later receives a short channel id.
type ChannelID [32]byte

// String returns the hex encoding of the channel id.
func (c ChannelID) String() string {
	return hex.EncodeToString(c[:])
}

// IsZero reports whether the id is unset.
func (c ChannelID) IsZero() bool {
	return c == ChannelID{}
}

// NewChannelID draws a fresh channel id from the passed entropy source, which
// defaults to crypto/rand when nil. An all-zero draw is rejected since the
// zero value is reserved for "unset".
func NewChannelID(entropy io.Reader) (ChannelID, error) {
	if entropy == nil {
		entropy = rand.Reader
	}

	var cid ChannelID
	if _, err := io.ReadFull(entropy, cid[:]); err != nil {
		return cid, fmt.Errorf("unable to read channel id entropy: %w",
			err)
	}
	if cid.IsZero() {
		return cid, fmt.Errorf("entropy source returned zero channel id")
	}

	return cid, nil
}

// NewChanIDFromStr parses a hex encoded channel id.
func NewChanIDFromStr(s string) (ChannelID, error) {
	var cid ChannelID

	b, err := hex.DecodeString(s)
	if err != nil {
		return cid, err
	}
	if len(b) != len(cid) {
		return cid, fmt.Errorf("invalid channel id length of %v, "+
			"want %v", len(b), len(cid))
	}
	copy(cid[:], b)

	return cid, nil
}
