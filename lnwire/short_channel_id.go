package lnwire

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/tlv"
)

// ShortChannelID locates a channel's funding output on chain. Only the
// routing graph uses it; the channel store keys channels by ChannelID.
type ShortChannelID struct {
	// BlockHeight is the height of the block confirming the funding
	// transaction. Limited to 3 bytes.
	BlockHeight uint32

	// TxIndex is the position of the funding transaction in its block.
	// Limited to 3 bytes.
	TxIndex uint32

	// TxPosition is the funding output index.
	TxPosition uint16
}

// NewShortChanIDFromInt unpacks the compact 8-byte form: 3 bytes block
// height, 3 bytes transaction index, 2 bytes output index.
func NewShortChanIDFromInt(chanID uint64) ShortChannelID {
	return ShortChannelID{
		BlockHeight: uint32(chanID >> 40),
		TxIndex:     uint32(chanID>>16) & 0xFFFFFF,
		TxPosition:  uint16(chanID),
	}
}

// ParseShortChanID accepts either the compact integer form or the
// "height:index:position" / "heightxindexxposition" forms.
func ParseShortChanID(s string) (ShortChannelID, error) {
	sep := ":"
	if strings.Contains(s, "x") {
		sep = "x"
	}

	parts := strings.Split(s, sep)
	if len(parts) == 1 {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return ShortChannelID{}, fmt.Errorf("invalid short "+
				"channel id %q: %w", s, err)
		}

		return NewShortChanIDFromInt(v), nil
	}
	if len(parts) != 3 {
		return ShortChannelID{}, fmt.Errorf("invalid short channel "+
			"id %q", s)
	}

	height, err := strconv.ParseUint(parts[0], 10, 24)
	if err != nil {
		return ShortChannelID{}, fmt.Errorf("invalid block height: %w",
			err)
	}
	index, err := strconv.ParseUint(parts[1], 10, 24)
	if err != nil {
		return ShortChannelID{}, fmt.Errorf("invalid tx index: %w", err)
	}
	pos, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return ShortChannelID{}, fmt.Errorf("invalid tx position: %w",
			err)
	}

	return ShortChannelID{
		BlockHeight: uint32(height),
		TxIndex:     uint32(index),
		TxPosition:  uint16(pos),
	}, nil
}

// ToUint64 packs the short channel id into its compact 8-byte form.
func (c ShortChannelID) ToUint64() uint64 {
	return (uint64(c.BlockHeight) << 40) | (uint64(c.TxIndex) << 16) |
		uint64(c.TxPosition)
}

// String generates a human-readable representation of the channel ID.
func (c ShortChannelID) String() string {
	return fmt.Sprintf("%d:%d:%d", c.BlockHeight, c.TxIndex, c.TxPosition)
}

// IsDefault returns true if the ShortChannelID is the zero value.
func (c ShortChannelID) IsDefault() bool {
	return c == ShortChannelID{}
}

// Record returns a TLV record of the given type carrying the short channel
// id in its compact form.
func (c *ShortChannelID) Record(typ tlv.Type) tlv.Record {
	return tlv.MakeStaticRecord(
		typ, c, 8, EShortChannelID, DShortChannelID,
	)
}

// EShortChannelID is a TLV encoder for ShortChannelID.
func EShortChannelID(w io.Writer, val interface{}, buf *[8]byte) error {
	if v, ok := val.(*ShortChannelID); ok {
		return tlv.EUint64T(w, v.ToUint64(), buf)
	}

	return tlv.NewTypeForEncodingErr(val, "lnwire.ShortChannelID")
}

// DShortChannelID is a TLV decoder for ShortChannelID.
func DShortChannelID(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	if v, ok := val.(*ShortChannelID); ok && l == 8 {
		var scid uint64
		if err := tlv.DUint64(r, &scid, buf, 8); err != nil {
			return err
		}

		*v = NewShortChanIDFromInt(scid)

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "lnwire.ShortChannelID", l, 8)
}
