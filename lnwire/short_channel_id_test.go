package lnwire

import (
	"bytes"
	"testing"

	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestShortChannelIDPacking checks that packing into the compact form and
// back is lossless for every in-range value.
func TestShortChannelIDPacking(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		scid := ShortChannelID{
			BlockHeight: rapid.Uint32Range(0, 1<<24-1).Draw(
				t, "height",
			),
			TxIndex: rapid.Uint32Range(0, 1<<24-1).Draw(
				t, "index",
			),
			TxPosition: rapid.Uint16().Draw(t, "position"),
		}

		require.Equal(t, scid, NewShortChanIDFromInt(scid.ToUint64()))

		parsed, err := ParseShortChanID(scid.String())
		require.NoError(t, err)
		require.Equal(t, scid, parsed)
	})
}

// TestParseShortChanID covers the accepted textual forms.
func TestParseShortChanID(t *testing.T) {
	t.Parallel()

	want := ShortChannelID{BlockHeight: 700000, TxIndex: 12, TxPosition: 1}

	for _, s := range []string{
		"700000:12:1", "700000x12x1",
	} {
		got, err := ParseShortChanID(s)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseShortChanID("1:2")
	require.Error(t, err)

	_, err = ParseShortChanID("not-a-number")
	require.Error(t, err)
}

// TestShortChannelIDRecord round trips the id through a TLV stream.
func TestShortChannelIDRecord(t *testing.T) {
	t.Parallel()

	scid := ShortChannelID{BlockHeight: 1, TxIndex: 2, TxPosition: 3}

	var b bytes.Buffer
	stream, err := tlv.NewStream(scid.Record(1))
	require.NoError(t, err)
	require.NoError(t, stream.Encode(&b))

	var decoded ShortChannelID
	stream, err = tlv.NewStream(decoded.Record(1))
	require.NoError(t, err)
	require.NoError(t, stream.Decode(&b))
	require.Equal(t, scid, decoded)
}
