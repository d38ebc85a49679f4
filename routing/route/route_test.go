package route

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/stretchr/testify/require"
)

// TestRouteTotalFees checks that a route reports the expected total fee.
func TestRouteTotalFees(t *testing.T) {
	t.Parallel()

	// Make sure empty route returns a 0 fee, and zero amount.
	r := &Route{}
	require.Zero(t, r.TotalFees())
	require.Zero(t, r.ReceiverAmt())

	// Make sure empty route won't be allowed in the constructor.
	amt := lnwire.MilliSatoshi(1000)
	_, err := NewRouteFromHops(amt, Vertex{}, []*Hop{})
	require.ErrorIs(t, err, ErrNoRouteHopsProvided)

	// For one-hop routes the fee should be 0, since the last node will
	// receive the full amount.
	hops := []*Hop{{
		PubKeyBytes:     Vertex{1},
		ChannelID:       1,
		AmtToForward:    amt,
		CltvExpiryDelta: 40,
	}}
	r, err = NewRouteFromHops(amt, Vertex{}, hops)
	require.NoError(t, err)
	require.Zero(t, r.TotalFees())
	require.Equal(t, amt, r.ReceiverAmt())
	require.Equal(t, uint32(40), r.TotalCltvDelta)

	// Prepend a forwarding node that takes a fee.
	fee := lnwire.MilliSatoshi(100)
	hops = []*Hop{
		{
			PubKeyBytes:     Vertex{2},
			ChannelID:       2,
			AmtToForward:    amt - fee,
			Fee:             fee,
			CltvExpiryDelta: 144,
		},
		{
			PubKeyBytes:     Vertex{1},
			ChannelID:       1,
			AmtToForward:    amt - fee,
			CltvExpiryDelta: 40,
		},
	}
	r, err = NewRouteFromHops(amt, Vertex{}, hops)
	require.NoError(t, err)
	require.Equal(t, fee, r.TotalFees())
	require.Equal(t, fee, r.HopFee(0))
	require.Equal(t, amt, r.Hops[0].AmtToReceive())
	require.Equal(t, amt-fee, r.ReceiverAmt())
	require.Equal(t, uint32(184), r.TotalCltvDelta)
	require.Equal(t, lnwire.NewShortChanIDFromInt(2), r.FirstHopChannel())

	// Fees that don't add up are refused.
	_, err = NewRouteFromHops(amt+1, Vertex{}, hops)
	require.ErrorIs(t, err, ErrFeeMismatch)
}

// TestRouteCopy checks that copies share no hops.
func TestRouteCopy(t *testing.T) {
	t.Parallel()

	r, err := NewRouteFromHops(500, Vertex{}, []*Hop{{
		ChannelID: 9, AmtToForward: 500,
	}})
	require.NoError(t, err)

	c := r.Copy()
	c.Hops[0].ChannelID = 10
	require.Equal(t, uint64(9), r.Hops[0].ChannelID)
	require.Contains(t, r.String(), "chans=9")
}

// TestVertex checks the vertex constructors.
func TestVertex(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	v := NewVertex(priv.PubKey())
	fromBytes, err := NewVertexFromBytes(priv.PubKey().SerializeCompressed())
	require.NoError(t, err)
	require.Equal(t, v, fromBytes)

	fromStr, err := NewVertexFromStr(v.String())
	require.NoError(t, err)
	require.Equal(t, v, fromStr)

	_, err = NewVertexFromBytes(v[:32])
	require.Error(t, err)
	_, err = NewVertexFromStr("abcd")
	require.Error(t, err)
}
