package lnwire

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestMilliSatoshiConversion(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		mSatAmount MilliSatoshi

		satAmount btcutil.Amount
		btcAmount float64
	}{
		{mSatAmount: 0, satAmount: 0, btcAmount: 0},
		{mSatAmount: 999, satAmount: 0, btcAmount: 0},
		{mSatAmount: 1000, satAmount: 1, btcAmount: 1e-8},
		{mSatAmount: 100000000000, satAmount: 100000000, btcAmount: 1},
		{
			mSatAmount: 21 * 1e6 * 1e8 * 1e3,
			satAmount:  21 * 1e6 * 1e8,
			btcAmount:  21 * 1e6,
		},
	}

	for _, test := range testCases {
		require.Equal(t, test.satAmount, test.mSatAmount.ToSatoshis())
		require.Equal(t, test.btcAmount, test.mSatAmount.ToBTC())
	}

	require.Equal(t, MilliSatoshi(50_000_000), NewMSatFromSatoshis(50_000))
}
