package zpay32

import (
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var (
	testHash = lntypes.Hash{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
	}

	testTime = time.Unix(1_700_000_000, 0)
)

// requireInvoicesEqual compares two invoices field by field.
func requireInvoicesEqual(t require.TestingT, want, got *Invoice) {
	require.Equal(t, want.Net.Name, got.Net.Name)
	require.Equal(t, want.MilliSat, got.MilliSat)
	require.Equal(t, want.PaymentHash, got.PaymentHash)
	require.Equal(t, want.Description, got.Description)
	require.Equal(t, want.Timestamp.Unix(), got.Timestamp.Unix())
	require.Equal(t, want.Expiry.Unix(), got.Expiry.Unix())
	require.Equal(t, want.PaymentSecret, got.PaymentSecret)
	require.Equal(t, want.MinFinalCLTVExpiry, got.MinFinalCLTVExpiry)

	if want.Destination == nil {
		require.Nil(t, got.Destination)
		return
	}
	require.NotNil(t, got.Destination)
	require.True(t, want.Destination.IsEqual(got.Destination))
}

// TestEncodeDecode checks a set of invoices against their encodings.
func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	tests := []struct {
		name   string
		net    *chaincfg.Params
		opts   []func(*Invoice)
		prefix string
	}{
		{
			name:   "amountless mainnet",
			net:    &chaincfg.MainNetParams,
			opts:   []func(*Invoice){Description("donation")},
			prefix: "lnbc1",
		},
		{
			name: "one sat coffee",
			net:  &chaincfg.MainNetParams,
			opts: []func(*Invoice){
				Amount(1_000_000), Description("coffee"),
			},
			prefix: "lnbc10u1",
		},
		{
			name: "regtest with all fields",
			net:  &chaincfg.RegressionNetParams,
			opts: []func(*Invoice){
				Amount(2_500_000_000),
				Description("escrow deposit"),
				Expiry(10 * time.Minute),
				Destination(priv.PubKey()),
				PaymentSecret([32]byte{9, 9, 9}),
				CLTVExpiry(144),
			},
			prefix: "lnbcrt25m1",
		},
		{
			name: "simnet picobtc",
			net:  &chaincfg.SimNetParams,
			opts: []func(*Invoice){
				Amount(1), Description("dust"),
			},
			prefix: "lnsb10p1",
		},
		{
			name: "testnet whole btc",
			net:  &chaincfg.TestNet3Params,
			opts: []func(*Invoice){
				Amount(2 * mSatPerBtc), Description("bulk"),
			},
			prefix: "lntb21",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			invoice, err := NewInvoice(
				test.net, testHash, testTime, test.opts...,
			)
			require.NoError(t, err)

			encoded, err := invoice.Encode()
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(encoded, test.prefix),
				encoded)

			decoded, err := Decode(encoded, test.net)
			require.NoError(t, err)
			requireInvoicesEqual(t, invoice, decoded)

			// Any network is accepted without a net.
			decoded, err = Decode(encoded, nil)
			require.NoError(t, err)
			require.Equal(t, test.net.Name, decoded.Net.Name)
		})
	}
}

// TestDefaults checks the implicit expiry and cltv delta.
func TestDefaults(t *testing.T) {
	t.Parallel()

	invoice, err := NewInvoice(
		&chaincfg.MainNetParams, testHash, testTime,
		Description("coffee"),
	)
	require.NoError(t, err)
	require.Equal(t, testTime.Add(time.Hour), invoice.Expiry)
	require.Equal(t, uint32(DefaultMinFinalCLTVExpiry),
		invoice.MinFinalCLTVExpiryDelta())
	require.Zero(t, invoice.Amount())
	require.False(t, invoice.IsExpired(testTime.Add(time.Hour)))
	require.True(t, invoice.IsExpired(testTime.Add(time.Hour+time.Second)))
}

// TestInvalidInvoices checks that malformed invoices are rejected on both
// creation and decoding.
func TestInvalidInvoices(t *testing.T) {
	t.Parallel()

	_, err := NewInvoice(&chaincfg.MainNetParams, testHash, testTime)
	require.ErrorIs(t, err, ErrEmptyDescription)

	_, err = NewInvoice(
		&chaincfg.MainNetParams, testHash, testTime,
		Description("   "),
	)
	require.ErrorIs(t, err, ErrEmptyDescription)

	_, err = NewInvoice(
		&chaincfg.MainNetParams, testHash, testTime,
		Description(strings.Repeat("a", maxDescriptionLength+1)),
	)
	require.Error(t, err)

	_, err = NewInvoice(
		&chaincfg.MainNetParams, testHash, testTime,
		Description("zero"), Amount(0),
	)
	require.Error(t, err)

	_, err = NewInvoice(
		&chaincfg.MainNetParams, testHash, testTime,
		Description("past"), ExpiresAt(testTime.Add(-time.Second)),
	)
	require.Error(t, err)

	_, err = NewInvoice(
		&chaincfg.SigNetParams, testHash, testTime,
		Description("signet"),
	)
	require.ErrorIs(t, err, ErrInvalidNet)

	invoice, err := NewInvoice(
		&chaincfg.MainNetParams, testHash, testTime,
		Description("coffee"),
	)
	require.NoError(t, err)
	encoded, err := invoice.Encode()
	require.NoError(t, err)

	_, err = Decode(encoded, &chaincfg.TestNet3Params)
	require.ErrorIs(t, err, ErrInvalidNet)

	// Flipping a character breaks the checksum.
	corrupted := []byte(encoded)
	if corrupted[10] == 'q' {
		corrupted[10] = 'p'
	} else {
		corrupted[10] = 'q'
	}
	_, err = Decode(string(corrupted), nil)
	require.Error(t, err)

	// A future version is refused.
	future, err := bech32.Encode("lnbc", []byte{Version + 1, 0, 0})
	require.NoError(t, err)
	_, err = Decode(future, nil)
	require.ErrorIs(t, err, ErrUnknownVersion)

	// An empty payload lacks the required fields.
	empty, err := bech32.Encode("lnbc", []byte{Version})
	require.NoError(t, err)
	_, err = Decode(empty, nil)
	require.ErrorIs(t, err, ErrMissingField)

	// Other bech32 strings are not invoices.
	other, err := bech32.Encode("bc", []byte{Version})
	require.NoError(t, err)
	_, err = Decode(other, nil)
	require.Error(t, err)
}

// TestAmountEncoding checks the shortest amount representation.
func TestAmountEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msat    lnwire.MilliSatoshi
		encoded string
	}{
		{msat: 1, encoded: "10p"},
		{msat: 1_000, encoded: "10n"},
		{msat: 100_000, encoded: "1u"},
		{msat: 250_000_000, encoded: "2500u"},
		{msat: 100_000_000, encoded: "1m"},
		{msat: mSatPerBtc, encoded: "1"},
	}

	for _, test := range tests {
		encoded, err := encodeAmount(test.msat)
		require.NoError(t, err)
		require.Equal(t, test.encoded, encoded)

		decoded, err := decodeAmount(encoded)
		require.NoError(t, err)
		require.Equal(t, test.msat, decoded)
	}

	_, err := decodeAmount("15p")
	require.Error(t, err)
	_, err = decodeAmount("1x")
	require.Error(t, err)
	_, err = decodeAmount("u")
	require.Error(t, err)
}

// TestEncodeDecodeProperty checks that every valid invoice survives an
// encoding round trip.
func TestEncodeDecodeProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		net := rapid.SampledFrom(supportedNets).Draw(rt, "net")

		var hash lntypes.Hash
		copy(hash[:], rapid.SliceOfN(
			rapid.Byte(), 32, 32,
		).Draw(rt, "hash"))

		timestamp := time.Unix(rapid.Int64Range(
			0, 1<<40,
		).Draw(rt, "timestamp"), 0)

		opts := []func(*Invoice){
			Description(rapid.StringMatching(
				`[a-zA-Z0-9 ]{0,80}[a-z]`,
			).Draw(rt, "description")),
			Expiry(time.Duration(rapid.Int64Range(
				0, 1<<30,
			).Draw(rt, "expiry")) * time.Second),
		}
		if rapid.Bool().Draw(rt, "has_amount") {
			opts = append(opts, Amount(lnwire.MilliSatoshi(
				rapid.Uint64Range(1, 1e17).Draw(rt, "amount"),
			)))
		}
		if rapid.Bool().Draw(rt, "has_secret") {
			var secret [32]byte
			copy(secret[:], rapid.SliceOfN(
				rapid.Byte(), 32, 32,
			).Draw(rt, "secret"))
			opts = append(opts, PaymentSecret(secret))
		}
		if rapid.Bool().Draw(rt, "has_cltv") {
			opts = append(opts, CLTVExpiry(
				rapid.Uint32().Draw(rt, "cltv"),
			))
		}

		invoice, err := NewInvoice(net, hash, timestamp, opts...)
		require.NoError(rt, err)

		encoded, err := invoice.Encode()
		require.NoError(rt, err)

		decoded, err := Decode(encoded, net)
		require.NoError(rt, err)
		requireInvoicesEqual(rt, invoice, decoded)

		reencoded, err := decoded.Encode()
		require.NoError(rt, err)
		require.Equal(rt, encoded, reencoded)
	})
}
