package invoices

import (
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type registryTestCtx struct {
	registry *InvoiceRegistry
	clock    *clock.TestClock
}

func newTestContext(t *testing.T, db InvoiceDB) *registryTestCtx {
	t.Helper()

	testClock := clock.NewTestClock(testTime)
	registry, err := NewRegistry(&RegistryConfig{
		Net:   &chaincfg.RegressionNetParams,
		Clock: testClock,
		DB:    db,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, registry.Stop()) })

	return &registryTestCtx{
		registry: registry,
		clock:    testClock,
	}
}

// TestAddInvoice creates a plain invoice and verifies it.
func TestAddInvoice(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t, nil)

	invoice, err := ctx.registry.AddInvoice(
		lnwire.NewMSatFromSatoshis(1000), "coffee",
	)
	require.NoError(t, err)
	require.Equal(t, ContractOpen, invoice.State)
	require.Equal(t, lnwire.MilliSatoshi(1_000_000), invoice.Amount)
	require.Equal(t, testTime.Add(time.Hour).Unix(), invoice.Expiry.Unix())
	require.False(t, invoice.HodlInvoice)
	require.True(t, invoice.Preimage.IsSome())

	preimage := invoice.Preimage.UnwrapOrFail(t)
	require.True(t, preimage.Matches(invoice.PaymentHash))

	// Verification is repeatable and leaves the invoice untouched.
	for i := 0; i < 3; i++ {
		ok, err := ctx.registry.Verify(invoice.PaymentRequest)
		require.NoError(t, err)
		require.True(t, ok)
	}

	stored, err := ctx.registry.LookupInvoice(invoice.PaymentHash)
	require.NoError(t, err)
	require.Equal(t, invoice, stored)

	decoded, err := ctx.registry.DecodePayReq(invoice.PaymentRequest)
	require.NoError(t, err)
	require.Equal(t, invoice.PaymentHash, decoded.PaymentHash)
	require.Equal(t, "coffee", decoded.Description)
	require.Equal(t, invoice.Amount, decoded.Amount())
	require.Equal(t, uint32(DefaultFinalCltvDelta),
		decoded.MinFinalCLTVExpiryDelta())
}

// TestAddInvoiceValidation checks that invalid requests create nothing.
func TestAddInvoiceValidation(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t, nil)

	_, err := ctx.registry.AddInvoice(1000, "")
	require.ErrorIs(t, err, ErrEmptyDescription)
	require.True(t, IsInvoiceError(err))

	_, err = ctx.registry.AddInvoice(1000, " \t")
	require.ErrorIs(t, err, ErrEmptyDescription)

	_, err = ctx.registry.AddInvoice(1000, "x", WithExpiry(0))
	require.ErrorIs(t, err, ErrInvalidExpiry)

	_, err = ctx.registry.AddHoldInvoice(lntypes.ZeroHash, 1000, "x")
	require.Error(t, err)

	require.Empty(t, ctx.registry.Invoices())
}

// TestVerifyExpired checks that an expired invoice fails verification while
// one at its exact expiry still passes.
func TestVerifyExpired(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t, nil)

	invoice, err := ctx.registry.AddInvoice(
		5000, "short lived", WithExpiry(time.Minute),
	)
	require.NoError(t, err)

	ctx.clock.SetTime(testTime.Add(time.Minute))
	ok, err := ctx.registry.Verify(invoice.PaymentRequest)
	require.NoError(t, err)
	require.True(t, ok)

	ctx.clock.SetTime(testTime.Add(time.Minute + time.Second))
	ok, err = ctx.registry.Verify(invoice.PaymentRequest)
	require.ErrorIs(t, err, ErrInvoiceExpired)
	require.False(t, ok)

	stored, err := ctx.registry.LookupInvoice(invoice.PaymentHash)
	require.NoError(t, err)
	require.Equal(t, ContractOpen, stored.State)

	_, err = ctx.registry.Verify("lnbcrt1garbage")
	require.ErrorIs(t, err, ErrInvalidPaymentRequest)
}

// TestHoldInvoice walks a hold invoice through accept and settle.
func TestHoldInvoice(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t, nil)

	preimage := lntypes.Preimage{1, 2, 3}
	hash := preimage.Hash()

	invoice, err := ctx.registry.AddHoldInvoice(hash, 10_000, "escrow")
	require.NoError(t, err)
	require.True(t, invoice.HodlInvoice)
	require.True(t, invoice.Preimage.IsNone())

	_, err = ctx.registry.AddHoldInvoice(hash, 10_000, "escrow")
	require.ErrorIs(t, err, ErrDuplicateInvoice)

	err = ctx.registry.SettleInvoice(hash, preimage)
	require.ErrorIs(t, err, ErrInvoiceStillOpen)

	err = ctx.registry.AcceptHoldInvoice(hash, 9_999)
	require.ErrorIs(t, err, ErrAmountTooLow)

	require.NoError(t, ctx.registry.AcceptHoldInvoice(hash, 10_000))
	err = ctx.registry.AcceptHoldInvoice(hash, 10_000)
	require.ErrorIs(t, err, ErrInvoiceCannotAccept)

	err = ctx.registry.SettleInvoice(hash, lntypes.Preimage{9})
	require.ErrorIs(t, err, ErrInvoicePreimageMismatch)

	ctx.clock.SetTime(testTime.Add(time.Minute))
	require.NoError(t, ctx.registry.SettleInvoice(hash, preimage))

	settled, err := ctx.registry.LookupInvoice(hash)
	require.NoError(t, err)
	require.Equal(t, ContractSettled, settled.State)
	require.Equal(t, lnwire.MilliSatoshi(10_000), settled.AmtPaid)
	require.Equal(t, preimage, settled.Preimage.UnwrapOrFail(t))
	require.Equal(t, testTime.Add(time.Minute), settled.SettleDate)

	_, err = ctx.registry.Verify(settled.PaymentRequest)
	require.ErrorIs(t, err, ErrInvoiceAlreadySettled)

	err = ctx.registry.SettleInvoice(hash, preimage)
	require.ErrorIs(t, err, ErrInvoiceAlreadySettled)
	require.ErrorIs(t, ctx.registry.CancelInvoice(hash),
		ErrInvoiceAlreadySettled)
}

// TestCancelInvoice checks cancellation and its effect on verification.
func TestCancelInvoice(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t, nil)

	invoice, err := ctx.registry.AddInvoice(0, "tip jar")
	require.NoError(t, err)
	require.Zero(t, invoice.Amount)

	require.NoError(t, ctx.registry.CancelInvoice(invoice.PaymentHash))
	require.NoError(t, ctx.registry.CancelInvoice(invoice.PaymentHash))

	_, err = ctx.registry.Verify(invoice.PaymentRequest)
	require.ErrorIs(t, err, ErrInvoiceAlreadyCanceled)

	err = ctx.registry.AcceptHoldInvoice(invoice.PaymentHash, 100)
	require.ErrorIs(t, err, ErrInvoiceAlreadyCanceled)

	err = ctx.registry.CancelInvoice(lntypes.Hash{7})
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

// TestSettleRegularInvoice settles an invoice with the preimage the
// registry generated.
func TestSettleRegularInvoice(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t, nil)

	invoice, err := ctx.registry.AddInvoice(2000, "book")
	require.NoError(t, err)

	preimage := invoice.Preimage.UnwrapOrFail(t)
	require.NoError(t, ctx.registry.SettleInvoice(
		invoice.PaymentHash, preimage,
	))

	settled, err := ctx.registry.LookupInvoice(invoice.PaymentHash)
	require.NoError(t, err)
	require.Equal(t, lnwire.MilliSatoshi(2000), settled.AmtPaid)
}

// TestRegistrySettings checks live changes of expiry and network.
func TestRegistrySettings(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t, nil)

	require.ErrorIs(t, ctx.registry.SetDefaultExpiry(0), ErrInvalidExpiry)
	require.NoError(t, ctx.registry.SetDefaultExpiry(10*time.Minute))

	invoice, err := ctx.registry.AddInvoice(1000, "tea")
	require.NoError(t, err)
	require.Equal(t, testTime.Add(10*time.Minute).Unix(),
		invoice.Expiry.Unix())

	require.Error(t, ctx.registry.SetNetwork(&chaincfg.SigNetParams))
	require.NoError(t, ctx.registry.SetNetwork(&chaincfg.TestNet3Params))

	// Invoices of the old network are now foreign.
	_, err = ctx.registry.Verify(invoice.PaymentRequest)
	require.ErrorIs(t, err, ErrInvalidPaymentRequest)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	invoice, err = ctx.registry.AddInvoice(
		1000, "tea", WithDestination(priv.PubKey()),
		WithPaymentSecret([32]byte{1}), WithFinalCltvDelta(80),
	)
	require.NoError(t, err)

	decoded, err := ctx.registry.DecodePayReq(invoice.PaymentRequest)
	require.NoError(t, err)
	require.True(t, decoded.Destination.IsEqual(priv.PubKey()))
	require.Equal(t, uint32(80), decoded.MinFinalCLTVExpiryDelta())
	require.Equal(t, [32]byte{1}, decoded.PaymentSecret.UnwrapOrFail(t))
}

// TestInvoiceNotifications checks that additions and updates are
// published.
func TestInvoiceNotifications(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t, nil)

	client, err := ctx.registry.SubscribeNotifications()
	require.NoError(t, err)
	defer client.Cancel()

	invoice, err := ctx.registry.AddInvoice(1000, "coffee")
	require.NoError(t, err)
	require.NoError(t, ctx.registry.CancelInvoice(invoice.PaymentHash))

	for _, state := range []ContractState{ContractOpen, ContractCanceled} {
		select {
		case update := <-client.Updates():
			event, ok := update.(*InvoiceEvent)
			require.True(t, ok)
			require.Equal(t, invoice.PaymentHash,
				event.Invoice.PaymentHash)
			require.Equal(t, state, event.Invoice.State)

		case <-time.After(time.Second):
			t.Fatalf("no event for state %v", state)
		}
	}
}

// memInvoiceDB is an in-memory InvoiceDB.
type memInvoiceDB struct {
	mu       sync.Mutex
	invoices map[lntypes.Hash]*Invoice
}

func (m *memInvoiceDB) PutInvoice(invoice *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.invoices == nil {
		m.invoices = make(map[lntypes.Hash]*Invoice)
	}
	m.invoices[invoice.PaymentHash] = invoice.Copy()

	return nil
}

func (m *memInvoiceDB) FetchInvoices() ([]*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Invoice
	for _, invoice := range m.invoices {
		out = append(out, invoice.Copy())
	}

	return out, nil
}

// TestRegistryReload checks that invoices and their order survive a
// restart.
func TestRegistryReload(t *testing.T) {
	t.Parallel()

	db := &memInvoiceDB{}
	ctx := newTestContext(t, db)

	first, err := ctx.registry.AddInvoice(1000, "first")
	require.NoError(t, err)
	second, err := ctx.registry.AddInvoice(2000, "second")
	require.NoError(t, err)
	require.NoError(t, ctx.registry.CancelInvoice(first.PaymentHash))

	reloaded := newTestContext(t, db)
	invoices := reloaded.registry.Invoices()
	require.Len(t, invoices, 2)
	require.Equal(t, first.PaymentHash, invoices[0].PaymentHash)
	require.Equal(t, ContractCanceled, invoices[0].State)
	require.Equal(t, second.PaymentHash, invoices[1].PaymentHash)

	third, err := reloaded.registry.AddInvoice(3000, "third")
	require.NoError(t, err)
	require.Equal(t, uint64(3), third.AddIndex)
}
