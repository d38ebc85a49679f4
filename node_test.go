package lnpay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/lnpay/channeldb"
	"github.com/lightningnetwork/lnpay/chanstore"
	"github.com/lightningnetwork/lnpay/escrow"
	"github.com/lightningnetwork/lnpay/invoices"
	"github.com/lightningnetwork/lnpay/lncfg"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/payments"
	"github.com/lightningnetwork/lnpay/routing"
	"github.com/lightningnetwork/lnpay/routing/route"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// remotePolicy charges a base fee of 100 sat.
var remotePolicy = routing.FeePolicy{
	FeeBaseMSat:   100_000,
	TimeLockDelta: 40,
}

type nodeHarness struct {
	t     *testing.T
	clock *clock.TestClock
	node  *Node

	// peer is the direct channel partner, dest the node behind it that
	// issues invoices.
	peer     *btcec.PrivateKey
	dest     *btcec.PrivateKey
	registry *invoices.InvoiceRegistry
}

type harnessOption func(*NodeConfig)

func withFundingDelay(delay time.Duration) harnessOption {
	return func(cfg *NodeConfig) {
		cfg.FundingDelay = delay
	}
}

func withSettings(modify func(*lncfg.PanelSettings)) harnessOption {
	return func(cfg *NodeConfig) {
		modify(&cfg.Settings)
	}
}

func newTestKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return key
}

func newNodeHarness(t *testing.T, opts ...harnessOption) *nodeHarness {
	t.Helper()

	h := &nodeHarness{
		t:     t,
		clock: clock.NewTestClock(testTime),
		peer:  newTestKey(t),
		dest:  newTestKey(t),
	}

	cfg := &NodeConfig{
		IdentityKey:       newTestKey(t),
		Alias:             DefaultAlias,
		Color:             DefaultColor,
		Clock:             h.clock,
		Settings:          lncfg.DefaultPanelSettings(),
		FinalCltvDelta:    lncfg.DefaultFinalCltvDelta,
		HopLimit:          lncfg.DefaultHopLimit,
		RiskFactor:        lncfg.DefaultRiskFactor,
		EscrowTimeout:     lncfg.DefaultEscrowTimeout,
		EscrowSweepTicker: ticker.NewForce(time.Hour),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var err error
	h.node, err = NewNode(cfg)
	require.NoError(t, err)
	require.NoError(t, h.node.Start())
	t.Cleanup(func() {
		require.NoError(t, h.node.Stop())
	})

	net, err := NetworkParams(cfg.Settings.DefaultNetwork)
	require.NoError(t, err)

	h.registry, err = invoices.NewRegistry(&invoices.RegistryConfig{
		Net:     net,
		NodeKey: h.dest.PubKey(),
		Clock:   h.clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, h.registry.Stop())
	})

	return h
}

func (h *nodeHarness) self() route.Vertex {
	return h.node.IdentityPubKey()
}

// openChannel opens a channel to the peer and waits until the node
// confirmed and announced it.
func (h *nodeHarness) openChannel(capacity,
	push btcutil.Amount) *chanstore.Channel {

	h.t.Helper()

	future := h.node.OpenChannel(
		context.Background(), h.peer.PubKey().SerializeCompressed(),
		capacity, push,
	)
	c, err := future.Await(context.Background())
	require.NoError(h.t, err)
	require.Equal(h.t, chanstore.StateActive, c.State)

	h.waitForEdge(c.ShortChanID)

	return c
}

func (h *nodeHarness) waitForEdge(scid lnwire.ShortChannelID) {
	h.t.Helper()

	require.Eventually(h.t, func() bool {
		_, err := h.node.Graph.FetchChannel(scid)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

// addRemoteChannel connects the peer to the invoice issuer.
func (h *nodeHarness) addRemoteChannel(capacity btcutil.Amount) {
	h.t.Helper()

	require.NoError(h.t, h.node.Graph.AddChannel(&routing.ChannelEdge{
		ChannelID:     lnwire.ShortChannelID{BlockHeight: 1, TxIndex: 7},
		NodeKey1Bytes: route.NewVertex(h.peer.PubKey()),
		NodeKey2Bytes: route.NewVertex(h.dest.PubKey()),
		Capacity:      capacity,
		Policy:        remotePolicy,
	}))
}

func (h *nodeHarness) remoteInvoice(amt btcutil.Amount,
	opts ...invoices.AddInvoiceOption) *invoices.Invoice {

	h.t.Helper()

	invoice, err := h.registry.AddInvoice(
		lnwire.NewMSatFromSatoshis(amt), "remote invoice", opts...,
	)
	require.NoError(h.t, err)

	return invoice
}

func (h *nodeHarness) pay(invoice *invoices.Invoice) (*payments.Payment,
	error) {

	return h.node.SendPayment(context.Background(), &payments.SendRequest{
		PaymentRequest: invoice.PaymentRequest,
	})
}

func (h *nodeHarness) fetchChannel(
	chanID lnwire.ChannelID) *chanstore.Channel {
	h.t.Helper()

	c, err := h.node.Channels.FetchChannel(chanID)
	require.NoError(h.t, err)

	return c
}

// TestNodeInvoice issues an invoice with the default expiry and verifies it.
func TestNodeInvoice(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t)

	invoice, err := h.node.AddInvoice(
		lnwire.NewMSatFromSatoshis(1000), "coffee",
	)
	require.NoError(t, err)
	require.Equal(t, testTime.Add(time.Hour), invoice.Expiry)
	require.Equal(t, invoices.ContractOpen, invoice.State)

	ok, err := h.node.Invoices.Verify(invoice.PaymentRequest)
	require.NoError(t, err)
	require.True(t, ok)

	decoded, err := h.node.Invoices.DecodePayReq(invoice.PaymentRequest)
	require.NoError(t, err)
	require.Equal(t, h.self(), route.NewVertex(decoded.Destination))
}

// TestNodePayment pays a remote invoice over the own channel and checks
// that the fee is debited and the graph follows the new balance.
func TestNodePayment(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t)

	c := h.openChannel(100_000, 0)
	require.Equal(t, lnwire.NewMSatFromSatoshis(100_000), c.LocalBalance)
	require.Zero(t, c.RemoteBalance)

	h.addRemoteChannel(1_000_000)

	payment, err := h.pay(h.remoteInvoice(50_000))
	require.NoError(t, err)
	require.Equal(t, payments.StatusSucceeded, payment.Status)

	c = h.fetchChannel(c.ChanID)
	require.Equal(t, btcutil.Amount(49_900), c.LocalBalance.ToSatoshis())
	require.Equal(t, btcutil.Amount(50_100), c.RemoteBalance.ToSatoshis())

	require.Eventually(t, func() bool {
		edge, err := h.node.Graph.FetchChannel(c.ShortChanID)
		if err != nil {
			return false
		}

		return edge.Liquidity(h.self()) == c.LocalBalance
	}, time.Second, 10*time.Millisecond)
}

// TestNodeInsufficientFunds checks that a payment above the local balance
// fails without touching the channel.
func TestNodeInsufficientFunds(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t)

	c := h.openChannel(20_000, 19_000)
	h.addRemoteChannel(1_000_000)
	require.Equal(t, lnwire.NewMSatFromSatoshis(1000),
		h.node.Channels.TotalLocalBalance())

	_, err := h.pay(h.remoteInvoice(5000))
	require.ErrorIs(t, err, payments.ErrInsufficientFunds)

	after := h.fetchChannel(c.ChanID)
	require.Equal(t, c.LocalBalance, after.LocalBalance)
	require.Equal(t, c.RemoteBalance, after.RemoteBalance)
	require.Empty(t, h.node.Control.FetchPayments())
}

// TestNodeExpiredInvoice checks that an expired invoice is refused before
// any balance is looked at.
func TestNodeExpiredInvoice(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t)

	invoice := h.remoteInvoice(5000, invoices.WithExpiry(time.Minute))
	h.clock.SetTime(testTime.Add(2 * time.Minute))

	_, err := h.node.Invoices.Verify(invoice.PaymentRequest)
	require.ErrorIs(t, err, invoices.ErrInvoiceExpired)

	// There is no channel at all, so an expiry error shows the invoice
	// was checked first.
	_, err = h.pay(invoice)
	require.ErrorIs(t, err, invoices.ErrInvoiceExpired)
}

// TestNodeConcurrentPayments runs two payments that can't both be covered
// by the channel.
func TestNodeConcurrentPayments(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t)

	c := h.openChannel(100_000, 0)
	h.addRemoteChannel(1_000_000)

	first := h.remoteInvoice(60_000)
	second := h.remoteInvoice(60_000)

	var (
		mu      sync.Mutex
		settled btcutil.Amount
		success int
	)

	var g errgroup.Group
	for _, invoice := range []*invoices.Invoice{first, second} {
		g.Go(func() error {
			payment, err := h.pay(invoice)
			if err != nil {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			if payment.Status == payments.StatusSucceeded {
				success++
				settled += payment.Info.Value.ToSatoshis()
			}

			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 1, success)
	require.LessOrEqual(t, settled, btcutil.Amount(100_000))

	after := h.fetchChannel(c.ChanID)
	require.Equal(t, btcutil.Amount(39_900), after.LocalBalance.ToSatoshis())
	require.NoError(t, after.CheckBalanceInvariant())
}

// TestChannelOperationOrder submits a confirmation and a close without
// waiting in between. The close only succeeds when it runs second.
func TestChannelOperationOrder(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t, withSettings(func(s *lncfg.PanelSettings) {
		s.AutoChannelManagement = false
	}))
	ctx := context.Background()

	pending, err := h.node.OpenChannel(
		ctx, h.peer.PubKey().SerializeCompressed(), 50_000, 0,
	).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, chanstore.StateOpening, pending.State)

	scid := lnwire.ShortChannelID{BlockHeight: 500, TxIndex: 3}
	confirm := h.node.ConfirmChannel(ctx, pending.ChanID, scid)
	closeOp := h.node.CloseChannel(ctx, pending.ChanID, false)

	active, err := confirm.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, chanstore.StateActive, active.State)
	require.Equal(t, scid, active.ShortChanID)

	closed, err := closeOp.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, chanstore.StateClosed, closed.State)

	// Own channels are not announced without auto management.
	_, err = h.node.Graph.FetchChannel(scid)
	require.ErrorIs(t, err, routing.ErrEdgeNotFound)
}

// TestCancelQueuedOperation cancels an operation waiting behind a funding
// that has not completed yet.
func TestCancelQueuedOperation(t *testing.T) {
	t.Parallel()

	const delay = time.Minute

	h := newNodeHarness(t, withFundingDelay(delay))
	ctx := context.Background()

	open := h.node.OpenChannel(
		ctx, h.peer.PubKey().SerializeCompressed(), 50_000, 0,
	)

	channels := h.node.Channels.List()
	require.Len(t, channels, 1)
	chanID := channels[0].ChanID

	cancelCtx, cancel := context.WithCancel(ctx)
	closeOp := h.node.CloseChannel(cancelCtx, chanID, true)
	cancel()

	// The funding waits on the clock. Advance it until the funding
	// completed.
	require.Eventually(t, func() bool {
		h.clock.SetTime(h.clock.Now().Add(delay))

		select {
		case <-open.Done():
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	c, err := open.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, chanstore.StateActive, c.State)

	_, err = closeOp.Await(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, chanstore.StateActive, h.fetchChannel(chanID).State)
}

// TestOperationAfterStop checks that operations fail once the node stopped.
func TestOperationAfterStop(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t)
	require.NoError(t, h.node.Stop())

	var chanID lnwire.ChannelID
	_, err := h.node.ConfirmChannel(
		context.Background(), chanID,
		lnwire.ShortChannelID{BlockHeight: 1},
	).Await(context.Background())
	require.ErrorIs(t, err, ErrNodeShuttingDown)
}

// TestChannelWithdrawnOnClose checks that a closed own channel leaves the
// graph.
func TestChannelWithdrawnOnClose(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t)
	ctx := context.Background()

	c := h.openChannel(50_000, 10_000)

	edge, err := h.node.Graph.FetchChannel(c.ShortChanID)
	require.NoError(t, err)
	require.Equal(t, h.self(), edge.NodeKey1Bytes)
	require.Equal(t, lnwire.NewMSatFromSatoshis(40_000),
		edge.Liquidity(h.self()))

	closed, err := h.node.CloseChannel(ctx, c.ChanID, false).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, chanstore.StateClosed, closed.State)

	require.Eventually(t, func() bool {
		_, err := h.node.Graph.FetchChannel(c.ShortChanID)
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

// TestLightningDisabled checks that switching lightning off in the panel
// rejects new invoices, payments, escrows and channel opens.
func TestLightningDisabled(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t)
	ctx := context.Background()

	require.NoError(t, h.node.Panel.Set(lncfg.KeyLightningEnabled, "false"))
	require.False(t, h.node.Enabled())

	_, err := h.node.AddInvoice(1000, "disabled")
	require.ErrorIs(t, err, ErrLightningDisabled)

	_, err = h.node.AddHoldInvoice(lntypes.Hash{1}, 1000, "disabled")
	require.ErrorIs(t, err, ErrLightningDisabled)

	_, err = h.pay(h.remoteInvoice(1000))
	require.ErrorIs(t, err, ErrLightningDisabled)

	result := <-h.node.SendPaymentAsync(ctx, &payments.SendRequest{
		PaymentRequest: h.remoteInvoice(1000).PaymentRequest,
	})
	_, err = result.Unpack()
	require.ErrorIs(t, err, ErrLightningDisabled)

	_, err = h.node.FundHoldEscrow(&escrow.HoldRequest{})
	require.ErrorIs(t, err, ErrLightningDisabled)

	_, err = h.node.OpenChannel(
		ctx, h.peer.PubKey().SerializeCompressed(), 50_000, 0,
	).Await(ctx)
	require.ErrorIs(t, err, ErrLightningDisabled)
	require.Empty(t, h.node.Channels.List())

	require.NoError(t, h.node.Panel.Set(lncfg.KeyLightningEnabled, "true"))
	_, err = h.node.AddInvoice(1000, "enabled")
	require.NoError(t, err)
}

// TestPanelAppliesLive checks that panel changes reach the components.
func TestPanelAppliesLive(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t)
	panel := h.node.Panel

	err := panel.Apply(map[string]string{
		lncfg.KeyMinChannelCapacity: "30000",
		lncfg.KeyMaxChannelCapacity: "500000",
		lncfg.KeyInvoiceExpiry:      "600",
		lncfg.KeyDefaultNetwork:     "testnet",
		lncfg.KeyMaxPaymentRetries:  "5",
		lncfg.KeyPaymentTimeout:     "30",
	})
	require.NoError(t, err)

	minCap, maxCap := h.node.Channels.CapacityBounds()
	require.Equal(t, btcutil.Amount(30_000), minCap)
	require.Equal(t, btcutil.Amount(500_000), maxCap)
	require.Equal(t, 10*time.Minute, h.node.Invoices.DefaultExpiry())
	require.Equal(t, chaincfg.TestNet3Params.Name,
		h.node.Invoices.Network().Name)

	retries, timeout := h.node.Payments.RetryPolicy()
	require.Equal(t, 5, retries)
	require.Equal(t, 30*time.Second, timeout)

	// A channel below the new minimum is refused.
	_, err = h.node.OpenChannel(
		context.Background(), h.peer.PubKey().SerializeCompressed(),
		25_000, 0,
	).Await(context.Background())
	require.ErrorIs(t, err, chanstore.ErrCapacityTooSmall)

	// Crossed bounds are refused as a whole.
	err = panel.Apply(map[string]string{
		lncfg.KeyMinChannelCapacity: "400000",
		lncfg.KeyMaxChannelCapacity: "300000",
		lncfg.KeyInvoiceExpiry:      "60",
	})
	require.ErrorIs(t, err, lncfg.ErrInvalidBounds)
	require.Equal(t, 10*time.Minute, h.node.Invoices.DefaultExpiry())

	require.NoError(t, panel.ResetToDefaults())
	minCap, maxCap = h.node.Channels.CapacityBounds()
	require.Equal(t, lncfg.DefaultMinChanCapacity, minCap)
	require.Equal(t, lncfg.DefaultMaxChanCapacity, maxCap)
	require.Equal(t, chaincfg.MainNetParams.Name,
		h.node.Invoices.Network().Name)
}

// TestSettingsPersisted checks that live settings survive a restart.
func TestSettingsPersisted(t *testing.T) {
	t.Parallel()

	db, err := channeldb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	key := newTestKey(t)
	newNode := func() *Node {
		node, err := NewNode(&NodeConfig{
			IdentityKey: key,
			DB:          db,
			Clock:       clock.NewTestClock(testTime),
			Settings:    lncfg.DefaultPanelSettings(),
		})
		require.NoError(t, err)

		return node
	}

	node := newNode()
	require.NoError(t, node.Start())
	require.NoError(t, node.Panel.Set(lncfg.KeyInvoiceExpiry, "120"))
	require.NoError(t, node.Stop())

	restarted := newNode()
	require.Equal(t, int64(120), restarted.Panel.Settings().InvoiceExpiry)
	require.Equal(t, 2*time.Minute, restarted.Invoices.DefaultExpiry())
	require.NoError(t, restarted.Stop())
}

// TestResumeFunding checks that a channel left Opening by a node without
// auto management is funded once auto management is switched on.
func TestResumeFunding(t *testing.T) {
	t.Parallel()

	h := newNodeHarness(t, withSettings(func(s *lncfg.PanelSettings) {
		s.AutoChannelManagement = false
	}))
	ctx := context.Background()

	pending, err := h.node.OpenChannel(
		ctx, h.peer.PubKey().SerializeCompressed(), 50_000, 0,
	).Await(ctx)
	require.NoError(t, err)
	require.Equal(t, chanstore.StateOpening, pending.State)

	require.NoError(t, h.node.Panel.Set(
		lncfg.KeyAutoChannelManagement, "true",
	))

	require.Eventually(t, func() bool {
		c, err := h.node.Channels.FetchChannel(pending.ChanID)
		return err == nil && c.State == chanstore.StateActive
	}, time.Second, 10*time.Millisecond)

	h.waitForEdge(h.fetchChannel(pending.ChanID).ShortChanID)
}
