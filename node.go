package lnpay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
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
	"github.com/lightningnetwork/lnpay/subscribe"
)

var (
	// ErrLightningDisabled is returned for invoice issuance, payments and
	// channel opens while lightning is switched off in the panel.
	ErrLightningDisabled = errors.New("lightning is disabled")

	// ErrNodeShuttingDown is returned for operations submitted while the
	// node stops.
	ErrNodeShuttingDown = errors.New("node shutting down")
)

// defaultLocalPolicy is the forwarding policy own channels are announced
// with.
var defaultLocalPolicy = routing.FeePolicy{
	FeeBaseMSat:               1000,
	FeeProportionalMillionths: 1,
	TimeLockDelta:             40,
}

// NodeConfig holds the dependencies and start-up settings of a node.
type NodeConfig struct {
	// IdentityKey is the node key. It is the source of routes and the
	// destination written into invoices.
	IdentityKey *btcec.PrivateKey

	// Alias and Color describe the node in its graph.
	Alias string
	Color string

	// DB persists every component. When nil the node is memory only.
	DB *channeldb.DB

	// Clock is shared by all components.
	Clock clock.Clock

	// Settings are the initial panel settings.
	Settings lncfg.PanelSettings

	// FinalCltvDelta is the min final cltv delta of new invoices.
	FinalCltvDelta uint32

	// HopLimit and RiskFactor tune the router.
	HopLimit   int
	RiskFactor int64

	// EscrowTimeout is the deadline of escrows funded without one.
	EscrowTimeout time.Duration

	// EscrowSweepTicker drives the refund of expired escrows.
	EscrowSweepTicker ticker.Ticker

	// FundingDelay is the time the funding simulator waits before it
	// confirms a new channel.
	FundingDelay time.Duration
}

// Node wires the channel store, invoice registry, graph, router, payment
// engine and escrow manager together and keeps them in line with the live
// panel settings.
type Node struct {
	started atomic.Bool
	stopped atomic.Bool

	cfg      *NodeConfig
	identity route.Vertex

	Channels *chanstore.Store
	Invoices *invoices.InvoiceRegistry
	Graph    *routing.ChannelGraph
	Router   *routing.ChannelRouter
	Control  *payments.ControlTower
	Payments *payments.Engine
	Escrows  *escrow.Manager
	Panel    *lncfg.Panel

	enabled    atomic.Bool
	autoManage atomic.Bool

	// heightMtx guards nextHeight, the block height the funding simulator
	// confirms the next channel at.
	heightMtx  sync.Mutex
	nextHeight uint32

	chanEvents *subscribe.Client
	ops        *chanOpQueue
	gm         *fn.GoroutineManager
}

// NewNode creates every component and loads the persisted state. Nothing
// runs until Start is called.
func NewNode(cfg *NodeConfig) (*Node, error) {
	if cfg.IdentityKey == nil {
		return nil, errors.New("node needs an identity key")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	net, err := NetworkParams(cfg.Settings.DefaultNetwork)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		identity: route.NewVertex(cfg.IdentityKey.PubKey()),
		gm:       fn.NewGoroutineManager(),
	}
	n.ops = newChanOpQueue(n.gm)
	n.enabled.Store(cfg.Settings.LightningEnabled)
	n.autoManage.Store(cfg.Settings.AutoChannelManagement)

	// A nil *channeldb.DB must not end up as a non-nil interface value.
	var (
		chanDB    chanstore.Persister
		invoiceDB invoices.InvoiceDB
		graphDB   routing.GraphPersister
		paymentDB payments.Persister
		escrowDB  escrow.Persister
	)
	if cfg.DB != nil {
		chanDB, invoiceDB, graphDB = cfg.DB, cfg.DB, cfg.DB
		paymentDB, escrowDB = cfg.DB, cfg.DB
	}

	n.Channels, err = chanstore.NewStore(&chanstore.Config{
		MinCapacity: cfg.Settings.MinCapacity(),
		MaxCapacity: cfg.Settings.MaxCapacity(),
		Clock:       cfg.Clock,
		DB:          chanDB,
	})
	if err != nil {
		return nil, err
	}

	n.Invoices, err = invoices.NewRegistry(&invoices.RegistryConfig{
		Net:            net,
		DefaultExpiry:  cfg.Settings.InvoiceExpiryDuration(),
		FinalCltvDelta: cfg.FinalCltvDelta,
		NodeKey:        cfg.IdentityKey.PubKey(),
		Clock:          cfg.Clock,
		DB:             invoiceDB,
	})
	if err != nil {
		return nil, err
	}

	n.Graph, err = routing.NewChannelGraph(graphDB)
	if err != nil {
		return nil, err
	}

	n.Router, err = routing.NewChannelRouter(&routing.Config{
		Graph:                n.Graph,
		SelfNode:             n.identity,
		HopLimit:             cfg.HopLimit,
		RiskFactorBillionths: fn.Some(cfg.RiskFactor),
	})
	if err != nil {
		return nil, err
	}

	n.Control, err = payments.NewControlTower(paymentDB, cfg.Clock)
	if err != nil {
		return nil, err
	}

	n.Payments, err = payments.NewEngine(&payments.Config{
		Channels:       n.Channels,
		Router:         n.Router,
		Forwarder:      n.Graph,
		Invoices:       n.Invoices,
		Control:        n.Control,
		Clock:          cfg.Clock,
		MaxRetries:     int(cfg.Settings.MaxPaymentRetries),
		PaymentTimeout: cfg.Settings.PaymentTimeoutDuration(),
	})
	if err != nil {
		return nil, err
	}

	n.Escrows, err = escrow.NewManager(&escrow.Config{
		Channels:       n.Channels,
		Invoices:       n.Invoices,
		Clock:          cfg.Clock,
		SweepTicker:    cfg.EscrowSweepTicker,
		Net:            net,
		DefaultTimeout: cfg.EscrowTimeout,
		DB:             escrowDB,
	})
	if err != nil {
		return nil, err
	}

	n.Panel, err = lncfg.NewPanel(cfg.Settings, n.applySettings)
	if err != nil {
		return nil, err
	}

	// Settings changed live in an earlier run take precedence over the
	// initial ones.
	if cfg.DB != nil {
		stored, err := cfg.DB.FetchSettings()
		if err != nil {
			return nil, err
		}
		if len(stored) > 0 {
			if err := n.Panel.Apply(stored); err != nil {
				return nil, fmt.Errorf("unable to restore "+
					"settings: %w", err)
			}
		}
	}

	n.nextHeight = n.highestBlock() + 1

	return n, nil
}

// highestBlock returns the highest block height of any known short channel
// id, so simulated confirmations never collide with existing channels.
func (n *Node) highestBlock() uint32 {
	var height uint32
	for _, c := range n.Channels.List() {
		height = max(height, c.ShortChanID.BlockHeight)
	}
	for _, e := range n.Graph.Channels() {
		height = max(height, e.ChannelID.BlockHeight)
	}

	return height
}

// Start launches the payment engine, the escrow manager and the channel
// event handler. With auto channel management on, the node announces
// itself, its active channels and resumes pending fundings.
func (n *Node) Start() error {
	if !n.started.CompareAndSwap(false, true) {
		return nil
	}

	lpayLog.Infof("Starting node %v", n.identity)

	err := n.Graph.AddLightningNode(&routing.LightningNode{
		PubKeyBytes: n.identity,
		Alias:       n.cfg.Alias,
		Color:       n.cfg.Color,
	})
	if err != nil {
		return err
	}

	n.chanEvents, err = n.Channels.SubscribeChannelEvents()
	if err != nil {
		return err
	}
	ok := n.gm.Go(context.Background(), func(ctx context.Context) {
		n.channelEventHandler(ctx)
	})
	if !ok {
		return ErrNodeShuttingDown
	}

	if err := n.Payments.Start(); err != nil {
		return err
	}
	if err := n.Escrows.Start(); err != nil {
		return err
	}

	if n.autoManage.Load() {
		n.resumeChannels()
	}

	return nil
}

// Stop shuts every component down. Queued channel operations that did not
// start yet fail with ErrNodeShuttingDown.
func (n *Node) Stop() error {
	if !n.stopped.CompareAndSwap(false, true) {
		return nil
	}

	lpayLog.Info("Node shutting down...")

	n.gm.Stop()
	if n.chanEvents != nil {
		n.chanEvents.Cancel()
	}

	return errors.Join(
		n.Payments.Stop(),
		n.Escrows.Stop(),
		n.Invoices.Stop(),
		n.Channels.Stop(),
	)
}

// IdentityPubKey returns the node key.
func (n *Node) IdentityPubKey() route.Vertex {
	return n.identity
}

// Enabled reports whether lightning operations are allowed.
func (n *Node) Enabled() bool {
	return n.enabled.Load()
}

// AutoManage reports whether the node manages its channels itself.
func (n *Node) AutoManage() bool {
	return n.autoManage.Load()
}

// AddInvoice issues an invoice.
func (n *Node) AddInvoice(amt lnwire.MilliSatoshi, description string,
	opts ...invoices.AddInvoiceOption) (*invoices.Invoice, error) {

	if !n.Enabled() {
		return nil, ErrLightningDisabled
	}

	return n.Invoices.AddInvoice(amt, description, opts...)
}

// AddHoldInvoice issues a hold invoice for a hash whose preimage is held by
// the caller.
func (n *Node) AddHoldInvoice(hash lntypes.Hash, amt lnwire.MilliSatoshi,
	description string,
	opts ...invoices.AddInvoiceOption) (*invoices.Invoice, error) {

	if !n.Enabled() {
		return nil, ErrLightningDisabled
	}

	return n.Invoices.AddHoldInvoice(hash, amt, description, opts...)
}

// SendPayment pays an invoice and waits for the outcome.
func (n *Node) SendPayment(ctx context.Context,
	req *payments.SendRequest) (*payments.Payment, error) {

	if !n.Enabled() {
		return nil, ErrLightningDisabled
	}

	return n.Payments.SendPayment(ctx, req)
}

// SendPaymentAsync pays an invoice in the background.
func (n *Node) SendPaymentAsync(ctx context.Context,
	req *payments.SendRequest) <-chan fn.Result[*payments.Payment] {

	if !n.Enabled() {
		resultChan := make(chan fn.Result[*payments.Payment], 1)
		resultChan <- fn.Err[*payments.Payment](ErrLightningDisabled)

		return resultChan
	}

	return n.Payments.SendPaymentAsync(ctx, req)
}

// FundHoldEscrow funds a hold escrow, which issues a hold invoice.
func (n *Node) FundHoldEscrow(req *escrow.HoldRequest) (*escrow.Escrow,
	error) {

	if !n.Enabled() {
		return nil, ErrLightningDisabled
	}

	return n.Escrows.FundHold(req)
}

// FundMultiSigEscrow records a 2-of-3 multisig escrow.
func (n *Node) FundMultiSigEscrow(req *escrow.MultiSigRequest) (*escrow.Escrow,
	error) {

	if !n.Enabled() {
		return nil, ErrLightningDisabled
	}

	return n.Escrows.FundMultiSig(req)
}

// OpenChannel opens a channel to peer. The channel is created in the
// Opening state right away; the returned future resolves once funding
// completed. With auto channel management off funding is confirmed by the
// operator and the future resolves with the pending channel.
func (n *Node) OpenChannel(ctx context.Context, peer []byte, capacity,
	push btcutil.Amount) *Future[*chanstore.Channel] {

	if !n.Enabled() {
		return failedFuture[*chanstore.Channel](ErrLightningDisabled)
	}

	chanID, err := n.Channels.Open(peer, capacity, push)
	if err != nil {
		return failedFuture[*chanstore.Channel](err)
	}

	return n.ops.submit(ctx, chanID, func() (*chanstore.Channel, error) {
		return n.completeFunding(chanID)
	})
}

// ConfirmChannel marks the funding of a channel as confirmed at scid. It
// runs after every operation submitted earlier for the channel.
func (n *Node) ConfirmChannel(ctx context.Context, chanID lnwire.ChannelID,
	scid lnwire.ShortChannelID) *Future[*chanstore.Channel] {

	return n.ops.submit(ctx, chanID, func() (*chanstore.Channel, error) {
		if err := n.Channels.ConfirmFunding(chanID, scid); err != nil {
			return nil, err
		}

		return n.Channels.FetchChannel(chanID)
	})
}

// CloseChannel closes a channel cooperatively, or unilaterally when force
// is set. It runs after every operation submitted earlier for the channel.
func (n *Node) CloseChannel(ctx context.Context, chanID lnwire.ChannelID,
	force bool) *Future[*chanstore.Channel] {

	return n.ops.submit(ctx, chanID, func() (*chanstore.Channel, error) {
		closeChan := n.Channels.Close
		if force {
			closeChan = n.Channels.ForceClose
		}
		if err := closeChan(chanID); err != nil {
			return nil, err
		}

		return n.Channels.FetchChannel(chanID)
	})
}

// completeFunding runs the funding simulator for an Opening channel when
// auto channel management is on.
func (n *Node) completeFunding(chanID lnwire.ChannelID) (*chanstore.Channel,
	error) {

	c, err := n.Channels.FetchChannel(chanID)
	if err != nil {
		return nil, err
	}
	if c.State != chanstore.StateOpening || !n.autoManage.Load() {
		return c, nil
	}

	if n.cfg.FundingDelay > 0 {
		select {
		case <-n.cfg.Clock.TickAfter(n.cfg.FundingDelay):
		case <-n.gm.Done():
			return nil, ErrNodeShuttingDown
		}
	}

	scid := n.nextShortChanID()
	if err := n.Channels.ConfirmFunding(chanID, scid); err != nil {
		return nil, err
	}

	return n.Channels.FetchChannel(chanID)
}

// nextShortChanID returns the location of the next simulated funding
// output.
func (n *Node) nextShortChanID() lnwire.ShortChannelID {
	n.heightMtx.Lock()
	defer n.heightMtx.Unlock()

	scid := lnwire.ShortChannelID{
		BlockHeight: n.nextHeight,
		TxIndex:     1,
	}
	n.nextHeight++

	return scid
}

// resumeChannels announces active channels missing from the graph and
// resumes the funding of channels left Opening by a shutdown.
func (n *Node) resumeChannels() {
	for _, c := range n.Channels.List() {
		switch c.State {
		case chanstore.StateActive:
			n.announceChannel(c)

		case chanstore.StateOpening:
			chanID := c.ChanID
			n.ops.submit(context.Background(), chanID,
				func() (*chanstore.Channel, error) {
					return n.completeFunding(chanID)
				},
			)
		}
	}
}

// channelEventHandler keeps the graph in line with the channel store.
func (n *Node) channelEventHandler(ctx context.Context) {
	for {
		select {
		case update, ok := <-n.chanEvents.Updates():
			if !ok {
				return
			}

			switch event := update.(type) {
			case *chanstore.ActiveChannelEvent:
				if n.autoManage.Load() {
					n.announceChannel(event.Channel)
				}

			case *chanstore.BalanceUpdateEvent:
				n.syncLiquidity(event.Channel)

			case *chanstore.ClosedChannelEvent:
				if n.autoManage.Load() {
					n.withdrawChannel(event.Channel)
				}
			}

		case <-n.chanEvents.Quit():
			return

		case <-ctx.Done():
			return
		}
	}
}

// announceChannel adds an active own channel to the graph.
func (n *Node) announceChannel(c *chanstore.Channel) {
	edge := &routing.ChannelEdge{
		ChannelID:     c.ShortChanID,
		NodeKey1Bytes: n.identity,
		NodeKey2Bytes: route.Vertex(c.PeerPub),
		Capacity:      c.Capacity,
		Policy:        defaultLocalPolicy,
		Node1Balance:  c.LocalBalance,
		Node2Balance:  c.RemoteBalance,
	}
	if err := n.Graph.AddChannel(edge); err != nil {
		lpayLog.Errorf("Unable to announce channel %v: %v", c.ChanID,
			err)
		return
	}

	// Re-adding a known edge keeps its old liquidity.
	n.syncLiquidity(c)

	lpayLog.Debugf("Announced channel %v as %v", c.ChanID, c.ShortChanID)
}

// syncLiquidity copies the local balance of an own channel into the graph.
func (n *Node) syncLiquidity(c *chanstore.Channel) {
	if c.ShortChanID.IsDefault() {
		return
	}

	err := n.Graph.SetLiquidity(c.ShortChanID, n.identity, c.LocalBalance)
	switch {
	case errors.Is(err, routing.ErrEdgeNotFound):

	case err != nil:
		lpayLog.Errorf("Unable to update liquidity of %v: %v",
			c.ShortChanID, err)
	}
}

// withdrawChannel removes a closed own channel from the graph.
func (n *Node) withdrawChannel(c *chanstore.Channel) {
	if c.ShortChanID.IsDefault() {
		return
	}

	err := n.Graph.RemoveChannel(c.ShortChanID)
	switch {
	case errors.Is(err, routing.ErrEdgeNotFound):

	case err != nil:
		lpayLog.Errorf("Unable to withdraw channel %v: %v",
			c.ShortChanID, err)

	default:
		lpayLog.Debugf("Withdrew channel %v", c.ShortChanID)
	}
}

// applySettings pushes changed panel settings into the components. The
// steps are undone in reverse order when one of them fails.
func (n *Node) applySettings(prev, next lncfg.PanelSettings) error {
	type step struct {
		apply func() error
		undo  func() error
	}

	var steps []step

	if prev.MinChannelCapacity != next.MinChannelCapacity ||
		prev.MaxChannelCapacity != next.MaxChannelCapacity {

		steps = append(steps, step{
			apply: func() error {
				return n.Channels.SetCapacityBounds(
					next.MinCapacity(), next.MaxCapacity(),
				)
			},
			undo: func() error {
				return n.Channels.SetCapacityBounds(
					prev.MinCapacity(), prev.MaxCapacity(),
				)
			},
		})
	}

	if prev.InvoiceExpiry != next.InvoiceExpiry {
		steps = append(steps, step{
			apply: func() error {
				return n.Invoices.SetDefaultExpiry(
					next.InvoiceExpiryDuration(),
				)
			},
			undo: func() error {
				return n.Invoices.SetDefaultExpiry(
					prev.InvoiceExpiryDuration(),
				)
			},
		})
	}

	if prev.DefaultNetwork != next.DefaultNetwork {
		setNetwork := func(name string) error {
			net, err := NetworkParams(name)
			if err != nil {
				return err
			}
			if err := n.Invoices.SetNetwork(net); err != nil {
				return err
			}
			n.Escrows.SetNetwork(net)

			return nil
		}

		steps = append(steps, step{
			apply: func() error {
				return setNetwork(next.DefaultNetwork)
			},
			undo: func() error {
				return setNetwork(prev.DefaultNetwork)
			},
		})
	}

	if prev.MaxPaymentRetries != next.MaxPaymentRetries ||
		prev.PaymentTimeout != next.PaymentTimeout {

		steps = append(steps, step{
			apply: func() error {
				return n.Payments.SetRetryPolicy(
					int(next.MaxPaymentRetries),
					next.PaymentTimeoutDuration(),
				)
			},
			undo: func() error {
				return n.Payments.SetRetryPolicy(
					int(prev.MaxPaymentRetries),
					prev.PaymentTimeoutDuration(),
				)
			},
		})
	}

	if n.cfg.DB != nil {
		steps = append(steps, step{
			apply: func() error {
				return n.cfg.DB.PutSettings(next.Values())
			},
			undo: func() error {
				return n.cfg.DB.PutSettings(prev.Values())
			},
		})
	}

	for i, s := range steps {
		err := s.apply()
		if err == nil {
			continue
		}

		for j := i - 1; j >= 0; j-- {
			if undoErr := steps[j].undo(); undoErr != nil {
				lpayLog.Criticalf("Unable to restore settings "+
					"after %v: %v", err, undoErr)

				return errors.Join(err, undoErr)
			}
		}

		return fmt.Errorf("unable to apply settings: %w", err)
	}

	n.enabled.Store(next.LightningEnabled)
	wasManaging := n.autoManage.Swap(next.AutoChannelManagement)

	// Switching auto management on picks up channels the operator left
	// pending or unannounced.
	if next.AutoChannelManagement && !wasManaging && n.started.Load() {
		n.resumeChannels()
	}

	lpayLog.Infof("Applied settings: enabled=%v, network=%v, "+
		"capacity=[%v, %v], expiry=%v, retries=%v, timeout=%v, "+
		"auto=%v", next.LightningEnabled, next.DefaultNetwork,
		next.MinCapacity(), next.MaxCapacity(),
		next.InvoiceExpiryDuration(), next.MaxPaymentRetries,
		next.PaymentTimeoutDuration(), next.AutoChannelManagement)

	return nil
}
