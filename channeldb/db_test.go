package channeldb

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnpay/chanstore"
	"github.com/lightningnetwork/lnpay/escrow"
	"github.com/lightningnetwork/lnpay/invoices"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/payments"
	"github.com/lightningnetwork/lnpay/routing"
	"github.com/lightningnetwork/lnpay/routing/route"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// openTestDB opens a database in dir and closes it at the end of the test.
func openTestDB(t *testing.T, dir string) *DB {
	t.Helper()

	db, err := Open(dir, OptionDBTimeout(time.Second))
	require.NoError(t, err)

	return db
}

// reopen closes db and opens the same file again.
func reopen(t *testing.T, db *DB) *DB {
	t.Helper()

	require.NoError(t, db.Close())

	reopened := openTestDB(t, db.Path())
	t.Cleanup(func() { reopened.Close() })

	return reopened
}

func newPubKey(t *testing.T) *btcec.PublicKey {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return priv.PubKey()
}

// TestOpenVersion checks that the schema version is written once and that
// a database of a newer version is refused.
func TestOpenVersion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	db := openTestDB(t, dir)
	require.NoError(t, db.Ping())

	db = reopen(t, db)
	require.NoError(t, db.Ping())

	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		var b [4]byte
		byteOrder.PutUint32(b[:], latestDBVersion+1)

		return tx.ReadWriteBucket(metaBucket).Put(dbVersionKey, b[:])
	}, func() {})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(dir, OptionDBTimeout(time.Second))
	require.ErrorIs(t, err, ErrDBReversion)
}

// TestNodeKey checks that the identity key is generated once and survives
// a restart.
func TestNodeKey(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, t.TempDir())

	key, err := db.FetchOrCreateNodeKey()
	require.NoError(t, err)

	again, err := db.FetchOrCreateNodeKey()
	require.NoError(t, err)
	require.Equal(t, key.Serialize(), again.Serialize())

	db = reopen(t, db)
	reloaded, err := db.FetchOrCreateNodeKey()
	require.NoError(t, err)
	require.Equal(t, key.Serialize(), reloaded.Serialize())
}

// TestChannelStorePersistence checks that the channel store comes back
// with the same channels after a restart.
func TestChannelStorePersistence(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, t.TempDir())
	clk := clock.NewTestClock(testTime)

	newStore := func(db *DB) *chanstore.Store {
		s, err := chanstore.NewStore(&chanstore.Config{
			MinCapacity: 20_000,
			MaxCapacity: 10_000_000,
			Clock:       clk,
			DB:          db,
		})
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, s.Stop()) })

		return s
	}

	s := newStore(db)
	peer := newPubKey(t).SerializeCompressed()

	active, err := s.Open(peer, 100_000, 10_000)
	require.NoError(t, err)
	require.NoError(t, s.ConfirmFunding(
		active, lnwire.ShortChannelID{BlockHeight: 101, TxIndex: 2},
	))
	require.NoError(t, s.Settle(active, -5_000_000, 5_000_000))

	closed, err := s.Open(peer, 50_000, 0)
	require.NoError(t, err)
	require.NoError(t, s.ForceClose(closed))

	want := s.List()
	require.Len(t, want, 2)

	db = reopen(t, db)
	restored := newStore(db)
	require.ElementsMatch(t, want, restored.List())

	c, err := restored.FetchByShortID(
		lnwire.ShortChannelID{BlockHeight: 101, TxIndex: 2},
	)
	require.NoError(t, err)
	require.Equal(t, active, c.ChanID)
	require.Equal(t, lnwire.MilliSatoshi(85_000_000), c.LocalBalance)
}

// TestInvoicePersistence checks that invoices survive a restart with their
// optional fields.
func TestInvoicePersistence(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, t.TempDir())
	clk := clock.NewTestClock(testTime)

	newRegistry := func(db *DB) *invoices.InvoiceRegistry {
		r, err := invoices.NewRegistry(&invoices.RegistryConfig{
			Net:   &chaincfg.RegressionNetParams,
			Clock: clk,
			DB:    db,
		})
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, r.Stop()) })

		return r
	}

	r := newRegistry(db)

	regular, err := r.AddInvoice(
		1_000_000, "coffee",
		invoices.WithPaymentSecret([32]byte{1, 2, 3}),
	)
	require.NoError(t, err)

	preimage := lntypes.Preimage{9}
	hold, err := r.AddHoldInvoice(preimage.Hash(), 5_000, "escrow")
	require.NoError(t, err)
	require.NoError(t, r.AcceptHoldInvoice(hold.PaymentHash, 5_000))
	require.NoError(t, r.SettleInvoice(hold.PaymentHash, preimage))

	want := r.Invoices()

	db = reopen(t, db)
	got := newRegistry(db).Invoices()
	require.Len(t, got, 2)

	for i := range want {
		require.Equal(t, want[i].PaymentHash, got[i].PaymentHash)
		require.Equal(t, want[i].PaymentRequest, got[i].PaymentRequest)
		require.Equal(t, want[i].Preimage, got[i].Preimage)
		require.Equal(t, want[i].PaymentSecret, got[i].PaymentSecret)
		require.Equal(t, want[i].Amount, got[i].Amount)
		require.Equal(t, want[i].Description, got[i].Description)
		require.Equal(t, want[i].HodlInvoice, got[i].HodlInvoice)
		require.Equal(t, want[i].State, got[i].State)
		require.Equal(t, want[i].AmtPaid, got[i].AmtPaid)
		require.Equal(t, want[i].AddIndex, got[i].AddIndex)
		require.True(t, want[i].Expiry.Equal(got[i].Expiry))
		require.True(t, want[i].SettleDate.Equal(got[i].SettleDate))
	}

	require.Equal(t, regular.PaymentHash, got[0].PaymentHash)
	require.True(t, got[0].PaymentSecret.IsSome())
	require.Equal(t, invoices.ContractSettled, got[1].State)
	require.Equal(t, preimage, got[1].Preimage.UnwrapOrFail(t))
}

// TestPaymentPersistence checks that payments come back with their attempt
// history and failure reason.
func TestPaymentPersistence(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, t.TempDir())
	clk := clock.NewTestClock(testTime)

	control, err := payments.NewControlTower(db, clk)
	require.NoError(t, err)

	rt, err := route.NewRouteFromHops(1100, route.Vertex{1}, []*route.Hop{
		{
			PubKeyBytes:     route.Vertex{2},
			ChannelID:       1,
			AmtToForward:    1000,
			Fee:             100,
			CltvExpiryDelta: 40,
		},
		{
			PubKeyBytes:     route.Vertex{3},
			ChannelID:       2,
			AmtToForward:    1000,
			CltvExpiryDelta: 40,
		},
	})
	require.NoError(t, err)

	newInfo := func(b byte) *payments.PaymentCreationInfo {
		return &payments.PaymentCreationInfo{
			PaymentHash:    lntypes.Preimage{b}.Hash(),
			Value:          1000,
			Destination:    route.Vertex{3},
			CreationTime:   testTime,
			PaymentRequest: "lnbcrt1test",
		}
	}

	// The first payment fails once and then succeeds.
	succeeded := newInfo(1)
	require.NoError(t, control.InitPayment(succeeded.PaymentHash, succeeded))
	attempt, err := control.RegisterAttempt(succeeded.PaymentHash, rt)
	require.NoError(t, err)
	_, err = control.FailAttempt(
		succeeded.PaymentHash, attempt.AttemptID, &payments.HTLCFailInfo{
			FailureSourceIndex: 1,
			Message:            "temporary channel failure",
		},
	)
	require.NoError(t, err)
	attempt, err = control.RegisterAttempt(succeeded.PaymentHash, rt)
	require.NoError(t, err)
	_, err = control.SettleAttempt(succeeded.PaymentHash, attempt.AttemptID)
	require.NoError(t, err)

	// The second one never finds a route.
	failed := newInfo(2)
	require.NoError(t, control.InitPayment(failed.PaymentHash, failed))
	_, err = control.Fail(failed.PaymentHash, payments.FailureReasonNoRoute)
	require.NoError(t, err)

	want := control.FetchPayments()

	db = reopen(t, db)
	restored, err := payments.NewControlTower(db, clk)
	require.NoError(t, err)
	require.Equal(t, want, restored.FetchPayments())

	p, err := restored.FetchPayment(succeeded.PaymentHash)
	require.NoError(t, err)
	require.Equal(t, payments.StatusSucceeded, p.Status)
	require.Len(t, p.HTLCs, 2)
	require.NotNil(t, p.HTLCs[0].Failure)
	require.NotNil(t, p.HTLCs[1].Settle)

	p, err = restored.FetchPayment(failed.PaymentHash)
	require.NoError(t, err)
	require.Equal(t, payments.FailureReasonNoRoute,
		p.FailureReason.UnwrapOrFail(t))
}

// TestGraphPersistence checks that nodes and edges are reloaded and that
// removed edges stay removed.
func TestGraphPersistence(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, t.TempDir())

	graph, err := routing.NewChannelGraph(db)
	require.NoError(t, err)

	a, b, c := route.Vertex{2, 1}, route.Vertex{2, 2}, route.Vertex{2, 3}
	require.NoError(t, graph.AddLightningNode(&routing.LightningNode{
		PubKeyBytes: a,
		Alias:       "alice",
		Color:       "#ff0000",
	}))

	policy := routing.FeePolicy{
		FeeBaseMSat:               1000,
		FeeProportionalMillionths: 1,
		TimeLockDelta:             40,
	}
	for i, nodes := range [][2]route.Vertex{{a, b}, {b, c}} {
		require.NoError(t, graph.AddChannel(&routing.ChannelEdge{
			ChannelID: lnwire.NewShortChanIDFromInt(
				uint64(i + 1),
			),
			NodeKey1Bytes: nodes[0],
			NodeKey2Bytes: nodes[1],
			Capacity:      100_000,
			Policy:        policy,
		}))
	}
	require.NoError(t, graph.RemoveChannel(
		lnwire.NewShortChanIDFromInt(2),
	))

	wantNodes, wantEdges := graph.Nodes(), graph.Channels()

	db = reopen(t, db)
	restored, err := routing.NewChannelGraph(db)
	require.NoError(t, err)
	require.ElementsMatch(t, wantNodes, restored.Nodes())
	require.ElementsMatch(t, wantEdges, restored.Channels())

	node, err := restored.FetchNode(a)
	require.NoError(t, err)
	require.Equal(t, "alice", node.Alias)

	_, err = restored.FetchChannel(lnwire.NewShortChanIDFromInt(2))
	require.Error(t, err)
}

// TestForwardedLiquidityPersistence checks that the liquidity moved by a
// forwarded payment is stored for every remote hop.
func TestForwardedLiquidityPersistence(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, t.TempDir())

	graph, err := routing.NewChannelGraph(db)
	require.NoError(t, err)

	nodes := []route.Vertex{{2, 1}, {2, 2}, {2, 3}, {2, 4}}
	for i := 0; i < len(nodes)-1; i++ {
		require.NoError(t, graph.AddChannel(&routing.ChannelEdge{
			ChannelID: lnwire.NewShortChanIDFromInt(
				uint64(i + 1),
			),
			NodeKey1Bytes: nodes[i],
			NodeKey2Bytes: nodes[i+1],
			Capacity:      100_000,
			Policy:        routing.FeePolicy{FeeBaseMSat: 10},
		}))
	}

	router, err := routing.NewChannelRouter(&routing.Config{
		Graph:    graph,
		SelfNode: nodes[0],
	})
	require.NoError(t, err)

	rt, err := router.FindRoute(&routing.RouteRequest{
		Target: nodes[3],
		Amount: 1_000_000,
	})
	require.NoError(t, err)
	require.NoError(t, graph.ForwardPayment(context.Background(), rt))

	want := graph.Channels()

	db = reopen(t, db)
	restored, err := routing.NewChannelGraph(db)
	require.NoError(t, err)
	require.Equal(t, want, restored.Channels())

	// Both remote channels moved liquidity towards the target.
	for _, e := range restored.Channels()[1:] {
		require.Less(t, e.Node1Balance, e.Node2Balance)
	}
}

// crashingPaymentDB stops storing payments once crashed is set, leaving the
// last stored state behind as a crash would.
type crashingPaymentDB struct {
	*DB

	crashed atomic.Bool
}

func (c *crashingPaymentDB) PutPayment(p *payments.Payment) error {
	if c.crashed.Load() {
		return errors.New("node crashed")
	}

	return c.DB.PutPayment(p)
}

// crashAfterForward forwards over the graph and then crashes the payment
// database.
type crashAfterForward struct {
	graph *routing.ChannelGraph
	db    *crashingPaymentDB
}

func (c *crashAfterForward) ForwardPayment(ctx context.Context,
	rt *route.Route) error {

	if err := c.graph.ForwardPayment(ctx, rt); err != nil {
		return err
	}
	c.db.crashed.Store(true)

	return nil
}

// crashTestNode is a payment engine over stores backed by one database.
type crashTestNode struct {
	engine   *payments.Engine
	channels *chanstore.Store
	graph    *routing.ChannelGraph
	control  *payments.ControlTower
}

// TestPaymentCommittedBeforeCrash stops the node between moving the local
// balance of an attempt and recording the attempt as settled. After the
// restart the payment must be settled, not failed, and the invoice must not
// be payable again.
func TestPaymentCommittedBeforeCrash(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, t.TempDir())
	clk := clock.NewTestClock(testTime)

	selfKey, peerKey, destKey := newPubKey(t), newPubKey(t), newPubKey(t)
	self := route.NewVertex(selfKey)

	registry, err := invoices.NewRegistry(&invoices.RegistryConfig{
		Net:     &chaincfg.RegressionNetParams,
		NodeKey: destKey,
		Clock:   clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, registry.Stop()) })

	startNode := func(db *DB, payDB payments.Persister,
		crashDB *crashingPaymentDB) *crashTestNode {

		n := &crashTestNode{}

		n.channels, err = chanstore.NewStore(&chanstore.Config{
			MinCapacity: 20_000,
			MaxCapacity: 10_000_000,
			Clock:       clk,
			DB:          db,
		})
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, n.channels.Stop()) })

		n.graph, err = routing.NewChannelGraph(db)
		require.NoError(t, err)

		router, err := routing.NewChannelRouter(&routing.Config{
			Graph:    n.graph,
			SelfNode: self,
		})
		require.NoError(t, err)

		n.control, err = payments.NewControlTower(payDB, clk)
		require.NoError(t, err)

		var fwd payments.Forwarder = n.graph
		if crashDB != nil {
			fwd = &crashAfterForward{graph: n.graph, db: crashDB}
		}

		n.engine, err = payments.NewEngine(&payments.Config{
			Channels:       n.channels,
			Router:         router,
			Forwarder:      fwd,
			Invoices:       registry,
			Control:        n.control,
			Clock:          clk,
			PaymentTimeout: time.Minute,
		})
		require.NoError(t, err)
		require.NoError(t, n.engine.Start())
		t.Cleanup(func() { require.NoError(t, n.engine.Stop()) })

		return n
	}

	payDB := &crashingPaymentDB{DB: db}
	node := startNode(db, payDB, payDB)

	chanID, err := node.channels.Open(
		peerKey.SerializeCompressed(), 100_000, 0,
	)
	require.NoError(t, err)
	localSCID := lnwire.ShortChannelID{BlockHeight: 101, TxIndex: 1}
	require.NoError(t, node.channels.ConfirmFunding(chanID, localSCID))

	require.NoError(t, node.graph.AddChannel(&routing.ChannelEdge{
		ChannelID:     localSCID,
		NodeKey1Bytes: self,
		NodeKey2Bytes: route.NewVertex(peerKey),
		Capacity:      100_000,
		Node1Balance:  lnwire.NewMSatFromSatoshis(100_000),
	}))
	require.NoError(t, node.graph.AddChannel(&routing.ChannelEdge{
		ChannelID:     lnwire.ShortChannelID{BlockHeight: 102, TxIndex: 1},
		NodeKey1Bytes: route.NewVertex(peerKey),
		NodeKey2Bytes: route.NewVertex(destKey),
		Capacity:      1_000_000,
		Policy:        routing.FeePolicy{FeeBaseMSat: 100_000},
	}))

	invoice, err := registry.AddInvoice(50_000_000, "crash")
	require.NoError(t, err)

	_, err = node.engine.SendPayment(
		context.Background(), &payments.SendRequest{
			PaymentRequest: invoice.PaymentRequest,
		},
	)
	require.Error(t, err)

	// The balance moved even though the attempt was never recorded as
	// settled.
	paid := lnwire.MilliSatoshi(50_100_000)
	local := lnwire.NewMSatFromSatoshis(100_000) - paid
	c, err := node.channels.FetchChannel(chanID)
	require.NoError(t, err)
	require.Equal(t, local, c.LocalBalance)

	db = reopen(t, db)
	node = startNode(db, db, nil)

	p, err := node.control.FetchPayment(invoice.PaymentHash)
	require.NoError(t, err)
	require.Equal(t, payments.StatusSucceeded, p.Status)
	require.Len(t, p.HTLCs, 1)
	require.NotNil(t, p.HTLCs[0].Settle)

	_, err = node.engine.SendPayment(
		context.Background(), &payments.SendRequest{
			PaymentRequest: invoice.PaymentRequest,
		},
	)
	require.ErrorIs(t, err, payments.ErrAlreadyPaid)

	c, err = node.channels.FetchChannel(chanID)
	require.NoError(t, err)
	require.Equal(t, local, c.LocalBalance)
	require.Equal(t, paid, c.RemoteBalance)

	// The commit marker is dropped once the payment is settled.
	refs, err := db.FetchCommitRefs()
	require.NoError(t, err)
	require.Empty(t, refs)
}

// TestEscrowPersistence checks both escrow contract types survive a
// restart.
func TestEscrowPersistence(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, t.TempDir())
	t.Cleanup(func() { db.Close() })

	preimage := lntypes.Preimage{7}
	hold := &escrow.Escrow{
		ID:     preimage.Hash(),
		Amount: 25_000,
		Contract: &escrow.LightningHold{
			PaymentHash:    preimage.Hash(),
			Preimage:       fn.Some(preimage),
			ChanID:         lnwire.ChannelID{4},
			PaymentRequest: "lnbcrt1hold",
		},
		Status:     escrow.StatusReleased,
		CreatedAt:  testTime,
		Deadline:   testTime.Add(time.Hour),
		Resolution: fn.None[escrow.Status](),
		ClosedAt:   testTime.Add(time.Minute),
	}
	require.NoError(t, db.PutEscrow(hold))

	funder, claimant := newPubKey(t), newPubKey(t)
	multiSig := &escrow.Escrow{
		ID:     lntypes.Hash{8},
		Amount: 1_000_000,
		Contract: &escrow.MultiSig{
			Funder:        route.NewVertex(funder),
			Claimant:      route.NewVertex(claimant),
			Arbiter:       route.NewVertex(newPubKey(t)),
			WitnessScript: []byte{0x52, 0xae},
			Address:       "bcrt1qexample",
			FundingOutpoint: fn.Some(wire.OutPoint{
				Hash:  [32]byte{5},
				Index: 3,
			}),
			Approvals: []route.Vertex{
				route.NewVertex(funder),
				route.NewVertex(claimant),
			},
		},
		Status:        escrow.StatusDisputed,
		CreatedAt:     testTime,
		Deadline:      testTime.Add(24 * time.Hour),
		DisputeReason: "late delivery",
		Resolution:    fn.Some(escrow.StatusRefunded),
	}
	require.NoError(t, db.PutEscrow(multiSig))

	escrows, err := db.FetchEscrows()
	require.NoError(t, err)
	require.ElementsMatch(t, []*escrow.Escrow{hold, multiSig}, escrows)

	// A corrupt record is reported, not skipped.
	err = db.putRecord(escrowBucket, []byte("bad"), []byte{0xff})
	require.NoError(t, err)
	_, err = db.FetchEscrows()
	require.ErrorIs(t, err, ErrCorruptRecord)
}
