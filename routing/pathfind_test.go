package routing

import (
	"fmt"
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing/route"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testSelf = testVertex(1)

func newTestRouter(t *testing.T, g *ChannelGraph,
	hopLimit int) *ChannelRouter {

	t.Helper()

	router, err := NewChannelRouter(&Config{
		Graph:    g,
		SelfNode: testSelf,
		HopLimit: hopLimit,
	})
	require.NoError(t, err)

	return router
}

// newChainGraph builds self(1) -> 2 -> 3 -> 4 with fees on the remote hops.
func newChainGraph(t *testing.T) (*ChannelGraph, *ChannelRouter) {
	t.Helper()

	g, err := NewChannelGraph(nil)
	require.NoError(t, err)

	addTestChannels(t, g,
		testChannel{
			id: 1, node1: testSelf, node2: testVertex(2),
			capacity: 1_000_000,
			policy: FeePolicy{
				FeeBaseMSat: 1000, TimeLockDelta: 10,
			},
		},
		testChannel{
			id: 2, node1: testVertex(2), node2: testVertex(3),
			capacity: 1_000_000,
			policy: FeePolicy{
				FeeBaseMSat:               100,
				FeeProportionalMillionths: 1000,
				TimeLockDelta:             20,
			},
		},
		testChannel{
			id: 3, node1: testVertex(3), node2: testVertex(4),
			capacity: 1_000_000,
			policy: FeePolicy{
				FeeBaseMSat: 200, TimeLockDelta: 30,
			},
		},
	)

	return g, newTestRouter(t, g, 0)
}

// newDiamondGraph builds self(1) -> {2, 3} -> 4 using the given policies
// for the channels 2->4 and 3->4.
func newDiamondGraph(t *testing.T, viaTwo, viaThree FeePolicy,
	capacity btcutil.Amount) (*ChannelGraph, *ChannelRouter) {

	t.Helper()

	g, err := NewChannelGraph(nil)
	require.NoError(t, err)

	addTestChannels(t, g,
		testChannel{
			id: 1, node1: testSelf, node2: testVertex(2),
			capacity: capacity,
		},
		testChannel{
			id: 2, node1: testSelf, node2: testVertex(3),
			capacity: capacity,
		},
		testChannel{
			id: 3, node1: testVertex(2), node2: testVertex(4),
			capacity: capacity, policy: viaTwo,
		},
		testChannel{
			id: 4, node1: testVertex(3), node2: testVertex(4),
			capacity: capacity, policy: viaThree,
		},
	)

	return g, newTestRouter(t, g, 0)
}

func routeNodes(rt *route.Route) []route.Vertex {
	nodes := make([]route.Vertex, 0, len(rt.Hops))
	for _, hop := range rt.Hops {
		nodes = append(nodes, hop.PubKeyBytes)
	}

	return nodes
}

// TestFindRouteEmptyGraph checks that a router without nodes finds no path.
func TestFindRouteEmptyGraph(t *testing.T) {
	t.Parallel()

	g, err := NewChannelGraph(nil)
	require.NoError(t, err)
	router := newTestRouter(t, g, 0)

	_, err = router.FindRoute(&RouteRequest{
		Target: testVertex(2),
		Amount: 1000,
	})
	require.True(t, IsError(err, ErrNoPathFound), "got %v", err)
}

// TestFindRouteFees checks that fees and time locks accumulate backwards
// from the target and that the source pays no fee for its own channel.
func TestFindRouteFees(t *testing.T) {
	t.Parallel()

	_, router := newChainGraph(t)

	rt, err := router.FindRoute(&RouteRequest{
		Target:         testVertex(4),
		Amount:         100_000,
		FinalCltvDelta: 40,
	})
	require.NoError(t, err)

	require.Equal(t, testSelf, rt.SourcePubKey)
	require.Equal(t, lnwire.MilliSatoshi(100_400), rt.TotalAmount)
	require.Equal(t, lnwire.MilliSatoshi(400), rt.TotalFees())
	require.Equal(t, lnwire.MilliSatoshi(100_000), rt.ReceiverAmt())
	require.Equal(t, uint32(90), rt.TotalCltvDelta)

	expected := []*route.Hop{
		{
			PubKeyBytes:     testVertex(2),
			ChannelID:       1,
			AmtToForward:    100_200,
			Fee:             200,
			CltvExpiryDelta: 20,
		},
		{
			PubKeyBytes:     testVertex(3),
			ChannelID:       2,
			AmtToForward:    100_000,
			Fee:             200,
			CltvExpiryDelta: 30,
		},
		{
			PubKeyBytes:     testVertex(4),
			ChannelID:       3,
			AmtToForward:    100_000,
			CltvExpiryDelta: 40,
		},
	}
	require.Equal(t, expected, rt.Hops)

	// A direct neighbour is reached without fees, using the default
	// final cltv delta.
	rt, err = router.FindRoute(&RouteRequest{
		Target: testVertex(2),
		Amount: 5000,
	})
	require.NoError(t, err)
	require.Len(t, rt.Hops, 1)
	require.Zero(t, rt.TotalFees())
	require.Equal(t, uint32(DefaultFinalCltvDelta), rt.TotalCltvDelta)
}

// TestFindRouteTieBreaks checks the deterministic ordering of equally
// expensive routes.
func TestFindRouteTieBreaks(t *testing.T) {
	t.Parallel()

	req := &RouteRequest{Target: testVertex(4), Amount: 100_000}

	// Equal fees: the lower total time lock wins even though it goes
	// through the larger key.
	_, router := newDiamondGraph(t,
		FeePolicy{FeeBaseMSat: 100, TimeLockDelta: 50},
		FeePolicy{FeeBaseMSat: 100, TimeLockDelta: 10},
		1_000_000,
	)
	rt, err := router.FindRoute(req)
	require.NoError(t, err)
	require.Equal(t, []route.Vertex{testVertex(3), testVertex(4)},
		routeNodes(rt))

	// Everything equal: the smaller first hop key wins.
	_, router = newDiamondGraph(t,
		FeePolicy{FeeBaseMSat: 100, TimeLockDelta: 10},
		FeePolicy{FeeBaseMSat: 100, TimeLockDelta: 10},
		1_000_000,
	)
	for i := 0; i < 5; i++ {
		rt, err = router.FindRoute(req)
		require.NoError(t, err)
		require.Equal(t, []route.Vertex{testVertex(2), testVertex(4)},
			routeNodes(rt))
	}

	// Equal fees and time locks: the route with fewer hops wins. The
	// longer route goes through smaller keys.
	g, err := NewChannelGraph(nil)
	require.NoError(t, err)
	addTestChannels(t, g,
		testChannel{
			id: 1, node1: testSelf, node2: testVertex(9),
			capacity: 1_000_000,
		},
		testChannel{
			id: 2, node1: testVertex(9), node2: testVertex(4),
			capacity: 1_000_000,
			policy: FeePolicy{FeeBaseMSat: 100, TimeLockDelta: 10},
		},
		testChannel{
			id: 3, node1: testSelf, node2: testVertex(2),
			capacity: 1_000_000,
		},
		testChannel{
			id: 4, node1: testVertex(2), node2: testVertex(3),
			capacity: 1_000_000,
			policy: FeePolicy{FeeBaseMSat: 50, TimeLockDelta: 5},
		},
		testChannel{
			id: 5, node1: testVertex(3), node2: testVertex(4),
			capacity: 1_000_000,
			policy: FeePolicy{FeeBaseMSat: 50, TimeLockDelta: 5},
		},
	)
	router = newTestRouter(t, g, 0)

	rt, err = router.FindRoute(req)
	require.NoError(t, err)
	require.Equal(t, []route.Vertex{testVertex(9), testVertex(4)},
		routeNodes(rt))
}

// TestFindRouteRiskFactor checks that long time locks are weighed against
// fees.
func TestFindRouteRiskFactor(t *testing.T) {
	t.Parallel()

	// 1M sat over 144 blocks costs 2160 msat of penalty, over 10 blocks
	// only 150 msat.
	_, router := newDiamondGraph(t,
		FeePolicy{FeeBaseMSat: 1000, TimeLockDelta: 144},
		FeePolicy{FeeBaseMSat: 2000, TimeLockDelta: 10},
		10_000_000,
	)

	rt, err := router.FindRoute(&RouteRequest{
		Target: testVertex(4),
		Amount: 1_000_000_000,
	})
	require.NoError(t, err)
	require.Equal(t, []route.Vertex{testVertex(3), testVertex(4)},
		routeNodes(rt))
	require.Equal(t, lnwire.MilliSatoshi(2000), rt.TotalFees())
}

// TestFindRouteZeroRiskFactor checks that a zero risk factor is kept and
// makes the search ignore time locks, and that factors out of range are
// refused.
func TestFindRouteZeroRiskFactor(t *testing.T) {
	t.Parallel()

	g, _ := newDiamondGraph(t,
		FeePolicy{FeeBaseMSat: 1000, TimeLockDelta: 144},
		FeePolicy{FeeBaseMSat: 2000, TimeLockDelta: 10},
		10_000_000,
	)

	router, err := NewChannelRouter(&Config{
		Graph:                g,
		SelfNode:             testSelf,
		RiskFactorBillionths: fn.Some[int64](0),
	})
	require.NoError(t, err)

	rt, err := router.FindRoute(&RouteRequest{
		Target: testVertex(4),
		Amount: 1_000_000_000,
	})
	require.NoError(t, err)
	require.Equal(t, []route.Vertex{testVertex(2), testVertex(4)},
		routeNodes(rt))
	require.Equal(t, lnwire.MilliSatoshi(1000), rt.TotalFees())

	for _, rf := range []int64{-1, MaxRiskFactorBillionths + 1} {
		_, err := NewChannelRouter(&Config{
			Graph:                g,
			SelfNode:             testSelf,
			RiskFactorBillionths: fn.Some(rf),
		})
		require.Error(t, err)
	}
}

// TestTimeLockPenalty checks the penalty formula and that it saturates
// instead of wrapping for extreme inputs.
func TestTimeLockPenalty(t *testing.T) {
	t.Parallel()

	require.EqualValues(t, 216, timeLockPenalty(100_000_000, 144, 15))
	require.Zero(t, timeLockPenalty(100_000_000, 144, 0))
	require.Zero(t, timeLockPenalty(0, 144, 15))
	require.Zero(t, timeLockPenalty(100_000_000, 0, 15))

	huge := lnwire.MilliSatoshi(math.MaxUint64)
	require.EqualValues(t, maxPathWeight, timeLockPenalty(
		huge, math.MaxUint32, MaxRiskFactorBillionths,
	))
	require.EqualValues(t, maxPathWeight, timeLockPenalty(
		huge, 1, MaxRiskFactorBillionths,
	))

	rapid.Check(t, func(rt *rapid.T) {
		amt := lnwire.MilliSatoshi(rapid.Uint64().Draw(rt, "amt"))
		delta := rapid.Uint32Range(0, math.MaxUint32-1).Draw(
			rt, "delta",
		)
		rf := rapid.Int64Range(0, MaxRiskFactorBillionths).Draw(
			rt, "riskFactor",
		)

		penalty := timeLockPenalty(amt, delta, rf)
		require.GreaterOrEqual(rt, penalty, int64(0))

		// A longer time lock never lowers the penalty.
		require.GreaterOrEqual(rt,
			timeLockPenalty(amt, delta+1, rf), penalty)
		require.GreaterOrEqual(rt,
			addWeight(penalty, penalty), penalty)
	})
}

// TestFindRouteCapacity checks that liquidity is validated per direction
// and per hop, and that failures are classified.
func TestFindRouteCapacity(t *testing.T) {
	t.Parallel()

	g, err := NewChannelGraph(nil)
	require.NoError(t, err)

	// Node 2 can only send 100k msat towards node 3, node 3 could send
	// 900k msat back.
	addTestChannels(t, g,
		testChannel{
			id: 1, node1: testSelf, node2: testVertex(2),
			capacity: 1_000_000,
		},
		testChannel{
			id: 2, node1: testVertex(2), node2: testVertex(3),
			capacity: 1000, balance1: 100_000,
			policy: FeePolicy{FeeBaseMSat: 10},
		},
		testChannel{
			id: 3, node1: testVertex(5), node2: testVertex(6),
			capacity: 1000,
		},
	)
	router := newTestRouter(t, g, 0)

	rt, err := router.FindRoute(&RouteRequest{
		Target: testVertex(3),
		Amount: 100_000,
	})
	require.NoError(t, err)
	require.Len(t, rt.Hops, 2)

	_, err = router.FindRoute(&RouteRequest{
		Target: testVertex(3),
		Amount: 100_001,
	})
	require.True(t, IsError(err, ErrInsufficientCapacity), "got %v", err)

	// Fees count against the liquidity of the first hop as well.
	require.NoError(t, g.SetLiquidity(
		lnwire.NewShortChanIDFromInt(1), testSelf, 100_005,
	))
	_, err = router.FindRoute(&RouteRequest{
		Target: testVertex(3),
		Amount: 100_000,
	})
	require.True(t, IsError(err, ErrInsufficientCapacity), "got %v", err)

	// Disconnected and unknown targets have no path at all.
	for _, target := range []route.Vertex{testVertex(6), testVertex(7)} {
		_, err = router.FindRoute(&RouteRequest{
			Target: target,
			Amount: 1,
		})
		require.True(t, IsError(err, ErrNoPathFound), "got %v", err)
	}

	_, err = router.FindRoute(&RouteRequest{Target: testSelf, Amount: 1})
	require.True(t, IsError(err, ErrSelfPayment), "got %v", err)

	_, err = router.FindRoute(&RouteRequest{Target: testVertex(3)})
	require.True(t, IsError(err, ErrInvalidAmount), "got %v", err)
}

// TestFindRouteCapacityBeatsTimeLock checks that a cheaper path which the
// source cannot fund does not hide a dearer path that it can. Both paths
// share the first channel, so the search has to keep both labels at the
// node behind it.
func TestFindRouteCapacityBeatsTimeLock(t *testing.T) {
	t.Parallel()

	x, a, b, target := testVertex(2), testVertex(3), testVertex(4),
		testVertex(5)

	g, err := NewChannelGraph(nil)
	require.NoError(t, err)
	addTestChannels(t, g,
		testChannel{
			id: 1, node1: testSelf, node2: x,
			capacity: 1_000_000, balance1: 100_000_050,
		},
		testChannel{id: 2, node1: x, node2: a, capacity: 1_000_000},
		testChannel{id: 3, node1: x, node2: b, capacity: 1_000_000},
		testChannel{
			id: 4, node1: a, node2: target, capacity: 1_000_000,
			policy: FeePolicy{FeeBaseMSat: 100},
		},
		testChannel{
			id: 5, node1: b, node2: target, capacity: 1_000_000,
			policy: FeePolicy{TimeLockDelta: 144},
		},
	)
	router := newTestRouter(t, g, 0)

	chanIDs := func(rt *route.Route) []uint64 {
		ids := make([]uint64, 0, len(rt.Hops))
		for _, hop := range rt.Hops {
			ids = append(ids, hop.ChannelID)
		}

		return ids
	}

	// Via a the route costs a 100 msat fee, via b a 216 msat time lock
	// penalty. Only the route via b fits the first channel.
	req := &RouteRequest{Target: target, Amount: 100_000_000}
	rt, err := router.FindRoute(req)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 3, 5}, chanIDs(rt))
	require.Zero(t, rt.TotalFees())
	require.Equal(t, lnwire.MilliSatoshi(100_000_000), rt.TotalAmount)

	// With enough liquidity the cheaper route wins again.
	require.NoError(t, g.SetLiquidity(
		lnwire.NewShortChanIDFromInt(1), testSelf, 200_000_000,
	))
	rt, err = router.FindRoute(req)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 4}, chanIDs(rt))
	require.Equal(t, lnwire.MilliSatoshi(100), rt.TotalFees())
}

// TestFindRouteHopLimit checks that routes longer than the hop limit are
// rejected.
func TestFindRouteHopLimit(t *testing.T) {
	t.Parallel()

	g, err := NewChannelGraph(nil)
	require.NoError(t, err)

	prev := testSelf
	for i := byte(2); i <= 6; i++ {
		addTestChannels(t, g, testChannel{
			id: uint64(i), node1: prev, node2: testVertex(i),
			capacity: 1_000_000,
		})
		prev = testVertex(i)
	}

	req := &RouteRequest{Target: testVertex(6), Amount: 1000}

	rt, err := newTestRouter(t, g, 5).FindRoute(req)
	require.NoError(t, err)
	require.Len(t, rt.Hops, 5)

	_, err = newTestRouter(t, g, 4).FindRoute(req)
	require.True(t, IsError(err, ErrMaxHopsExceeded), "got %v", err)
}

// TestFindRouteExclusions checks ignored channels and nodes.
func TestFindRouteExclusions(t *testing.T) {
	t.Parallel()

	// The route through node 2 is cheaper.
	_, router := newDiamondGraph(t,
		FeePolicy{FeeBaseMSat: 100},
		FeePolicy{FeeBaseMSat: 200},
		1_000_000,
	)

	req := &RouteRequest{Target: testVertex(4), Amount: 1000}
	rt, err := router.FindRoute(req)
	require.NoError(t, err)
	require.Equal(t, testVertex(2), rt.Hops[0].PubKeyBytes)

	req.IgnoredEdges = map[lnwire.ShortChannelID]struct{}{
		lnwire.NewShortChanIDFromInt(3): {},
	}
	rt, err = router.FindRoute(req)
	require.NoError(t, err)
	require.Equal(t, testVertex(3), rt.Hops[0].PubKeyBytes)

	req.IgnoredEdges = nil
	req.IgnoredNodes = map[route.Vertex]struct{}{testVertex(2): {}}
	rt, err = router.FindRoute(req)
	require.NoError(t, err)
	require.Equal(t, testVertex(3), rt.Hops[0].PubKeyBytes)

	req.IgnoredNodes[testVertex(3)] = struct{}{}
	_, err = router.FindRoute(req)
	require.True(t, IsError(err, ErrNoPathFound), "got %v", err)
}

// TestFindRouteBandwidthHints checks that hints replace the graph liquidity
// of local channels.
func TestFindRouteBandwidthHints(t *testing.T) {
	t.Parallel()

	_, router := newDiamondGraph(t,
		FeePolicy{FeeBaseMSat: 100},
		FeePolicy{FeeBaseMSat: 200},
		1_000_000,
	)

	// Only the channel to node 3 has a hint, so the cheaper channel to
	// node 2 is unusable.
	req := &RouteRequest{
		Target: testVertex(4),
		Amount: 1000,
		BandwidthHints: map[lnwire.ShortChannelID]lnwire.MilliSatoshi{
			lnwire.NewShortChanIDFromInt(2): 1200,
		},
	}
	rt, err := router.FindRoute(req)
	require.NoError(t, err)
	require.Equal(t, testVertex(3), rt.Hops[0].PubKeyBytes)
	require.Equal(t, lnwire.MilliSatoshi(1200), rt.TotalAmount)

	req.BandwidthHints[lnwire.NewShortChanIDFromInt(2)] = 1199
	_, err = router.FindRoute(req)
	require.True(t, IsError(err, ErrInsufficientCapacity), "got %v", err)
}

// TestFindRouteCapacityProperty checks on random graphs that no route
// contains a hop whose sending side cannot carry the amount it forwards.
func TestFindRouteCapacityProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		g, err := NewChannelGraph(nil)
		require.NoError(rt, err)

		numNodes := rapid.IntRange(2, 8).Draw(rt, "numNodes")
		numChans := rapid.IntRange(1, 16).Draw(rt, "numChans")

		for i := 0; i < numChans; i++ {
			n1 := rapid.IntRange(1, numNodes).Draw(
				rt, fmt.Sprintf("node1_%d", i),
			)
			n2 := rapid.IntRange(1, numNodes).Draw(
				rt, fmt.Sprintf("node2_%d", i),
			)
			if n1 == n2 {
				continue
			}

			capacity := btcutil.Amount(rapid.Int64Range(1, 10_000).Draw(
				rt, fmt.Sprintf("capacity_%d", i),
			))
			capMSat := lnwire.NewMSatFromSatoshis(capacity)
			balance := lnwire.MilliSatoshi(rapid.Uint64Range(
				0, uint64(capMSat),
			).Draw(rt, fmt.Sprintf("balance_%d", i)))

			err := g.AddChannel(&ChannelEdge{
				ChannelID: lnwire.NewShortChanIDFromInt(
					uint64(i + 1),
				),
				NodeKey1Bytes: testVertex(byte(n1)),
				NodeKey2Bytes: testVertex(byte(n2)),
				Capacity:      capacity,
				Policy: FeePolicy{
					FeeBaseMSat: lnwire.MilliSatoshi(
						rapid.Uint64Range(0, 5000).Draw(
							rt, fmt.Sprintf("base_%d", i),
						),
					),
					FeeProportionalMillionths: lnwire.MilliSatoshi(
						rapid.Uint64Range(0, 10_000).Draw(
							rt, fmt.Sprintf("rate_%d", i),
						),
					),
					TimeLockDelta: uint16(rapid.IntRange(
						0, 144,
					).Draw(rt, fmt.Sprintf("delta_%d", i))),
				},
				Node1Balance: balance,
				Node2Balance: capMSat - balance,
			})
			require.NoError(rt, err)
		}

		router, err := NewChannelRouter(&Config{
			Graph:    g,
			SelfNode: testSelf,
		})
		require.NoError(rt, err)

		target := testVertex(byte(
			rapid.IntRange(2, numNodes).Draw(rt, "target"),
		))
		amt := lnwire.MilliSatoshi(
			rapid.Uint64Range(1, 10_000_000).Draw(rt, "amt"),
		)

		path, err := router.FindRoute(&RouteRequest{
			Target: target,
			Amount: amt,
		})
		if err != nil {
			require.True(rt, IsError(err, ErrNoPathFound,
				ErrInsufficientCapacity), "got %v", err)

			return
		}

		require.Equal(rt, amt, path.ReceiverAmt())
		require.Equal(rt, target, path.Hops[len(path.Hops)-1].PubKeyBytes)

		from := testSelf
		for _, hop := range path.Hops {
			edge, err := g.FetchChannel(
				lnwire.NewShortChanIDFromInt(hop.ChannelID),
			)
			require.NoError(rt, err)

			to, ok := edge.OtherNode(from)
			require.True(rt, ok)
			require.Equal(rt, hop.PubKeyBytes, to)
			require.GreaterOrEqual(rt, edge.Liquidity(from),
				hop.AmtToReceive())

			from = to
		}
	})
}

// pathHop is a channel of a path together with its sending node.
type pathHop struct {
	edge *ChannelEdge
	from route.Vertex
}

// simplePaths lists every path from source to target that visits no node
// twice and has at most maxHops channels.
func simplePaths(g *ChannelGraph, source, target route.Vertex,
	maxHops int) [][]pathHop {

	adjacent := make(map[route.Vertex][]*ChannelEdge)
	for _, e := range g.Channels() {
		adjacent[e.NodeKey1Bytes] = append(adjacent[e.NodeKey1Bytes], e)
		adjacent[e.NodeKey2Bytes] = append(adjacent[e.NodeKey2Bytes], e)
	}

	var (
		paths   [][]pathHop
		current []pathHop
		visited = map[route.Vertex]bool{source: true}
	)

	var walk func(node route.Vertex)
	walk = func(node route.Vertex) {
		if node == target {
			paths = append(paths, append([]pathHop(nil), current...))
			return
		}
		if len(current) == maxHops {
			return
		}

		for _, e := range adjacent[node] {
			next, _ := e.OtherNode(node)
			if visited[next] {
				continue
			}

			visited[next] = true
			current = append(current, pathHop{edge: e, from: node})
			walk(next)
			current = current[:len(current)-1]
			visited[next] = false
		}
	}
	walk(source)

	return paths
}

// pathWeight walks a path back from the target and returns its weight, or
// false if a channel cannot carry what its sender has to forward.
func pathWeight(path []pathHop, source route.Vertex,
	amt lnwire.MilliSatoshi, riskFactor int64) (int64, bool) {

	var weight int64
	for i := len(path) - 1; i >= 0; i-- {
		hop := path[i]
		if hop.edge.Liquidity(hop.from) < amt {
			return 0, false
		}
		if hop.from == source {
			continue
		}

		fee := hop.edge.Policy.ComputeFee(amt)
		penalty := timeLockPenalty(
			amt, uint32(hop.edge.Policy.TimeLockDelta), riskFactor,
		)
		weight = addWeight(weight, addWeight(int64(fee), penalty))
		amt += fee
	}

	return weight, true
}

// TestFindRouteOptimalProperty compares the router with an exhaustive
// search on small random graphs. Liquidity is drawn close to the amount
// and time locks are weighed with random risk factors, so cheaper paths
// are often blocked by capacity. Whenever some simple path can carry the
// payment a route must be found, and no viable path may weigh less.
func TestFindRouteOptimalProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		g, err := NewChannelGraph(nil)
		require.NoError(rt, err)

		numNodes := rapid.IntRange(2, 6).Draw(rt, "numNodes")
		numChans := rapid.IntRange(1, 12).Draw(rt, "numChans")
		amt := lnwire.MilliSatoshi(
			rapid.Uint64Range(1, 10_000_000).Draw(rt, "amt"),
		)

		for i := 0; i < numChans; i++ {
			n1 := rapid.IntRange(1, numNodes).Draw(
				rt, fmt.Sprintf("node1_%d", i),
			)
			n2 := rapid.IntRange(1, numNodes).Draw(
				rt, fmt.Sprintf("node2_%d", i),
			)
			if n1 == n2 {
				continue
			}

			capacity := btcutil.Amount(20_000)
			capMSat := lnwire.NewMSatFromSatoshis(capacity)

			// Put the liquidity of one side within a few fees of
			// the amount.
			near := int64(amt) + rapid.Int64Range(
				-10_000, 10_000,
			).Draw(rt, fmt.Sprintf("offset_%d", i))
			near = max(0, min(near, int64(capMSat)))

			balance1 := lnwire.MilliSatoshi(near)
			if rapid.Bool().Draw(rt, fmt.Sprintf("flip_%d", i)) {
				balance1 = capMSat - balance1
			}

			err := g.AddChannel(&ChannelEdge{
				ChannelID: lnwire.NewShortChanIDFromInt(
					uint64(i + 1),
				),
				NodeKey1Bytes: testVertex(byte(n1)),
				NodeKey2Bytes: testVertex(byte(n2)),
				Capacity:      capacity,
				Policy: FeePolicy{
					FeeBaseMSat: lnwire.MilliSatoshi(
						rapid.Uint64Range(0, 5000).Draw(
							rt, fmt.Sprintf("base_%d", i),
						),
					),
					FeeProportionalMillionths: lnwire.MilliSatoshi(
						rapid.Uint64Range(0, 1000).Draw(
							rt, fmt.Sprintf("rate_%d", i),
						),
					),
					TimeLockDelta: uint16(rapid.IntRange(
						0, 144,
					).Draw(rt, fmt.Sprintf("delta_%d", i))),
				},
				Node1Balance: balance1,
				Node2Balance: capMSat - balance1,
			})
			require.NoError(rt, err)
		}

		riskFactor := rapid.SampledFrom([]int64{
			0, DefaultRiskFactorBillionths, 1_000_000,
			MaxRiskFactorBillionths,
		}).Draw(rt, "riskFactor")

		router, err := NewChannelRouter(&Config{
			Graph:                g,
			SelfNode:             testSelf,
			RiskFactorBillionths: fn.Some(riskFactor),
		})
		require.NoError(rt, err)

		target := testVertex(byte(
			rapid.IntRange(2, numNodes).Draw(rt, "target"),
		))

		var (
			viable    bool
			minWeight int64
		)
		for _, path := range simplePaths(g, testSelf, target, HopLimit) {
			w, ok := pathWeight(path, testSelf, amt, riskFactor)
			if !ok {
				continue
			}
			if !viable || w < minWeight {
				minWeight = w
			}
			viable = true
		}

		found, err := router.FindRoute(&RouteRequest{
			Target: target,
			Amount: amt,
		})
		if !viable {
			require.True(rt, IsError(err, ErrNoPathFound,
				ErrInsufficientCapacity), "got %v", err)

			return
		}
		require.NoError(rt, err)

		path := make([]pathHop, 0, len(found.Hops))
		from := testSelf
		for _, hop := range found.Hops {
			edge, err := g.FetchChannel(
				lnwire.NewShortChanIDFromInt(hop.ChannelID),
			)
			require.NoError(rt, err)

			path = append(path, pathHop{edge: edge, from: from})
			from = hop.PubKeyBytes
		}

		w, ok := pathWeight(path, testSelf, amt, riskFactor)
		require.True(rt, ok)
		require.Equal(rt, minWeight, w)
	})
}
