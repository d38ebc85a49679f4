package routing

import (
	"container/heap"
	"math"
	"math/bits"

	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing/route"
)

const (
	// HopLimit is the maximum number hops that is permissible as a route.
	HopLimit = 20

	// DefaultRiskFactorBillionths is the default time lock penalty. It
	// turns the amount times the time lock delta into a weight that is
	// compared with fees.
	DefaultRiskFactorBillionths = 15

	// MaxRiskFactorBillionths caps the time lock penalty at the full
	// amount per block.
	MaxRiskFactorBillionths = 1_000_000_000

	// maxPathWeight is the weight every path saturates at.
	maxPathWeight = math.MaxInt64
)

// pathFindingConfig holds the tunables of a single path search.
type pathFindingConfig struct {
	source               route.Vertex
	hopLimit             int
	riskFactorBillionths int64
}

// addWeight adds two non-negative weights, saturating at maxPathWeight.
func addWeight(a, b int64) int64 {
	if a > maxPathWeight-b {
		return maxPathWeight
	}

	return a + b
}

// timeLockPenalty is the virtual cost of locking amt for delta blocks. It
// saturates at maxPathWeight instead of overflowing.
func timeLockPenalty(amt lnwire.MilliSatoshi, delta uint32,
	riskFactor int64) int64 {

	if amt == 0 || delta == 0 || riskFactor <= 0 {
		return 0
	}

	hi, lo := bits.Mul64(uint64(amt), uint64(delta))
	if hi != 0 {
		return maxPathWeight
	}
	hi, lo = bits.Mul64(lo, uint64(riskFactor))
	if hi >= 1_000_000_000 {
		return maxPathWeight
	}

	penalty, _ := bits.Div64(hi, lo, 1_000_000_000)
	if penalty > maxPathWeight {
		return maxPathWeight
	}

	return int64(penalty)
}

// edgeUsable reports whether the search may traverse edge out of from.
func edgeUsable(req *RouteRequest, edge *ChannelEdge,
	from route.Vertex) bool {

	if _, ok := req.IgnoredEdges[edge.ChannelID]; ok {
		return false
	}
	if _, ok := req.IgnoredNodes[from]; ok {
		return false
	}

	return true
}

// findPath runs a backward label-setting search from the target to the
// source, accumulating fees and time locks on the amount each node has to
// receive. Every relaxed edge is checked against the liquidity of its
// sending side, or against the bandwidth hint for channels of the source.
//
// A node keeps every label that no other label of it dominates: a label
// that costs more but needs less liquidity upstream stays alive, so a
// cheaper path blocked by capacity closer to the source never hides one
// that fits. The first source label popped is the best route. It returns
// the labels of the nodes on that route, starting at the source and ending
// at the target.
func findPath(g routingGraph, req *RouteRequest,
	cfg *pathFindingConfig) ([]nodeWithDist, error) {

	source, target := cfg.source, req.Target

	labels := make(labelSet)
	nodeHeap := &distanceHeap{}

	targetLabel := &nodeWithDist{
		node:            target,
		amountToReceive: req.Amount,
		incomingCltv:    req.FinalCltvDelta,
	}
	labels.add(targetLabel)
	heap.Push(nodeHeap, targetLabel)

	var best *nodeWithDist
	for nodeHeap.Len() != 0 {
		pivot := heap.Pop(nodeHeap).(*nodeWithDist)
		if pivot.dominated {
			continue
		}

		// Extensions never get cheaper, so the first source label is
		// final.
		if pivot.node == source {
			best = pivot
			break
		}

		if pivot.hops >= cfg.hopLimit {
			continue
		}

		relax := func(e *ChannelEdge) error {
			from, ok := e.OtherNode(pivot.node)
			if !ok || from == target {
				return nil
			}
			if !edgeUsable(req, e, from) {
				return nil
			}

			amt := pivot.amountToReceive

			bandwidth := e.Liquidity(from)
			if from == source && req.BandwidthHints != nil {
				bandwidth = req.BandwidthHints[e.ChannelID]
			}
			if bandwidth < amt {
				return nil
			}

			// The source doesn't pay itself for the first hop.
			var (
				fee   lnwire.MilliSatoshi
				delta uint32
			)
			if from != source {
				fee = e.Policy.ComputeFee(amt)
				delta = uint32(e.Policy.TimeLockDelta)
			}

			weight := addWeight(int64(fee), timeLockPenalty(
				amt, delta, cfg.riskFactorBillionths,
			))

			candidate := &nodeWithDist{
				dist:            addWeight(pivot.dist, weight),
				node:            from,
				amountToReceive: amt + fee,
				incomingCltv:    pivot.incomingCltv + delta,
				hops:            pivot.hops + 1,
				next:            pivot.node,
				edge:            e,
				nextLabel:       pivot,
			}

			// Paths revisiting a node are dominated by the label
			// they started from, so no cycle survives this check.
			if !labels.add(candidate) {
				return nil
			}
			heap.Push(nodeHeap, candidate)

			return nil
		}
		if err := g.forEachNodeChannel(pivot.node, relax); err != nil {
			return nil, err
		}
	}

	if best == nil {
		return nil, diagnoseNoPath(g, req, cfg)
	}

	path := make([]nodeWithDist, 0, best.hops+1)
	for label := best; label != nil; label = label.nextLabel {
		path = append(path, *label)
	}

	return path, nil
}

// diagnoseNoPath explains a failed search. It looks for any path that
// ignores liquidity: if there is none the target is unreachable, if it is
// too long the hop limit is at fault, otherwise liquidity is.
func diagnoseNoPath(g routingGraph, req *RouteRequest,
	cfg *pathFindingConfig) error {

	source, target := cfg.source, req.Target

	if !g.hasNode(source) || !g.hasNode(target) {
		return newErrf(ErrNoPathFound, "unable to find a path to "+
			"destination %v", target)
	}

	// Breadth first from the target, so hops[source] is the length of
	// the shortest structural path.
	hops := map[route.Vertex]int{target: 0}
	queue := []route.Vertex{target}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if node == source {
			break
		}

		_ = g.forEachNodeChannel(node, func(e *ChannelEdge) error {
			from, ok := e.OtherNode(node)
			if !ok {
				return nil
			}
			if _, seen := hops[from]; seen {
				return nil
			}
			if !edgeUsable(req, e, from) {
				return nil
			}

			hops[from] = hops[node] + 1
			queue = append(queue, from)

			return nil
		})
	}

	pathLen, ok := hops[source]
	switch {
	case !ok:
		return newErrf(ErrNoPathFound, "unable to find a path to "+
			"destination %v", target)

	case pathLen > cfg.hopLimit:
		return newErrf(ErrMaxHopsExceeded, "shortest path to %v has "+
			"%d hops, limit is %d", target, pathLen, cfg.hopLimit)
	}

	return newErrf(ErrInsufficientCapacity, "no path to %v can carry %v",
		target, req.Amount)
}

// newRouteFromPath turns the labels of a path into a route.
func newRouteFromPath(path []nodeWithDist) (*route.Route, error) {
	source := path[0]

	hops := make([]*route.Hop, 0, len(path)-1)
	for i := 1; i < len(path); i++ {
		hopNode := path[i]
		hop := &route.Hop{
			PubKeyBytes:     hopNode.node,
			ChannelID:       path[i-1].edge.ChannelID.ToUint64(),
			AmtToForward:    hopNode.amountToReceive,
			CltvExpiryDelta: hopNode.incomingCltv,
		}

		// Forwarding nodes pass on what the next node receives and
		// keep the rest as fee.
		if i+1 < len(path) {
			next := path[i+1]
			hop.AmtToForward = next.amountToReceive
			hop.Fee = hopNode.amountToReceive - next.amountToReceive
			hop.CltvExpiryDelta = hopNode.incomingCltv -
				next.incomingCltv
		}

		hops = append(hops, hop)
	}

	return route.NewRouteFromHops(
		source.amountToReceive, source.node, hops,
	)
}
