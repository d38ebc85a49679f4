package routing

import (
	"bytes"

	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing/route"
)

// nodeWithDist is a label of the path search: one way of reaching the
// target from a node, together with what that way costs.
type nodeWithDist struct {
	// dist is the weight of the path from this node to the target.
	// Includes the routing fees and a virtual cost factor to account for
	// time locks.
	dist int64

	// node is the vertex itself. This can be used to explore all the
	// outgoing edges (channels) emanating from a node.
	node route.Vertex

	// amountToReceive is the amount that should be received by this node.
	// Either as final payment to the final node or as an intermediate
	// amount that includes also the fees for subsequent hops.
	amountToReceive lnwire.MilliSatoshi

	// incomingCltv is the sum of the time locks from this node to the
	// target, including the final cltv delta.
	incomingCltv uint32

	// hops is the number of channels from this node to the target.
	hops int

	// next is the following node on the path towards the target.
	next route.Vertex

	// edge is the channel from this node to next.
	edge *ChannelEdge

	// nextLabel is the label of next this label was derived from. It is
	// nil for the target.
	nextLabel *nodeWithDist

	// dominated is set once a better label of the same node was found.
	// Dominated labels still in the heap are skipped.
	dominated bool
}

// less orders two labels by distance, then total time lock, then hop count,
// then the next node and finally the channel id. This is a total order, so
// path finding is deterministic.
func (n *nodeWithDist) less(o *nodeWithDist) bool {
	switch {
	case n.dist != o.dist:
		return n.dist < o.dist

	case n.incomingCltv != o.incomingCltv:
		return n.incomingCltv < o.incomingCltv

	case n.hops != o.hops:
		return n.hops < o.hops
	}

	if cmp := bytes.Compare(n.next[:], o.next[:]); cmp != 0 {
		return cmp < 0
	}

	var nChan, oChan uint64
	if n.edge != nil {
		nChan = n.edge.ChannelID.ToUint64()
	}
	if o.edge != nil {
		oChan = o.edge.ChannelID.ToUint64()
	}

	return nChan < oChan
}

// dominates reports whether every extension of o towards the source is
// matched by an extension of n that is at least as good. Fees, time lock
// penalties and liquidity checks all grow with the amount, so n must be no
// worse in distance, amount, time lock and hops. Labels equal in all four
// are ordered by less.
func (n *nodeWithDist) dominates(o *nodeWithDist) bool {
	if n.dist > o.dist || n.amountToReceive > o.amountToReceive ||
		n.incomingCltv > o.incomingCltv || n.hops > o.hops {

		return false
	}

	if n.dist == o.dist && n.amountToReceive == o.amountToReceive &&
		n.incomingCltv == o.incomingCltv && n.hops == o.hops {

		return !o.less(n)
	}

	return true
}

// distanceHeap is a min-distance heap of labels that's used within our path
// finding algorithm to keep track of the "closest" label to our source node.
// A node may have several labels in the heap at once.
type distanceHeap struct {
	nodes []*nodeWithDist
}

// Len returns the number of labels in the priority queue.
//
// NOTE: This is part of the heap.Interface implementation.
func (d *distanceHeap) Len() int { return len(d.nodes) }

// Less returns whether the item in the priority queue with index i should sort
// before the item with index j.
//
// NOTE: This is part of the heap.Interface implementation.
func (d *distanceHeap) Less(i, j int) bool {
	return d.nodes[i].less(d.nodes[j])
}

// Swap swaps the labels at the passed indices in the priority queue.
//
// NOTE: This is part of the heap.Interface implementation.
func (d *distanceHeap) Swap(i, j int) {
	d.nodes[i], d.nodes[j] = d.nodes[j], d.nodes[i]
}

// Push pushes the passed item onto the priority queue.
//
// NOTE: This is part of the heap.Interface implementation.
func (d *distanceHeap) Push(x interface{}) {
	d.nodes = append(d.nodes, x.(*nodeWithDist))
}

// Pop removes the highest priority item (according to Less) from the priority
// queue and returns it.
//
// NOTE: This is part of the heap.Interface implementation.
func (d *distanceHeap) Pop() interface{} {
	n := len(d.nodes)
	x := d.nodes[n-1]
	d.nodes[n-1] = nil
	d.nodes = d.nodes[0 : n-1]

	return x
}

// labelSet holds the labels of every node that no other label of the same
// node dominates.
type labelSet map[route.Vertex][]*nodeWithDist

// add inserts the candidate unless an existing label dominates it, and
// marks the labels the candidate dominates. It reports whether the
// candidate was kept.
func (s labelSet) add(candidate *nodeWithDist) bool {
	existing := s[candidate.node]
	for _, l := range existing {
		if l.dominates(candidate) {
			return false
		}
	}

	kept := make([]*nodeWithDist, 0, len(existing)+1)
	for _, l := range existing {
		if candidate.dominates(l) {
			l.dominated = true
			continue
		}
		kept = append(kept, l)
	}
	s[candidate.node] = append(kept, candidate)

	return true
}
