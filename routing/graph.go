package routing

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing/route"
)

const (
	// DefaultNodeColor is the color of nodes announced without one.
	DefaultNodeColor = "#4968ad"

	// maxAliasLength is the longest alias a node may announce.
	maxAliasLength = 32
)

var colorRegexp = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// FeePolicy is the forwarding policy of a channel.
type FeePolicy struct {
	// FeeBaseMSat is the base fee for forwarding over the channel.
	FeeBaseMSat lnwire.MilliSatoshi

	// FeeProportionalMillionths is the rate charged per forwarded
	// million millisatoshi.
	FeeProportionalMillionths lnwire.MilliSatoshi

	// TimeLockDelta is the cltv delta the forwarding node requires.
	TimeLockDelta uint16
}

// ComputeFee computes the fee to forward an HTLC of amt millisatoshis over
// the channel.
func (p *FeePolicy) ComputeFee(amt lnwire.MilliSatoshi) lnwire.MilliSatoshi {
	return p.FeeBaseMSat + (amt*p.FeeProportionalMillionths)/1000000
}

// LightningNode is a node of the channel graph.
type LightningNode struct {
	// PubKeyBytes identifies the node.
	PubKeyBytes route.Vertex

	// Alias is the announced name of the node.
	Alias string

	// Color is the announced color in #rrggbb form.
	Color string
}

// Copy returns a copy of the node.
func (n *LightningNode) Copy() *LightningNode {
	c := *n
	return &c
}

// ChannelEdge is a channel of the graph together with its policy and the
// directional liquidity of both endpoints.
type ChannelEdge struct {
	// ChannelID is the short channel id of the channel.
	ChannelID lnwire.ShortChannelID

	// NodeKey1Bytes is the first endpoint.
	NodeKey1Bytes route.Vertex

	// NodeKey2Bytes is the second endpoint.
	NodeKey2Bytes route.Vertex

	// Capacity is the total amount locked in the channel.
	Capacity btcutil.Amount

	// Policy is the forwarding policy applied in both directions.
	Policy FeePolicy

	// Node1Balance is the amount node 1 can send to node 2.
	Node1Balance lnwire.MilliSatoshi

	// Node2Balance is the amount node 2 can send to node 1.
	Node2Balance lnwire.MilliSatoshi
}

// Copy returns a copy of the edge.
func (e *ChannelEdge) Copy() *ChannelEdge {
	c := *e
	return &c
}

// OtherNode returns the endpoint opposite of node.
func (e *ChannelEdge) OtherNode(node route.Vertex) (route.Vertex, bool) {
	switch node {
	case e.NodeKey1Bytes:
		return e.NodeKey2Bytes, true

	case e.NodeKey2Bytes:
		return e.NodeKey1Bytes, true
	}

	return route.Vertex{}, false
}

// Liquidity returns the amount from can send over the channel.
func (e *ChannelEdge) Liquidity(from route.Vertex) lnwire.MilliSatoshi {
	switch from {
	case e.NodeKey1Bytes:
		return e.Node1Balance

	case e.NodeKey2Bytes:
		return e.Node2Balance
	}

	return 0
}

// setLiquidity sets the outgoing liquidity of from and gives the rest of
// the capacity to the other side.
func (e *ChannelEdge) setLiquidity(from route.Vertex,
	amt lnwire.MilliSatoshi) error {

	capacity := lnwire.NewMSatFromSatoshis(e.Capacity)
	if amt > capacity {
		return fmt.Errorf("%w: %v > %v", ErrInvalidLiquidity, amt,
			capacity)
	}

	switch from {
	case e.NodeKey1Bytes:
		e.Node1Balance, e.Node2Balance = amt, capacity-amt

	case e.NodeKey2Bytes:
		e.Node2Balance, e.Node1Balance = amt, capacity-amt

	default:
		return fmt.Errorf("%w: %v is no endpoint of %v",
			ErrNodeNotFound, from, e.ChannelID)
	}

	return nil
}

// GraphPersister stores the channel graph.
type GraphPersister interface {
	// PutNode inserts or overwrites a node.
	PutNode(node *LightningNode) error

	// PutEdge inserts or overwrites a channel edge.
	PutEdge(edge *ChannelEdge) error

	// PutEdges atomically inserts or overwrites several channel edges.
	PutEdges(edges []*ChannelEdge) error

	// DeleteEdge removes a channel edge.
	DeleteEdge(chanID lnwire.ShortChannelID) error

	// FetchGraph returns all stored nodes and edges.
	FetchGraph() ([]*LightningNode, []*ChannelEdge, error)
}

// ChannelGraph is the in-memory channel graph. Mutations take the write
// lock, so path finding running under the read lock never observes a half
// applied update.
type ChannelGraph struct {
	db GraphPersister

	mu        sync.RWMutex
	nodes     map[route.Vertex]*LightningNode
	edges     map[uint64]*ChannelEdge
	nodeEdges map[route.Vertex]map[uint64]struct{}
}

// NewChannelGraph creates a channel graph and loads the persisted nodes and
// edges. A nil db keeps the graph in memory only.
func NewChannelGraph(db GraphPersister) (*ChannelGraph, error) {
	c := &ChannelGraph{
		db:        db,
		nodes:     make(map[route.Vertex]*LightningNode),
		edges:     make(map[uint64]*ChannelEdge),
		nodeEdges: make(map[route.Vertex]map[uint64]struct{}),
	}

	if db == nil {
		return c, nil
	}

	nodes, edges, err := db.FetchGraph()
	if err != nil {
		return nil, fmt.Errorf("unable to load graph: %w", err)
	}
	for _, node := range nodes {
		c.nodes[node.PubKeyBytes] = node
	}
	for _, edge := range edges {
		c.insertEdgeLocked(edge)
	}

	log.Infof("Loaded channel graph with %d nodes and %d channels",
		len(c.nodes), len(c.edges))

	return c, nil
}

// newLightningNode returns a node with default alias and color.
func newLightningNode(pub route.Vertex) *LightningNode {
	return &LightningNode{
		PubKeyBytes: pub,
		Alias:       pub.String()[:20],
		Color:       DefaultNodeColor,
	}
}

// AddNode adds a node with default announcement data. Adding a known node
// is a no-op.
func (c *ChannelGraph) AddNode(pub route.Vertex) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.addNodeLocked(pub)
}

// addNodeLocked adds an unknown node. The caller must hold the write lock.
func (c *ChannelGraph) addNodeLocked(pub route.Vertex) error {
	if _, ok := c.nodes[pub]; ok {
		return nil
	}

	node := newLightningNode(pub)
	if c.db != nil {
		if err := c.db.PutNode(node); err != nil {
			return err
		}
	}
	c.nodes[pub] = node

	log.Debugf("Added node %v to graph", pub)

	return nil
}

// AddLightningNode adds a node or replaces its announcement data.
func (c *ChannelGraph) AddLightningNode(node *LightningNode) error {
	n := node.Copy()
	if n.Alias == "" {
		n.Alias = n.PubKeyBytes.String()[:20]
	}
	if n.Color == "" {
		n.Color = DefaultNodeColor
	}

	switch {
	case len(n.Alias) > maxAliasLength:
		return fmt.Errorf("alias too long: %d > %d", len(n.Alias),
			maxAliasLength)

	case !colorRegexp.MatchString(n.Color):
		return fmt.Errorf("invalid node color %q", n.Color)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		if err := c.db.PutNode(n); err != nil {
			return err
		}
	}
	c.nodes[n.PubKeyBytes] = n

	return nil
}

// FetchNode returns a copy of the node.
func (c *ChannelGraph) FetchNode(pub route.Vertex) (*LightningNode, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	node, ok := c.nodes[pub]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNodeNotFound, pub)
	}

	return node.Copy(), nil
}

// AddChannel adds a channel between two nodes, adding unknown endpoints.
// When no liquidity is given the capacity is split evenly. Re-adding a
// channel with the same endpoints and capacity is a no-op.
func (c *ChannelGraph) AddChannel(edge *ChannelEdge) error {
	e := edge.Copy()

	if e.NodeKey1Bytes == e.NodeKey2Bytes {
		return ErrSelfLoop
	}
	if e.ChannelID.IsDefault() {
		return fmt.Errorf("channel id must be set")
	}
	if e.Capacity <= 0 {
		return fmt.Errorf("channel capacity must be positive")
	}

	capacity := lnwire.NewMSatFromSatoshis(e.Capacity)
	switch {
	case e.Node1Balance == 0 && e.Node2Balance == 0:
		e.Node2Balance = capacity / 2
		e.Node1Balance = capacity - e.Node2Balance

	case e.Node1Balance+e.Node2Balance != capacity:
		return fmt.Errorf("%w: %v + %v != %v", ErrInvalidLiquidity,
			e.Node1Balance, e.Node2Balance, capacity)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.edges[e.ChannelID.ToUint64()]; ok {
		sameEnds := existing.NodeKey1Bytes == e.NodeKey1Bytes &&
			existing.NodeKey2Bytes == e.NodeKey2Bytes ||
			existing.NodeKey1Bytes == e.NodeKey2Bytes &&
				existing.NodeKey2Bytes == e.NodeKey1Bytes

		if !sameEnds || existing.Capacity != e.Capacity {
			return fmt.Errorf("%w: %v", ErrEdgeConflict,
				e.ChannelID)
		}

		return nil
	}

	if err := c.addNodeLocked(e.NodeKey1Bytes); err != nil {
		return err
	}
	if err := c.addNodeLocked(e.NodeKey2Bytes); err != nil {
		return err
	}

	if c.db != nil {
		if err := c.db.PutEdge(e); err != nil {
			return err
		}
	}
	c.insertEdgeLocked(e)

	log.Debugf("Added channel %v: %v <-> %v, capacity=%v", e.ChannelID,
		e.NodeKey1Bytes, e.NodeKey2Bytes, e.Capacity)

	return nil
}

// insertEdgeLocked indexes an edge. The caller must hold the write lock.
func (c *ChannelGraph) insertEdgeLocked(e *ChannelEdge) {
	chanID := e.ChannelID.ToUint64()
	c.edges[chanID] = e

	for _, node := range []route.Vertex{e.NodeKey1Bytes, e.NodeKey2Bytes} {
		if _, ok := c.nodes[node]; !ok {
			c.nodes[node] = newLightningNode(node)
		}
		if c.nodeEdges[node] == nil {
			c.nodeEdges[node] = make(map[uint64]struct{})
		}
		c.nodeEdges[node][chanID] = struct{}{}
	}
}

// updateEdge applies f to a copy of the edge, persists it and swaps it in.
func (c *ChannelGraph) updateEdge(chanID lnwire.ShortChannelID,
	f func(*ChannelEdge) error) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.edges[chanID.ToUint64()]
	if !ok {
		return fmt.Errorf("%w: %v", ErrEdgeNotFound, chanID)
	}

	e := existing.Copy()
	if err := f(e); err != nil {
		return err
	}

	if c.db != nil {
		if err := c.db.PutEdge(e); err != nil {
			return err
		}
	}
	c.edges[chanID.ToUint64()] = e

	return nil
}

// UpdatePolicy replaces the forwarding policy of a channel.
func (c *ChannelGraph) UpdatePolicy(chanID lnwire.ShortChannelID,
	policy FeePolicy) error {

	return c.updateEdge(chanID, func(e *ChannelEdge) error {
		e.Policy = policy
		return nil
	})
}

// SetLiquidity sets the amount from can send over the channel. The rest of
// the capacity belongs to the other endpoint.
func (c *ChannelGraph) SetLiquidity(chanID lnwire.ShortChannelID,
	from route.Vertex, amt lnwire.MilliSatoshi) error {

	return c.updateEdge(chanID, func(e *ChannelEdge) error {
		return e.setLiquidity(from, amt)
	})
}

// RemoveChannel removes a channel from the graph. Its endpoints stay.
func (c *ChannelGraph) RemoveChannel(chanID lnwire.ShortChannelID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.edges[chanID.ToUint64()]
	if !ok {
		return fmt.Errorf("%w: %v", ErrEdgeNotFound, chanID)
	}

	if c.db != nil {
		if err := c.db.DeleteEdge(chanID); err != nil {
			return err
		}
	}

	delete(c.edges, chanID.ToUint64())
	delete(c.nodeEdges[e.NodeKey1Bytes], chanID.ToUint64())
	delete(c.nodeEdges[e.NodeKey2Bytes], chanID.ToUint64())

	log.Debugf("Removed channel %v from graph", chanID)

	return nil
}

// FetchChannel returns a copy of the channel edge.
func (c *ChannelGraph) FetchChannel(chanID lnwire.ShortChannelID) (
	*ChannelEdge, error) {

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.edges[chanID.ToUint64()]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrEdgeNotFound, chanID)
	}

	return e.Copy(), nil
}

// Nodes returns copies of all nodes ordered by public key.
func (c *ChannelGraph) Nodes() []*LightningNode {
	c.mu.RLock()
	nodes := make([]*LightningNode, 0, len(c.nodes))
	for _, node := range c.nodes {
		nodes = append(nodes, node.Copy())
	}
	c.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool {
		return bytes.Compare(
			nodes[i].PubKeyBytes[:], nodes[j].PubKeyBytes[:],
		) < 0
	})

	return nodes
}

// Channels returns copies of all edges ordered by channel id.
func (c *ChannelGraph) Channels() []*ChannelEdge {
	c.mu.RLock()
	edges := make([]*ChannelEdge, 0, len(c.edges))
	for _, e := range c.edges {
		edges = append(edges, e.Copy())
	}
	c.mu.RUnlock()

	sort.Slice(edges, func(i, j int) bool {
		return edges[i].ChannelID.ToUint64() <
			edges[j].ChannelID.ToUint64()
	})

	return edges
}

// routingGraph is the read-only view path finding runs on.
type routingGraph interface {
	// forEachNodeChannel calls cb for every channel of node.
	forEachNodeChannel(node route.Vertex,
		cb func(edge *ChannelEdge) error) error

	// hasNode reports whether node is part of the graph.
	hasNode(node route.Vertex) bool
}

// lockedGraph implements routingGraph on a graph whose read lock is held.
type lockedGraph struct {
	c *ChannelGraph
}

// forEachNodeChannel calls cb for every channel of node.
//
// NOTE: Part of the routingGraph interface.
func (g lockedGraph) forEachNodeChannel(node route.Vertex,
	cb func(edge *ChannelEdge) error) error {

	for chanID := range g.c.nodeEdges[node] {
		if err := cb(g.c.edges[chanID]); err != nil {
			return err
		}
	}

	return nil
}

// hasNode reports whether node is part of the graph.
//
// NOTE: Part of the routingGraph interface.
func (g lockedGraph) hasNode(node route.Vertex) bool {
	_, ok := g.c.nodes[node]
	return ok
}

// withReadLock runs f on a consistent view of the graph.
func (c *ChannelGraph) withReadLock(f func(routingGraph) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return f(lockedGraph{c: c})
}

// ForwardPayment settles the remote hops of a route against the graph
// liquidity: every node after the source moves the amount it forwards from
// its side of the outgoing channel to the next node. Either all hops are
// applied or none, in memory and on disk; a hop lacking liquidity yields a
// ForwardingError.
func (c *ChannelGraph) ForwardPayment(ctx context.Context,
	rt *route.Route) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	updated := make([]*ChannelEdge, 0, len(rt.Hops))
	for i := 1; i < len(rt.Hops); i++ {
		from := rt.Hops[i-1].PubKeyBytes
		hop := rt.Hops[i]
		chanID := lnwire.NewShortChanIDFromInt(hop.ChannelID)

		existing, ok := c.edges[hop.ChannelID]
		if !ok {
			return &ForwardingError{
				FailureSourceIdx: i,
				ChannelID:        chanID,
				Reason: fmt.Errorf("%w: %v", ErrEdgeNotFound,
					chanID),
			}
		}

		amt := hop.AmtToReceive()
		if existing.Liquidity(from) < amt {
			return &ForwardingError{
				FailureSourceIdx: i,
				ChannelID:        chanID,
				Reason:           ErrTemporaryChannelFailure,
			}
		}

		e := existing.Copy()
		if err := e.setLiquidity(from, e.Liquidity(from)-amt); err != nil {
			return err
		}
		updated = append(updated, e)
	}

	if c.db != nil && len(updated) > 0 {
		if err := c.db.PutEdges(updated); err != nil {
			return err
		}
	}
	for _, e := range updated {
		c.edges[e.ChannelID.ToUint64()] = e
	}

	log.Debugf("Forwarded %v over %d remote hops", rt.ReceiverAmt(),
		len(updated))

	return nil
}
