package channeldb

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing"
	"github.com/lightningnetwork/lnpay/routing/route"
)

const (
	nodePubKeyType tlv.Type = 0
	nodeAliasType  tlv.Type = 1
	nodeColorType  tlv.Type = 2
)

const (
	edgeChanIDType   tlv.Type = 0
	edgeNode1Type    tlv.Type = 1
	edgeNode2Type    tlv.Type = 2
	edgeCapacityType tlv.Type = 3
	edgeBaseFeeType  tlv.Type = 4
	edgeFeeRateType  tlv.Type = 5
	edgeDeltaType    tlv.Type = 6
	edgeBalance1Type tlv.Type = 7
	edgeBalance2Type tlv.Type = 8
)

// A compile time check to ensure DB implements routing.GraphPersister.
var _ routing.GraphPersister = (*DB)(nil)

// serializeNode encodes a graph node.
func serializeNode(n *routing.LightningNode) ([]byte, error) {
	var (
		pub   = [33]byte(n.PubKeyBytes)
		alias = []byte(n.Alias)
		color = []byte(n.Color)
	)

	return serializeRecords(
		tlv.MakePrimitiveRecord(nodePubKeyType, &pub),
		tlv.MakePrimitiveRecord(nodeAliasType, &alias),
		tlv.MakePrimitiveRecord(nodeColorType, &color),
	)
}

// deserializeNode decodes a graph node.
func deserializeNode(data []byte) (*routing.LightningNode, error) {
	var (
		pub   [33]byte
		alias []byte
		color []byte
	)

	_, err := deserializeRecords(data,
		tlv.MakePrimitiveRecord(nodePubKeyType, &pub),
		tlv.MakePrimitiveRecord(nodeAliasType, &alias),
		tlv.MakePrimitiveRecord(nodeColorType, &color),
	)
	if err != nil {
		return nil, err
	}

	return &routing.LightningNode{
		PubKeyBytes: route.Vertex(pub),
		Alias:       string(alias),
		Color:       string(color),
	}, nil
}

// serializeEdge encodes a channel edge with its policy and liquidity.
func serializeEdge(e *routing.ChannelEdge) ([]byte, error) {
	var (
		scid     = e.ChannelID
		node1    = [33]byte(e.NodeKey1Bytes)
		node2    = [33]byte(e.NodeKey2Bytes)
		capacity = uint64(e.Capacity)
		baseFee  = uint64(e.Policy.FeeBaseMSat)
		feeRate  = uint64(e.Policy.FeeProportionalMillionths)
		delta    = e.Policy.TimeLockDelta
		balance1 = uint64(e.Node1Balance)
		balance2 = uint64(e.Node2Balance)
	)

	return serializeRecords(
		scid.Record(edgeChanIDType),
		tlv.MakePrimitiveRecord(edgeNode1Type, &node1),
		tlv.MakePrimitiveRecord(edgeNode2Type, &node2),
		tlv.MakePrimitiveRecord(edgeCapacityType, &capacity),
		tlv.MakePrimitiveRecord(edgeBaseFeeType, &baseFee),
		tlv.MakePrimitiveRecord(edgeFeeRateType, &feeRate),
		tlv.MakePrimitiveRecord(edgeDeltaType, &delta),
		tlv.MakePrimitiveRecord(edgeBalance1Type, &balance1),
		tlv.MakePrimitiveRecord(edgeBalance2Type, &balance2),
	)
}

// deserializeEdge decodes a channel edge.
func deserializeEdge(data []byte) (*routing.ChannelEdge, error) {
	var (
		scid     lnwire.ShortChannelID
		node1    [33]byte
		node2    [33]byte
		capacity uint64
		baseFee  uint64
		feeRate  uint64
		delta    uint16
		balance1 uint64
		balance2 uint64
	)

	_, err := deserializeRecords(data,
		scid.Record(edgeChanIDType),
		tlv.MakePrimitiveRecord(edgeNode1Type, &node1),
		tlv.MakePrimitiveRecord(edgeNode2Type, &node2),
		tlv.MakePrimitiveRecord(edgeCapacityType, &capacity),
		tlv.MakePrimitiveRecord(edgeBaseFeeType, &baseFee),
		tlv.MakePrimitiveRecord(edgeFeeRateType, &feeRate),
		tlv.MakePrimitiveRecord(edgeDeltaType, &delta),
		tlv.MakePrimitiveRecord(edgeBalance1Type, &balance1),
		tlv.MakePrimitiveRecord(edgeBalance2Type, &balance2),
	)
	if err != nil {
		return nil, err
	}

	return &routing.ChannelEdge{
		ChannelID:     scid,
		NodeKey1Bytes: route.Vertex(node1),
		NodeKey2Bytes: route.Vertex(node2),
		Capacity:      btcutil.Amount(capacity),
		Policy: routing.FeePolicy{
			FeeBaseMSat:               lnwire.MilliSatoshi(baseFee),
			FeeProportionalMillionths: lnwire.MilliSatoshi(feeRate),
			TimeLockDelta:             delta,
		},
		Node1Balance: lnwire.MilliSatoshi(balance1),
		Node2Balance: lnwire.MilliSatoshi(balance2),
	}, nil
}

// edgeKey is the bucket key of an edge, the big endian short channel id so
// cursor scans run in channel order.
func edgeKey(chanID lnwire.ShortChannelID) []byte {
	var k [8]byte
	byteOrder.PutUint64(k[:], chanID.ToUint64())

	return k[:]
}

// PutNode inserts or overwrites a node.
func (d *DB) PutNode(node *routing.LightningNode) error {
	value, err := serializeNode(node)
	if err != nil {
		return err
	}

	return d.putRecord(graphNodeBucket, node.PubKeyBytes[:], value)
}

// PutEdge inserts or overwrites a channel edge.
func (d *DB) PutEdge(edge *routing.ChannelEdge) error {
	value, err := serializeEdge(edge)
	if err != nil {
		return err
	}

	return d.putRecord(graphEdgeBucket, edgeKey(edge.ChannelID), value)
}

// PutEdges writes several channel edges in one transaction, so either all
// of them are stored or none.
func (d *DB) PutEdges(edges []*routing.ChannelEdge) error {
	values := make([][]byte, len(edges))
	for i, edge := range edges {
		value, err := serializeEdge(edge)
		if err != nil {
			return err
		}
		values[i] = value
	}

	return kvdb.Update(d, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(graphEdgeBucket)
		for i, edge := range edges {
			err := bucket.Put(edgeKey(edge.ChannelID), values[i])
			if err != nil {
				return err
			}
		}

		return nil
	}, func() {})
}

// DeleteEdge removes a channel edge.
func (d *DB) DeleteEdge(chanID lnwire.ShortChannelID) error {
	return d.deleteRecord(graphEdgeBucket, edgeKey(chanID))
}

// FetchGraph returns all stored nodes and edges. Both are read in a single
// transaction.
func (d *DB) FetchGraph() ([]*routing.LightningNode, []*routing.ChannelEdge,
	error) {

	var (
		nodes []*routing.LightningNode
		edges []*routing.ChannelEdge
	)
	err := kvdb.View(d, func(tx kvdb.RTx) error {
		err := tx.ReadBucket(graphNodeBucket).ForEach(
			func(_, v []byte) error {
				node, err := deserializeNode(v)
				if err != nil {
					return err
				}
				nodes = append(nodes, node)

				return nil
			},
		)
		if err != nil {
			return err
		}

		return tx.ReadBucket(graphEdgeBucket).ForEach(
			func(_, v []byte) error {
				edge, err := deserializeEdge(v)
				if err != nil {
					return err
				}
				edges = append(edges, edge)

				return nil
			},
		)
	}, func() {
		nodes, edges = nil, nil
	})
	if err != nil {
		return nil, nil, err
	}

	return nodes, edges, nil
}
