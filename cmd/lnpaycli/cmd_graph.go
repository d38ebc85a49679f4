package main

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing"
	"github.com/lightningnetwork/lnpay/routing/route"
	"github.com/urfave/cli"
)

var addNodeCommand = cli.Command{
	Name:      "addnode",
	Category:  "Graph",
	Usage:     "Add or update a node of the channel graph.",
	ArgsUsage: "pub_key",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "alias",
			Usage: "the alias the node announces",
		},
		cli.StringFlag{
			Name:  "color",
			Usage: "the color the node announces in #rrggbb form",
		},
	},
	Action: addNode,
}

func addNode(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "addnode")
	}

	pub, err := route.NewVertexFromStr(ctx.Args().First())
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	err = node.Graph.AddLightningNode(&routing.LightningNode{
		PubKeyBytes: pub,
		Alias:       ctx.String("alias"),
		Color:       ctx.String("color"),
	})
	if err != nil {
		return err
	}

	lightningNode, err := node.Graph.FetchNode(pub)
	if err != nil {
		return err
	}

	printJSON(newNodeResp(lightningNode))

	return nil
}

var addEdgeCommand = cli.Command{
	Name:     "addedge",
	Category: "Graph",
	Usage:    "Add a channel between two remote nodes to the graph.",
	Description: `
	Add a channel of the wider network to the graph, so payments can be
	routed over it. Unknown endpoints are added as nodes. Without
	node1_balance the capacity is split evenly between both sides.`,
	ArgsUsage: "chan_id node1 node2 capacity",
	Flags: []cli.Flag{
		cli.Int64Flag{
			Name:  "node1_balance_msat",
			Usage: "the amount node1 can send over the channel",
		},
		cli.Int64Flag{
			Name:  "base_fee_msat",
			Usage: "the base fee charged for forwarding",
			Value: 1000,
		},
		cli.Int64Flag{
			Name: "fee_rate_ppm",
			Usage: "the fee charged per million forwarded " +
				"millisatoshis",
			Value: 1,
		},
		cli.UintFlag{
			Name:  "time_lock_delta",
			Usage: "the cltv delta required for forwarding",
			Value: 40,
		},
	},
	Action: addEdge,
}

func addEdge(ctx *cli.Context) error {
	if ctx.NArg() != 4 {
		return cli.ShowCommandHelp(ctx, "addedge")
	}
	args := ctx.Args()

	scid, err := lnwire.ParseShortChanID(args.Get(0))
	if err != nil {
		return err
	}
	node1, err := route.NewVertexFromStr(args.Get(1))
	if err != nil {
		return fmt.Errorf("invalid node1: %w", err)
	}
	node2, err := route.NewVertexFromStr(args.Get(2))
	if err != nil {
		return fmt.Errorf("invalid node2: %w", err)
	}
	var capacity int64
	if _, err := fmt.Sscan(args.Get(3), &capacity); err != nil {
		return fmt.Errorf("unable to decode capacity: %w", err)
	}

	edge := &routing.ChannelEdge{
		ChannelID:     scid,
		NodeKey1Bytes: node1,
		NodeKey2Bytes: node2,
		Capacity:      btcutil.Amount(capacity),
		Policy: routing.FeePolicy{
			FeeBaseMSat: lnwire.MilliSatoshi(
				ctx.Int64("base_fee_msat"),
			),
			FeeProportionalMillionths: lnwire.MilliSatoshi(
				ctx.Int64("fee_rate_ppm"),
			),
			TimeLockDelta: uint16(ctx.Uint("time_lock_delta")),
		},
	}
	if ctx.IsSet("node1_balance_msat") {
		edge.Node1Balance = lnwire.MilliSatoshi(
			ctx.Int64("node1_balance_msat"),
		)
		edge.Node2Balance = lnwire.NewMSatFromSatoshis(
			edge.Capacity,
		) - edge.Node1Balance
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	if err := node.Graph.AddChannel(edge); err != nil {
		return err
	}

	stored, err := node.Graph.FetchChannel(scid)
	if err != nil {
		return err
	}

	printJSON(newEdgeResp(stored))

	return nil
}

var describeGraphCommand = cli.Command{
	Name:     "describegraph",
	Category: "Graph",
	Usage:    "Describe the network graph.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "json",
			Usage: "print the graph as JSON instead of tables",
		},
	},
	Action: describeGraph,
}

func describeGraph(ctx *cli.Context) error {
	node, cleanUp := getNode(ctx)
	defer cleanUp()

	nodes := node.Graph.Nodes()
	edges := node.Graph.Channels()

	if ctx.Bool("json") {
		resp := struct {
			Nodes []nodeResp `json:"nodes"`
			Edges []edgeResp `json:"edges"`
		}{
			Nodes: make([]nodeResp, 0, len(nodes)),
			Edges: make([]edgeResp, 0, len(edges)),
		}
		for _, n := range nodes {
			resp.Nodes = append(resp.Nodes, newNodeResp(n))
		}
		for _, e := range edges {
			resp.Edges = append(resp.Edges, newEdgeResp(e))
		}
		printJSON(resp)

		return nil
	}

	nt := newTable("Pub Key", "Alias", "Color")
	for _, n := range nodes {
		nt.AppendRow([]interface{}{n.PubKeyBytes, n.Alias, n.Color})
	}
	nt.Render()

	et := newTable("Chan ID", "Node 1", "Node 2", "Capacity",
		"Node 1 (msat)", "Node 2 (msat)", "Base Fee", "Fee Rate",
		"CLTV Delta")
	for _, e := range edges {
		et.AppendRow([]interface{}{
			e.ChannelID, e.NodeKey1Bytes, e.NodeKey2Bytes,
			e.Capacity, uint64(e.Node1Balance),
			uint64(e.Node2Balance), uint64(e.Policy.FeeBaseMSat),
			uint64(e.Policy.FeeProportionalMillionths),
			e.Policy.TimeLockDelta,
		})
	}
	et.Render()

	return nil
}

var queryRoutesCommand = cli.Command{
	Name:      "queryroutes",
	Category:  "Payments",
	Usage:     "Query a route to a destination.",
	ArgsUsage: "dest amt",
	Flags: []cli.Flag{
		cli.Int64Flag{
			Name:  "amt_msat",
			Usage: "the amount to send expressed in millisatoshis",
		},
		cli.UintFlag{
			Name:  "final_cltv_delta",
			Usage: "number of blocks the last hop has to reveal the preimage",
			Value: 40,
		},
		cli.StringSliceFlag{
			Name:  "ignore_node",
			Usage: "a node that the route must not traverse",
		},
	},
	Action: queryRoutes,
}

func queryRoutes(ctx *cli.Context) error {
	args := ctx.Args()
	if !args.Present() {
		return cli.ShowCommandHelp(ctx, "queryroutes")
	}

	target, err := route.NewVertexFromStr(args.First())
	if err != nil {
		return err
	}

	amt := lnwire.MilliSatoshi(ctx.Int64("amt_msat"))
	if !ctx.IsSet("amt_msat") && cli.Args(args.Tail()).Present() {
		var sat int64
		_, err := fmt.Sscan(cli.Args(args.Tail()).First(), &sat)
		if err != nil {
			return fmt.Errorf("unable to decode amt: %w", err)
		}
		amt = lnwire.NewMSatFromSatoshis(btcutil.Amount(sat))
	}

	ignoredNodes := make(map[route.Vertex]struct{})
	for _, s := range ctx.StringSlice("ignore_node") {
		v, err := route.NewVertexFromStr(s)
		if err != nil {
			return err
		}
		ignoredNodes[v] = struct{}{}
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	rt, err := node.Router.FindRoute(&routing.RouteRequest{
		Target:         target,
		Amount:         amt,
		FinalCltvDelta: uint32(ctx.Uint("final_cltv_delta")),
		IgnoredNodes:   ignoredNodes,
	})
	if err != nil {
		return err
	}

	printJSON(newRouteResp(rt))

	return nil
}

type nodeResp struct {
	PubKey string `json:"pub_key"`
	Alias  string `json:"alias"`
	Color  string `json:"color"`
}

func newNodeResp(n *routing.LightningNode) nodeResp {
	return nodeResp{
		PubKey: n.PubKeyBytes.String(),
		Alias:  n.Alias,
		Color:  n.Color,
	}
}

type edgeResp struct {
	ChannelID     uint64 `json:"channel_id"`
	ChanPoint     string `json:"chan_point"`
	Node1Pub      string `json:"node1_pub"`
	Node2Pub      string `json:"node2_pub"`
	Capacity      int64  `json:"capacity"`
	Node1Balance  uint64 `json:"node1_balance_msat"`
	Node2Balance  uint64 `json:"node2_balance_msat"`
	FeeBaseMsat   uint64 `json:"fee_base_msat"`
	FeeRateMilli  uint64 `json:"fee_rate_milli_msat"`
	TimeLockDelta uint16 `json:"time_lock_delta"`
}

func newEdgeResp(e *routing.ChannelEdge) edgeResp {
	return edgeResp{
		ChannelID:     e.ChannelID.ToUint64(),
		ChanPoint:     e.ChannelID.String(),
		Node1Pub:      e.NodeKey1Bytes.String(),
		Node2Pub:      e.NodeKey2Bytes.String(),
		Capacity:      int64(e.Capacity),
		Node1Balance:  uint64(e.Node1Balance),
		Node2Balance:  uint64(e.Node2Balance),
		FeeBaseMsat:   uint64(e.Policy.FeeBaseMSat),
		FeeRateMilli:  uint64(e.Policy.FeeProportionalMillionths),
		TimeLockDelta: e.Policy.TimeLockDelta,
	}
}

type hopResp struct {
	ChanID       uint64 `json:"chan_id"`
	PubKey       string `json:"pub_key"`
	AmtToForward uint64 `json:"amt_to_forward_msat"`
	FeeMsat      uint64 `json:"fee_msat"`
	Expiry       uint32 `json:"expiry"`
}

type routeResp struct {
	TotalTimeLock uint32    `json:"total_time_lock"`
	TotalFeesMsat uint64    `json:"total_fees_msat"`
	TotalAmtMsat  uint64    `json:"total_amt_msat"`
	Hops          []hopResp `json:"hops"`
}

func newRouteResp(rt *route.Route) routeResp {
	resp := routeResp{
		TotalTimeLock: rt.TotalCltvDelta,
		TotalFeesMsat: uint64(rt.TotalFees()),
		TotalAmtMsat:  uint64(rt.TotalAmount),
		Hops:          make([]hopResp, 0, len(rt.Hops)),
	}
	for i, hop := range rt.Hops {
		resp.Hops = append(resp.Hops, hopResp{
			ChanID:       hop.ChannelID,
			PubKey:       hop.PubKeyBytes.String(),
			AmtToForward: uint64(hop.AmtToForward),
			FeeMsat:      uint64(rt.HopFee(i)),
			Expiry:       uint32(hop.CltvExpiryDelta),
		})
	}

	return resp
}
