package main

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnpay/chanstore"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/urfave/cli"
)

var getInfoCommand = cli.Command{
	Name:   "getinfo",
	Usage:  "Returns basic information related to the node.",
	Action: getInfo,
}

func getInfo(ctx *cli.Context) error {
	node, cleanUp := getNode(ctx)
	defer cleanUp()

	var numActive, numPending, numClosed int
	for _, c := range node.Channels.List() {
		switch {
		case c.State == chanstore.StateActive:
			numActive++

		case c.State == chanstore.StateOpening:
			numPending++

		default:
			numClosed++
		}
	}

	settings := node.Panel.Settings()
	self, err := node.Graph.FetchNode(node.IdentityPubKey())
	if err != nil {
		return err
	}

	printJSON(struct {
		IdentityPubkey     string `json:"identity_pubkey"`
		Alias              string `json:"alias"`
		Color              string `json:"color"`
		Network            string `json:"network"`
		LightningEnabled   bool   `json:"lightning_enabled"`
		AutoManage         bool   `json:"auto_channel_management"`
		NumActiveChannels  int    `json:"num_active_channels"`
		NumPendingChannels int    `json:"num_pending_channels"`
		NumClosedChannels  int    `json:"num_closed_channels"`
		LocalBalanceMSat   uint64 `json:"local_balance_msat"`
		NumGraphNodes      int    `json:"num_graph_nodes"`
		NumGraphEdges      int    `json:"num_graph_edges"`
	}{
		IdentityPubkey:     node.IdentityPubKey().String(),
		Alias:              self.Alias,
		Color:              self.Color,
		Network:            settings.DefaultNetwork,
		LightningEnabled:   settings.LightningEnabled,
		AutoManage:         settings.AutoChannelManagement,
		NumActiveChannels:  numActive,
		NumPendingChannels: numPending,
		NumClosedChannels:  numClosed,
		LocalBalanceMSat:   uint64(node.Channels.TotalLocalBalance()),
		NumGraphNodes:      len(node.Graph.Nodes()),
		NumGraphEdges:      len(node.Graph.Channels()),
	})

	return nil
}

var openChannelCommand = cli.Command{
	Name:     "openchannel",
	Category: "Channels",
	Usage:    "Open a channel to a node.",
	Description: `
	Open a new channel with a peer. With auto channel management on the
	funding is confirmed by the node right away, otherwise the channel
	stays pending until confirmchannel is called.`,
	ArgsUsage: "node-key local-amt push-amt",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "node_key",
			Usage: "the identity public key of the target node",
		},
		cli.Int64Flag{
			Name:  "local_amt",
			Usage: "the capacity of the channel in satoshis",
		},
		cli.Int64Flag{
			Name: "push_amt",
			Usage: "the number of satoshis to give the remote side " +
				"as part of the initial commitment state",
		},
	},
	Action: openChannel,
}

func openChannel(ctx *cli.Context) error {
	args := ctx.Args()

	nodeKey := ctx.String("node_key")
	if !ctx.IsSet("node_key") && args.Present() {
		nodeKey = args.First()
		args = args.Tail()
	}
	peer, err := hex.DecodeString(nodeKey)
	if err != nil {
		return fmt.Errorf("unable to decode node key: %w", err)
	}

	localAmt, err := int64FlagOrArg(ctx, "local_amt", &args)
	if err != nil {
		return err
	}
	pushAmt, err := int64FlagOrArg(ctx, "push_amt", &args)
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	c, err := node.OpenChannel(
		getContext(), peer, btcutil.Amount(localAmt),
		btcutil.Amount(pushAmt),
	).Await(getContext())
	if err != nil {
		return err
	}

	printJSON(newChannelResp(c))

	return nil
}

var confirmChannelCommand = cli.Command{
	Name:      "confirmchannel",
	Category:  "Channels",
	Usage:     "Confirm the funding of a pending channel.",
	ArgsUsage: "chan-id short-chan-id",
	Description: `
	Mark the funding of a pending channel as confirmed at the given short
	channel id, given as an integer or as height:index:position.`,
	Action: confirmChannel,
}

func confirmChannel(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "confirmchannel")
	}

	chanID, err := lnwire.NewChanIDFromStr(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	scid, err := lnwire.ParseShortChanID(ctx.Args().Get(1))
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	c, err := node.ConfirmChannel(getContext(), chanID, scid).Await(
		getContext(),
	)
	if err != nil {
		return err
	}

	printJSON(newChannelResp(c))

	return nil
}

var closeChannelCommand = cli.Command{
	Name:      "closechannel",
	Category:  "Channels",
	Usage:     "Close an existing channel.",
	ArgsUsage: "chan-id",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name: "force",
			Usage: "attempt an uncooperative closure, also " +
				"abandons a channel whose funding failed",
		},
	},
	Action: closeChannel,
}

func closeChannel(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "closechannel")
	}

	chanID, err := lnwire.NewChanIDFromStr(ctx.Args().First())
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	c, err := node.CloseChannel(
		getContext(), chanID, ctx.Bool("force"),
	).Await(getContext())
	if err != nil {
		return err
	}

	printJSON(newChannelResp(c))

	return nil
}

var listChannelsCommand = cli.Command{
	Name:     "listchannels",
	Category: "Channels",
	Usage:    "List all channels.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "active_only",
			Usage: "only list channels which are currently active",
		},
		cli.BoolFlag{
			Name:  "json",
			Usage: "print the channels as JSON instead of a table",
		},
	},
	Action: listChannels,
}

func listChannels(ctx *cli.Context) error {
	node, cleanUp := getNode(ctx)
	defer cleanUp()

	channels := node.Channels.List()
	if ctx.Bool("active_only") {
		channels = node.Channels.Active()
	}

	if ctx.Bool("json") {
		resp := make([]channelResp, 0, len(channels))
		for _, c := range channels {
			resp = append(resp, newChannelResp(c))
		}
		printJSON(resp)

		return nil
	}

	t := newTable("Chan ID", "SCID", "Peer", "State", "Capacity",
		"Local (msat)", "Remote (msat)", "Available (msat)")
	for _, c := range channels {
		t.AppendRow([]interface{}{
			c.ChanID, c.ShortChanID, fmt.Sprintf("%x", c.PeerPub),
			c.State, c.Capacity, uint64(c.LocalBalance),
			uint64(c.RemoteBalance),
			uint64(node.Channels.AvailableBalance(c.ChanID)),
		})
	}
	t.AppendFooter([]interface{}{
		"", "", "", "Total", "",
		uint64(node.Channels.TotalLocalBalance()), "",
		uint64(node.Channels.TotalAvailableBalance()),
	})
	t.Render()

	return nil
}

type channelResp struct {
	ChanID        string `json:"chan_id"`
	ShortChanID   string `json:"short_chan_id,omitempty"`
	RemotePubkey  string `json:"remote_pubkey"`
	State         string `json:"state"`
	Capacity      int64  `json:"capacity"`
	PushAmount    int64  `json:"push_amount"`
	LocalBalance  uint64 `json:"local_balance_msat"`
	RemoteBalance uint64 `json:"remote_balance_msat"`
	OpenedAt      int64  `json:"opened_at"`
	ClosedAt      int64  `json:"closed_at,omitempty"`
}

func newChannelResp(c *chanstore.Channel) channelResp {
	resp := channelResp{
		ChanID:        c.ChanID.String(),
		RemotePubkey:  hex.EncodeToString(c.PeerPub[:]),
		State:         c.State.String(),
		Capacity:      int64(c.Capacity),
		PushAmount:    int64(c.PushAmount),
		LocalBalance:  uint64(c.LocalBalance),
		RemoteBalance: uint64(c.RemoteBalance),
		OpenedAt:      c.OpenedAt.Unix(),
	}
	if !c.ShortChanID.IsDefault() {
		resp.ShortChanID = c.ShortChanID.String()
	}
	if !c.ClosedAt.IsZero() {
		resp.ClosedAt = c.ClosedAt.Unix()
	}

	return resp
}

// int64FlagOrArg reads an integer from the named flag, or from the next
// positional argument when the flag is not set.
func int64FlagOrArg(ctx *cli.Context, name string,
	args *cli.Args) (int64, error) {

	if ctx.IsSet(name) || !args.Present() {
		return ctx.Int64(name), nil
	}

	var v int64
	if _, err := fmt.Sscan(args.First(), &v); err != nil {
		return 0, fmt.Errorf("unable to decode %v: %w", name, err)
	}
	*args = args.Tail()

	return v, nil
}
