package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/escrow"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/urfave/cli"
)

var (
	timeoutFlag = cli.DurationFlag{
		Name: "timeout",
		Usage: "the time after which an undisputed escrow is " +
			"refunded, defaults to the configured escrow timeout",
	}
	preimageFlag = cli.StringFlag{
		Name:  "preimage",
		Usage: "the preimage releasing a hold escrow",
	}
)

var escrowCommand = cli.Command{
	Name:     "escrow",
	Category: "Escrow",
	Usage:    "Fund and settle escrows.",
	Subcommands: []cli.Command{
		{
			Name:      "hold",
			Usage:     "Lock channel funds against a payment hash.",
			ArgsUsage: "chan_id amt payment_hash",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "memo",
					Usage: "the description of the hold invoice",
					Value: "escrow",
				},
				timeoutFlag,
			},
			Action: fundHoldEscrow,
		},
		{
			Name:      "multisig",
			Usage:     "Record a 2-of-3 on-chain escrow.",
			ArgsUsage: "funder claimant arbiter amt",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "outpoint",
					Usage: "the funding outpoint as txid:index",
				},
				timeoutFlag,
			},
			Action: fundMultiSigEscrow,
		},
		{
			Name:      "approve",
			Usage:     "Approve the release of a multisig escrow.",
			ArgsUsage: "id participant",
			Action:    approveEscrow,
		},
		{
			Name:      "release",
			Usage:     "Release an escrow to the claimant.",
			ArgsUsage: "id",
			Flags:     []cli.Flag{preimageFlag},
			Action:    releaseEscrow,
		},
		{
			Name:      "refund",
			Usage:     "Refund an escrow to the funder.",
			ArgsUsage: "id",
			Action:    refundEscrow,
		},
		{
			Name:      "dispute",
			Usage:     "Dispute an open escrow.",
			ArgsUsage: "id reason",
			Action:    disputeEscrow,
		},
		{
			Name:      "resolve",
			Usage:     "Resolve a disputed escrow.",
			ArgsUsage: "id released|refunded",
			Flags:     []cli.Flag{preimageFlag},
			Action:    resolveEscrow,
		},
		{
			Name:   "list",
			Usage:  "List all escrows.",
			Action: listEscrows,
		},
	},
}

func fundHoldEscrow(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return cli.ShowSubcommandHelp(ctx)
	}
	args := ctx.Args()

	chanID, err := lnwire.NewChanIDFromStr(args.Get(0))
	if err != nil {
		return err
	}
	var amt int64
	if _, err := fmt.Sscan(args.Get(1), &amt); err != nil {
		return fmt.Errorf("unable to decode amt: %w", err)
	}
	hash, err := lntypes.MakeHashFromStr(args.Get(2))
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	e, err := node.FundHoldEscrow(&escrow.HoldRequest{
		ChanID:      chanID,
		Amount:      btcutil.Amount(amt),
		PaymentHash: hash,
		Description: ctx.String("memo"),
		Timeout:     ctx.Duration("timeout"),
	})
	if err != nil {
		return err
	}

	printJSON(newEscrowResp(e))

	return nil
}

func fundMultiSigEscrow(ctx *cli.Context) error {
	if ctx.NArg() != 4 {
		return cli.ShowSubcommandHelp(ctx)
	}
	args := ctx.Args()

	var keys [3]*btcec.PublicKey
	for i := range keys {
		key, err := parsePubKey(args.Get(i))
		if err != nil {
			return err
		}
		keys[i] = key
	}

	var amt int64
	if _, err := fmt.Sscan(args.Get(3), &amt); err != nil {
		return fmt.Errorf("unable to decode amt: %w", err)
	}

	req := &escrow.MultiSigRequest{
		Funder:   keys[0],
		Claimant: keys[1],
		Arbiter:  keys[2],
		Amount:   btcutil.Amount(amt),
		Timeout:  ctx.Duration("timeout"),
	}
	if ctx.IsSet("outpoint") {
		op, err := wire.NewOutPointFromString(ctx.String("outpoint"))
		if err != nil {
			return err
		}
		req.FundingOutpoint = fn.Some(*op)
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	e, err := node.FundMultiSigEscrow(req)
	if err != nil {
		return err
	}

	printJSON(newEscrowResp(e))

	return nil
}

func approveEscrow(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowSubcommandHelp(ctx)
	}

	id, err := lntypes.MakeHashFromStr(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	participant, err := parsePubKey(ctx.Args().Get(1))
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	e, err := node.Escrows.Approve(id, participant)
	if err != nil {
		return err
	}

	printJSON(newEscrowResp(e))

	return nil
}

func releaseEscrow(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowSubcommandHelp(ctx)
	}

	id, err := lntypes.MakeHashFromStr(ctx.Args().First())
	if err != nil {
		return err
	}
	preimage, err := preimageOpt(ctx)
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	e, err := node.Escrows.Release(id, preimage)
	if err != nil {
		return err
	}

	printJSON(newEscrowResp(e))

	return nil
}

func refundEscrow(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowSubcommandHelp(ctx)
	}

	id, err := lntypes.MakeHashFromStr(ctx.Args().First())
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	e, err := node.Escrows.Refund(id)
	if err != nil {
		return err
	}

	printJSON(newEscrowResp(e))

	return nil
}

func disputeEscrow(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return cli.ShowSubcommandHelp(ctx)
	}

	id, err := lntypes.MakeHashFromStr(ctx.Args().First())
	if err != nil {
		return err
	}
	reason := strings.Join(ctx.Args().Tail(), " ")

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	e, err := node.Escrows.Dispute(id, reason)
	if err != nil {
		return err
	}

	printJSON(newEscrowResp(e))

	return nil
}

func resolveEscrow(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowSubcommandHelp(ctx)
	}

	id, err := lntypes.MakeHashFromStr(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	var outcome escrow.Status
	switch strings.ToLower(ctx.Args().Get(1)) {
	case "released", "release":
		outcome = escrow.StatusReleased

	case "refunded", "refund":
		outcome = escrow.StatusRefunded

	default:
		return fmt.Errorf("unknown outcome %q, must be released or "+
			"refunded", ctx.Args().Get(1))
	}

	preimage, err := preimageOpt(ctx)
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	e, err := node.Escrows.Resolve(id, outcome, preimage)
	if err != nil {
		return err
	}

	printJSON(newEscrowResp(e))

	return nil
}

func listEscrows(ctx *cli.Context) error {
	node, cleanUp := getNode(ctx)
	defer cleanUp()

	t := newTable("ID", "Type", "Status", "Amount", "Created", "Deadline")
	for _, e := range node.Escrows.List() {
		t.AppendRow([]interface{}{
			e.ID, e.Contract.Type(), e.Status, e.Amount,
			e.CreatedAt.Format(time.RFC3339),
			e.Deadline.Format(time.RFC3339),
		})
	}
	t.Render()

	return nil
}

func parsePubKey(s string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("unable to decode pubkey: %w", err)
	}

	return btcec.ParsePubKey(b)
}

func preimageOpt(ctx *cli.Context) (fn.Option[lntypes.Preimage], error) {
	if !ctx.IsSet("preimage") {
		return fn.None[lntypes.Preimage](), nil
	}

	preimage, err := lntypes.MakePreimageFromStr(ctx.String("preimage"))
	if err != nil {
		return fn.None[lntypes.Preimage](), err
	}

	return fn.Some(preimage), nil
}

type escrowResp struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Status         string   `json:"status"`
	Amount         int64    `json:"amount"`
	CreatedAt      int64    `json:"created_at"`
	Deadline       int64    `json:"deadline"`
	ClosedAt       int64    `json:"closed_at,omitempty"`
	DisputeReason  string   `json:"dispute_reason,omitempty"`
	Resolution     string   `json:"resolution,omitempty"`
	ChanID         string   `json:"chan_id,omitempty"`
	PaymentRequest string   `json:"payment_request,omitempty"`
	Preimage       string   `json:"preimage,omitempty"`
	Address        string   `json:"address,omitempty"`
	WitnessScript  string   `json:"witness_script,omitempty"`
	Outpoint       string   `json:"outpoint,omitempty"`
	Approvals      []string `json:"approvals,omitempty"`
}

func newEscrowResp(e *escrow.Escrow) escrowResp {
	resp := escrowResp{
		ID:            e.ID.String(),
		Type:          e.Contract.Type().String(),
		Status:        e.Status.String(),
		Amount:        int64(e.Amount),
		CreatedAt:     e.CreatedAt.Unix(),
		Deadline:      e.Deadline.Unix(),
		DisputeReason: e.DisputeReason,
	}
	if !e.ClosedAt.IsZero() {
		resp.ClosedAt = e.ClosedAt.Unix()
	}
	e.Resolution.WhenSome(func(s escrow.Status) {
		resp.Resolution = s.String()
	})

	switch c := e.Contract.(type) {
	case *escrow.LightningHold:
		resp.ChanID = c.ChanID.String()
		resp.PaymentRequest = c.PaymentRequest
		c.Preimage.WhenSome(func(p lntypes.Preimage) {
			resp.Preimage = p.String()
		})

	case *escrow.MultiSig:
		resp.Address = c.Address
		resp.WitnessScript = hex.EncodeToString(c.WitnessScript)
		c.FundingOutpoint.WhenSome(func(op wire.OutPoint) {
			resp.Outpoint = op.String()
		})
		for _, a := range c.Approvals {
			resp.Approvals = append(resp.Approvals, a.String())
		}
	}

	return resp
}
