package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnpay/invoices"
	"github.com/lightningnetwork/lnpay/lntypes"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/zpay32"
	"github.com/urfave/cli"
)

var (
	amtFlag = cli.Int64Flag{
		Name: "amt",
		Usage: "the amt of satoshis in this invoice, zero requests " +
			"any amount",
	}
	amtMsatFlag = cli.Int64Flag{
		Name:  "amt_msat",
		Usage: "the amt of millisatoshis in this invoice",
	}
	memoFlag = cli.StringFlag{
		Name:  "memo",
		Usage: "a description of the payment to attach along with the invoice",
	}
	expiryFlag = cli.Int64Flag{
		Name: "expiry",
		Usage: "the invoice's expiry time in seconds. If not " +
			"specified, the panel's invoice expiry is used.",
	}
)

var addInvoiceCommand = cli.Command{
	Name:     "addinvoice",
	Category: "Invoices",
	Usage:    "Add a new invoice.",
	Description: `
	Add a new invoice, expressing intent for a future payment.

	Invoices without an amount can be created by not supplying any
	parameters or providing an amount of 0. These invoices allow the payer
	to specify the amount of satoshis they wish to send.`,
	ArgsUsage: "value",
	Flags:     []cli.Flag{memoFlag, amtFlag, amtMsatFlag, expiryFlag},
	Action:    addInvoice,
}

func addInvoice(ctx *cli.Context) error {
	amt, err := invoiceAmount(ctx)
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	invoice, err := node.AddInvoice(
		amt, ctx.String("memo"), expiryOpts(ctx)...,
	)
	if err != nil {
		return err
	}

	printJSON(newInvoiceResp(invoice))

	return nil
}

var addHoldInvoiceCommand = cli.Command{
	Name:     "addholdinvoice",
	Category: "Invoices",
	Usage:    "Add a new hold invoice.",
	Description: `
	Add a new invoice, expressing intent for a future payment.

	Invoices without an amount can be created by not supplying any
	parameters or providing an amount of 0. These invoices allow the payer
	to specify the amount of satoshis they wish to send.

	The preimage stays with the caller. The invoice is settled with
	settleinvoice once a payment was accepted.`,
	ArgsUsage: "hash [amt]",
	Flags:     []cli.Flag{memoFlag, amtFlag, amtMsatFlag, expiryFlag},
	Action:    addHoldInvoice,
}

func addHoldInvoice(ctx *cli.Context) error {
	args := ctx.Args()
	if !args.Present() {
		return cli.ShowCommandHelp(ctx, "addholdinvoice")
	}

	hash, err := lntypes.MakeHashFromStr(args.First())
	if err != nil {
		return fmt.Errorf("unable to parse hash: %w", err)
	}

	amt, err := invoiceAmount(ctx)
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	invoice, err := node.AddHoldInvoice(
		hash, amt, ctx.String("memo"), expiryOpts(ctx)...,
	)
	if err != nil {
		return err
	}

	printJSON(newInvoiceResp(invoice))

	return nil
}

var settleInvoiceCommand = cli.Command{
	Name:     "settleinvoice",
	Category: "Invoices",
	Usage:    "Reveal a preimage and use it to settle the corresponding invoice.",
	Description: `
	Settle an accepted hold invoice using the preimage.`,
	ArgsUsage: "preimage",
	Action:    settleInvoice,
}

func settleInvoice(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "settleinvoice")
	}

	preimage, err := lntypes.MakePreimageFromStr(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("unable to parse preimage: %w", err)
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	hash := preimage.Hash()
	if err := node.Invoices.SettleInvoice(hash, preimage); err != nil {
		return err
	}

	return printInvoice(node.Invoices, hash)
}

var cancelInvoiceCommand = cli.Command{
	Name:      "cancelinvoice",
	Category:  "Invoices",
	Usage:     "Cancels a (hold) invoice.",
	ArgsUsage: "paymenthash",
	Action:    cancelInvoice,
}

func cancelInvoice(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "cancelinvoice")
	}

	hash, err := lntypes.MakeHashFromStr(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("unable to parse hash: %w", err)
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	if err := node.Invoices.CancelInvoice(hash); err != nil {
		return err
	}

	return printInvoice(node.Invoices, hash)
}

var lookupInvoiceCommand = cli.Command{
	Name:      "lookupinvoice",
	Category:  "Invoices",
	Usage:     "Lookup an existing invoice by its payment hash.",
	ArgsUsage: "rhash",
	Action:    lookupInvoice,
}

func lookupInvoice(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "lookupinvoice")
	}

	hash, err := lntypes.MakeHashFromStr(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("unable to parse hash: %w", err)
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	return printInvoice(node.Invoices, hash)
}

var listInvoicesCommand = cli.Command{
	Name:     "listinvoices",
	Category: "Invoices",
	Usage:    "List all invoices currently stored within the database.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "pending_only",
			Usage: "only list invoices which are open or accepted",
		},
	},
	Action: listInvoices,
}

func listInvoices(ctx *cli.Context) error {
	node, cleanUp := getNode(ctx)
	defer cleanUp()

	t := newTable("Payment Hash", "State", "Amount (msat)", "Paid (msat)",
		"Hold", "Created", "Expiry", "Memo")
	for _, invoice := range node.Invoices.Invoices() {
		if ctx.Bool("pending_only") && invoice.State.IsFinal() {
			continue
		}

		t.AppendRow([]interface{}{
			invoice.PaymentHash, invoice.State,
			uint64(invoice.Amount), uint64(invoice.AmtPaid),
			invoice.HodlInvoice,
			invoice.CreationDate.Format(time.RFC3339),
			invoice.Expiry.Format(time.RFC3339),
			invoice.Description,
		})
	}
	t.Render()

	return nil
}

var decodePayReqCommand = cli.Command{
	Name:      "decodepayreq",
	Category:  "Invoices",
	Usage:     "Decode a payment request.",
	ArgsUsage: "pay_req",
	Action:    decodePayReq,
}

func decodePayReq(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "decodepayreq")
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	invoice, err := node.Invoices.DecodePayReq(ctx.Args().First())
	if err != nil {
		return err
	}

	printJSON(newPayReqResp(invoice))

	return nil
}

// invoiceAmount reads the amount of a new invoice from the flags or the
// positional value argument.
func invoiceAmount(ctx *cli.Context) (lnwire.MilliSatoshi, error) {
	args := ctx.Args()
	if ctx.Command.Name == "addholdinvoice" {
		args = args.Tail()
	}

	amt := ctx.Int64("amt")
	amtMsat := ctx.Int64("amt_msat")
	if !ctx.IsSet("amt") && !ctx.IsSet("amt_msat") && args.Present() {
		if _, err := fmt.Sscan(args.First(), &amt); err != nil {
			return 0, fmt.Errorf("unable to decode amt argument: %w",
				err)
		}
	}

	switch {
	case amt < 0 || amtMsat < 0:
		return 0, fmt.Errorf("amount must not be negative")

	case amt != 0 && amtMsat != 0:
		return 0, fmt.Errorf("only one of amt and amt_msat may be set")

	case amtMsat != 0:
		return lnwire.MilliSatoshi(amtMsat), nil
	}

	return lnwire.MilliSatoshi(amt) * 1000, nil
}

func expiryOpts(ctx *cli.Context) []invoices.AddInvoiceOption {
	if !ctx.IsSet("expiry") {
		return nil
	}

	return []invoices.AddInvoiceOption{
		invoices.WithExpiry(time.Duration(ctx.Int64("expiry")) *
			time.Second),
	}
}

func printInvoice(registry *invoices.InvoiceRegistry,
	hash lntypes.Hash) error {

	invoice, err := registry.LookupInvoice(hash)
	if err != nil {
		return err
	}

	printJSON(newInvoiceResp(invoice))

	return nil
}

type invoiceResp struct {
	PaymentRequest string `json:"payment_request"`
	RHash          string `json:"r_hash"`
	RPreimage      string `json:"r_preimage,omitempty"`
	Memo           string `json:"memo"`
	ValueMsat      uint64 `json:"value_msat"`
	AmtPaidMsat    uint64 `json:"amt_paid_msat"`
	State          string `json:"state"`
	IsHold         bool   `json:"is_hold"`
	CreationDate   int64  `json:"creation_date"`
	Expiry         int64  `json:"expiry"`
	SettleDate     int64  `json:"settle_date,omitempty"`
	CltvExpiry     uint32 `json:"cltv_expiry"`
	AddIndex       uint64 `json:"add_index"`
}

func newInvoiceResp(invoice *invoices.Invoice) invoiceResp {
	resp := invoiceResp{
		PaymentRequest: invoice.PaymentRequest,
		RHash:          invoice.PaymentHash.String(),
		Memo:           invoice.Description,
		ValueMsat:      uint64(invoice.Amount),
		AmtPaidMsat:    uint64(invoice.AmtPaid),
		State:          invoice.State.String(),
		IsHold:         invoice.HodlInvoice,
		CreationDate:   invoice.CreationDate.Unix(),
		Expiry:         invoice.Expiry.Unix(),
		CltvExpiry:     invoice.FinalCltvDelta,
		AddIndex:       invoice.AddIndex,
	}
	invoice.Preimage.WhenSome(func(p lntypes.Preimage) {
		resp.RPreimage = p.String()
	})
	if !invoice.SettleDate.IsZero() {
		resp.SettleDate = invoice.SettleDate.Unix()
	}

	return resp
}

type payReqResp struct {
	Network       string `json:"network"`
	Destination   string `json:"destination,omitempty"`
	PaymentHash   string `json:"payment_hash"`
	NumMsat       uint64 `json:"num_msat"`
	Timestamp     int64  `json:"timestamp"`
	Expiry        int64  `json:"expiry"`
	Description   string `json:"description"`
	CltvExpiry    uint32 `json:"cltv_expiry"`
	PaymentSecret string `json:"payment_addr,omitempty"`
}

func newPayReqResp(invoice *zpay32.Invoice) payReqResp {
	resp := payReqResp{
		Network:     invoice.Net.Name,
		PaymentHash: invoice.PaymentHash.String(),
		NumMsat:     uint64(invoice.MilliSat.UnwrapOr(0)),
		Timestamp:   invoice.Timestamp.Unix(),
		Expiry:      invoice.Expiry.Unix(),
		Description: invoice.Description,
		CltvExpiry: invoice.MinFinalCLTVExpiry.UnwrapOr(
			zpay32.DefaultMinFinalCLTVExpiry,
		),
	}
	if invoice.Destination != nil {
		resp.Destination = hex.EncodeToString(
			invoice.Destination.SerializeCompressed(),
		)
	}
	invoice.PaymentSecret.WhenSome(func(s [32]byte) {
		resp.PaymentSecret = hex.EncodeToString(s[:])
	})

	return resp
}
