package main

import (
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/payments"
	"github.com/lightningnetwork/lnpay/routing/route"
	"github.com/urfave/cli"
)

var payInvoiceCommand = cli.Command{
	Name:      "payinvoice",
	Category:  "Payments",
	Usage:     "Pay an invoice over lightning.",
	ArgsUsage: "pay_req",
	Flags: []cli.Flag{
		cli.Int64Flag{
			Name: "amt",
			Usage: "number of satoshis to fulfill the invoice, " +
				"only for invoices without an amount",
		},
		cli.StringFlag{
			Name: "dest",
			Usage: "the destination node, overriding the one " +
				"named by the invoice",
		},
	},
	Action: payInvoice,
}

func payInvoice(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "payinvoice")
	}

	req := &payments.SendRequest{
		PaymentRequest: ctx.Args().First(),
		Amount:         lnwire.MilliSatoshi(ctx.Int64("amt")) * 1000,
	}
	if ctx.IsSet("dest") {
		dest, err := route.NewVertexFromStr(ctx.String("dest"))
		if err != nil {
			return err
		}
		req.Destination = fn.Some(dest)
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	payment, err := node.SendPayment(getContext(), req)
	if payment != nil {
		printJSON(newPaymentResp(payment))
	}
	if err != nil {
		return fmt.Errorf("payment failed: %w", err)
	}

	return nil
}

var listPaymentsCommand = cli.Command{
	Name:     "listpayments",
	Category: "Payments",
	Usage:    "List all outgoing payments.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "include_incomplete",
			Usage: "include payments that have not succeeded",
		},
		cli.BoolFlag{
			Name:  "json",
			Usage: "print the payments as JSON instead of a table",
		},
	},
	Action: listPayments,
}

func listPayments(ctx *cli.Context) error {
	node, cleanUp := getNode(ctx)
	defer cleanUp()

	var list []*payments.Payment
	for _, p := range node.Control.FetchPayments() {
		if !ctx.Bool("include_incomplete") &&
			p.Status != payments.StatusSucceeded {

			continue
		}
		list = append(list, p)
	}

	if ctx.Bool("json") {
		resp := make([]paymentResp, 0, len(list))
		for _, p := range list {
			resp = append(resp, newPaymentResp(p))
		}
		printJSON(resp)

		return nil
	}

	t := newTable("Payment Hash", "Status", "Value (msat)", "Fee (msat)",
		"Attempts", "Destination", "Created")
	for _, p := range list {
		resp := newPaymentResp(p)
		t.AppendRow([]interface{}{
			resp.PaymentHash, resp.Status, resp.ValueMsat,
			resp.FeeMsat, len(resp.Htlcs), resp.Destination,
			p.Info.CreationTime.Format(time.RFC3339),
		})
	}
	t.Render()

	return nil
}

type htlcResp struct {
	AttemptID   uint64    `json:"attempt_id"`
	Status      string    `json:"status"`
	Route       routeResp `json:"route"`
	AttemptTime int64     `json:"attempt_time"`
	Failure     string    `json:"failure,omitempty"`
}

type paymentResp struct {
	PaymentHash    string     `json:"payment_hash"`
	Status         string     `json:"status"`
	ValueMsat      uint64     `json:"value_msat"`
	FeeMsat        uint64     `json:"fee_msat"`
	Destination    string     `json:"destination"`
	CreationDate   int64      `json:"creation_date"`
	PaymentRequest string     `json:"payment_request"`
	PaymentIndex   uint64     `json:"payment_index"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	Htlcs          []htlcResp `json:"htlcs"`
}

func newPaymentResp(p *payments.Payment) paymentResp {
	resp := paymentResp{
		PaymentHash:    p.Info.PaymentHash.String(),
		Status:         p.Status.String(),
		ValueMsat:      uint64(p.Info.Value),
		Destination:    p.Info.Destination.String(),
		CreationDate:   p.Info.CreationTime.Unix(),
		PaymentRequest: p.Info.PaymentRequest,
		PaymentIndex:   p.SequenceNum,
		Htlcs:          make([]htlcResp, 0, len(p.HTLCs)),
	}
	p.FailureReason.WhenSome(func(r payments.FailureReason) {
		resp.FailureReason = r.String()
	})

	for _, h := range p.HTLCs {
		htlc := htlcResp{
			AttemptID:   h.AttemptID,
			Status:      "IN_FLIGHT",
			Route:       newRouteResp(&h.Route),
			AttemptTime: h.AttemptTime.Unix(),
		}
		switch {
		case h.Settle != nil:
			htlc.Status = "SUCCEEDED"
			resp.FeeMsat = uint64(h.Route.TotalFees())

		case h.Failure != nil:
			htlc.Status = "FAILED"
			htlc.Failure = h.Failure.Message
		}
		resp.Htlcs = append(resp.Htlcs, htlc)
	}

	return resp
}
