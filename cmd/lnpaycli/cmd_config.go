package main

import (
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnpay"
	"github.com/lightningnetwork/lnpay/lncfg"
	"github.com/urfave/cli"
)

var configCommand = cli.Command{
	Name:     "config",
	Category: "Settings",
	Usage:    "Inspect and change the payment settings of the node.",
	Description: `
	Changes are applied to the node at once and stored in its database,
	so they survive a restart of lnpayd.`,
	Subcommands: []cli.Command{
		{
			Name:      "get",
			Usage:     "Show one or all settings.",
			ArgsUsage: "[key]",
			Action:    getConfig,
		},
		{
			Name:      "set",
			Usage:     "Change one or more settings at once.",
			ArgsUsage: "key=value [key=value...]",
			Action:    setConfig,
		},
		{
			Name:   "reset",
			Usage:  "Restore the default settings.",
			Action: resetConfig,
		},
		{
			Name:   "schema",
			Usage:  "Describe every setting.",
			Action: configSchema,
		},
	},
}

func getConfig(ctx *cli.Context) error {
	node, cleanUp := getNode(ctx)
	defer cleanUp()

	if ctx.NArg() == 1 {
		value, err := node.Panel.Get(ctx.Args().First())
		if err != nil {
			return err
		}
		fmt.Println(value)

		return nil
	}

	printSettings(node.Panel)

	return nil
}

func setConfig(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return cli.ShowSubcommandHelp(ctx)
	}

	changes := make(map[string]string, ctx.NArg())
	for _, arg := range ctx.Args() {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("setting %q must be key=value", arg)
		}
		changes[strings.TrimSpace(key)] = value
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	if err := node.Panel.Apply(changes); err != nil {
		return err
	}

	printSettings(node.Panel)

	return nil
}

func resetConfig(ctx *cli.Context) error {
	node, cleanUp := getNode(ctx)
	defer cleanUp()

	if err := node.Panel.ResetToDefaults(); err != nil {
		return err
	}

	printSettings(node.Panel)

	return nil
}

func configSchema(_ *cli.Context) error {
	t := newTable("Key", "Label", "Kind", "Range", "Default",
		"Description")
	for _, f := range lncfg.Schema() {
		var valid string
		switch f.Kind {
		case lncfg.FieldRange:
			valid = fmt.Sprintf("%d..%d", f.Min, f.Max)

		case lncfg.FieldSelect:
			valid = strings.Join(f.Options, ", ")

		case lncfg.FieldToggle:
			valid = "true, false"
		}

		t.AppendRow([]interface{}{
			f.Key, f.Label, f.Kind, valid, f.Default, f.Description,
		})
	}
	t.Render()

	return nil
}

func printSettings(panel *lncfg.Panel) {
	t := newTable("Key", "Value")
	for _, s := range panel.Snapshot() {
		t.AppendRow([]interface{}{s.Key, s.Value})
	}
	t.Render()
}

var tiersCommand = cli.Command{
	Name:     "tiers",
	Category: "Subscriptions",
	Usage:    "List the subscription tiers or invoice one.",
	Subcommands: []cli.Command{
		{
			Name:   "list",
			Usage:  "List the tiers with their prices and limits.",
			Action: listTiers,
		},
		{
			Name:      "invoice",
			Usage:     "Issue an invoice for a subscription.",
			ArgsUsage: "tier",
			Flags: []cli.Flag{
				cli.UintFlag{
					Name:  "months",
					Usage: "the number of months to invoice",
					Value: 1,
				},
			},
			Action: subscriptionInvoice,
		},
	},
}

func listTiers(_ *cli.Context) error {
	t := newTable("Tier", "Monthly Price", "AI Ops / Month",
		"Private Repos", "Priority Seeding", "SLA", "Max Repo (GB)")
	for _, tier := range lnpay.Tiers {
		f := tier.Features()
		t.AppendRow([]interface{}{
			tier, tier.MonthlyPrice(), limit(f.AIOperationsPerMonth),
			limit(f.PrivateRepos), f.PrioritySeeding,
			f.SLAGuarantee, f.MaxRepoSizeGB,
		})
	}
	t.Render()

	return nil
}

func limit(n uint32) string {
	if n == lnpay.Unlimited {
		return "unlimited"
	}

	return fmt.Sprintf("%d", n)
}

func subscriptionInvoice(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowSubcommandHelp(ctx)
	}

	tier, err := lnpay.ParseTier(ctx.Args().First())
	if err != nil {
		return err
	}

	node, cleanUp := getNode(ctx)
	defer cleanUp()

	invoice, err := node.AddSubscriptionInvoice(
		tier, uint32(ctx.Uint("months")),
	)
	if err != nil {
		return err
	}

	printJSON(newInvoiceResp(invoice))

	return nil
}
