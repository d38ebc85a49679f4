package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnpay"
	"github.com/lightningnetwork/lnpay/build"
	"github.com/lightningnetwork/lnpay/lncfg"
	"github.com/urfave/cli"
)

var defaultLpayDir = btcutil.AppDataDir("lnpay", false)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[lnpaycli] %v\n", err)
	os.Exit(1)
}

// dbPath returns the database directory lnpayd uses for the selected
// network.
func dbPath(ctx *cli.Context) (string, error) {
	network := ctx.GlobalString("network")
	params, err := lnpay.NetworkParams(network)
	if err != nil {
		return "", err
	}

	lpayDir := lncfg.CleanAndExpandPath(ctx.GlobalString("lnpaydir"))

	return filepath.Join(
		lpayDir, lncfg.DefaultDataDirname,
		lncfg.NormalizeNetwork(params.Name), "graph",
	), nil
}

// getNode opens the database of the daemon and starts a node on it. The
// daemon must not be running, it holds the database lock.
func getNode(ctx *cli.Context) (*lnpay.Node, func()) {
	path, err := dbPath(ctx)
	if err != nil {
		fatal(err)
	}

	dbCfg := lncfg.DefaultDB()
	db, err := dbCfg.Open(path)
	if err != nil {
		fatal(fmt.Errorf("unable to open database at %v (is lnpayd "+
			"running?): %w", path, err))
	}

	key, err := db.FetchOrCreateNodeKey()
	if err != nil {
		_ = db.Close()
		fatal(err)
	}

	settings := lncfg.DefaultPanelSettings()
	settings.DefaultNetwork = ctx.GlobalString("network")

	node, err := lnpay.NewNode(&lnpay.NodeConfig{
		IdentityKey:    key,
		Alias:          lnpay.DefaultAlias,
		Color:          lnpay.DefaultColor,
		DB:             db,
		Clock:          clock.NewDefaultClock(),
		Settings:       settings,
		FinalCltvDelta: lncfg.DefaultFinalCltvDelta,
		HopLimit:       lncfg.DefaultHopLimit,
		RiskFactor:     lncfg.DefaultRiskFactor,
		EscrowTimeout:  lncfg.DefaultEscrowTimeout,
	})
	if err == nil {
		err = node.Start()
	}
	if err != nil {
		_ = db.Close()
		fatal(err)
	}

	cleanUp := func() {
		if err := node.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "unable to stop node: %v\n", err)
		}
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "unable to close database: %v\n",
				err)
		}
	}

	return node, cleanUp
}

func getContext() context.Context {
	return context.Background()
}

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		fatal(err)
	}

	fmt.Println(string(b))
}

// newTable returns a table writer printing to stdout.
func newTable(header ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))

	return t
}

func main() {
	app := cli.NewApp()
	app.Name = "lnpaycli"
	app.Version = build.Version() + " commit=" + build.Commit
	app.Usage = "offline control plane for the lnpay payment node"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "lnpaydir",
			Value:     defaultLpayDir,
			Usage:     "The path to lnpayd's base directory.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: "network, n",
			Usage: "The network lnpayd is running on, e.g. " +
				"mainnet, testnet, regtest or simnet.",
			Value: "mainnet",
		},
	}
	app.Commands = []cli.Command{
		getInfoCommand,
		openChannelCommand,
		confirmChannelCommand,
		closeChannelCommand,
		listChannelsCommand,
		addInvoiceCommand,
		addHoldInvoiceCommand,
		settleInvoiceCommand,
		cancelInvoiceCommand,
		lookupInvoiceCommand,
		listInvoicesCommand,
		decodePayReqCommand,
		addNodeCommand,
		addEdgeCommand,
		describeGraphCommand,
		queryRoutesCommand,
		payInvoiceCommand,
		listPaymentsCommand,
		escrowCommand,
		configCommand,
		tiersCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
