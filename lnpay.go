package lnpay

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/lnpay/build"
	"github.com/lightningnetwork/lnpay/channeldb"
	"github.com/lightningnetwork/lnpay/monitoring"
	"github.com/lightningnetwork/lnpay/signal"
	"golang.org/x/sync/errgroup"
)

// Main is the true entry point for lnpayd. It opens the database, starts the
// node together with its health checks and metrics exporter, and blocks
// until a shutdown is requested.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer func() {
		lpayLog.Info("Shutdown complete")
		if cfg.LogRotator != nil {
			if err := cfg.LogRotator.Close(); err != nil {
				fmt.Printf("Unable to close log rotator: %v\n",
					err)
			}
		}
	}()

	lpayLog.Infof("Version: %s, network: %s", build.VersionWithCommit(),
		cfg.Network)

	db, err := cfg.DB.Open(cfg.dbDir())
	if err != nil {
		err := fmt.Errorf("unable to open database: %w", err)
		lpayLog.Error(err)
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			lpayLog.Errorf("Unable to close database: %v", err)
		}
	}()

	identityKey, err := db.FetchOrCreateNodeKey()
	if err != nil {
		err := fmt.Errorf("unable to load node key: %w", err)
		lpayLog.Error(err)
		return err
	}

	node, err := NewNode(&NodeConfig{
		IdentityKey:       identityKey,
		Alias:             cfg.Alias,
		Color:             cfg.Color,
		DB:                db,
		Clock:             clock.NewDefaultClock(),
		Settings:          cfg.PanelSettings(),
		FinalCltvDelta:    cfg.Invoices.FinalCltvDelta,
		HopLimit:          cfg.Routing.HopLimit,
		RiskFactor:        cfg.Routing.RiskFactor,
		EscrowTimeout:     cfg.Escrow.DefaultTimeout,
		EscrowSweepTicker: ticker.New(cfg.Escrow.SweepInterval),
		FundingDelay:      cfg.FundingDelay,
	})
	if err != nil {
		err := fmt.Errorf("unable to create node: %w", err)
		lpayLog.Error(err)
		return err
	}

	if err := node.Start(); err != nil {
		err := fmt.Errorf("unable to start node: %w", err)
		lpayLog.Error(err)
		return err
	}
	defer func() {
		if err := node.Stop(); err != nil {
			lpayLog.Errorf("Unable to stop node: %v", err)
		}
	}()

	healthMonitor := newHealthMonitor(cfg, db, interceptor)
	if err := healthMonitor.Start(); err != nil {
		return fmt.Errorf("unable to start health monitor: %w", err)
	}
	defer func() {
		if err := healthMonitor.Stop(); err != nil {
			lpayLog.Errorf("Unable to stop health monitor: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logStats(ctx, node, ticker.New(statsInterval))
		return nil
	})

	if cfg.Prometheus.Enabled() {
		exporter := monitoring.NewExporter(
			cfg.Prometheus, newMetricsRegistry(node),
		)
		g.Go(func() error {
			return exporter.Serve(ctx)
		})
	}

	lpayLog.Infof("Node %v started, lightning enabled: %v",
		node.IdentityPubKey(), node.Enabled())

	g.Go(func() error {
		select {
		case <-interceptor.ShutdownChannel():
			lpayLog.Info("Received shutdown request")
			cancel()

		case <-ctx.Done():
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		lpayLog.Errorf("Daemon stopped with error: %v", err)
		return err
	}

	return nil
}

// newHealthMonitor creates the monitor of the database. A failing check
// requests a shutdown of the daemon.
func newHealthMonitor(cfg *Config, db *channeldb.DB,
	interceptor signal.Interceptor) *healthcheck.Monitor {

	var checks []*healthcheck.Observation

	dbCheck := cfg.HealthChecks.DBCheck
	if dbCheck.Attempts > 0 {
		checks = append(checks, healthcheck.NewObservation(
			"database",
			db.Ping,
			dbCheck.Interval,
			dbCheck.Timeout,
			dbCheck.Backoff,
			dbCheck.Attempts,
		))
	}

	return healthcheck.NewMonitor(&healthcheck.Config{
		Checks: checks,
		Shutdown: func(format string, params ...interface{}) {
			lpayLog.Criticalf("Health check: "+format, params...)
			interceptor.RequestShutdown()
		},
	})
}
