package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lightningnetwork/lnpay/lncfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// readHeaderTimeout bounds the time a scraper may take to send its request
// headers.
const readHeaderTimeout = 5 * time.Second

// Exporter serves the metrics of a registry on /metrics.
type Exporter struct {
	cfg *lncfg.Prometheus
	reg *prometheus.Registry

	started sync.Once
	server  *http.Server
}

// NewExporter creates an exporter for reg. The registry additionally
// receives the process and Go runtime collectors.
func NewExporter(cfg *lncfg.Prometheus, reg *prometheus.Registry) *Exporter {
	reg.MustRegister(
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
		collectors.NewGoCollector(),
	)

	return &Exporter{
		cfg: cfg,
		reg: reg,
	}
}

// Serve listens on the configured address and serves scrapes until ctx is
// done.
func (e *Exporter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", e.cfg.Listen)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		e.reg, promhttp.HandlerOpts{Registry: e.reg},
	))

	e.started.Do(func() {
		e.server = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}
	})

	log.Infof("Prometheus exporter started on %v/metrics",
		listener.Addr())

	errChan := make(chan error, 1)
	go func() {
		errChan <- e.server.Serve(listener)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), time.Second,
		)
		defer cancel()

		log.Info("Prometheus exporter shutting down")

		return e.server.Shutdown(shutdownCtx)
	}
}
