package lncfg

import "net"

const (
	// DefaultPrometheusListen is the address the metrics exporter binds
	// to when enabled.
	DefaultPrometheusListen = "127.0.0.1:8989"
)

// Prometheus configures the Prometheus exporter.
//
//nolint:lll
type Prometheus struct {
	Enable bool `long:"enable" description:"Export node metrics on /metrics."`

	Listen string `long:"listen" description:"The host:port the metrics exporter listens on."`
}

// DefaultPrometheus is the default configuration for the Prometheus metrics
// exporter.
func DefaultPrometheus() *Prometheus {
	return &Prometheus{
		Listen: DefaultPrometheusListen,
	}
}

// Enabled returns whether or not Prometheus monitoring is enabled.
func (p *Prometheus) Enabled() bool {
	return p.Enable
}

// Validate checks the listen address of an enabled exporter.
//
// NOTE: this is part of the Validator interface.
func (p *Prometheus) Validate() error {
	if !p.Enable {
		return nil
	}

	if _, _, err := net.SplitHostPort(p.Listen); err != nil {
		return configErr("prometheus.listen", p.Listen, err)
	}

	return nil
}

// Compile-time constraint to ensure Prometheus implements the Validator
// interface.
var _ Validator = (*Prometheus)(nil)
