package lncfg

import (
	"fmt"
	"time"
)

var (
	// MinHealthCheckInterval is the minimum interval we allow between
	// health checks.
	MinHealthCheckInterval = time.Minute

	// MinHealthCheckTimeout is the minimum timeout we allow for health
	// check calls.
	MinHealthCheckTimeout = time.Second

	// MinHealthCheckBackoff is the minimum back off we allow between
	// health check retries.
	MinHealthCheckBackoff = time.Second
)

// HealthCheckConfig contains the configuration for the different health
// checks the daemon runs.
//
//nolint:lll
type HealthCheckConfig struct {
	DBCheck *CheckConfig `group:"db" namespace:"db"`
}

// DefaultHealthCheck returns the default health check config.
func DefaultHealthCheck() *HealthCheckConfig {
	return &HealthCheckConfig{
		DBCheck: &CheckConfig{
			Interval: time.Minute,
			Timeout:  5 * time.Second,
			Backoff:  30 * time.Second,
			Attempts: 2,
		},
	}
}

// Validate checks the values configured for our health checks.
//
// NOTE: this is part of the Validator interface.
func (h *HealthCheckConfig) Validate() error {
	return h.DBCheck.validate("db")
}

// CheckConfig contains the configuration for a single health check.
//
//nolint:lll
type CheckConfig struct {
	Interval time.Duration `long:"interval" description:"How often to run a health check."`

	Attempts int `long:"attempts" description:"The number of calls we will make for the check before failing. Set this value to 0 to disable a check."`

	Timeout time.Duration `long:"timeout" description:"The amount of time we allow the health check to take before failing due to timeout."`

	Backoff time.Duration `long:"backoff" description:"The amount of time to back-off between failed health checks."`
}

// validate checks the values in a health check config entry if it is
// enabled.
func (c *CheckConfig) validate(name string) error {
	if c.Attempts == 0 {
		return nil
	}

	if c.Backoff < MinHealthCheckBackoff {
		return configErr(name+".backoff", c.Backoff, fmt.Errorf(
			"%w: minimum is %v", ErrOutOfRange,
			MinHealthCheckBackoff,
		))
	}

	if c.Timeout < MinHealthCheckTimeout {
		return configErr(name+".timeout", c.Timeout, fmt.Errorf(
			"%w: minimum is %v", ErrOutOfRange,
			MinHealthCheckTimeout,
		))
	}

	if c.Interval < MinHealthCheckInterval {
		return configErr(name+".interval", c.Interval, fmt.Errorf(
			"%w: minimum is %v", ErrOutOfRange,
			MinHealthCheckInterval,
		))
	}

	return nil
}

// Compile-time constraint to ensure HealthCheckConfig implements the
// Validator interface.
var _ Validator = (*HealthCheckConfig)(nil)
