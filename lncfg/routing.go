package lncfg

const (
	// DefaultHopLimit is the maximum number of hops of a route.
	DefaultHopLimit = 20

	// DefaultRiskFactor weighs the time lock of a hop against its fee, in
	// billionths per block.
	DefaultRiskFactor = 15

	// MaxRiskFactor charges the whole amount per block of time lock.
	MaxRiskFactor = 1_000_000_000
)

// Routing holds the configuration options for routing.
//
//nolint:lll
type Routing struct {
	HopLimit int `long:"hoplimit" description:"The maximum number of hops of a route."`

	RiskFactor int64 `long:"riskfactor" description:"The cost in billionths of the amount per block of time lock a route adds. Zero ignores time locks; at most 1000000000."`
}

// DefaultRouting returns the default routing options.
func DefaultRouting() *Routing {
	return &Routing{
		HopLimit:   DefaultHopLimit,
		RiskFactor: DefaultRiskFactor,
	}
}

// Validate checks the routing options.
//
// NOTE: this is part of the Validator interface.
func (r *Routing) Validate() error {
	if r.HopLimit < 1 || r.HopLimit > DefaultHopLimit {
		return configErr("routing.hoplimit", r.HopLimit, ErrOutOfRange)
	}
	if r.RiskFactor < 0 || r.RiskFactor > MaxRiskFactor {
		return configErr("routing.riskfactor", r.RiskFactor,
			ErrOutOfRange)
	}

	return nil
}

// Compile-time constraint to ensure Routing implements the Validator
// interface.
var _ Validator = (*Routing)(nil)
