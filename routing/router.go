package routing

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnpay/lnwire"
	"github.com/lightningnetwork/lnpay/routing/route"
)

// DefaultFinalCltvDelta is the final cltv delta used when a request does not
// specify one.
const DefaultFinalCltvDelta = 40

// Config defines the configuration for the ChannelRouter. ALL elements
// within the configuration MUST be non-nil for the ChannelRouter to carry
// out its duties.
type Config struct {
	// Graph is the channel graph routes are computed on.
	Graph *ChannelGraph

	// SelfNode is the source of every route.
	SelfNode route.Vertex

	// HopLimit caps the number of hops of a route. Defaults to HopLimit.
	HopLimit int

	// RiskFactorBillionths weighs time locks against fees. Zero ignores
	// time locks. Defaults to DefaultRiskFactorBillionths when unset.
	RiskFactorBillionths fn.Option[int64]
}

// RouteRequest describes a route to compute.
type RouteRequest struct {
	// Target is the destination node.
	Target route.Vertex

	// Amount is the amount the target receives. Fees are added on top.
	Amount lnwire.MilliSatoshi

	// FinalCltvDelta is the cltv delta of the final hop.
	FinalCltvDelta uint32

	// IgnoredEdges are channels the route must not use.
	IgnoredEdges map[lnwire.ShortChannelID]struct{}

	// IgnoredNodes are nodes the route must not traverse.
	IgnoredNodes map[route.Vertex]struct{}

	// BandwidthHints overrides the graph liquidity of the source's own
	// channels. When set, channels of the source without a hint are not
	// used.
	BandwidthHints map[lnwire.ShortChannelID]lnwire.MilliSatoshi
}

// ChannelRouter computes payment routes over the channel graph.
type ChannelRouter struct {
	cfg *Config

	riskFactor int64
}

// NewChannelRouter creates a new instance of the ChannelRouter with the
// passed configuration parameters.
func NewChannelRouter(cfg *Config) (*ChannelRouter, error) {
	if cfg.Graph == nil {
		return nil, errors.New("router needs a channel graph")
	}
	if cfg.HopLimit <= 0 || cfg.HopLimit > HopLimit {
		cfg.HopLimit = HopLimit
	}

	riskFactor := cfg.RiskFactorBillionths.UnwrapOr(
		DefaultRiskFactorBillionths,
	)
	if riskFactor < 0 || riskFactor > MaxRiskFactorBillionths {
		return nil, fmt.Errorf("risk factor %d out of range [0, %d]",
			riskFactor, MaxRiskFactorBillionths)
	}

	return &ChannelRouter{cfg: cfg, riskFactor: riskFactor}, nil
}

// SelfNode returns the source node of routes.
func (r *ChannelRouter) SelfNode() route.Vertex {
	return r.cfg.SelfNode
}

// FindRoute attempts to query the ChannelRouter for the optimum path to a
// particular target destination to which it is able to send the specified
// amount. Routing errors carry one of the package error codes, see IsError.
func (r *ChannelRouter) FindRoute(req *RouteRequest) (*route.Route, error) {
	if req.Amount == 0 {
		return nil, newErr(ErrInvalidAmount, "route amount must be "+
			"positive")
	}
	if req.Target == r.cfg.SelfNode {
		return nil, newErr(ErrSelfPayment, "cannot route to self")
	}

	finalReq := *req
	if finalReq.FinalCltvDelta == 0 {
		finalReq.FinalCltvDelta = DefaultFinalCltvDelta
	}

	log.Debugf("Searching for path to %v, sending %v", req.Target,
		req.Amount)

	cfg := &pathFindingConfig{
		source:               r.cfg.SelfNode,
		hopLimit:             r.cfg.HopLimit,
		riskFactorBillionths: r.riskFactor,
	}

	var path []nodeWithDist
	err := r.cfg.Graph.withReadLock(func(g routingGraph) error {
		var err error
		path, err = findPath(g, &finalReq, cfg)

		return err
	})
	if err != nil {
		log.Debugf("No route to %v for %v: %v", req.Target,
			req.Amount, err)

		return nil, err
	}

	rt, err := newRouteFromPath(path)
	if err != nil {
		return nil, err
	}

	log.Debugf("Obtained path to send %v to %x: %v", req.Amount,
		req.Target[:], newLogClosure(func() string {
			return spew.Sdump(rt)
		}))

	return rt, nil
}
