package lnpay

import (
	"context"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/lnpay/build"
	"github.com/lightningnetwork/lnpay/chanstore"
	"github.com/lightningnetwork/lnpay/escrow"
	"github.com/lightningnetwork/lnpay/invoices"
	"github.com/lightningnetwork/lnpay/payments"
	"github.com/prometheus/client_golang/prometheus"
)

// channelStates are reported even when no channel is in them.
var channelStates = []chanstore.ChannelState{
	chanstore.StateOpening,
	chanstore.StateActive,
	chanstore.StateClosing,
	chanstore.StateClosed,
	chanstore.StateForceClosed,
}

var invoiceStates = []invoices.ContractState{
	invoices.ContractOpen,
	invoices.ContractAccepted,
	invoices.ContractSettled,
	invoices.ContractCanceled,
}

var paymentStatuses = []payments.PaymentStatus{
	payments.StatusPending,
	payments.StatusInFlight,
	payments.StatusSucceeded,
	payments.StatusFailed,
}

var escrowStatuses = []escrow.Status{
	escrow.StatusFunded,
	escrow.StatusReleased,
	escrow.StatusRefunded,
	escrow.StatusDisputed,
}

// nodeCollector exports the state of a node at scrape time.
type nodeCollector struct {
	node *Node

	channelsDesc     *prometheus.Desc
	localBalanceDesc *prometheus.Desc
	availableDesc    *prometheus.Desc
	invoicesDesc     *prometheus.Desc
	paymentsDesc     *prometheus.Desc
	paidDesc         *prometheus.Desc
	escrowsDesc      *prometheus.Desc
	graphNodesDesc   *prometheus.Desc
	graphEdgesDesc   *prometheus.Desc
	enabledDesc      *prometheus.Desc
}

func newNodeCollector(node *Node) prometheus.Collector {
	return &nodeCollector{
		node: node,
		channelsDesc: prometheus.NewDesc(
			"lnpay_channels",
			"Number of channels by state.",
			[]string{"state"}, nil,
		),
		localBalanceDesc: prometheus.NewDesc(
			"lnpay_local_balance_msat",
			"Local balance of all active channels.",
			nil, nil,
		),
		availableDesc: prometheus.NewDesc(
			"lnpay_available_balance_msat",
			"Local balance of active channels not held by "+
				"reservations.",
			nil, nil,
		),
		invoicesDesc: prometheus.NewDesc(
			"lnpay_invoices",
			"Number of invoices by state.",
			[]string{"state"}, nil,
		),
		paymentsDesc: prometheus.NewDesc(
			"lnpay_payments",
			"Number of payments by status.",
			[]string{"status"}, nil,
		),
		paidDesc: prometheus.NewDesc(
			"lnpay_payments_sent_msat",
			"Total amount of succeeded payments.",
			nil, nil,
		),
		escrowsDesc: prometheus.NewDesc(
			"lnpay_escrows",
			"Number of escrows by status.",
			[]string{"status"}, nil,
		),
		graphNodesDesc: prometheus.NewDesc(
			"lnpay_graph_node_count",
			"Number of nodes in the channel graph.",
			nil, nil,
		),
		graphEdgesDesc: prometheus.NewDesc(
			"lnpay_graph_edge_count",
			"Number of channels in the channel graph.",
			nil, nil,
		),
		enabledDesc: prometheus.NewDesc(
			"lnpay_lightning_enabled",
			"Whether lightning operations are allowed.",
			nil, nil,
		),
	}
}

// Describe sends the descriptors of all metrics.
//
// NOTE: Part of the prometheus.Collector interface.
func (c *nodeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.channelsDesc
	ch <- c.localBalanceDesc
	ch <- c.availableDesc
	ch <- c.invoicesDesc
	ch <- c.paymentsDesc
	ch <- c.paidDesc
	ch <- c.escrowsDesc
	ch <- c.graphNodesDesc
	ch <- c.graphEdgesDesc
	ch <- c.enabledDesc
}

// Collect reads the node and sends the current values.
//
// NOTE: Part of the prometheus.Collector interface.
func (c *nodeCollector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(
			desc, prometheus.GaugeValue, v, labels...,
		)
	}

	chanCounts := make(map[chanstore.ChannelState]int)
	for _, channel := range c.node.Channels.List() {
		chanCounts[channel.State]++
	}
	for _, state := range channelStates {
		gauge(c.channelsDesc, float64(chanCounts[state]),
			state.String())
	}
	gauge(c.localBalanceDesc,
		float64(c.node.Channels.TotalLocalBalance()))
	gauge(c.availableDesc,
		float64(c.node.Channels.TotalAvailableBalance()))

	invoiceCounts := make(map[invoices.ContractState]int)
	for _, invoice := range c.node.Invoices.Invoices() {
		invoiceCounts[invoice.State]++
	}
	for _, state := range invoiceStates {
		gauge(c.invoicesDesc, float64(invoiceCounts[state]),
			state.String())
	}

	var paid float64
	paymentCounts := make(map[payments.PaymentStatus]int)
	for _, payment := range c.node.Control.FetchPayments() {
		paymentCounts[payment.Status]++
		if payment.Status == payments.StatusSucceeded {
			paid += float64(payment.Info.Value)
		}
	}
	for _, status := range paymentStatuses {
		gauge(c.paymentsDesc, float64(paymentCounts[status]),
			status.String())
	}
	ch <- prometheus.MustNewConstMetric(
		c.paidDesc, prometheus.CounterValue, paid,
	)

	escrowCounts := c.node.Escrows.CountByStatus()
	for _, status := range escrowStatuses {
		gauge(c.escrowsDesc, float64(escrowCounts[status]),
			status.String())
	}

	gauge(c.graphNodesDesc, float64(len(c.node.Graph.Nodes())))
	gauge(c.graphEdgesDesc, float64(len(c.node.Graph.Channels())))

	var enabled float64
	if c.node.Enabled() {
		enabled = 1
	}
	gauge(c.enabledDesc, enabled)
}

// newMetricsRegistry creates a registry holding the node collector and the
// static build and uptime metrics.
func newMetricsRegistry(node *Node) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	versionGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lnpay_version",
			Help: "Version of lnpay running.",
		},
		[]string{"version", "commit"},
	)
	versionGauge.WithLabelValues(build.Version(), build.Commit).Set(1)

	startTime := node.cfg.Clock.Now()
	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lnpay_uptime",
			Help: "Uptime of lnpay in seconds.",
		},
		func() float64 {
			return node.cfg.Clock.Now().Sub(startTime).Seconds()
		},
	)

	reg.MustRegister(versionGauge, uptime, newNodeCollector(node))

	return reg
}

// statsInterval is how often a summary of the node is logged.
const statsInterval = 10 * time.Minute

// logStats logs a summary of the node on every tick until ctx is done.
func logStats(ctx context.Context, node *Node, t ticker.Ticker) {
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			var active int
			for _, channel := range node.Channels.List() {
				if channel.State == chanstore.StateActive {
					active++
				}
			}

			lpayLog.Infof("Node stats: active_channels=%d, "+
				"local_balance=%v, invoices=%d, payments=%d, "+
				"escrows=%v", active,
				node.Channels.TotalLocalBalance(),
				len(node.Invoices.Invoices()),
				len(node.Control.FetchPayments()),
				newLogClosure(func() string {
					return spew.Sdump(
						node.Escrows.CountByStatus(),
					)
				}))

		case <-ctx.Done():
			return
		}
	}
}
