// Package metrics exposes b1b's Prometheus instrumentation: counts of
// discovered bonds, observed failover events, and gratuitous ARP frames
// sent or failed per bond interface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "b1b"
	subsystem = "bond"
)

// Label names for b1b metrics.
const (
	labelIfname = "ifname"
	labelBridge = "bridge"
)

// -------------------------------------------------------------------------
// Collector — Prometheus b1b Metrics
// -------------------------------------------------------------------------

// Collector holds all b1b Prometheus metrics.
type Collector struct {
	// Sessions tracks the number of currently monitored bond interfaces.
	Sessions *prometheus.GaugeVec

	// FailoverEvents counts distinct bonding failover events observed per
	// bond interface.
	FailoverEvents *prometheus.CounterVec

	// GARPsSent counts gratuitous ARP frames successfully transmitted per
	// bond interface.
	GARPsSent *prometheus.CounterVec

	// GARPsFailed counts gratuitous ARP frames whose transmission failed
	// (spec.md §7: recoverable, logged, does not abort the run).
	GARPsFailed *prometheus.CounterVec

	// RecoveryDuration observes the wall-clock time of one failover
	// recovery (FDB read through the last GARP send) per bond interface.
	RecoveryDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector with all b1b metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.FailoverEvents,
		c.GARPsSent,
		c.GARPsFailed,
		c.RecoveryDuration,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	bondLabels := []string{labelIfname, labelBridge}

	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently monitored bond interfaces.",
		}, bondLabels),

		FailoverEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failover_events_total",
			Help:      "Total bonding failover events observed.",
		}, bondLabels),

		GARPsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "garps_sent_total",
			Help:      "Total gratuitous ARP frames successfully transmitted.",
		}, bondLabels),

		GARPsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "garps_failed_total",
			Help:      "Total gratuitous ARP frames whose transmission failed.",
		}, bondLabels),

		RecoveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recovery_duration_seconds",
			Help:      "Duration of one failover recovery (FDB read through final GARP send).",
			Buckets:   prometheus.DefBuckets,
		}, bondLabels),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession sets the sessions gauge to 1 for a discovered bond.
// Called once per bond at startup; b1b's session set never changes after
// discovery.
func (c *Collector) RegisterSession(ifname, bridge string) {
	c.Sessions.WithLabelValues(ifname, bridge).Set(1)
}

// -------------------------------------------------------------------------
// Recovery Counters
// -------------------------------------------------------------------------

// IncFailoverEvents increments the failover-event counter for a bond.
func (c *Collector) IncFailoverEvents(ifname, bridge string) {
	c.FailoverEvents.WithLabelValues(ifname, bridge).Inc()
}

// IncGARPsSent increments the successful gratuitous ARP counter for a bond.
func (c *Collector) IncGARPsSent(ifname, bridge string) {
	c.GARPsSent.WithLabelValues(ifname, bridge).Inc()
}

// IncGARPsFailed increments the failed gratuitous ARP counter for a bond.
func (c *Collector) IncGARPsFailed(ifname, bridge string) {
	c.GARPsFailed.WithLabelValues(ifname, bridge).Inc()
}

// ObserveRecoveryDuration records the duration, in seconds, of one
// failover recovery for a bond.
func (c *Collector) ObserveRecoveryDuration(ifname, bridge string, seconds float64) {
	c.RecoveryDuration.WithLabelValues(ifname, bridge).Observe(seconds)
}
