// Package monitor exposes prometheus metrics for the execution core.
// No listener is started here; the host process serves the registry.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the core's instruments. Construct one per process
// (or per test, with a private registry).
type Metrics struct {
	SwapsTotal           *prometheus.CounterVec
	QueueDepth           prometheus.Gauge
	PersistenceFailures  prometheus.Counter
	ReconciliationsTotal *prometheus.CounterVec
	PriceLookupsTotal    *prometheus.CounterVec
}

// New registers the core's metrics on reg. Pass prometheus.DefaultRegisterer
// in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SwapsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dexcore_swaps_total",
			Help: "Swap requests by side and outcome.",
		}, []string{"side", "outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dexcore_queue_depth",
			Help: "Requests waiting in the transaction queue.",
		}),
		PersistenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dexcore_persistence_failures_total",
			Help: "Durable writes that failed after retry. Non-zero means the ledger and store may diverge until reconciliation.",
		}),
		ReconciliationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dexcore_reconciliations_total",
			Help: "Reconciliation checks by result.",
		}, []string{"result"}),
		PriceLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dexcore_price_lookups_total",
			Help: "Price lookups by source and outcome.",
		}, []string{"source", "outcome"}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests that
// do not assert on instrumentation.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
