// Package diag exposes operational counters for the ingestion and
// correlation paths. Conditions the engines recover from silently — cyclic
// parent chains, uncorrelated events — must still be countable for
// operational diagnosis.
package diag

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors, registered on a private registry
// so tests can create instances freely.
type Metrics struct {
	EventsIngested     *prometheus.CounterVec
	BatchFailures      prometheus.Counter
	UncorrelatedEvents prometheus.Counter
	ParentCycles       prometheus.Counter
	PairingsCompleted  prometheus.Counter

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_events_ingested_total",
				Help: "Total number of telemetry events accepted, by event type",
			},
			[]string{"event_type"},
		),
		BatchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vigil_batch_event_failures_total",
				Help: "Total number of events rejected or failed within batch submissions",
			},
		),
		UncorrelatedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vigil_uncorrelated_events_total",
				Help: "Total number of events stored without trace/span correlation",
			},
		),
		ParentCycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vigil_span_parent_cycles_total",
				Help: "Total number of cyclic span parent chains detected and broken",
			},
		),
		PairingsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vigil_span_pairings_completed_total",
				Help: "Total number of start/finish event pairs linked",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.EventsIngested,
		m.BatchFailures,
		m.UncorrelatedEvents,
		m.ParentCycles,
		m.PairingsCompleted,
	)

	return m
}

// Handler returns an HTTP handler serving the Prometheus exposition format
// for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
