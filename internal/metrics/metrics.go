// Package metrics wires the intercept/injection/callback pipeline to
// Prometheus counters and histograms, grounded on the registry + handler
// pattern in C-NASIR-modern_reverse_proxy's internal/obs/metrics.go and
// felipecampolina-FCReverseProxy's equivalent. Own registry (not the global
// default) so a second Metrics in tests never collides with package state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/histogram this proxy exposes on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	flowsSubmitted   prometheus.Counter
	flowsDecided     *prometheus.CounterVec
	flowsExpired     prometheus.Counter
	injectionsTried  prometheus.Counter
	injectionsOK     prometheus.Counter
	callbackHits     prometheus.Counter
	upstreamDuration prometheus.Histogram
}

// New builds a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		flowsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_flows_submitted_total",
			Help: "Total flows submitted to the intercept broker.",
		}),
		flowsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_flows_decided_total",
			Help: "Total flows decided, by decision kind.",
		}, []string{"kind"}),
		flowsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_flows_expired_total",
			Help: "Total flows that hit the 30s submitter deadline and were forwarded.",
		}),
		injectionsTried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_injections_attempted_total",
			Help: "Total responses where HTML injection was attempted.",
		}),
		injectionsOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_injections_succeeded_total",
			Help: "Total responses successfully rewritten with a beacon.",
		}),
		callbackHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_callback_hits_total",
			Help: "Total hits recorded against the callback endpoint.",
		}),
		upstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_upstream_request_duration_seconds",
			Help:    "Upstream round-trip duration as observed by the proxy engine.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.flowsSubmitted, m.flowsDecided, m.flowsExpired,
		m.injectionsTried, m.injectionsOK, m.callbackHits, m.upstreamDuration,
	)

	return m
}

// Handler serves the registered metrics for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordFlowSubmitted() { m.flowsSubmitted.Inc() }

func (m *Metrics) RecordFlowDecided(kind string) { m.flowsDecided.WithLabelValues(kind).Inc() }

func (m *Metrics) RecordFlowExpired() { m.flowsExpired.Inc() }

func (m *Metrics) RecordInjectionAttempted() { m.injectionsTried.Inc() }

func (m *Metrics) RecordInjectionSucceeded() { m.injectionsOK.Inc() }

func (m *Metrics) RecordCallbackHit() { m.callbackHits.Inc() }

func (m *Metrics) ObserveUpstreamDuration(d time.Duration) {
	m.upstreamDuration.Observe(d.Seconds())
}
