package proxy

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the data plane.
type Metrics struct {
	decisionsTotal  *prometheus.CounterVec
	denialsTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bodyBytes       prometheus.Histogram
	rulesetReloads  *prometheus.CounterVec
	rulesetSize     *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leukocyte_decisions_total",
				Help: "Inspection decisions by action and phase",
			},
			[]string{"action", "phase"},
		),
		denialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leukocyte_denials_total",
				Help: "Denied requests by reason and defense type",
			},
			[]string{"reason", "defense_type"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leukocyte_request_duration_seconds",
				Help:    "Inspection plus forwarding latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		bodyBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leukocyte_inspected_body_bytes",
				Help:    "Request body bytes buffered for inspection",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
		),
		rulesetReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leukocyte_ruleset_reloads_total",
				Help: "Rule set reload attempts by result",
			},
			[]string{"result"},
		),
		rulesetSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "leukocyte_ruleset_entries",
				Help: "Entries in the active rule set by kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.denialsTotal,
		m.requestDuration,
		m.bodyBytes,
		m.rulesetReloads,
		m.rulesetSize,
	)
	m.registry = registry

	return m
}

// Handler returns the /metrics HTTP handler for the admin listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDecision updates the decision counters for one request.
func (m *Metrics) RecordDecision(action, phase string, seconds float64) {
	m.decisionsTotal.WithLabelValues(action, phase).Inc()
	m.requestDuration.WithLabelValues(action).Observe(seconds)
}

// RecordDenial updates the denial counter.
func (m *Metrics) RecordDenial(reason, defenseType string) {
	m.denialsTotal.WithLabelValues(reason, defenseType).Inc()
}

// RecordBodyBytes observes the size of an inspected body.
func (m *Metrics) RecordBodyBytes(n int) {
	if n > 0 {
		m.bodyBytes.Observe(float64(n))
	}
}

// RecordReload counts a rule set reload attempt.
func (m *Metrics) RecordReload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.rulesetReloads.WithLabelValues(result).Inc()
}

// SetRulesetSize publishes the active rule set sizes.
func (m *Metrics) SetRulesetSize(suppressed, allowed int) {
	m.rulesetSize.WithLabelValues("suppressed").Set(float64(suppressed))
	m.rulesetSize.WithLabelValues("allowed").Set(float64(allowed))
}
