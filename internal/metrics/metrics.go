// Package metrics exposes transaction counters to Prometheus. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "helioscommit"

// Metrics owns a private registry so several managers can live in one process.
type Metrics struct {
	registry     *prometheus.Registry
	transactions *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	recoveries   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transaction",
				Name:      "finished_total",
				Help:      "Counter of finished transactions by outcome.",
			}, []string{"outcome"}),
		conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transaction",
				Name:      "conflicts_total",
				Help:      "Counter of transaction conflicts by kind.",
			}, []string{"kind"}),
		recoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recovery",
				Name:      "actions_total",
				Help:      "Counter of corrective writes made while resolving in-doubt records.",
			}, []string{"action"}),
	}
	m.registry.MustRegister(
		m.transactions,
		m.conflicts,
		m.recoveries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Transaction counts a finished transaction: committed, aborted or unknown.
func (m *Metrics) Transaction(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

// Conflict counts a conflict: preparation, validation or commit.
func (m *Metrics) Conflict(kind string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(kind).Inc()
}

// Recovery counts a corrective write made by the recovery path.
func (m *Metrics) Recovery(action string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(action).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
