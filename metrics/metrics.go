// Package metrics provides Prometheus collectors for the interceptor.
// All metrics use the resource_interceptor_ prefix.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch sources
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
	SourceError   = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	FetchesTotal   *prometheus.CounterVec
	CacheWrites    *prometheus.CounterVec
	InstallsTotal  *prometheus.CounterVec
	StoresDeleted  prometheus.Counter
	ActiveVersion  *prometheus.GaugeVec
	FetchDurations *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
// A registry per instance keeps tests and multiple interceptors apart.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resource_interceptor_fetches_total",
				Help: "Resolved fetch events by policy and source",
			},
			[]string{"policy", "source"},
		),
		CacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resource_interceptor_cache_writes_total",
				Help: "Background cache writes by result",
			},
			[]string{"result"},
		),
		InstallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resource_interceptor_installs_total",
				Help: "Install steps by version and result",
			},
			[]string{"version", "result"},
		),
		StoresDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "resource_interceptor_stores_deleted_total",
				Help: "Cache stores deleted during activation",
			},
		),
		ActiveVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "resource_interceptor_active_version",
				Help: "Set to 1 for the version that currently controls requests",
			},
			[]string{"version", "policy"},
		),
		FetchDurations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resource_interceptor_fetch_duration_seconds",
				Help:    "Time to resolve a fetch event",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"source"},
		),
	}
	reg.MustRegister(
		m.FetchesTotal,
		m.CacheWrites,
		m.InstallsTotal,
		m.StoresDeleted,
		m.ActiveVersion,
		m.FetchDurations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
