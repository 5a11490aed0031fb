// Package metrics owns the Prometheus collectors of the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "datagate"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	dbQueries       *prometheus.CounterVec
	dbRetries       *prometheus.CounterVec
	configReloads   *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests served, by surface, entity and status code.",
		}, []string{"surface", "entity", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency by surface.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"surface"}),
		dbQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_queries_total",
			Help:      "Database commands executed, by data source and outcome.",
		}, []string{"data_source", "outcome"}),
		dbRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_retries_total",
			Help:      "Retries of transient database faults, by data source.",
		}, []string{"data_source"}),
		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Hot reload attempts, by result.",
		}, []string{"result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups, by level and result.",
		}, []string{"level", "result"}),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration, m.dbQueries, m.dbRetries, m.configReloads, m.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(surface, entity string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(surface, entity, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(surface).Observe(elapsed.Seconds())
}

func (m *Metrics) DBQuery(dataSource string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.dbQueries.WithLabelValues(dataSource, outcome).Inc()
}

func (m *Metrics) DBRetry(dataSource string) {
	if m == nil {
		return
	}
	m.dbRetries.WithLabelValues(dataSource).Inc()
}

func (m *Metrics) ConfigReload(err error) {
	if m == nil {
		return
	}
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	m.configReloads.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheLookup(level string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(level, result).Inc()
}
