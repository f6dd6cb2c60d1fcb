package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "results"

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	records       *prometheus.CounterVec
	evicted       prometheus.Counter
	skippedTicks  prometheus.Counter
	fetchDuration prometheus.Histogram
	failures      prometheus.Gauge
	lastSuccessTS prometheus.Gauge
	sinkErrors    *prometheus.CounterVec
	storeEvents   prometheus.Gauge
	queries       *prometheus.CounterVec
	queryDuration prometheus.Histogram
	wsClients     prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scrape_cycles_total",
		Help:      "Scrape cycles by outcome",
	}, []string{"outcome"})
	m.records = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "Provider records by reconciliation result",
	}, []string{"result"})
	m.evicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evicted_total",
		Help:      "Events removed by the retention policy",
	})
	m.skippedTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skipped_ticks_total",
		Help:      "Scheduler ticks dropped because a cycle was in flight",
	})
	m.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Time spent fetching the provider batch",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	m.failures = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "consecutive_failures",
		Help:      "Consecutive failed fetches",
	})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful scrape cycle",
	})
	m.sinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_errors_total",
		Help:      "Failed sink deliveries by sink",
	}, []string{"sink"})
	m.storeEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_events",
		Help:      "Events currently retained",
	})
	m.queries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_total",
		Help:      "Result queries by status",
	}, []string{"status"})
	m.queryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Result query latency",
		Buckets:   prometheus.DefBuckets,
	})
	m.wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_clients",
		Help:      "Connected websocket clients",
	})

	m.registry.MustRegister(
		m.cycles, m.records, m.evicted, m.skippedTicks,
		m.fetchDuration, m.failures, m.lastSuccessTS, m.sinkErrors,
		m.storeEvents, m.queries, m.queryDuration, m.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the registry (tests, extra collectors)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// All recorders accept a nil receiver so components can run without metrics.

func (m *Metrics) CycleFinished(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Records(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.records.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evicted.Add(float64(n))
}

func (m *Metrics) SkippedTicks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skippedTicks.Add(float64(n))
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Metrics) SetFailures(n int) {
	if m == nil {
		return
	}
	m.failures.Set(float64(n))
}

func (m *Metrics) SetLastSuccess(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessTS.Set(float64(t.Unix()))
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) SetStoreEvents(n int) {
	if m == nil {
		return
	}
	m.storeEvents.Set(float64(n))
}

func (m *Metrics) Query(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(status).Inc()
	m.queryDuration.Observe(d.Seconds())
}

func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}
