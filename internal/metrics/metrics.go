// v0
// internal/metrics/metrics.go
// Package metrics exposes Prometheus instrumentation for the sensor hub.
// Every method is safe to call on a nil *Metrics so components can run
// uninstrumented in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensorhub"

type Metrics struct {
	registry *prometheus.Registry

	readingsIngested prometheus.Counter
	decodeErrors     *prometheus.CounterVec
	sourceConnects   *prometheus.CounterVec
	sourceConnected  prometheus.Gauge
	published        *prometheus.CounterVec
	cbState          *prometheus.GaugeVec
	streamClients    prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New builds a Metrics instance on its own registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		readingsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Readings decoded and appended to the history.",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Lines dropped because they could not be decoded, by offending field.",
		}, []string{"reason"}),
		sourceConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_connects_total",
			Help:      "Source connection attempts by result.",
		}, []string{"source", "result"}),
		sourceConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_connected",
			Help:      "1 while the reading source is connected.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "republished_total",
			Help:      "Readings forwarded to Kafka by result.",
		}, []string{"result"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cb_state",
			Help:      "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected websocket stream clients.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.readingsIngested,
		m.decodeErrors,
		m.sourceConnects,
		m.sourceConnected,
		m.published,
		m.cbState,
		m.streamClients,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchHistory publishes the history length, capacity and subscriber drops
// as gauges sampled on scrape.
func (m *Metrics) WatchHistory(size func() int, capacity int, dropped func() uint64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_size",
			Help:      "Readings currently held in the rolling history.",
		}, func() float64 { return float64(size()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_capacity",
			Help:      "Maximum readings held in the rolling history.",
		}, func() float64 { return float64(capacity) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Readings a slow subscriber missed.",
		}, func() float64 { return float64(dropped()) }),
	)
}

func (m *Metrics) ReadingIngested() {
	if m == nil {
		return
	}
	m.readingsIngested.Inc()
}

func (m *Metrics) DecodeError(reason string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(reason).Inc()
}

// SourceConnect records a connection attempt; ok=false counts a failure.
func (m *Metrics) SourceConnect(source string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.sourceConnects.WithLabelValues(source, result).Inc()
}

func (m *Metrics) SetSourceConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.sourceConnected.Set(1)
		return
	}
	m.sourceConnected.Set(0)
}

func (m *Metrics) Republished(result string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBreakerState(target string, state int) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(float64(state))
}

func (m *Metrics) StreamClientDelta(delta int) {
	if m == nil {
		return
	}
	m.streamClients.Add(float64(delta))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
