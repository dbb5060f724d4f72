package monitoring

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pipefeed"

// Stream outcomes used as the outcome label.
const (
	OutcomeClosed    = "closed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Stream metrics
	RecordsTotal   prometheus.Counter
	LinesSkipped   *prometheus.CounterVec
	BytesTotal     prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsTotal   *prometheus.CounterVec
	StreamDuration prometheus.Histogram

	// Child metrics
	ChildrenExited *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSSubscribers prometheus.Gauge

	startTime time.Time

	// Snapshot for the JSON API
	records atomic.Int64
	skipped atomic.Int64
	bytes   atomic.Int64
	active  atomic.Int64
}

// Snapshot holds current values for the JSON API.
type Snapshot struct {
	Records       int64   `json:"records"`
	Skipped       int64   `json:"skipped"`
	Bytes         int64   `json:"bytes"`
	StreamsActive int64   `json:"streams_active"`
	Uptime        float64 `json:"uptime_seconds"`
}

// NewMetrics registers all metrics on reg. A nil reg gets a fresh registry
// with the Go and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RecordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_total",
				Help:      "Total number of records decoded",
			},
		),
		LinesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_skipped_total",
				Help:      "Total number of lines skipped, by reason",
			},
			[]string{"reason"},
		),
		BytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_read_total",
				Help:      "Total number of bytes read from pipes",
			},
		),
		StreamsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "streams_active",
				Help:      "Number of streams still holding their pipe",
			},
		),
		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_total",
				Help:      "Total number of finished streams, by outcome",
			},
			[]string{"outcome"},
		),
		StreamDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stream_duration_seconds",
				Help:      "Time from attach to completion",
				Buckets:   []float64{.001, .01, .1, .5, 1, 5, 30, 120, 600},
			},
		),
		ChildrenExited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "children_exited_total",
				Help:      "Total number of child processes that exited, by final state",
			},
			[]string{"state"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		WSSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_subscribers",
				Help:      "Number of connected websocket subscribers",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the metrics were created",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDecoded counts one emitted record.
func (m *Metrics) RecordDecoded() {
	if m == nil {
		return
	}
	m.RecordsTotal.Inc()
	m.records.Add(1)
}

// LineSkipped counts one rejected line.
func (m *Metrics) LineSkipped(reason string) {
	if m == nil {
		return
	}
	m.LinesSkipped.WithLabelValues(reason).Inc()
	m.skipped.Add(1)
}

// BytesRead counts bytes handed to a reader.
func (m *Metrics) BytesRead(n int) {
	if m == nil {
		return
	}
	m.BytesTotal.Add(float64(n))
	m.bytes.Add(int64(n))
}

// StreamStarted marks a stream as active.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.StreamsActive.Inc()
	m.active.Add(1)
}

// StreamFinished records a completed stream.
func (m *Metrics) StreamFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StreamsActive.Dec()
	m.active.Add(-1)
	m.StreamsTotal.WithLabelValues(outcome).Inc()
	m.StreamDuration.Observe(duration.Seconds())
}

// ChildExited records the final state of a child process.
func (m *Metrics) ChildExited(state string) {
	if m == nil {
		return
	}
	m.ChildrenExited.WithLabelValues(state).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncWSSubscribers increments connected subscribers.
func (m *Metrics) IncWSSubscribers() {
	if m == nil {
		return
	}
	m.WSSubscribers.Inc()
}

// DecWSSubscribers decrements connected subscribers.
func (m *Metrics) DecWSSubscribers() {
	if m == nil {
		return
	}
	m.WSSubscribers.Dec()
}

// Snapshot returns current values for the JSON API.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Records:       m.records.Load(),
		Skipped:       m.skipped.Load(),
		Bytes:         m.bytes.Load(),
		StreamsActive: m.active.Load(),
		Uptime:        time.Since(m.startTime).Seconds(),
	}
}
