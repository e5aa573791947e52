// Package metrics exposes prometheus instrumentation for the engine and the
// remote client. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. Create one per process with New.
type Metrics struct {
	registry *prometheus.Registry

	eventsApplied   *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	partsBuffered   prometheus.Counter
	bufferDepth     prometheus.Gauge
	actionsTotal    *prometheus.CounterVec
	streamConnected prometheus.Gauge

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		eventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custodian_events_applied_total",
				Help: "Total number of server events applied to the session state",
			},
			[]string{"type"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custodian_events_dropped_total",
				Help: "Total number of server events dropped before reconciliation",
			},
			[]string{"type", "reason"},
		),
		partsBuffered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "custodian_parts_buffered_total",
				Help: "Total number of parts buffered because their message was unknown",
			},
		),
		bufferDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "custodian_part_buffer_depth",
				Help: "Number of parts currently waiting for their message",
			},
		),
		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custodian_actions_total",
				Help: "Total number of user actions by outcome",
			},
			[]string{"action", "status"},
		),
		streamConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "custodian_stream_connected",
				Help: "1 while the event stream is attached",
			},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custodian_remote_requests_total",
				Help: "Total number of requests sent to the server",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "custodian_remote_request_duration_seconds",
				Help:    "Server request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.eventsApplied,
		m.eventsDropped,
		m.partsBuffered,
		m.bufferDepth,
		m.actionsTotal,
		m.streamConnected,
		m.requestsTotal,
		m.requestDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventApplied(eventType string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped(eventType, reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType, reason).Inc()
}

func (m *Metrics) PartBuffered(depth int) {
	if m == nil {
		return
	}
	m.partsBuffered.Inc()
	m.bufferDepth.Set(float64(depth))
}

func (m *Metrics) BufferDepth(depth int) {
	if m == nil {
		return
	}
	m.bufferDepth.Set(float64(depth))
}

// Action records the outcome of a user action.
func (m *Metrics) Action(action string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.actionsTotal.WithLabelValues(action, status).Inc()
}

func (m *Metrics) StreamConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.streamConnected.Set(1)
	} else {
		m.streamConnected.Set(0)
	}
}

// Request records one server round-trip. status is 0 when the request
// failed before a response arrived.
func (m *Metrics) Request(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
