// Package metrics exposes Prometheus collectors for the relay, the
// persistence sink and the subscriber transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Source state gauge values.
const (
	SourcePending   = 0
	SourceExternal  = 1
	SourceSynthetic = 2
)

var (
	// ReadingsPublished counts readings fanned out, by origin.
	ReadingsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherlive_readings_published_total",
			Help: "Readings delivered to subscribers",
		},
		[]string{"origin"},
	)

	// EventsRejected counts external events that failed to decode or validate.
	EventsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherlive_events_rejected_total",
			Help: "External events skipped because they could not be decoded",
		},
	)

	// SourceState is 0 while selection is pending, 1 for external, 2 for synthetic.
	SourceState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "weatherlive_source_state",
			Help: "Active reading source (0 pending, 1 external, 2 synthetic)",
		},
	)

	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "weatherlive_connected_clients",
			Help: "Currently connected subscribers",
		},
	)

	// SinkWrites counts persistence writes by result (ok, error, rejected).
	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherlive_sink_writes_total",
			Help: "Persistence writes by result",
		},
		[]string{"result"},
	)

	SinkFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherlive_sink_query_fallbacks_total",
			Help: "Queries answered from the synthetic snapshot",
		},
		[]string{"query"},
	)

	SinkBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "weatherlive_sink_breaker_open",
			Help: "1 while the persistence circuit breaker is open",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherlive_http_request_duration_seconds",
			Help:    "HTTP request latency by method and status code",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)

	// MessagesDropped counts outbound messages dropped for slow subscribers.
	MessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherlive_ws_messages_dropped_total",
			Help: "Outbound subscriber messages dropped because the send buffer was full",
		},
	)
)

// Origin returns the label value for a reading's origin.
func Origin(synthetic bool) string {
	if synthetic {
		return "synthetic"
	}
	return "external"
}
