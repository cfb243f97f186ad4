// Package metrics holds the Prometheus collectors shared by the bridge.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Invocation outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeRemoteError = "remote_error"
	OutcomeStreamError = "stream_error"
	OutcomeError       = "error"
	OutcomeDenied      = "denied"
)

// UnknownTool is the tool label for calls naming a tool the manifest does
// not declare.
const UnknownTool = "unknown"

var (
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manifold_tool_calls_total",
		Help: "Total tool invocations by tool and outcome.",
	}, []string{"tool", "outcome"})

	RemoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manifold_remote_requests_total",
		Help: "Total HTTP requests sent to the remote API by method and response status.",
	}, []string{"method", "status"})

	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "manifold_remote_request_duration_seconds",
		Help:    "Remote request duration in seconds, including stream consumption.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	StreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manifold_stream_events_total",
		Help: "Total decoded stream events by event type.",
	}, []string{"type"})

	ManifestTools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "manifold_manifest_tools",
		Help: "Number of tools declared by the loaded manifest.",
	})
)

// ObserveRemoteRequest records one remote call. status is 0 when no response
// was received.
func ObserveRemoteRequest(method string, status int, elapsed time.Duration) {
	label := "none"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	RemoteRequestsTotal.WithLabelValues(method, label).Inc()
	RemoteRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
