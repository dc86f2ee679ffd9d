// Package metrics exposes the Prometheus counters/gauges the session
// mediator and control surface update on the hot path. Kept deliberately
// small: spec §1 Non-goals don't exclude observability, but the core's
// job is forwarding frames, not reporting on them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesTotal counts frames handled, by direction (matches
	// persistence.LogDirection's values lowercased).
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oye_frames_total",
		Help: "Total OCPP frames handled, by direction",
	}, []string{"direction"})

	// MalformedFramesTotal counts decode failures by side (charger/upstream).
	MalformedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oye_malformed_frames_total",
		Help: "Total frames that failed to decode",
	}, []string{"side"})

	// ActiveSessions tracks the number of live Session records.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oye_active_sessions",
		Help: "Number of currently connected chargers",
	})

	// PendingInjections tracks the total outstanding injected Calls
	// across all sessions awaiting a matching response.
	PendingInjections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oye_pending_injections",
		Help: "Number of injected Calls awaiting a response",
	})

	// EgressBufferDroppedTotal counts frames dropped from a session's
	// egress buffer because it was at capacity (spec §5).
	EgressBufferDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oye_egress_buffer_dropped_total",
		Help: "Total charger frames dropped from the egress buffer on overflow",
	})

	// LogQueueDroppedTotal counts log records dropped because the
	// persistence worker's queue was full (spec §5).
	LogQueueDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oye_log_queue_dropped_total",
		Help: "Total message-log records dropped due to a full persistence queue",
	})

	// ReconnectAttemptsTotal counts upstream (re)connect attempts.
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oye_reconnect_attempts_total",
		Help: "Total upstream CSMS connection attempts",
	})

	// SessionsGaveUpTotal counts sessions that exhausted their reconnect budget.
	SessionsGaveUpTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oye_sessions_given_up_total",
		Help: "Total sessions that exhausted the reconnect attempt budget",
	})

	// ProxyResponsesTotal counts standalone-responder synthesized responses, by action.
	ProxyResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oye_proxy_responses_total",
		Help: "Total standalone responses synthesized, by action",
	}, []string{"action"})

	// CacheAccessTotal tracks charger-row cache hits and misses.
	CacheAccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oye_cache_access_total",
		Help: "Charger-row cache accesses, by result",
	}, []string{"result"}) // hit, miss

	// HTTPRequestDuration is a control-surface request latency histogram,
	// by method, path and status. It is registered and exported, but no
	// handler in this repository records observations into it.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oye_http_request_duration_seconds",
		Help:    "Control surface HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path", "status"})
)
