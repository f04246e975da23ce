package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task lifecycle metrics.
	TaskHandlesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remotetask_handles_active",
			Help: "Current number of TaskHandles tracked by the registry",
		},
	)

	TaskStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotetask_state_transitions_total",
			Help: "Total number of TaskHandle state transitions",
		},
		[]string{"from", "to"},
	)

	TaskTerminalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remotetask_terminal_duration_seconds",
			Help:    "Wall-clock time from TaskHandle creation to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"terminal_state"},
	)

	// Split/update bookkeeping.
	SplitsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotetask_splits_enqueued_total",
			Help: "Total number of scheduled splits added to task intent",
		},
		[]string{"plan_node_id"},
	)

	UpdatesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remotetask_updates_sent_total",
			Help: "Total number of TaskUpdateRequest messages dispatched",
		},
	)

	// RPC metrics, one set per loop (status/info/update).
	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remotetask_rpc_duration_seconds",
			Help:    "Outbound RPC duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"loop", "method", "outcome"},
	)

	RPCRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotetask_rpc_retries_total",
			Help: "Total number of transient RPC failures retried",
		},
		[]string{"loop"},
	)

	RPCErrorsFatal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotetask_rpc_fatal_errors_total",
			Help: "Total number of RPC failures that aged out into REMOTE_TASK_ERROR",
		},
		[]string{"loop"},
	)

	MismatchDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remotetask_mismatch_total",
			Help: "Total number of REMOTE_TASK_MISMATCH detections (instance change or version regression)",
		},
	)

	// Admin HTTP metrics.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remotetask_http_request_duration_seconds",
			Help:    "Admin HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotetask_http_requests_total",
			Help: "Total number of admin HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Event bus metrics.
	EventBusErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotetask_eventbus_errors_total",
			Help: "Total number of errors publishing to the transient event bus",
		},
		[]string{"operation"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remotetask_websocket_connections",
			Help: "Current number of WebSocket connections to the event stream",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remotetask_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordStateTransition records a TaskHandle state transition.
func RecordStateTransition(from, to string) {
	TaskStateTransitions.WithLabelValues(from, to).Inc()
}

// RecordTerminal records the time-to-terminal for a handle reaching a
// terminal state.
func RecordTerminal(terminalState string, seconds float64) {
	TaskTerminalDuration.WithLabelValues(terminalState).Observe(seconds)
}

// RecordSplitsEnqueued records splits added to a source's intent.
func RecordSplitsEnqueued(planNodeID string, count int) {
	SplitsEnqueued.WithLabelValues(planNodeID).Add(float64(count))
}

// RecordRPC records the outcome of a single outbound RPC.
func RecordRPC(loop, method, outcome string, seconds float64) {
	RPCDuration.WithLabelValues(loop, method, outcome).Observe(seconds)
}

// RecordRPCRetry records a transient RPC failure being retried.
func RecordRPCRetry(loop string) {
	RPCRetries.WithLabelValues(loop).Inc()
}

// RecordRPCFatal records an RPC failure that aged out into REMOTE_TASK_ERROR.
func RecordRPCFatal(loop string) {
	RPCErrorsFatal.WithLabelValues(loop).Inc()
}

// RecordMismatch records a REMOTE_TASK_MISMATCH detection.
func RecordMismatch() {
	MismatchDetected.Inc()
}

// RecordHTTPRequest records an admin HTTP request.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEventBusError records a failure publishing to the event bus.
func RecordEventBusError(operation string) {
	EventBusErrors.WithLabelValues(operation).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message sent to a client.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}

// SetActiveHandles sets the active TaskHandle gauge.
func SetActiveHandles(count float64) {
	TaskHandlesActive.Set(count)
}
