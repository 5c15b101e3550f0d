package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat server.
//
// Naming convention: namespace_subsystem_name
// - namespace: lair_chat (application-level grouping)
// - subsystem: tcp, websocket, room, dispatch, rate_limit, redis (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, participants)
// - Counter: Cumulative events (messages processed, frames dropped)
// - Histogram: Latency distributions (command processing time)

var (
	// ActiveTCPConnections tracks the current number of live TCP connections.
	ActiveTCPConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lair_chat",
		Subsystem: "tcp",
		Name:      "connections_active",
		Help:      "Current number of active TCP connections",
	})

	// ActiveWebSocketConnections tracks the current number of active WebSocket connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lair_chat",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms that have at least one member.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lair_chat",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms with at least one member",
	})

	// RoomMembers tracks the number of members in each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lair_chat",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// CommandsProcessed tracks the total number of protocol commands handled.
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lair_chat",
		Subsystem: "protocol",
		Name:      "commands_total",
		Help:      "Total protocol commands processed",
	}, []string{"command_type", "status"})

	// CommandProcessingDuration tracks time spent handling a single command.
	CommandProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lair_chat",
		Subsystem: "protocol",
		Name:      "command_processing_seconds",
		Help:      "Time spent processing a protocol command",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command_type"})

	// HandshakeFailures tracks the total number of handshakes that failed
	// (version mismatch, malformed hello, AEAD setup failure).
	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lair_chat",
		Subsystem: "tcp",
		Name:      "handshake_failures_total",
		Help:      "Total handshake failures by reason",
	}, []string{"reason"})

	// DispatchFramesDropped tracks frames dropped by the dispatcher's
	// drop-oldest backpressure policy (spec §4.8).
	DispatchFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lair_chat",
		Subsystem: "dispatch",
		Name:      "frames_dropped_total",
		Help:      "Total frames dropped due to a full per-session send queue",
	})

	// CircuitBreakerState tracks the current state of the circuit breaker
	// guarding the optional Redis cross-instance fanout.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lair_chat",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lair_chat",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lair_chat",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lair_chat",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis operations.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lair_chat",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lair_chat",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncTCPConnection() {
	ActiveTCPConnections.Inc()
}

func DecTCPConnection() {
	ActiveTCPConnections.Dec()
}

func IncWSConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecWSConnection() {
	ActiveWebSocketConnections.Dec()
}
