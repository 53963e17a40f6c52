package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the room coordination server.
//
// Naming convention: namespace_subsystem_name
// - namespace: anim5s (application-level grouping)
// - subsystem: ws, room, backup, ratelimit, persistence, bus (feature-level grouping)
// - name: specific metric (connections_active, frames_committed_total, etc.)
//
// Metric Types:
// - Gauge: current state (connections, cached rooms, dirty rooms)
// - Counter: cumulative events (messages processed, rate limit rejections)
// - Histogram: latency distributions (persistence write time)

var (
	// ActiveConnections tracks the current number of open /ws connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "anim5s",
		Subsystem: "ws",
		Name:      "connections_active",
		Help:      "Current number of active websocket connections",
	})

	// RoomsIndexed tracks the number of rooms in the in-memory index.
	RoomsIndexed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "anim5s",
		Subsystem: "room",
		Name:      "indexed",
		Help:      "Current number of rooms known to the index",
	})

	// RoomsCached tracks the number of rooms currently held in the bounded cache.
	RoomsCached = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "anim5s",
		Subsystem: "room",
		Name:      "cached",
		Help:      "Current number of rooms held in the in-memory cache",
	})

	// RoomsDirty tracks the number of rooms pending inclusion in the next backup.
	RoomsDirty = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "anim5s",
		Subsystem: "room",
		Name:      "dirty",
		Help:      "Current number of rooms saved since the last backup",
	})

	// QuarantinedRooms tracks the current size of the quarantine set.
	QuarantinedRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "anim5s",
		Subsystem: "room",
		Name:      "quarantined",
		Help:      "Current number of quarantined room IDs",
	})

	// MessagesTotal counts inbound websocket messages, labelled by verb and
	// outcome. Only frames that fail to parse are counted (verb "", status
	// "malformed"); successfully routed messages are not.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anim5s",
		Subsystem: "ws",
		Name:      "messages_total",
		Help:      "Total inbound websocket messages processed",
	}, []string{"verb", "status"})

	// FramesCommittedTotal counts committed frames across all rooms.
	FramesCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anim5s",
		Subsystem: "room",
		Name:      "frames_committed_total",
		Help:      "Total number of frames committed across all rooms",
	})

	// RoomsCompletedTotal counts rooms that reached PLAYBACK.
	RoomsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anim5s",
		Subsystem: "room",
		Name:      "completed_total",
		Help:      "Total number of rooms that transitioned to PLAYBACK",
	})

	// BackupsTotal counts completed backup runs.
	BackupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "anim5s",
		Subsystem: "backup",
		Name:      "runs_total",
		Help:      "Total number of incremental backup runs completed",
	})

	// RateLimitExceededTotal counts rejected messages by verb.
	RateLimitExceededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anim5s",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total number of messages rejected by the rate limiter",
	}, []string{"verb"})

	// PersistenceWriteDuration tracks atomic-write latency for room/index/quarantine files.
	PersistenceWriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "anim5s",
		Subsystem: "persistence",
		Name:      "write_duration_seconds",
		Help:      "Duration of atomic persistence writes",
		Buckets:   prometheus.DefBuckets,
	}, []string{"target"})

	// CircuitBreakerState tracks the broadcast bus circuit breaker state.
	// 0: Closed, 1: Open, 2: Half-Open.
	CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "anim5s",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Current state of the broadcast bus circuit breaker",
	})

	// BusPublishTotal counts outbound broadcast bus publishes.
	BusPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "anim5s",
		Subsystem: "bus",
		Name:      "publish_total",
		Help:      "Total number of broadcast bus publish attempts",
	}, []string{"status"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
