// Package metrics holds the Prometheus collectors for the session core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchparty_sessions_active",
			Help: "Number of group viewing sessions with status active",
		},
	)

	ParticipantsTimedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchparty_participants_timed_out_total",
			Help: "Participants marked inactive by the heartbeat reaper",
		},
	)

	// Playback control
	ControlEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_control_events_total",
			Help: "Accepted playback control events",
		},
		[]string{"action"},
	)

	ControlRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_control_rejected_total",
			Help: "Rejected playback control submissions",
		},
		[]string{"reason"}, // "forbidden", "invalid_seek", "conflict", ...
	)

	// Annotations
	AnnotationOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_annotation_operations_total",
			Help: "Annotation store mutations",
		},
		[]string{"op"},
	)

	// Recommender
	RecommendationsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_recommendations_total",
			Help: "Speed recommendations produced",
		},
		[]string{"outcome"}, // "scheduled", "unchanged", "fallback"
	)

	SpeedChangesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchparty_speed_changes_applied_total",
			Help: "Pending speed changes that reached their apply time",
		},
	)

	// Complexity scorer circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watchparty_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	ScorerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_scorer_requests_total",
			Help: "Complexity scorer calls by result",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	// Realtime
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchparty_websocket_connections",
			Help: "Open WebSocket connections",
		},
	)

	WSMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_websocket_messages_dropped_total",
			Help: "Outbound messages dropped or inbound messages throttled",
		},
		[]string{"reason"}, // "buffer_full", "rate_limited"
	)

	AttendanceDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchparty_attendance_dropped_total",
			Help: "Attendance events dropped because the write queue was full",
		},
	)

	TranscriptExports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchparty_transcript_exports_total",
			Help: "Transcript export jobs by outcome",
		},
		[]string{"outcome"}, // "stored", "retried", "dead_letter"
	)
)
