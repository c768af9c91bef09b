// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Directory
	TxAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_tx_attempts_total",
			Help: "Transaction attempts by outcome",
		},
		[]string{"outcome"}, // committed, unchanged, conflict, aborted, error
	)

	TxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "huddle_tx_duration_seconds",
			Help:    "Duration of a transaction including retries",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	TxRetriesExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_tx_retries_exhausted_total",
			Help: "Transactions that gave up after the retry budget",
		},
	)

	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_feed_events_total",
			Help: "Change feed events published",
		},
		[]string{"type"},
	)

	// Lifecycle
	RoomOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_room_operations_total",
			Help: "Room lifecycle operations by kind and result code",
		},
		[]string{"op", "code"},
	)

	RoomsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_rooms_deleted_total",
			Help: "Rooms deleted because their roster became empty",
		},
		[]string{"cause"}, // leave, sweep
	)

	HostMigrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_host_migrations_total",
			Help: "Host role reassignments",
		},
	)

	ParticipantsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_participants_evicted_total",
			Help: "Participants removed by the stale sweep",
		},
	)

	// Matcher
	MatchLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_match_lookups_total",
			Help: "Smooth-join lookups by result",
		},
		[]string{"result"}, // match, none, degraded
	)

	MatchDistanceChecks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_match_distance_checks_total",
			Help: "Exact distance computations done after cell narrowing",
		},
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_match_breaker_state",
			Help: "Matcher circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Heartbeat
	HeartbeatWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_heartbeat_writes_total",
			Help: "Heartbeat ticks by result",
		},
		[]string{"result"}, // written, skipped, lost, error
	)

	TrackedParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_heartbeat_tracked",
			Help: "Participants tracked by the heartbeat monitor",
		},
	)

	// Reconciliation
	PendingTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_pending_tasks",
			Help: "Background enter operations not yet settled",
		},
	)

	TaskOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_task_outcomes_total",
			Help: "Settled enter operations by outcome",
		},
		[]string{"outcome"}, // confirmed, failed, compensated
	)

	// Transport
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_ws_connections",
			Help: "Open signalling websocket connections",
		},
	)

	ActiveRelays = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_sfu_relays",
			Help: "Running audio relays",
		},
	)
)
