package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Client mutation metrics
	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_mutations_total",
			Help: "Total number of local mutations by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	MutationRollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_mutation_rollbacks_total",
			Help: "Total number of optimistic mutations rolled back by reason",
		},
		[]string{"reason"},
	)

	MutationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardsync_mutation_roundtrip_seconds",
			Help:    "Time from optimistic apply to remote acknowledgement in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	PendingMutations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_pending_mutations",
			Help: "Number of mutations awaiting remote acknowledgement",
		},
	)

	QueuedMutations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_queued_mutations",
			Help: "Number of mutations queued behind an in-flight mutation on the same entity",
		},
	)

	// Reconciler metrics
	ChangesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_changes_applied_total",
			Help: "Total number of remote change events applied by kind and origin",
		},
		[]string{"kind", "origin"},
	)

	EchoesSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boardsync_echoes_suppressed_total",
			Help: "Total number of change events recognised as confirmations of local mutations",
		},
	)

	RevisionGaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boardsync_revision_gaps_total",
			Help: "Total number of revision gaps that timed out or overflowed the buffer",
		},
	)

	Refetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_refetches_total",
			Help: "Total number of full board refetches by outcome",
		},
		[]string{"status"},
	)

	BufferedChanges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_buffered_changes",
			Help: "Number of out-of-order change events waiting for a predecessor",
		},
	)

	// Presence metrics
	PresenceOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_presence_online",
			Help: "Number of collaborators currently online",
		},
	)

	PresenceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "boardsync_presence_state",
			Help: "Presence connection state (1 for the current state)",
		},
		[]string{"state"},
	)

	PresenceReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boardsync_presence_reconnects_total",
			Help: "Total number of presence reconnect attempts",
		},
	)

	// Server metrics
	ServerWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_server_writes_total",
			Help: "Total number of mutations written to the authoritative store by kind and status",
		},
		[]string{"kind", "status"},
	)

	BoardsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_boards_total",
			Help: "Total number of boards in the authoritative store",
		},
	)

	BoardRevision = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "boardsync_board_revision",
			Help: "Latest committed revision per board",
		},
		[]string{"board"},
	)

	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boardsync_raft_apply_duration_seconds",
			Help:    "Time taken to commit a mutation through Raft in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardsync_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardsync_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	SubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardsync_change_subscribers",
			Help: "Number of open change-stream subscriptions",
		},
	)

	StreamCatchUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boardsync_change_stream_catchups_total",
			Help: "Times a change stream was refilled from the change log after falling behind",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MutationsTotal)
	prometheus.MustRegister(MutationRollbacks)
	prometheus.MustRegister(MutationLatency)
	prometheus.MustRegister(PendingMutations)
	prometheus.MustRegister(QueuedMutations)
	prometheus.MustRegister(ChangesApplied)
	prometheus.MustRegister(EchoesSuppressed)
	prometheus.MustRegister(RevisionGaps)
	prometheus.MustRegister(Refetches)
	prometheus.MustRegister(BufferedChanges)
	prometheus.MustRegister(PresenceOnline)
	prometheus.MustRegister(PresenceState)
	prometheus.MustRegister(PresenceReconnects)
	prometheus.MustRegister(ServerWrites)
	prometheus.MustRegister(BoardsTotal)
	prometheus.MustRegister(BoardRevision)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SubscribersTotal)
	prometheus.MustRegister(StreamCatchUps)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
