/*
Package metrics defines the Prometheus metrics and component health checks of
boardsync.

Every metric is a package-level collector registered with the default
registry in init and exposed by Handler on /metrics.

# Client Metrics

Sessions running the optimistic mutation pipeline, the reconciler and the
presence tracker record:

	boardsync_mutations_total{kind,status}        confirmed, failed, invalid, noop
	boardsync_mutation_rollbacks_total{reason}    timeout, rejected, disconnected, ...
	boardsync_mutation_roundtrip_seconds{kind}    optimistic apply to acknowledgement
	boardsync_pending_mutations                   awaiting acknowledgement
	boardsync_queued_mutations                    waiting behind the same entity
	boardsync_changes_applied_total{kind,origin}  remote changes applied
	boardsync_echoes_suppressed_total             own changes seen on the stream
	boardsync_revision_gaps_total                 gaps that forced a refetch
	boardsync_refetches_total{status}             full board refetches
	boardsync_buffered_changes                    changes waiting for a predecessor
	boardsync_presence_online                     collaborators online
	boardsync_presence_state{state}               1 for the current connection state
	boardsync_presence_reconnects_total           reconnect attempts

# Server Metrics

	boardsync_server_writes_total{kind,status}
	boardsync_boards_total
	boardsync_board_revision{board}
	boardsync_raft_is_leader
	boardsync_raft_log_index
	boardsync_raft_applied_index
	boardsync_raft_apply_duration_seconds
	boardsync_api_requests_total{method,status}
	boardsync_api_request_duration_seconds{method}
	boardsync_change_subscribers
	boardsync_change_stream_catchups_total

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

TimerAt starts a timer from a recorded instant, for durations that span
goroutines such as a mutation's round trip.

# Health

Components report their health with RegisterComponent and UpdateComponent.
GetReadiness requires raft, api and storage to be registered and healthy;
other components, such as the Redis relay, only affect GetHealth.
*/
package metrics
