/*
Package api implements the boardsync gRPC API server and health endpoints.

The API server exposes the manager's authoritative board store to remote
clients. The service is described by a hand-written grpc.ServiceDesc,
"boardsync.BoardService", and messages are plain Go structs encoded with a
JSON codec registered under the "json" content subtype.

# Methods

	CreateBoard     create a board with ordered column titles
	GetBoard        latest committed board state
	ListBoards      board summaries
	Write           commit one mutation, returns its acknowledgment
	GetClusterInfo  Raft state of the serving node
	WatchBoard      server stream of change events from a revision on

# Error Mapping

Store errors are returned as gRPC status codes:

	storage.ErrNotFound     codes.NotFound
	manager.ErrBoardExists  codes.AlreadyExists
	manager.ErrRejected     codes.FailedPrecondition
	manager.ErrNotLeader    codes.Unavailable
	context errors          codes.DeadlineExceeded / codes.Canceled
	anything else           codes.Internal

# Listeners

Serve runs the full API. ServeReadOnly runs the same service behind
ReadOnlyInterceptor, which refuses every method that is not a Get, List or
Watch call; it is meant for a local Unix socket. Both chain
MetricsInterceptor, which records request counts and latency.

# Health

HealthServer serves /health and /live (process up), /components (every
registered component, relay included), /ready and /metrics (Prometheus).
/ready answers 200 only when the raft, api and storage components are
healthy in the metrics.HealthChecker, a leader is known and ListBoards
succeeds; it also reports the change-stream subscriber count. Every
response carries the version passed to NewHealthServer.

# Usage

	srv := api.NewServer(mgr)
	go func() {
		if err := srv.Start(":8080"); err != nil {
			log.Fatal(err.Error())
		}
	}()
	defer srv.Stop()
*/
package api
