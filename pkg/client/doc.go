/*
Package client provides a Go client library for the boardsync gRPC API.

The client wraps the BoardService with plain Go methods over the board types.
Messages are JSON encoded with the api package codec, selected per call via
the content subtype, so no generated stubs are involved.

# Architecture

	┌──────────────────── APPLICATION CODE ────────────────────┐
	│                                                            │
	│  c, err := client.NewClient("manager:8080")               │
	│  s, err := session.Open(ctx, c, presence, cfg)            │
	│                                                            │
	└──────────────────┬─────────────────────────────────────────┘
	                   │ Write / Fetch / Subscribe
	┌──────────────────▼──── pkg/client ─────────────────────────┐
	│  - unary calls with a default 10s deadline                 │
	│  - server-streaming WatchBoard as a channel                │
	│  - status codes mapped onto mutation errors                │
	└──────────────────┬─────────────────────────────────────────┘
	                   │ gRPC
	                   ▼
	           Manager API Server

# Sessions

Client satisfies session.Persistence. Errors are mapped so the mutation
pipeline classifies rollbacks correctly:

  - codes.Unavailable wraps mutation.ErrDisconnected
  - codes.DeadlineExceeded and codes.Canceled wrap the context errors
  - codes.FailedPrecondition, InvalidArgument, AlreadyExists and
    PermissionDenied wrap mutation.ErrRejected
  - codes.NotFound wraps ErrNotFound

Subscribe returns a channel that closes when the stream ends for any reason.
The session treats a closed stream as a transient failure and resubscribes
from its last applied revision.

# Usage

	c, err := client.NewClient("127.0.0.1:8080")
	if err != nil {
		return err
	}
	defer c.Close()

	state, err := c.CreateBoard(ctx, "", []string{"To Do", "Doing", "Done"})
	if err != nil {
		return err
	}

	changes, err := c.Subscribe(ctx, state.Board.ID, 1)
	for ev := range changes {
		fmt.Println(ev.Revision, ev.Kind)
	}
*/
package client
