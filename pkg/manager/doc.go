/*
Package manager implements the authoritative board store with Raft consensus.

The manager is the server side of board synchronization. Every write is
proposed as a Raft command; once committed, the BoardFSM applies it to the
board, assigns the next revision and persists the new state, the change event
and the processed mutation id in one BoltDB transaction. Committed change
events then fan out to subscribers.

# Architecture

	┌──────────────────────── MANAGER ─────────────────────────┐
	│                                                           │
	│   Write(board, mutation)      Subscribe(board, from)      │
	│          │                           ▲                    │
	│          ▼                           │                    │
	│   ┌──────────────┐           ┌───────┴────────┐           │
	│   │ raft.Apply   │           │ change broker  │           │
	│   └──────┬───────┘           └───────▲────────┘           │
	│          ▼                           │                    │
	│   ┌──────────────┐  commit   ┌───────┴────────┐           │
	│   │  BoardFSM    ├──────────►│ storage (bolt) │           │
	│   └──────────────┘           └────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Write semantics

  - Moves are relocated by task id before they are applied, so two clients
    reordering the same column from the same snapshot converge on the later
    revision rather than failing.
  - Writes are idempotent per mutation id: a retried write returns the
    revision it was first committed at and commits nothing.
  - Any mutation that cannot be applied returns an error wrapping
    ErrRejected. Writes sent to a follower return ErrNotLeader.

# Subscriptions

Subscribe first replays the board's change log from the requested revision
and then streams live commits. Delivery to a slow subscriber is best effort:
when its buffer fills, events are dropped and the client observes a revision
gap, which it resolves by refetching.

# Usage

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "node-1",
		BindAddr: "127.0.0.1:7946",
		DataDir:  "/var/lib/boardsync",
	})
	if err != nil {
		return err
	}
	if err := mgr.Bootstrap(); err != nil {
		return err
	}
	defer mgr.Shutdown()

	state, err := mgr.CreateBoard(ctx, "", []string{"To Do", "Doing", "Done"})

Set Config.InMemory to keep the Raft log and snapshots in memory, as tests
and the development server do.
*/
package manager
