/*
Package session owns the local copy of one board and is the only writer to
it.

Open fetches the board, subscribes to its change stream from the next
revision and starts a single loop goroutine. Everything that changes the
store arrives at that loop as a message:

	UI intent ─────────┐
	write result ──────┤
	change event ──────┼──► loop ──► pipeline / reconciler ──► board.Store
	gap timer ─────────┤
	refetch result ────┘

Remote I/O (writes, the change stream, fetches) runs on its own goroutines
and only ever posts results back. Readers call Snapshot from any goroutine
and get an immutable board state plus the presence set.

Intent methods (Move, CreateTask, UpdateTask, DeleteTask, CreateColumn,
RenameColumn) return once the mutation has been applied optimistically,
queued or rejected; the returned future resolves with the server's
acknowledgement or the failure that rolled it back.

A revision gap that outlives GapTimeout, or a reorder buffer overflow,
triggers a full refetch. In-flight mutations are replayed on top of the
fetched board and the change stream is reopened after its revision. A closed
change stream is reopened from the last applied revision after
ResubscribeDelay.
*/
package session
