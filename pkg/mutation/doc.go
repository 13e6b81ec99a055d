/*
Package mutation implements the optimistic mutation pipeline.

Submit applies a mutation to the board store immediately and hands it to a
Dispatcher for the remote write. Until the write resolves the mutation is
Pending: it holds a rollback snapshot of every entity it touched and a lock
on those entities.

	submit ──► in-flight ──► confirmed   (ack or echoed change)
	   │           └───────► failed      (rollback to snapshot)
	   └──► queued ──► in-flight          (entity lock released)

A second mutation touching a locked entity waits in a FIFO queue and is
computed against the store only when it starts, never against the state it
saw at submission. A queued move whose source no longer holds the task fails
with *move.StaleMoveError.

Applied mutations form a stack that lasts until the store reflects them:
in-flight ones until they resolve, confirmed ones until their revision is
applied. Rollback unwinds the stack to the confirmed state and replays every
other mutation. A remote change touching the stack goes through Rebase, which
applies it to the confirmed state and replays the stack on top, so a rollback
lands on the server's view rather than the one before the mutation.

Results for mutations that are no longer in flight are ignored, which keeps a
late acknowledgement from reviving a rolled-back mutation.

The Pipeline is not goroutine safe. It is driven by the session loop, which
also implements the Dispatcher by running the write on its own goroutine and
posting the outcome back.
*/
package mutation
