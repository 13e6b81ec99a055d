/*
Package move computes drag/drop reorders of a board's order index.

Plan and Apply are pure: the result depends only on the order index and the
move, and the input is never modified. Replaying the same moves from the same
starting index always yields the same sequences, which is what makes retries
safe once writes carry mutation ids.

# Rules

  - The task must sit at the stated source location; otherwise the move is
    rejected with a *StaleMoveError and nothing changes.
  - A same-column move to the same index is a no-op.
  - Cross-column: remove from the source column, insert into the destination
    column at the destination index clamped to [0, len].
  - Same-column: the destination index is a gap in the column as displayed
    before the drag. Removing an earlier element shifts later indices down by
    one, so a gap after the source becomes gap-1 once the task is removed.
    The gap directly after the task is therefore also a no-op.

Relocate supports the authoritative store, which resolves a move by task id
instead of trusting a possibly stale client index.
*/
package move
