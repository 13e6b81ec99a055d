/*
Package reconciler merges the remote change stream of a board into the local
entity store.

Every committed change carries a per-board revision. The reconciler applies
revisions strictly in ascending order:

	revision <= applied     dropped (duplicate or replay)
	revision == applied+1   applied, then any buffered successors
	revision >  applied+1   buffered until the gap closes

The buffer is bounded. When it overflows Receive returns ErrBufferOverflow;
when the owner's gap timer fires it asks GapTimeout for a *RevisionGapTimeout.
Both are recovered the same way: fetch the whole board, replace the store and
call Reset with the fetched revision.

# Local mutations

The reconciler consults a Ledger (the mutation pipeline) for each event:

  - an event carrying the id of an in-flight local mutation confirms it
  - an event touching no entity of a pending or unechoed local mutation is
    applied to the store directly
  - any other event is rebased as a whole: the ledger unwinds its local
    mutations, the event is applied to the state the server confirmed, and
    the local mutations are replayed on top

A change is never split entity by entity between the live store and a
rollback snapshot, which would let a task appear in two columns at once.

Changes replace entities wholesale. Two clients reordering the same column
concurrently therefore converge on whichever revision commits last; the
earlier reorder is superseded rather than merged.
*/
package reconciler
