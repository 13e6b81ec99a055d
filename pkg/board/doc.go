/*
Package board is the entity store of the sync core: a normalized model of one
board (columns keyed by id, tasks keyed by id, per-column order index) plus
the pure functions that change it.

# Copy-on-write

A State published through a Store is immutable. Apply, ApplyChange and
Restore build a new State that shares unchanged entities with the old one and
replaces every entity they touch, so a reader holding an older snapshot never
sees a partial update. The Store itself is a single-writer container: the
owning goroutine swaps states, everybody else reads.

# Mutations and changes

Apply turns a local Mutation into a new State and the whole-entity
ChangePayload the authoritative store broadcasts for it. ApplyChange applies
such a payload received from elsewhere. Because payloads replace entities
wholesale (a column's title and full task order at once), applying revisions
in order is last-revision-wins per entity.

# Slices

Keys names the entities a mutation touches ("task:<id>", "column:<id>" and
the board's column order). Capture copies those entities out of a State,
and Restore puts them back exactly. The mutation pipeline stacks these
slices to unwind its optimistic mutations back to the confirmed state.
*/
package board
