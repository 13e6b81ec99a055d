/*
Package presence tracks which collaborators are online on a board.

A Tracker runs its own connection loop, independent of board data:

	disconnected ──► connecting ──► connected
	      ▲                             │
	      └──────── transport lost ─────┘

Losing the transport clears the online set at once and schedules a
reconnect with exponential backoff (1s doubling to 30s, ±20% jitter).
Join and leave events are idempotent. Nothing in this package can touch the
board store, so a presence failure never rolls back a mutation.
*/
package presence
