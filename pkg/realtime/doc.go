/*
Package realtime carries presence and change fan-out over Redis.

# Presence

Presence implements presence.Transport. Each board has a sorted set of
online members, scored by the millisecond time of their last heartbeat, and a
pub/sub channel for join and leave announcements:

	<prefix>:presence:<board>:members   sorted set, member → last heartbeat
	<prefix>:presence:<board>           channel of types.PresenceEvent (JSON)

Connect subscribes first, registers the member, announces the join and then
delivers the live roster as joins. A heartbeat every TTL/3 refreshes the
member and expires members older than TTL; whichever client removes a stale
member announces its leave. A failed heartbeat closes the stream, which the
presence.Tracker treats as a lost transport and reconnects with backoff.

# Relay

Relay republishes committed change events so consumers outside the gRPC API
can follow a board:

	<prefix>:changes:<board>            channel of types.ChangeEvent (JSON)
	<prefix>:board:<board>:revision     latest relayed revision

Relay delivery is at most once. Consumers that need every revision should
compare the revision key with what they applied and fetch on a gap.
*/
package realtime
