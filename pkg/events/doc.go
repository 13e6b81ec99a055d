/*
Package events provides an in-memory broker for fan-out of values to
subscribers.

Broker is generic. The sync core uses Broker[*Event] for user-facing
notifications (a rolled-back mutation, a stale move, a lost presence
connection) and the board server uses Broker[*types.ChangeEvent] to push
committed revisions to open change streams.

# Delivery

Publish hands the value to a single distribution goroutine, which copies it
into every subscriber's buffered channel. A subscriber whose buffer is full
misses the value; the broker never blocks on a slow reader. Consumers that
cannot tolerate gaps (the change stream) detect them by revision and recover
on their own.

	broker := events.NewBroker[*events.Event](50)
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Message)
	}

Stop closes every subscriber channel, so range loops over a subscription end
when the broker stops.
*/
package events
