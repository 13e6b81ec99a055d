package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, sub Subscriber[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub:
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker[*Event](10)
	b.Start()
	defer b.Stop()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(NewEvent(EventMutationFailed, "move failed", map[string]string{"reason": "timeout"}))

	for _, sub := range []Subscriber[*Event]{s1, s2} {
		ev := receive(t, sub)
		assert.Equal(t, EventMutationFailed, ev.Type)
		assert.Equal(t, "timeout", ev.Metadata["reason"])
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestBrokerPreservesOrder(t *testing.T) {
	b := NewBroker[int](100)
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	for i := 1; i <= 20; i++ {
		b.Publish(i)
	}
	for i := 1; i <= 20; i++ {
		assert.Equal(t, i, receive(t, sub))
	}
}

func TestBrokerDropsForFullSubscriber(t *testing.T) {
	b := NewBroker[int](1)
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	fast := b.Subscribe()

	b.Publish(1)
	assert.Equal(t, 1, receive(t, fast))
	b.Publish(2)
	assert.Equal(t, 2, receive(t, fast))

	assert.Equal(t, 1, receive(t, slow))
	select {
	case v := <-slow:
		t.Fatalf("slow subscriber received %d after its buffer filled", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroker[string](5)
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestStopClosesSubscriptions(t *testing.T) {
	b := NewBroker[string](5)
	b.Start()

	sub := b.Subscribe()
	b.Stop()
	b.Stop()

	_, ok := <-sub
	assert.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)

	// publishing after stop must not block
	b.Publish("ignored")
}
