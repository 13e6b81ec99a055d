package events

import (
	"sync"
	"time"
)

// EventType represents the type of notification
type EventType string

const (
	EventMutationConfirmed EventType = "mutation.confirmed"
	EventMutationFailed    EventType = "mutation.failed"
	EventMoveStale         EventType = "move.stale"
	EventRevisionGap       EventType = "revision.gap"
	EventBoardRefetched    EventType = "board.refetched"
	EventPresenceJoined    EventType = "presence.joined"
	EventPresenceLeft      EventType = "presence.left"
	EventPresenceConnected EventType = "presence.connected"
	EventPresenceLost      EventType = "presence.disconnected"
)

// Event is a user-facing notification from the sync core
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives published values
type Subscriber[T any] chan T

// Broker manages subscriptions and distribution of values of type T
type Broker[T any] struct {
	subscribers map[Subscriber[T]]bool
	mu          sync.RWMutex
	eventCh     chan T
	stopCh      chan struct{}
	stopOnce    sync.Once
	bufferSize  int
}

// NewBroker creates a new broker. bufferSize is the per-subscriber buffer.
func NewBroker[T any](bufferSize int) *Broker[T] {
	if bufferSize <= 0 {
		bufferSize = 50
	}
	return &Broker[T]{
		subscribers: make(map[Subscriber[T]]bool),
		eventCh:     make(chan T, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
		bufferSize:  bufferSize,
	}
}

// Start begins the broker's distribution loop
func (b *Broker[T]) Start() {
	go b.run()
}

// Stop stops the broker and closes every subscription
func (b *Broker[T]) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			delete(b.subscribers, sub)
			close(sub)
		}
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker[T]) Subscribe() Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber[T], b.bufferSize)
	select {
	case <-b.stopCh:
		close(sub)
		return sub
	default:
	}
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker[T]) Unsubscribe(sub Subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes a value to all subscribers
func (b *Broker[T]) Publish(v T) {
	select {
	case b.eventCh <- v:
	case <-b.stopCh:
	}
}

func (b *Broker[T]) run() {
	for {
		select {
		case v := <-b.eventCh:
			b.broadcast(v)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker[T]) broadcast(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- v:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// NewEvent builds a notification stamped with the current time
func NewEvent(t EventType, msg string, metadata map[string]string) *Event {
	return &Event{
		Type:      t,
		Timestamp: time.Now(),
		Message:   msg,
		Metadata:  metadata,
	}
}
