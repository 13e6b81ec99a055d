package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boardsync/pkg/events"
	"github.com/cuemby/boardsync/pkg/types"
)

type fakeTransport struct {
	conns chan chan types.PresenceEvent
	fail  chan error

	mu          sync.Mutex
	connects    int
	disconnects int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		conns: make(chan chan types.PresenceEvent, 4),
		fail:  make(chan error, 4),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, boardID, userID string) (<-chan types.PresenceEvent, error) {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	select {
	case ch := <-f.conns:
		return ch, nil
	case err := <-f.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

type recordedDelays struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedDelays) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *recordedDelays) list() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func startTracker(t *testing.T, tr Transport, cfg Config) *Tracker {
	t.Helper()
	tk := NewTracker(tr, cfg)
	tk.Start(context.Background())
	t.Cleanup(tk.Stop)
	return tk
}

func join(id string) types.PresenceEvent  { return types.PresenceEvent{Type: types.PresenceJoin, UserID: id} }
func leave(id string) types.PresenceEvent { return types.PresenceEvent{Type: types.PresenceLeave, UserID: id} }

func TestTrackerJoinLeave(t *testing.T) {
	tr := newFakeTransport()
	conn := make(chan types.PresenceEvent)
	tr.conns <- conn

	tk := startTracker(t, tr, Config{BoardID: "b1", UserID: "me"})

	conn <- join("bob")
	conn <- join("alice")
	conn <- join("alice")
	conn <- leave("carol")
	conn <- join("dave")
	conn <- leave("dave")

	require.Eventually(t, func() bool { return len(tk.Online()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice", "bob"}, tk.Online())
	assert.Equal(t, StateConnected, tk.State())
}

func TestDisconnectClearsPresenceSet(t *testing.T) {
	tr := newFakeTransport()
	first := make(chan types.PresenceEvent)
	tr.conns <- first
	delays := &recordedDelays{}

	tk := startTracker(t, tr, Config{BoardID: "b1", UserID: "me", After: delays.after})

	first <- join("alice")
	first <- join("bob")
	require.Eventually(t, func() bool { return len(tk.Online()) == 2 }, time.Second, 5*time.Millisecond)

	close(first)

	require.Eventually(t, func() bool {
		return len(tk.Online()) == 0 && tk.State() == StateConnecting
	}, time.Second, 5*time.Millisecond)

	second := make(chan types.PresenceEvent)
	tr.conns <- second
	second <- join("carol")

	require.Eventually(t, func() bool { return len(tk.Online()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"carol"}, tk.Online())
	assert.Equal(t, StateConnected, tk.State())

	got := delays.list()
	require.Len(t, got, 1)
	assert.GreaterOrEqual(t, got[0], 800*time.Millisecond)
	assert.LessOrEqual(t, got[0], 1200*time.Millisecond)
}

func TestReconnectBacksOffOnConnectFailure(t *testing.T) {
	tr := newFakeTransport()
	for i := 0; i < 3; i++ {
		tr.fail <- errors.New("connection refused")
	}
	delays := &recordedDelays{}
	backoff := Backoff{Base: time.Second, Cap: 30 * time.Second, Jitter: 0.2, Rand: func() float64 { return 0.5 }}

	tk := startTracker(t, tr, Config{BoardID: "b1", UserID: "me", Backoff: backoff, After: delays.after})
	require.Eventually(t, func() bool { return len(delays.list()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, tk.Online())

	conn := make(chan types.PresenceEvent)
	tr.conns <- conn
	conn <- join("alice")

	require.Eventually(t, func() bool { return tk.State() == StateConnected && len(tk.Online()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays.list())
}

func TestTrackerPublishesNotifications(t *testing.T) {
	broker := events.NewBroker[*events.Event](10)
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	tr := newFakeTransport()
	conn := make(chan types.PresenceEvent)
	tr.conns <- conn
	startTracker(t, tr, Config{BoardID: "b1", UserID: "me", Broker: broker, After: (&recordedDelays{}).after})

	conn <- join("alice")
	close(conn)

	var got []events.EventType
	timeout := time.After(time.Second)
	for len(got) < 3 {
		select {
		case ev := <-sub:
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatalf("received %v", got)
		}
	}
	assert.Equal(t, []events.EventType{
		events.EventPresenceConnected,
		events.EventPresenceJoined,
		events.EventPresenceLost,
	}, got)
}

func TestStop(t *testing.T) {
	tr := newFakeTransport()
	conn := make(chan types.PresenceEvent)
	tr.conns <- conn

	tk := NewTracker(tr, Config{BoardID: "b1", UserID: "me"})
	assert.Equal(t, StateDisconnected, tk.State())
	tk.Start(context.Background())

	conn <- join("alice")
	require.Eventually(t, func() bool { return len(tk.Online()) == 1 }, time.Second, 5*time.Millisecond)

	tk.Stop()

	assert.Empty(t, tk.Online())
	assert.Equal(t, StateDisconnected, tk.State())
	tr.mu.Lock()
	assert.Equal(t, 1, tr.disconnects)
	tr.mu.Unlock()
}

func TestBackoffDelay(t *testing.T) {
	fixed := func(v float64) func() float64 { return func() float64 { return v } }

	tests := []struct {
		name    string
		attempt int
		rand    float64
		want    time.Duration
	}{
		{"first attempt no jitter", 0, 0.5, time.Second},
		{"doubles", 3, 0.5, 8 * time.Second},
		{"capped", 10, 0.5, 30 * time.Second},
		{"low jitter", 0, 0, 800 * time.Millisecond},
		{"high jitter", 1, 0.75, 2200 * time.Millisecond},
		{"jitter above cap", 8, 0.75, 33 * time.Second},
		{"jitter below cap", 8, 0, 24 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := DefaultBackoff()
			b.Rand = fixed(tt.rand)
			assert.Equal(t, tt.want, b.Delay(tt.attempt))
		})
	}
}

func TestBackoffBounds(t *testing.T) {
	b := DefaultBackoff()
	var above, below int
	for attempt := 0; attempt < 12; attempt++ {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.Greater(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, 36*time.Second)
			if attempt >= 5 {
				assert.GreaterOrEqual(t, d, 24*time.Second)
				if d > 30*time.Second {
					above++
				} else {
					below++
				}
			}
		}
	}
	// jitter at the cap spreads both ways
	assert.Positive(t, above)
	assert.Positive(t, below)
}
