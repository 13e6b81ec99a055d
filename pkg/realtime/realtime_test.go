package realtime

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boardsync/pkg/presence"
	"github.com/cuemby/boardsync/pkg/types"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { rc.Close() })
	return m, rc
}

func next(t *testing.T, ch <-chan types.PresenceEvent) types.PresenceEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "presence stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no presence event")
	}
	return types.PresenceEvent{}
}

var _ presence.Transport = (*Presence)(nil)

func TestPresenceRosterAndJoins(t *testing.T) {
	_, rc := newRedis(t)
	ctx := context.Background()

	alice := NewPresence(rc, PresenceConfig{})
	aliceCh, err := alice.Connect(ctx, "b1", "alice")
	require.NoError(t, err)
	defer alice.Disconnect()

	// Alice sees herself in the roster, then her own join announcement
	assert.Equal(t, types.PresenceEvent{Type: types.PresenceJoin, UserID: "alice"}, next(t, aliceCh))
	assert.Equal(t, types.PresenceEvent{Type: types.PresenceJoin, UserID: "alice"}, next(t, aliceCh))

	bob := NewPresence(rc, PresenceConfig{})
	bobCh, err := bob.Connect(ctx, "b1", "bob")
	require.NoError(t, err)

	assert.Equal(t, types.PresenceEvent{Type: types.PresenceJoin, UserID: "bob"}, next(t, aliceCh))

	roster := map[string]bool{}
	for i := 0; i < 2; i++ {
		roster[next(t, bobCh).UserID] = true
	}
	assert.Equal(t, map[string]bool{"alice": true, "bob": true}, roster)

	require.NoError(t, bob.Disconnect())
	assert.Equal(t, types.PresenceEvent{Type: types.PresenceLeave, UserID: "bob"}, next(t, aliceCh))

	// The stream of a disconnected transport is closed
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-bobCh:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond)

	members, err := rc.ZRange(ctx, "boardsync:presence:b1:members", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
}

func TestPresenceExpiresStaleMembers(t *testing.T) {
	_, rc := newRedis(t)
	ctx := context.Background()

	// carol stopped heartbeating long ago
	require.NoError(t, rc.ZAdd(ctx, "boardsync:presence:b1:members", redis.Z{Score: 1, Member: "carol"}).Err())

	p := NewPresence(rc, PresenceConfig{TTL: 90 * time.Millisecond})
	ch, err := p.Connect(ctx, "b1", "alice")
	require.NoError(t, err)
	defer p.Disconnect()

	// The roster only lists live members
	assert.Equal(t, types.PresenceEvent{Type: types.PresenceJoin, UserID: "alice"}, next(t, ch))
	assert.Equal(t, types.PresenceEvent{Type: types.PresenceJoin, UserID: "alice"}, next(t, ch))

	assert.Equal(t, types.PresenceEvent{Type: types.PresenceLeave, UserID: "carol"}, next(t, ch))
}

func TestPresenceStreamClosesWhenRedisGoesAway(t *testing.T) {
	m, rc := newRedis(t)
	ctx := context.Background()

	p := NewPresence(rc, PresenceConfig{TTL: 60 * time.Millisecond})
	ch, err := p.Connect(ctx, "b1", "alice")
	require.NoError(t, err)
	next(t, ch)
	next(t, ch)

	m.Close()

	deadline := time.After(5 * time.Second)
	for closed := false; !closed; {
		select {
		case _, ok := <-ch:
			closed = !ok
		case <-deadline:
			t.Fatal("stream stayed open without redis")
		}
	}

	_, err = p.Connect(ctx, "b1", "alice")
	assert.Error(t, err)
}

func TestTrackerOverRedis(t *testing.T) {
	_, rc := newRedis(t)

	tracker := presence.NewTracker(NewPresence(rc, PresenceConfig{}), presence.Config{BoardID: "b1", UserID: "alice"})
	tracker.Start(context.Background())
	defer tracker.Stop()

	other := NewPresence(rc, PresenceConfig{})
	_, err := other.Connect(context.Background(), "b1", "bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"alice", "bob"}, tracker.Online())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, other.Disconnect())
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"alice"}, tracker.Online())
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, presence.StateConnected, tracker.State())
}

func TestRelayPublishesAndWatches(t *testing.T) {
	_, rc := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelay(rc, "")
	watch, err := relay.Watch(ctx, "b1")
	require.NoError(t, err)

	changes := make(chan *types.ChangeEvent, 4)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, changes) }()

	changes <- &types.ChangeEvent{BoardID: "b1", Revision: 7, MutationID: "m7", Kind: types.ChangeReorder}
	changes <- &types.ChangeEvent{BoardID: "b2", Revision: 1, MutationID: "x1", Kind: types.ChangeCreate}

	select {
	case ev := <-watch:
		assert.Equal(t, uint64(7), ev.Revision)
		assert.Equal(t, "m7", ev.MutationID)
	case <-time.After(2 * time.Second):
		t.Fatal("relayed change not delivered")
	}

	require.Eventually(t, func() bool {
		rev, err := relay.Revision(ctx, "b2")
		return err == nil && rev == 1
	}, 2*time.Second, 10*time.Millisecond)

	rev, err := relay.Revision(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rev)

	close(changes)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
