package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusUpdate(t *testing.T) {
	cfg := Config{Retries: 2}
	fail := Result{Healthy: false, Message: "down"}
	ok := Result{Healthy: true}

	s := NewStatus()
	assert.True(t, s.Healthy)

	s.Update(fail, cfg)
	assert.True(t, s.Healthy, "one failure is below the retry threshold")
	assert.Equal(t, 1, s.ConsecutiveFailures)

	s.Update(fail, cfg)
	assert.False(t, s.Healthy)
	assert.Equal(t, "down", s.LastResult.Message)

	s.Update(ok, cfg)
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, 1, s.ConsecutiveSuccesses)
}

func TestStatusStartPeriod(t *testing.T) {
	cfg := Config{Retries: 1, StartPeriod: time.Hour}
	s := NewStatus()

	s.Update(Result{Healthy: false}, cfg)
	assert.True(t, s.InStartPeriod(cfg))
	assert.True(t, s.Healthy, "failures during the start period are not counted")
	assert.Equal(t, 0, s.ConsecutiveFailures)

	s.StartedAt = time.Now().Add(-2 * time.Hour)
	s.Update(Result{Healthy: false}, cfg)
	assert.False(t, s.Healthy)
}

func TestFuncChecker(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		healthy bool
		message string
	}{
		{name: "ok", healthy: true, message: "leader elected"},
		{name: "failing", err: errors.New("no leader"), healthy: false, message: "no leader"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &FuncChecker{
				CheckType: CheckTypeRaft,
				Fn:        func(context.Context) error { return tt.err },
				OK:        "leader elected",
			}
			result := c.Check(context.Background())
			assert.Equal(t, tt.healthy, result.Healthy)
			assert.Equal(t, tt.message, result.Message)
			assert.False(t, result.CheckedAt.IsZero())
			assert.Equal(t, CheckTypeRaft, c.Type())
		})
	}
}

func TestRedisChecker(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	defer m.Close()

	rc := redis.NewClient(&redis.Options{Addr: m.Addr(), MaxRetries: -1})
	defer rc.Close()
	c := NewRedisChecker(rc)
	assert.Equal(t, CheckTypeRedis, c.Type())

	result := c.Check(context.Background())
	assert.True(t, result.Healthy, result.Message)

	m.Close()
	result = c.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "ping failed")
}

type reports struct {
	mu   sync.Mutex
	last map[string]bool
}

func (r *reports) record(name string, healthy bool, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[name] = healthy
}

func (r *reports) get(name string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.last[name]
	return v, ok
}

func TestMonitorReportsTransitions(t *testing.T) {
	var mu sync.Mutex
	raftErr := error(nil)

	rep := &reports{last: map[string]bool{}}
	mon := NewMonitor(Config{Interval: 10 * time.Millisecond, Retries: 2}, rep.record)
	mon.Add("raft", &FuncChecker{
		CheckType: CheckTypeRaft,
		Fn: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			return raftErr
		},
	})
	mon.Add("storage", &FuncChecker{CheckType: CheckTypeStorage, Fn: func(context.Context) error { return nil }})

	mon.Start(context.Background())
	defer mon.Stop()

	require.Eventually(t, func() bool {
		raft, ok1 := rep.get("raft")
		storage, ok2 := rep.get("storage")
		return ok1 && ok2 && raft && storage
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	raftErr = errors.New("no leader")
	mu.Unlock()

	require.Eventually(t, func() bool {
		raft, _ := rep.get("raft")
		return !raft
	}, time.Second, 5*time.Millisecond)

	status, ok := mon.Status("raft")
	require.True(t, ok)
	assert.GreaterOrEqual(t, status.ConsecutiveFailures, 2)

	_, ok = mon.Status("missing")
	assert.False(t, ok)
}

func TestMonitorStopWithoutStart(t *testing.T) {
	mon := NewMonitor(Config{}, nil)
	mon.Stop()
	assert.Equal(t, DefaultConfig().Interval, mon.cfg.Interval)
}
