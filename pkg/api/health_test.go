package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/events"
	"github.com/cuemby/boardsync/pkg/metrics"
	"github.com/cuemby/boardsync/pkg/types"
)

type fakeCluster struct {
	leader   bool
	addr     string
	boards   []*board.State
	boardErr error
	changes  *events.Broker[*types.ChangeEvent]
}

func (c *fakeCluster) IsLeader() bool     { return c.leader }
func (c *fakeCluster) LeaderAddr() string { return c.addr }
func (c *fakeCluster) ListBoards() ([]*board.State, error) {
	return c.boards, c.boardErr
}
func (c *fakeCluster) Changes() *events.Broker[*types.ChangeEvent] { return c.changes }

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		leader:  true,
		addr:    "10.0.0.1:7946",
		boards:  []*board.State{board.New("b1", nil), board.New("b2", nil)},
		changes: events.NewBroker[*types.ChangeEvent](8),
	}
}

// readyChecker returns a checker with the critical components registered
func readyChecker() *metrics.HealthChecker {
	checker := metrics.NewHealthChecker(metrics.ComponentRaft, metrics.ComponentAPI, metrics.ComponentStorage)
	for _, name := range []string{metrics.ComponentRaft, metrics.ComponentAPI, metrics.ComponentStorage} {
		checker.Register(name, true, "")
	}
	return checker
}

func serve(t *testing.T, hs *HealthServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	hs.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func decodeReady(t *testing.T, w *httptest.ResponseRecorder) ReadyResponse {
	t.Helper()
	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name        string
		cluster     func(c *fakeCluster)
		checker     func() *metrics.HealthChecker
		wantCode    int
		wantChecks  map[string]string
		wantMessage string
	}{
		{
			name:       "leader with readable store",
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"leader": "self", "boards": "2", "subscribers": "0"},
		},
		{
			name:       "follower knows its leader",
			cluster:    func(c *fakeCluster) { c.leader = false },
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"leader": "10.0.0.1:7946"},
		},
		{
			name:        "no leader elected",
			cluster:     func(c *fakeCluster) { c.leader, c.addr = false, "" },
			wantCode:    http.StatusServiceUnavailable,
			wantChecks:  map[string]string{"leader": "none"},
			wantMessage: "waiting for leader election",
		},
		{
			name:        "board store unreadable",
			cluster:     func(c *fakeCluster) { c.boardErr = errors.New("bolt closed") },
			wantCode:    http.StatusServiceUnavailable,
			wantChecks:  map[string]string{"boards": "error: bolt closed"},
			wantMessage: "board store not readable",
		},
		{
			name: "raft component failing",
			checker: func() *metrics.HealthChecker {
				h := readyChecker()
				h.Register(metrics.ComponentRaft, false, "no quorum")
				return h
			},
			wantCode:    http.StatusServiceUnavailable,
			wantMessage: "waiting for raft",
		},
		{
			name: "api not yet registered",
			checker: func() *metrics.HealthChecker {
				h := metrics.NewHealthChecker(metrics.ComponentRaft, metrics.ComponentAPI, metrics.ComponentStorage)
				h.Register(metrics.ComponentRaft, true, "")
				h.Register(metrics.ComponentStorage, true, "")
				return h
			},
			wantCode:    http.StatusServiceUnavailable,
			wantMessage: "waiting for api initialization",
		},
		{
			name: "relay failure does not block readiness",
			checker: func() *metrics.HealthChecker {
				h := readyChecker()
				h.Register(metrics.ComponentRelay, false, "redis unreachable")
				return h
			},
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cluster := newFakeCluster()
			if tt.cluster != nil {
				tt.cluster(cluster)
			}
			checker := readyChecker()
			if tt.checker != nil {
				checker = tt.checker()
			}

			w := serve(t, NewHealthServer(cluster, checker, "v1.2.3"), http.MethodGet, "/ready")
			assert.Equal(t, tt.wantCode, w.Code)

			resp := decodeReady(t, w)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "ready", resp.Status)
			} else {
				assert.Equal(t, "not_ready", resp.Status)
			}
			for k, v := range tt.wantChecks {
				assert.Equal(t, v, resp.Checks[k], k)
			}
			assert.Equal(t, tt.wantMessage, resp.Message)
			assert.Equal(t, "v1.2.3", resp.Version)
			assert.NotContains(t, resp.Components, metrics.ComponentRelay)
		})
	}
}

func TestReadinessCountsSubscribers(t *testing.T) {
	cluster := newFakeCluster()
	for i := 0; i < 2; i++ {
		sub := cluster.changes.Subscribe()
		defer cluster.changes.Unsubscribe(sub)
	}

	resp := decodeReady(t, serve(t, NewHealthServer(cluster, readyChecker(), "v1"), http.MethodGet, "/ready"))
	assert.Equal(t, "2", resp.Checks["subscribers"])
}

func TestReadinessWithoutManager(t *testing.T) {
	w := serve(t, NewHealthServer(nil, readyChecker(), "v1"), http.MethodGet, "/ready")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decodeReady(t, w)
	assert.Equal(t, "not initialized", resp.Checks["leader"])
	assert.Equal(t, "manager not initialized", resp.Message)
}

func TestReadinessWithManager(t *testing.T) {
	m := newTestManager(t)
	w := serve(t, NewHealthServer(m, readyChecker(), "v1"), http.MethodGet, "/ready")

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeReady(t, w)
	assert.Equal(t, "self", resp.Checks["leader"])
	assert.Equal(t, "0", resp.Checks["boards"])
	assert.Equal(t, map[string]string{
		metrics.ComponentRaft:    "ready",
		metrics.ComponentAPI:     "ready",
		metrics.ComponentStorage: "ready",
	}, resp.Components)
}

func TestComponentsReportsRelay(t *testing.T) {
	checker := readyChecker()
	checker.SetVersion("from-checker")
	checker.Register(metrics.ComponentRelay, false, "redis unreachable")

	w := serve(t, NewHealthServer(newFakeCluster(), checker, "v2.0.0"), http.MethodGet, "/components")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var report metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, "unhealthy: redis unreachable", report.Components[metrics.ComponentRelay])
	assert.Equal(t, "healthy", report.Components[metrics.ComponentRaft])
	assert.Equal(t, "v2.0.0", report.Version)
}

func TestHealthRoutes(t *testing.T) {
	hs := NewHealthServer(newFakeCluster(), readyChecker(), "v3.1.0")

	tests := []struct {
		method     string
		path       string
		code       int
		wantStatus string
	}{
		{http.MethodGet, "/health", http.StatusOK, "healthy"},
		{http.MethodGet, "/live", http.StatusOK, "alive"},
		{http.MethodGet, "/metrics", http.StatusOK, ""},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed, ""},
		{http.MethodPost, "/ready", http.StatusMethodNotAllowed, ""},
		{http.MethodDelete, "/live", http.StatusMethodNotAllowed, ""},
		{http.MethodPut, "/components", http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(t, hs, tt.method, tt.path)
			assert.Equal(t, tt.code, w.Code)
			if tt.wantStatus == "" {
				return
			}
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var resp HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "v3.1.0", resp.Version)
			assert.NotEmpty(t, resp.Uptime)
		})
	}
}

func TestNilCheckerUsesDefault(t *testing.T) {
	hs := NewHealthServer(newFakeCluster(), nil, "v1")
	assert.Same(t, metrics.Default(), hs.checker)
}
