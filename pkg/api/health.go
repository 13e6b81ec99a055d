package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/events"
	"github.com/cuemby/boardsync/pkg/metrics"
	"github.com/cuemby/boardsync/pkg/types"
)

// Cluster is the part of the manager the readiness report reads
type Cluster interface {
	IsLeader() bool
	LeaderAddr() string
	ListBoards() ([]*board.State, error)
	Changes() *events.Broker[*types.ChangeEvent]
}

// HealthServer serves the health, readiness and metrics endpoints.
//
// Readiness combines the components registered with the checker (raft, api
// and storage must be healthy) with live checks against the cluster: a
// leader must be known and the board store must answer ListBoards.
type HealthServer struct {
	cluster Cluster
	checker *metrics.HealthChecker
	version string
	mux     *http.ServeMux
}

// NewHealthServer creates the health endpoints for cluster. A nil checker
// uses the process-wide one.
func NewHealthServer(cluster Cluster, checker *metrics.HealthChecker, version string) *HealthServer {
	if checker == nil {
		checker = metrics.Default()
	}
	hs := &HealthServer{
		cluster: cluster,
		checker: checker,
		version: version,
		mux:     http.NewServeMux(),
	}

	hs.mux.HandleFunc("/health", getOnly(hs.health))
	hs.mux.HandleFunc("/ready", getOnly(hs.ready))
	hs.mux.HandleFunc("/live", getOnly(hs.live))
	hs.mux.HandleFunc("/components", getOnly(hs.components))
	hs.mux.Handle("/metrics", metrics.Handler())
	return hs
}

// NewHTTPServer returns an http.Server serving the health endpoints on addr
func (hs *HealthServer) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Handler returns the endpoint mux for embedding in other servers
func (hs *HealthServer) Handler() http.Handler {
	return hs.mux
}

// HealthResponse is the body of /health and /live
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
}

// ReadyResponse is the body of /ready
type ReadyResponse struct {
	Status     string            `json:"status"` // "ready" or "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components"`
	Checks     map[string]string `json:"checks"`
	Message    string            `json:"message,omitempty"`
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// health answers 200 while the process serves requests
func (hs *HealthServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
		Uptime:    hs.checker.Uptime().String(),
	})
}

func (hs *HealthServer) live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Uptime:    hs.checker.Uptime().String(),
	})
}

// components reports every registered component, including non-critical
// ones such as the relay
func (hs *HealthServer) components(w http.ResponseWriter, _ *http.Request) {
	report := hs.checker.Health()
	report.Version = hs.version
	code := http.StatusOK
	if report.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (hs *HealthServer) ready(w http.ResponseWriter, _ *http.Request) {
	report := hs.checker.Readiness()
	resp := ReadyResponse{
		Status:     report.Status,
		Timestamp:  time.Now(),
		Version:    hs.version,
		Components: report.Components,
		Checks:     make(map[string]string),
		Message:    report.Message,
	}
	notReady := func(msg string) {
		resp.Status = "not_ready"
		if resp.Message == "" {
			resp.Message = msg
		}
	}

	if hs.cluster == nil {
		resp.Checks["leader"] = "not initialized"
		resp.Checks["boards"] = "not initialized"
		notReady("manager not initialized")
		writeReady(w, resp)
		return
	}

	switch leader := hs.cluster.LeaderAddr(); {
	case hs.cluster.IsLeader():
		resp.Checks["leader"] = "self"
	case leader != "":
		resp.Checks["leader"] = leader
	default:
		resp.Checks["leader"] = "none"
		notReady("waiting for leader election")
	}

	if boards, err := hs.cluster.ListBoards(); err != nil {
		resp.Checks["boards"] = "error: " + err.Error()
		notReady("board store not readable")
	} else {
		resp.Checks["boards"] = strconv.Itoa(len(boards))
	}

	resp.Checks["subscribers"] = strconv.Itoa(hs.cluster.Changes().SubscriberCount())
	writeReady(w, resp)
}

func writeReady(w http.ResponseWriter, resp ReadyResponse) {
	code := http.StatusOK
	if resp.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
