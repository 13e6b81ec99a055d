package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/events"
	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/metrics"
	"github.com/cuemby/boardsync/pkg/storage"
	"github.com/cuemby/boardsync/pkg/types"
)

// ErrNotLeader is returned for writes sent to a follower
var ErrNotLeader = errors.New("not the raft leader")

// defaultApplyTimeout bounds a raft apply when the caller sets no deadline
const defaultApplyTimeout = 5 * time.Second

// Manager is the authoritative board store: a Raft-replicated log of
// board revisions over BoltDB storage.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string
	inMemory bool

	raft    *raft.Raft
	fsm     *BoardFSM
	store   storage.Store
	changes *events.Broker[*types.ChangeEvent]
	logger  zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	// InMemory keeps the raft log, stable store and snapshots in memory.
	// Board storage stays in DataDir.
	InMemory bool
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	// Create BoltDB store
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	// Committed changes fan out to subscribers
	changes := events.NewBroker[*types.ChangeEvent](256)
	changes.Start()

	m := &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		inMemory: cfg.InMemory,
		store:    store,
		changes:  changes,
		logger:   log.WithComponent("manager"),
	}
	m.fsm = NewBoardFSM(store, m.committed)

	return m, nil
}

func (m *Manager) committed(ev *types.ChangeEvent) {
	metrics.BoardRevision.WithLabelValues(ev.BoardID).Set(float64(ev.Revision))
	m.changes.Publish(ev)
}

// Bootstrap initializes a new single-node Raft cluster
func (m *Manager) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.Logger = hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.Warn,
		Output: log.WithComponent("raft"),
	})

	var (
		transport     raft.Transport
		logStore      raft.LogStore
		stableStore   raft.StableStore
		snapshotStore raft.SnapshotStore
	)

	if m.inMemory {
		config.HeartbeatTimeout = 50 * time.Millisecond
		config.ElectionTimeout = 50 * time.Millisecond
		config.CommitTimeout = 5 * time.Millisecond
		config.LeaderLeaseTimeout = 50 * time.Millisecond

		_, inmem := raft.NewInmemTransport(raft.ServerAddress(m.nodeID))
		transport = inmem
		store := raft.NewInmemStore()
		logStore, stableStore = store, store
		snapshotStore = raft.NewInmemSnapshotStore()
	} else {
		// Tune Raft timeouts for LAN deployments
		// Defaults: HeartbeatTimeout=1s, ElectionTimeout=1s, LeaderLeaseTimeout=500ms
		config.HeartbeatTimeout = 500 * time.Millisecond
		config.ElectionTimeout = 500 * time.Millisecond
		config.CommitTimeout = 50 * time.Millisecond
		config.LeaderLeaseTimeout = 250 * time.Millisecond

		// Setup Raft communication
		addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
		if err != nil {
			return fmt.Errorf("failed to resolve bind address: %v", err)
		}

		tcp, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to create transport: %v", err)
		}
		transport = tcp

		// Create snapshot store
		snapshotStore, err = raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to create snapshot store: %v", err)
		}

		// Create log store and stable store using BoltDB
		logStorePath := filepath.Join(m.dataDir, "raft-log.db")
		logStore, err = raftboltdb.NewBoltStore(logStorePath)
		if err != nil {
			return fmt.Errorf("failed to create log store: %v", err)
		}

		stableStorePath := filepath.Join(m.dataDir, "raft-stable.db")
		stableStore, err = raftboltdb.NewBoltStore(stableStorePath)
		if err != nil {
			return fmt.Errorf("failed to create stable store: %v", err)
		}
	}

	// A restarted node already holds a configuration in its stable store
	existing, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		return fmt.Errorf("failed to inspect raft state: %v", err)
	}

	// Create Raft instance
	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %v", err)
	}

	m.raft = r

	if existing {
		m.logger.Info().Str("node_id", m.nodeID).Msg("Resuming existing raft state")
		return nil
	}

	// Bootstrap cluster with this node as the only member
	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: transport.LocalAddr(),
			},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	m.logger.Info().Str("node_id", m.nodeID).Bool("in_memory", m.inMemory).Msg("Bootstrapped raft cluster")
	return nil
}

// WaitForLeader blocks until the cluster has elected a leader
func (m *Manager) WaitForLeader(timeout time.Duration) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.raft.Leader() != "" {
			return nil
		}
		select {
		case <-deadline:
			return fmt.Errorf("no leader elected after %s", timeout)
		case <-ticker.C:
		}
	}
}

// IsLeader returns true if this manager is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns Raft statistics
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = string(m.raft.Leader())

	return stats
}

// Changes returns the broker carrying every committed change event
func (m *Manager) Changes() *events.Broker[*types.ChangeEvent] {
	return m.changes
}

// Apply submits a command to the Raft cluster and returns the FSM response
func (m *Manager) Apply(ctx context.Context, cmd Command) (interface{}, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return nil, fmt.Errorf("%w: leader is %q", ErrNotLeader, m.LeaderAddr())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %v", err)
	}

	timeout := defaultApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	timer := metrics.NewTimer()
	future := m.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return nil, fmt.Errorf("%w: %v", ErrNotLeader, err)
		}
		if errors.Is(err, raft.ErrEnqueueTimeout) {
			return nil, fmt.Errorf("failed to apply command: %w", context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("failed to apply command: %v", err)
	}
	timer.ObserveDuration(metrics.RaftApplyDuration)

	// Check if apply returned an error
	resp := future.Response()
	if err, ok := resp.(error); ok && err != nil {
		return nil, err
	}

	return resp, nil
}

// CreateBoard creates a board with the given column titles, in order.
// An empty boardID is replaced with a generated one.
func (m *Manager) CreateBoard(ctx context.Context, boardID string, titles []string) (*board.State, error) {
	if boardID == "" {
		boardID = uuid.New().String()
	}

	columns := make([]types.Column, 0, len(titles))
	for _, title := range titles {
		if title == "" {
			return nil, fmt.Errorf("%w: %v", ErrRejected, board.ErrEmptyTitle)
		}
		columns = append(columns, types.Column{ID: uuid.New().String(), Title: title})
	}
	state := board.New(boardID, columns)

	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	if _, err := m.Apply(ctx, Command{Op: OpCreateBoard, Data: data}); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("board_id", boardID).
		Int("columns", len(columns)).
		Msg("Created board")
	return state, nil
}

// Write commits a mutation to boardID and returns its revision.
// Writing a mutation id twice returns the first acknowledgment.
func (m *Manager) Write(ctx context.Context, boardID string, mut *types.Mutation) (*types.Ack, error) {
	mm := *mut
	mm.BoardID = boardID

	data, err := json.Marshal(&mm)
	if err != nil {
		return nil, err
	}

	resp, err := m.Apply(ctx, Command{Op: OpApplyMutation, Data: data})
	if err != nil {
		metrics.ServerWrites.WithLabelValues(string(mm.Kind), writeStatus(err)).Inc()
		m.logger.Debug().
			Err(err).
			Str("board_id", boardID).
			Str("mutation_id", mm.ID).
			Msg("Write failed")
		return nil, err
	}

	res, ok := resp.(*ApplyResult)
	if !ok {
		return nil, fmt.Errorf("unexpected apply response %T", resp)
	}
	if res.Duplicate {
		metrics.ServerWrites.WithLabelValues(string(mm.Kind), "duplicate").Inc()
	} else {
		metrics.ServerWrites.WithLabelValues(string(mm.Kind), "committed").Inc()
	}
	return res.Ack, nil
}

func writeStatus(err error) string {
	switch {
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotLeader):
		return "not_leader"
	}
	return "error"
}

// Fetch returns the latest committed state of a board
func (m *Manager) Fetch(ctx context.Context, boardID string) (*board.State, error) {
	return m.store.GetBoard(boardID)
}

// ListBoards returns every board in the store
func (m *Manager) ListBoards() ([]*board.State, error) {
	return m.store.ListBoards()
}

// Subscribe streams the change events of boardID in revision order, starting
// at fromRevision. The stream closes when ctx is done or the manager shuts
// down. A subscriber that falls behind misses events and sees a revision gap.
func (m *Manager) Subscribe(ctx context.Context, boardID string, fromRevision uint64) (<-chan *types.ChangeEvent, error) {
	if _, err := m.store.GetBoard(boardID); err != nil {
		return nil, err
	}

	// Subscribe before reading the log so nothing committed in between is lost
	live := m.changes.Subscribe()
	backlog, err := m.store.ListChanges(boardID, fromRevision)
	if err != nil {
		m.changes.Unsubscribe(live)
		return nil, err
	}

	out := make(chan *types.ChangeEvent, 64)
	metrics.SubscribersTotal.Inc()

	go func() {
		defer metrics.SubscribersTotal.Dec()
		defer close(out)
		defer m.changes.Unsubscribe(live)

		next := fromRevision
		send := func(ev *types.ChangeEvent) bool {
			if ev.Revision < next {
				return true
			}
			select {
			case out <- ev:
				next = ev.Revision + 1
				return true
			case <-ctx.Done():
				return false
			}
		}
		// catchUp streams everything committed from next on out of the change log
		catchUp := func() bool {
			evs, err := m.store.ListChanges(boardID, next)
			if err != nil {
				m.logger.Warn().Err(err).Str("board_id", boardID).Msg("Failed to read change log, closing stream")
				return false
			}
			for _, ev := range evs {
				if !send(ev) {
					return false
				}
			}
			return true
		}

		for _, ev := range backlog {
			if !send(ev) {
				return
			}
		}

		for {
			select {
			case ev, ok := <-live:
				if !ok {
					return
				}
				// The broker drops changes for a full subscriber. A buffer
				// that was full when read, or a revision past next, means the
				// log has to fill in what the broker skipped.
				lagging := len(live) >= cap(live)-1
				mine := ev.BoardID == boardID
				if lagging || (mine && ev.Revision > next) {
					metrics.StreamCatchUps.Inc()
					if !catchUp() {
						return
					}
				}
				if mine && !send(ev) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %v", err)
		}
	}

	// Stop change broker, closing every subscription
	if m.changes != nil {
		m.changes.Stop()
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %v", err)
		}
	}

	return nil
}
