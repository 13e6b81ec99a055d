package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/move"
	"github.com/cuemby/boardsync/pkg/storage"
	"github.com/cuemby/boardsync/pkg/types"
)

var (
	// ErrRejected wraps every reason a mutation cannot be applied to the
	// authoritative board.
	ErrRejected = errors.New("mutation rejected")

	// ErrBoardExists is returned when creating a board id that is taken
	ErrBoardExists = errors.New("board already exists")
)

// Command ops
const (
	OpCreateBoard   = "create_board"
	OpApplyMutation = "apply_mutation"
)

// BoardFSM implements the Raft Finite State Machine for board state.
// Every committed mutation becomes one revision of its board.
type BoardFSM struct {
	mu      sync.RWMutex
	store   storage.Store
	publish func(*types.ChangeEvent)
}

// NewBoardFSM creates a new FSM instance. publish, if set, receives every
// committed change event.
func NewBoardFSM(store storage.Store, publish func(*types.ChangeEvent)) *BoardFSM {
	return &BoardFSM{
		store:   store,
		publish: publish,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// ApplyResult is the FSM response for a committed mutation
type ApplyResult struct {
	Ack       *types.Ack
	Event     *types.ChangeEvent
	Duplicate bool
}

// Apply applies a Raft log entry to the FSM
// This is called by Raft when a log entry is committed
func (f *BoardFSM) Apply(l *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpCreateBoard:
		var state board.State
		if err := json.Unmarshal(cmd.Data, &state); err != nil {
			return err
		}
		if _, err := f.store.GetBoard(state.Board.ID); err == nil {
			return fmt.Errorf("%w: %s", ErrBoardExists, state.Board.ID)
		}
		if err := state.Validate(); err != nil {
			return err
		}
		if err := f.store.CreateBoard(&state); err != nil {
			return err
		}
		logger := log.WithBoardID(state.Board.ID)
		logger.Info().Int("columns", len(state.Board.Columns)).Msg("Board created")
		return nil

	case OpApplyMutation:
		var m types.Mutation
		if err := json.Unmarshal(cmd.Data, &m); err != nil {
			return err
		}
		commitTime := l.AppendedAt
		if commitTime.IsZero() {
			commitTime = time.Now().UTC()
		}
		return f.applyMutation(&m, commitTime)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

func (f *BoardFSM) applyMutation(m *types.Mutation, commitTime time.Time) interface{} {
	state, err := f.store.GetBoard(m.BoardID)
	if err != nil {
		return err
	}

	// Retried writes resolve to the revision they were first committed at
	if m.ID != "" {
		if rev, err := f.store.MutationRevision(m.BoardID, m.ID); err == nil {
			return &ApplyResult{
				Ack:       &types.Ack{MutationID: m.ID, BoardID: m.BoardID, Revision: rev},
				Duplicate: true,
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}

	mm := *m
	if mm.Kind == types.MutationMove && mm.Move != nil {
		// Moves are resolved by task id against the current order, so the
		// latest revision wins for the columns it touches.
		mv, err := move.Relocate(state.Order(), move.FromMutation(mm.Move))
		if err != nil {
			return reject(m, err)
		}
		if mv.Source != mm.Move.From {
			logger := log.WithTaskID(mm.Move.TaskID)
			logger.Debug().
				Str("board_id", m.BoardID).
				Str("mutation_id", m.ID).
				Str("from", fmt.Sprintf("%s/%d", mm.Move.From.ColumnID, mm.Move.From.Index)).
				Str("source", fmt.Sprintf("%s/%d", mv.Source.ColumnID, mv.Source.Index)).
				Msg("Move source relocated")
		}
		mm.Move = &types.MoveTask{TaskID: mm.Move.TaskID, From: mv.Source, To: mm.Move.To}
	}
	if err := board.Normalize(&mm); err != nil {
		return reject(m, err)
	}
	_, payload, kind, err := board.Apply(state, &mm)
	if err != nil {
		return reject(m, err)
	}

	rev := state.Revision + 1
	next := board.ApplyChangeAt(state, payload, rev)
	ev := &types.ChangeEvent{
		BoardID:    m.BoardID,
		Revision:   rev,
		OriginID:   m.OriginID,
		MutationID: m.ID,
		Kind:       kind,
		Payload:    *payload,
		CommitTime: commitTime,
	}
	if err := f.store.Commit(next, ev); err != nil {
		return err
	}
	if f.publish != nil {
		f.publish(ev)
	}

	return &ApplyResult{
		Ack:   &types.Ack{MutationID: m.ID, BoardID: m.BoardID, Revision: rev},
		Event: ev,
	}
}

// reject wraps err in ErrRejected and logs it against the mutation
func reject(m *types.Mutation, err error) error {
	logger := log.WithMutationID(m.ID)
	logger.Debug().
		Err(err).
		Str("board_id", m.BoardID).
		Str("kind", string(m.Kind)).
		Msg("Mutation rejected")
	return fmt.Errorf("%w: %v", ErrRejected, err)
}

// Snapshot creates a point-in-time snapshot of the FSM
// This is used for log compaction and new node initialization
func (f *BoardFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	boards, err := f.store.ListBoards()
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %v", err)
	}

	snapshot := &BoardSnapshot{}
	for _, state := range boards {
		changes, err := f.store.ListChanges(state.Board.ID, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list changes of %s: %v", state.Board.ID, err)
		}
		mutations, err := f.store.ListMutations(state.Board.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list mutations of %s: %v", state.Board.ID, err)
		}
		snapshot.Boards = append(snapshot.Boards, &BoardRecord{
			State:     state,
			Changes:   changes,
			Mutations: mutations,
		})
	}

	return snapshot, nil
}

// Restore restores the FSM from a snapshot
// This is called when a node restarts or joins the cluster
func (f *BoardFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot BoardSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rec := range snapshot.Boards {
		if err := f.store.RestoreBoard(rec.State, rec.Changes, rec.Mutations); err != nil {
			return fmt.Errorf("failed to restore board %s: %v", rec.State.Board.ID, err)
		}
	}

	return nil
}

// BoardRecord is everything stored for one board
type BoardRecord struct {
	State     *board.State         `json:"state"`
	Changes   []*types.ChangeEvent `json:"changes"`
	Mutations map[string]uint64    `json:"mutations"`
}

// BoardSnapshot represents a point-in-time snapshot of all boards
type BoardSnapshot struct {
	Boards []*BoardRecord `json:"boards"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *BoardSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		// Encode snapshot as JSON
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *BoardSnapshot) Release() {}
