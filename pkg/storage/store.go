package storage

import (
	"errors"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/types"
)

// ErrNotFound is returned when a board or mutation record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for authoritative board storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Boards
	CreateBoard(state *board.State) error
	GetBoard(id string) (*board.State, error)
	ListBoards() ([]*board.State, error)

	// Commit atomically stores the board state at a new revision, appends
	// the change event to the board's log and records the mutation id.
	Commit(state *board.State, ev *types.ChangeEvent) error

	// Change log
	ListChanges(boardID string, fromRevision uint64) ([]*types.ChangeEvent, error)

	// Processed mutations
	MutationRevision(boardID, mutationID string) (uint64, error)
	ListMutations(boardID string) (map[string]uint64, error)

	// RestoreBoard replaces everything stored for a board
	RestoreBoard(state *board.State, changes []*types.ChangeEvent, mutations map[string]uint64) error

	// Utility
	Close() error
}
