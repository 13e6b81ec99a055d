package board

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cuemby/boardsync/pkg/types"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrColumnNotFound = errors.New("column not found")
	ErrTaskExists     = errors.New("task already exists")
	ErrColumnExists   = errors.New("column already exists")
	ErrEmptyTitle     = errors.New("title must not be empty")
	ErrInvalid        = errors.New("invalid board state")
)

// State is the normalized in-memory model of one board.
// A State reachable from a Store snapshot is never modified; writers clone first.
type State struct {
	Board    types.Board            `json:"board"`
	Tasks    map[string]*types.Task `json:"tasks"`
	Revision uint64                 `json:"revision"`
}

// New creates an empty board with the given column titles, in order
func New(boardID string, columns []types.Column) *State {
	s := &State{
		Board: types.Board{
			ID:          boardID,
			ColumnOrder: []string{},
			Columns:     make(map[string]*types.Column, len(columns)),
		},
		Tasks: make(map[string]*types.Task),
	}
	for _, c := range columns {
		col := c.Clone()
		if col.TaskIDs == nil {
			col.TaskIDs = []string{}
		}
		s.Board.ColumnOrder = append(s.Board.ColumnOrder, col.ID)
		s.Board.Columns[col.ID] = col
	}
	return s
}

// Clone returns a deep copy
func (s *State) Clone() *State {
	out := &State{
		Board: types.Board{
			ID:          s.Board.ID,
			ColumnOrder: types.CloneIDs(s.Board.ColumnOrder),
			Columns:     make(map[string]*types.Column, len(s.Board.Columns)),
		},
		Tasks:    make(map[string]*types.Task, len(s.Tasks)),
		Revision: s.Revision,
	}
	for id, c := range s.Board.Columns {
		out.Board.Columns[id] = c.Clone()
	}
	for id, t := range s.Tasks {
		out.Tasks[id] = t.Clone()
	}
	return out
}

// shallow copies the containers but shares entity pointers; callers replace
// any entity they change instead of editing it in place.
func (s *State) shallow() *State {
	out := &State{
		Board: types.Board{
			ID:          s.Board.ID,
			ColumnOrder: s.Board.ColumnOrder,
			Columns:     make(map[string]*types.Column, len(s.Board.Columns)),
		},
		Tasks:    make(map[string]*types.Task, len(s.Tasks)),
		Revision: s.Revision,
	}
	for id, c := range s.Board.Columns {
		out.Board.Columns[id] = c
	}
	for id, t := range s.Tasks {
		out.Tasks[id] = t
	}
	return out
}

// Order returns the order index of the board
func (s *State) Order() types.OrderIndex {
	order := make(types.OrderIndex, len(s.Board.Columns))
	for id, c := range s.Board.Columns {
		order[id] = c.TaskIDs
	}
	return order
}

// Task returns a task by id
func (s *State) Task(id string) (*types.Task, error) {
	t, ok := s.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// Column returns a column by id
func (s *State) Column(id string) (*types.Column, error) {
	c, ok := s.Board.Columns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, id)
	}
	return c, nil
}

// ColumnTasks resolves a column's ordered task records, skipping dangling ids
func (s *State) ColumnTasks(columnID string) []*types.Task {
	c, ok := s.Board.Columns[columnID]
	if !ok {
		return nil
	}
	out := make([]*types.Task, 0, len(c.TaskIDs))
	for _, id := range c.TaskIDs {
		if t, ok := s.Tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Validate checks the column/task invariants
func (s *State) Validate() error {
	seen := make(map[string]string, len(s.Tasks))
	if len(s.Board.ColumnOrder) != len(s.Board.Columns) {
		return fmt.Errorf("%w: %d columns ordered, %d defined", ErrInvalid, len(s.Board.ColumnOrder), len(s.Board.Columns))
	}
	for _, colID := range s.Board.ColumnOrder {
		col, ok := s.Board.Columns[colID]
		if !ok {
			return fmt.Errorf("%w: column order references unknown column %s", ErrInvalid, colID)
		}
		for _, id := range col.TaskIDs {
			if other, dup := seen[id]; dup {
				return fmt.Errorf("%w: task %s in columns %s and %s", ErrInvalid, id, other, colID)
			}
			seen[id] = colID
			t, ok := s.Tasks[id]
			if !ok {
				return fmt.Errorf("%w: column %s references unknown task %s", ErrInvalid, colID, id)
			}
			if t.ColumnID != colID {
				return fmt.Errorf("%w: task %s points at column %s but is listed in %s", ErrInvalid, id, t.ColumnID, colID)
			}
		}
	}
	if len(seen) != len(s.Tasks) {
		var orphans []string
		for id := range s.Tasks {
			if _, ok := seen[id]; !ok {
				orphans = append(orphans, id)
			}
		}
		sort.Strings(orphans)
		return fmt.Errorf("%w: tasks not in any column: %v", ErrInvalid, orphans)
	}
	return nil
}
