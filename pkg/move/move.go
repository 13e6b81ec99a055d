package move

import (
	"errors"
	"fmt"

	"github.com/cuemby/boardsync/pkg/types"
)

// ErrColumnNotFound is returned when a move names a column that does not exist
var ErrColumnNotFound = errors.New("column not found")

// Move describes a drag/drop of one task
type Move struct {
	TaskID      string
	Source      types.Location
	Destination types.Location
}

// FromMutation converts a move payload into a Move
func FromMutation(m *types.MoveTask) Move {
	return Move{TaskID: m.TaskID, Source: m.From, Destination: m.To}
}

// StaleMoveError reports a move whose source location no longer holds the task.
// Actual is set when the task was found elsewhere in the index.
type StaleMoveError struct {
	TaskID string
	Source types.Location
	Actual *types.Location
}

func (e *StaleMoveError) Error() string {
	if e.Actual != nil {
		return fmt.Sprintf("stale move of task %s: expected at %s[%d], found at %s[%d]",
			e.TaskID, e.Source.ColumnID, e.Source.Index, e.Actual.ColumnID, e.Actual.Index)
	}
	return fmt.Sprintf("stale move of task %s: not found at %s[%d]", e.TaskID, e.Source.ColumnID, e.Source.Index)
}

// Result is the outcome of a move. Columns holds fresh sequences for the
// touched columns only; ColumnID is the moved task's new column.
type Result struct {
	Noop     bool
	Columns  map[string][]string
	ColumnID string
	Index    int
}

// Plan validates m against order and computes the new sequences for the
// touched columns. It never modifies order.
func Plan(order types.OrderIndex, m Move) (*Result, error) {
	src, ok := order[m.Source.ColumnID]
	if !ok || m.Source.Index < 0 || m.Source.Index >= len(src) || src[m.Source.Index] != m.TaskID {
		stale := &StaleMoveError{TaskID: m.TaskID, Source: m.Source}
		if loc, found := order.Find(m.TaskID); found {
			stale.Actual = &loc
		}
		return nil, stale
	}
	dst, ok := order[m.Destination.ColumnID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, m.Destination.ColumnID)
	}

	if m.Source.ColumnID == m.Destination.ColumnID {
		if m.Source.Index == m.Destination.Index {
			return &Result{Noop: true, ColumnID: m.Source.ColumnID, Index: m.Source.Index}, nil
		}
		at := insertionIndex(len(src), m.Source.Index, m.Destination.Index)
		if at == m.Source.Index {
			return &Result{Noop: true, ColumnID: m.Source.ColumnID, Index: m.Source.Index}, nil
		}
		seq := remove(src, m.Source.Index)
		seq = insert(seq, at, m.TaskID)
		return &Result{
			Columns:  map[string][]string{m.Source.ColumnID: seq},
			ColumnID: m.Source.ColumnID,
			Index:    at,
		}, nil
	}

	at := clamp(m.Destination.Index, 0, len(dst))
	return &Result{
		Columns: map[string][]string{
			m.Source.ColumnID:      remove(src, m.Source.Index),
			m.Destination.ColumnID: insert(types.CloneIDs(dst), at, m.TaskID),
		},
		ColumnID: m.Destination.ColumnID,
		Index:    at,
	}, nil
}

// Apply returns a new order index with m applied. Columns not touched by the
// move share their sequences with order.
func Apply(order types.OrderIndex, m Move) (types.OrderIndex, error) {
	res, err := Plan(order, m)
	if err != nil {
		return nil, err
	}
	out := make(types.OrderIndex, len(order))
	for id, seq := range order {
		out[id] = seq
	}
	for id, seq := range res.Columns {
		out[id] = seq
	}
	return out, nil
}

// Relocate rewrites m's source to the task's current location in order.
// The authoritative store uses it so concurrent reorders resolve by task id.
func Relocate(order types.OrderIndex, m Move) (Move, error) {
	loc, ok := order.Find(m.TaskID)
	if !ok {
		return m, &StaleMoveError{TaskID: m.TaskID, Source: m.Source}
	}
	m.Source = loc
	return m, nil
}

// Placement reports where the task sits in order after a move
func Placement(order types.OrderIndex, taskID string) (types.Location, bool) {
	return order.Find(taskID)
}

// insertionIndex converts a gap index expressed against the column before
// removal into an index in the column after removal.
func insertionIndex(n, from, gap int) int {
	gap = clamp(gap, 0, n)
	if gap > from {
		return gap - 1
	}
	return gap
}

func remove(seq []string, i int) []string {
	out := make([]string, 0, len(seq)-1)
	out = append(out, seq[:i]...)
	return append(out, seq[i+1:]...)
}

func insert(seq []string, i int, id string) []string {
	out := make([]string, 0, len(seq)+1)
	out = append(out, seq[:i]...)
	out = append(out, id)
	return append(out, seq[i:]...)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
