package board

import (
	"sort"
	"strings"

	"github.com/cuemby/boardsync/pkg/types"
)

// Entity keys identify the units that mutations lock and snapshot
const (
	taskPrefix   = "task:"
	columnPrefix = "column:"
	// OrderKey addresses the board's column order
	OrderKey = "board:columns"
)

// TaskKey returns the entity key for a task
func TaskKey(id string) string { return taskPrefix + id }

// ColumnKey returns the entity key for a column
func ColumnKey(id string) string { return columnPrefix + id }

// Keys returns the entities m touches when applied to s, sorted
func Keys(s *State, m *types.Mutation) []string {
	set := make(map[string]struct{})
	add := func(k string) { set[k] = struct{}{} }

	switch m.Kind {
	case types.MutationMove:
		if m.Move != nil {
			add(TaskKey(m.Move.TaskID))
			add(ColumnKey(m.Move.From.ColumnID))
			add(ColumnKey(m.Move.To.ColumnID))
			if t, ok := s.Tasks[m.Move.TaskID]; ok {
				add(ColumnKey(t.ColumnID))
			}
		}
	case types.MutationCreateTask:
		if m.CreateTask != nil {
			add(TaskKey(m.CreateTask.Task.ID))
			add(ColumnKey(m.CreateTask.Task.ColumnID))
		}
	case types.MutationUpdateTask:
		if m.UpdateTask != nil {
			add(TaskKey(m.UpdateTask.Task.ID))
		}
	case types.MutationDeleteTask:
		if m.DeleteTask != nil {
			add(TaskKey(m.DeleteTask.TaskID))
			if t, ok := s.Tasks[m.DeleteTask.TaskID]; ok {
				add(ColumnKey(t.ColumnID))
			}
		}
	case types.MutationCreateColumn:
		if m.CreateColumn != nil {
			add(ColumnKey(m.CreateColumn.ColumnID))
			add(OrderKey)
		}
	case types.MutationRenameColumn:
		if m.RenameColumn != nil {
			add(ColumnKey(m.RenameColumn.ColumnID))
		}
	}
	return sortedKeys(set)
}

// PayloadKeys returns the entities a change payload replaces, sorted
func PayloadKeys(p *types.ChangePayload) []string {
	set := make(map[string]struct{})
	for _, t := range p.Tasks {
		set[TaskKey(t.ID)] = struct{}{}
	}
	for _, id := range p.DeletedTaskIDs {
		set[TaskKey(id)] = struct{}{}
	}
	for _, c := range p.Columns {
		set[ColumnKey(c.ID)] = struct{}{}
	}
	if p.ColumnOrder != nil {
		set[OrderKey] = struct{}{}
	}
	return sortedKeys(set)
}

// Slice is a captured copy of some entities of a State. A nil task or
// column entry records that the entity did not exist.
type Slice struct {
	Tasks       map[string]*types.Task
	Columns     map[string]*types.Column
	ColumnOrder []string
	HasOrder    bool
}

// Capture copies the entities named by keys out of s
func Capture(s *State, keys []string) *Slice {
	sl := &Slice{
		Tasks:   make(map[string]*types.Task),
		Columns: make(map[string]*types.Column),
	}
	for _, k := range keys {
		switch {
		case k == OrderKey:
			sl.HasOrder = true
			sl.ColumnOrder = types.CloneIDs(s.Board.ColumnOrder)
		case strings.HasPrefix(k, taskPrefix):
			id := strings.TrimPrefix(k, taskPrefix)
			sl.Tasks[id] = s.Tasks[id].Clone()
		case strings.HasPrefix(k, columnPrefix):
			id := strings.TrimPrefix(k, columnPrefix)
			sl.Columns[id] = s.Board.Columns[id].Clone()
		}
	}
	return sl
}

// Restore returns a new state with the slice's entities put back exactly
func Restore(s *State, sl *Slice) *State {
	out := s.shallow()
	for id, t := range sl.Tasks {
		if t == nil {
			delete(out.Tasks, id)
		} else {
			out.Tasks[id] = t.Clone()
		}
	}
	for id, c := range sl.Columns {
		if c == nil {
			delete(out.Board.Columns, id)
		} else {
			out.Board.Columns[id] = c.Clone()
		}
	}
	if sl.HasOrder {
		out.Board.ColumnOrder = types.CloneIDs(sl.ColumnOrder)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
