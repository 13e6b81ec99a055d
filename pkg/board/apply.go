package board

import (
	"fmt"
	"strings"

	"github.com/cuemby/boardsync/pkg/move"
	"github.com/cuemby/boardsync/pkg/types"
)

// Normalize trims titles and fills defaults on a mutation's payload.
// It returns ErrEmptyTitle when a title is blank after trimming.
func Normalize(m *types.Mutation) error {
	switch m.Kind {
	case types.MutationCreateTask:
		if m.CreateTask == nil {
			return fmt.Errorf("%w: createTask payload missing", ErrInvalid)
		}
		return normalizeTask(&m.CreateTask.Task)
	case types.MutationUpdateTask:
		if m.UpdateTask == nil {
			return fmt.Errorf("%w: updateTask payload missing", ErrInvalid)
		}
		return normalizeTask(&m.UpdateTask.Task)
	case types.MutationCreateColumn:
		if m.CreateColumn == nil {
			return fmt.Errorf("%w: createColumn payload missing", ErrInvalid)
		}
		m.CreateColumn.Title = strings.TrimSpace(m.CreateColumn.Title)
		if m.CreateColumn.Title == "" {
			return ErrEmptyTitle
		}
	case types.MutationRenameColumn:
		if m.RenameColumn == nil {
			return fmt.Errorf("%w: renameColumn payload missing", ErrInvalid)
		}
		m.RenameColumn.Title = strings.TrimSpace(m.RenameColumn.Title)
		if m.RenameColumn.Title == "" {
			return ErrEmptyTitle
		}
	case types.MutationMove:
		if m.Move == nil {
			return fmt.Errorf("%w: move payload missing", ErrInvalid)
		}
	case types.MutationDeleteTask:
		if m.DeleteTask == nil {
			return fmt.Errorf("%w: deleteTask payload missing", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown mutation kind %q", ErrInvalid, m.Kind)
	}
	return nil
}

func normalizeTask(t *types.Task) error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return ErrEmptyTitle
	}
	if t.Priority == "" {
		t.Priority = types.PriorityMedium
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalid, t.Priority)
	}
	return nil
}

// Apply returns a new state with m applied, together with the whole-entity
// change it produced. s is not modified. A no-op move returns s and an
// empty payload.
func Apply(s *State, m *types.Mutation) (*State, *types.ChangePayload, types.ChangeKind, error) {
	switch m.Kind {
	case types.MutationMove:
		return applyMove(s, m.Move)
	case types.MutationCreateTask:
		return applyCreateTask(s, m.CreateTask)
	case types.MutationUpdateTask:
		return applyUpdateTask(s, m.UpdateTask)
	case types.MutationDeleteTask:
		return applyDeleteTask(s, m.DeleteTask)
	case types.MutationCreateColumn:
		return applyCreateColumn(s, m.CreateColumn)
	case types.MutationRenameColumn:
		return applyRenameColumn(s, m.RenameColumn)
	}
	return nil, nil, "", fmt.Errorf("%w: unknown mutation kind %q", ErrInvalid, m.Kind)
}

func applyMove(s *State, p *types.MoveTask) (*State, *types.ChangePayload, types.ChangeKind, error) {
	if p == nil {
		return nil, nil, "", fmt.Errorf("%w: move payload missing", ErrInvalid)
	}
	if _, err := s.Task(p.TaskID); err != nil {
		return nil, nil, "", err
	}
	res, err := move.Plan(s.Order(), move.FromMutation(p))
	if err != nil {
		return nil, nil, "", err
	}
	if res.Noop {
		return s, &types.ChangePayload{}, types.ChangeReorder, nil
	}

	out := s.shallow()
	change := &types.ChangePayload{}
	for _, colID := range s.Board.ColumnOrder {
		seq, touched := res.Columns[colID]
		if !touched {
			continue
		}
		col := &types.Column{ID: colID, Title: s.Board.Columns[colID].Title, TaskIDs: seq}
		out.Board.Columns[colID] = col
		change.Columns = append(change.Columns, col.Clone())
	}
	task := s.Tasks[p.TaskID].Clone()
	task.ColumnID = res.ColumnID
	out.Tasks[task.ID] = task
	change.Tasks = []*types.Task{task.Clone()}
	return out, change, types.ChangeReorder, nil
}

func applyCreateTask(s *State, p *types.CreateTask) (*State, *types.ChangePayload, types.ChangeKind, error) {
	if p == nil {
		return nil, nil, "", fmt.Errorf("%w: createTask payload missing", ErrInvalid)
	}
	if p.Task.ID == "" {
		return nil, nil, "", fmt.Errorf("%w: task id required", ErrInvalid)
	}
	if _, exists := s.Tasks[p.Task.ID]; exists {
		return nil, nil, "", fmt.Errorf("%w: %s", ErrTaskExists, p.Task.ID)
	}
	col, err := s.Column(p.Task.ColumnID)
	if err != nil {
		return nil, nil, "", err
	}

	at := p.Index
	if at < 0 || at > len(col.TaskIDs) {
		at = len(col.TaskIDs)
	}
	seq := make([]string, 0, len(col.TaskIDs)+1)
	seq = append(seq, col.TaskIDs[:at]...)
	seq = append(seq, p.Task.ID)
	seq = append(seq, col.TaskIDs[at:]...)

	out := s.shallow()
	task := p.Task.Clone()
	out.Tasks[task.ID] = task
	newCol := &types.Column{ID: col.ID, Title: col.Title, TaskIDs: seq}
	out.Board.Columns[col.ID] = newCol
	return out, &types.ChangePayload{
		Tasks:   []*types.Task{task.Clone()},
		Columns: []*types.Column{newCol.Clone()},
	}, types.ChangeCreate, nil
}

func applyUpdateTask(s *State, p *types.UpdateTask) (*State, *types.ChangePayload, types.ChangeKind, error) {
	if p == nil {
		return nil, nil, "", fmt.Errorf("%w: updateTask payload missing", ErrInvalid)
	}
	cur, err := s.Task(p.Task.ID)
	if err != nil {
		return nil, nil, "", err
	}
	task := p.Task.Clone()
	task.ColumnID = cur.ColumnID
	task.CreatedAt = cur.CreatedAt

	out := s.shallow()
	out.Tasks[task.ID] = task
	return out, &types.ChangePayload{Tasks: []*types.Task{task.Clone()}}, types.ChangeUpdate, nil
}

func applyDeleteTask(s *State, p *types.DeleteTask) (*State, *types.ChangePayload, types.ChangeKind, error) {
	if p == nil {
		return nil, nil, "", fmt.Errorf("%w: deleteTask payload missing", ErrInvalid)
	}
	cur, err := s.Task(p.TaskID)
	if err != nil {
		return nil, nil, "", err
	}

	out := s.shallow()
	delete(out.Tasks, p.TaskID)
	change := &types.ChangePayload{DeletedTaskIDs: []string{p.TaskID}}
	if col, ok := s.Board.Columns[cur.ColumnID]; ok {
		newCol := &types.Column{ID: col.ID, Title: col.Title, TaskIDs: without(col.TaskIDs, p.TaskID)}
		out.Board.Columns[col.ID] = newCol
		change.Columns = []*types.Column{newCol.Clone()}
	}
	return out, change, types.ChangeDelete, nil
}

func applyCreateColumn(s *State, p *types.CreateColumn) (*State, *types.ChangePayload, types.ChangeKind, error) {
	if p == nil {
		return nil, nil, "", fmt.Errorf("%w: createColumn payload missing", ErrInvalid)
	}
	if p.ColumnID == "" {
		return nil, nil, "", fmt.Errorf("%w: column id required", ErrInvalid)
	}
	if _, exists := s.Board.Columns[p.ColumnID]; exists {
		return nil, nil, "", fmt.Errorf("%w: %s", ErrColumnExists, p.ColumnID)
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, nil, "", ErrEmptyTitle
	}

	out := s.shallow()
	col := &types.Column{ID: p.ColumnID, Title: p.Title, TaskIDs: []string{}}
	out.Board.Columns[col.ID] = col
	order := make([]string, 0, len(s.Board.ColumnOrder)+1)
	order = append(order, s.Board.ColumnOrder...)
	out.Board.ColumnOrder = append(order, col.ID)
	return out, &types.ChangePayload{
		Columns:     []*types.Column{col.Clone()},
		ColumnOrder: types.CloneIDs(out.Board.ColumnOrder),
	}, types.ChangeCreate, nil
}

func applyRenameColumn(s *State, p *types.RenameColumn) (*State, *types.ChangePayload, types.ChangeKind, error) {
	if p == nil {
		return nil, nil, "", fmt.Errorf("%w: renameColumn payload missing", ErrInvalid)
	}
	col, err := s.Column(p.ColumnID)
	if err != nil {
		return nil, nil, "", err
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, nil, "", ErrEmptyTitle
	}

	out := s.shallow()
	newCol := &types.Column{ID: col.ID, Title: p.Title, TaskIDs: col.TaskIDs}
	out.Board.Columns[col.ID] = newCol
	return out, &types.ChangePayload{Columns: []*types.Column{newCol.Clone()}}, types.ChangeUpdate, nil
}

// ApplyChange returns a new state with a whole-entity change applied.
// A task that lands in a column is removed from every other column so a
// partially applied change never lists a task twice.
func ApplyChange(s *State, p *types.ChangePayload) *State {
	if p == nil || p.Empty() {
		return s
	}
	out := s.shallow()
	for _, id := range p.DeletedTaskIDs {
		delete(out.Tasks, id)
	}
	for _, c := range p.Columns {
		out.Board.Columns[c.ID] = c.Clone()
	}
	if p.ColumnOrder != nil {
		out.Board.ColumnOrder = types.CloneIDs(p.ColumnOrder)
	}

	replaced := make(map[string]bool, len(p.Columns))
	for _, c := range p.Columns {
		replaced[c.ID] = true
	}
	strip := make(map[string]string)
	for _, t := range p.Tasks {
		out.Tasks[t.ID] = t.Clone()
		strip[t.ID] = t.ColumnID
	}
	for _, id := range p.DeletedTaskIDs {
		strip[id] = ""
	}
	if len(strip) > 0 {
		for colID, col := range out.Board.Columns {
			if replaced[colID] {
				continue
			}
			var kept []string
			dirty := false
			for _, id := range col.TaskIDs {
				if home, ok := strip[id]; ok && home != colID {
					dirty = true
					continue
				}
				kept = append(kept, id)
			}
			if dirty {
				if kept == nil {
					kept = []string{}
				}
				out.Board.Columns[colID] = &types.Column{ID: col.ID, Title: col.Title, TaskIDs: kept}
			}
		}
	}
	return out
}

// ApplyChangeAt applies p and stamps the result with revision
func ApplyChangeAt(s *State, p *types.ChangePayload, revision uint64) *State {
	out := ApplyChange(s, p)
	if out == s {
		out = s.shallow()
	}
	out.Revision = revision
	return out
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
