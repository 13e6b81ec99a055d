package types

import (
	"time"
)

// Priority ranks a task on the board
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is a single card on the board
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Assignee    string     `json:"assignee,omitempty"` // weak reference to a user id
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ColumnID    string     `json:"columnId"` // denormalized back-reference
}

// Overdue reports whether the task has a due date before now
func (t *Task) Overdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now)
}

// Clone returns a deep copy of the task
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.DueDate != nil {
		due := *t.DueDate
		c.DueDate = &due
	}
	return &c
}

// Column is an ordered list of tasks
type Column struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	TaskIDs []string `json:"taskIds"` // the column's order index
}

// Clone returns a deep copy of the column
func (c *Column) Clone() *Column {
	if c == nil {
		return nil
	}
	return &Column{ID: c.ID, Title: c.Title, TaskIDs: CloneIDs(c.TaskIDs)}
}

// Board is the root aggregate: an ordered set of columns
type Board struct {
	ID          string             `json:"id"`
	ColumnOrder []string           `json:"columnOrder"`
	Columns     map[string]*Column `json:"columns"`
}

// Location addresses a slot in a column's order index
type Location struct {
	ColumnID string `json:"columnId"`
	Index    int    `json:"index"`
}

// OrderIndex maps a column id to its ordered task ids
type OrderIndex map[string][]string

// Clone returns a deep copy of the index
func (o OrderIndex) Clone() OrderIndex {
	if o == nil {
		return nil
	}
	out := make(OrderIndex, len(o))
	for id, seq := range o {
		out[id] = CloneIDs(seq)
	}
	return out
}

// Find returns the location of taskID, if present
func (o OrderIndex) Find(taskID string) (Location, bool) {
	for colID, seq := range o {
		for i, id := range seq {
			if id == taskID {
				return Location{ColumnID: colID, Index: i}, true
			}
		}
	}
	return Location{}, false
}

// CloneIDs copies an id slice, keeping nil and empty distinct
func CloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// MutationKind is the semantic kind of a board mutation
type MutationKind string

const (
	MutationMove         MutationKind = "move"
	MutationCreateTask   MutationKind = "createTask"
	MutationUpdateTask   MutationKind = "updateTask"
	MutationDeleteTask   MutationKind = "deleteTask"
	MutationCreateColumn MutationKind = "createColumn"
	MutationRenameColumn MutationKind = "renameColumn"
)

// Mutation is a user intent that changes board data.
// Exactly one payload field is set, matching Kind.
type Mutation struct {
	ID          string       `json:"id"`
	Kind        MutationKind `json:"kind"`
	BoardID     string       `json:"boardId"`
	OriginID    string       `json:"originId"`
	SubmittedAt time.Time    `json:"submittedAt"`

	Move         *MoveTask     `json:"move,omitempty"`
	CreateTask   *CreateTask   `json:"createTask,omitempty"`
	UpdateTask   *UpdateTask   `json:"updateTask,omitempty"`
	DeleteTask   *DeleteTask   `json:"deleteTask,omitempty"`
	CreateColumn *CreateColumn `json:"createColumn,omitempty"`
	RenameColumn *RenameColumn `json:"renameColumn,omitempty"`
}

// MoveTask moves a task from one location to another
type MoveTask struct {
	TaskID string   `json:"taskId"`
	From   Location `json:"from"`
	To     Location `json:"to"`
}

// CreateTask adds a task to a column. Index < 0 appends.
type CreateTask struct {
	Task  Task `json:"task"`
	Index int  `json:"index"`
}

// UpdateTask replaces the editable fields of a task
type UpdateTask struct {
	Task Task `json:"task"`
}

// DeleteTask removes a task
type DeleteTask struct {
	TaskID string `json:"taskId"`
}

// CreateColumn appends a column to the board
type CreateColumn struct {
	ColumnID string `json:"columnId"`
	Title    string `json:"title"`
}

// RenameColumn changes a column title
type RenameColumn struct {
	ColumnID string `json:"columnId"`
	Title    string `json:"title"`
}

// Ack is the remote store's acknowledgment of a write
type Ack struct {
	MutationID string `json:"mutationId"`
	BoardID    string `json:"boardId"`
	Revision   uint64 `json:"revision"`
}

// ChangeKind classifies a persisted change
type ChangeKind string

const (
	ChangeCreate  ChangeKind = "create"
	ChangeUpdate  ChangeKind = "update"
	ChangeDelete  ChangeKind = "delete"
	ChangeReorder ChangeKind = "reorder"
)

// ChangeEvent is one committed revision of a board
type ChangeEvent struct {
	BoardID    string        `json:"boardId"`
	Revision   uint64        `json:"revision"`
	OriginID   string        `json:"originId"`
	MutationID string        `json:"mutationId"`
	Kind       ChangeKind    `json:"kind"`
	Payload    ChangePayload `json:"payload"`
	CommitTime time.Time     `json:"commitTime"`
}

// ChangePayload carries whole-entity replacements. Columns replace title and
// task order atomically; ColumnOrder, when non-nil, replaces the board's
// column order.
type ChangePayload struct {
	Tasks          []*Task   `json:"tasks,omitempty"`
	DeletedTaskIDs []string  `json:"deletedTaskIds,omitempty"`
	Columns        []*Column `json:"columns,omitempty"`
	ColumnOrder    []string  `json:"columnOrder,omitempty"`
}

// Empty reports whether the payload changes nothing
func (p *ChangePayload) Empty() bool {
	return len(p.Tasks) == 0 && len(p.DeletedTaskIDs) == 0 && len(p.Columns) == 0 && p.ColumnOrder == nil
}

// PresenceEventType is a presence channel event
type PresenceEventType string

const (
	PresenceJoin  PresenceEventType = "join"
	PresenceLeave PresenceEventType = "leave"
)

// PresenceEvent reports a collaborator joining or leaving a board
type PresenceEvent struct {
	Type   PresenceEventType `json:"type"`
	UserID string            `json:"userId"`
}
