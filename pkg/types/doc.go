/*
Package types defines the data model shared by the board sync core, the
authoritative board server, and the transports between them.

# Core Types

Board data:
  - Task: a card with title, description, priority, optional assignee and due
    date, and a denormalized ColumnID back-reference
  - Column: a title plus the ordered task ids shown in it (its order index)
  - Board: the root aggregate, an ordered list of column ids and the columns
  - OrderIndex: column id to ordered task ids, the structure a drag mutates
  - Location: a (column, index) slot

Writes and their confirmation:
  - Mutation: a user intent (move, createTask, updateTask, deleteTask,
    createColumn, renameColumn) tagged with a unique id and the origin client
  - Ack: the remote store's acknowledgment, carrying the committed revision
  - ChangeEvent: one committed board revision as observed by subscribers

Collaboration:
  - PresenceEvent: a join or leave on a board's presence channel

# Invariants

Every id in a column's TaskIDs references a task whose ColumnID is that
column, and every live task appears in exactly one column. ChangePayload
values are whole-entity replacements, so applying revisions in order always
converges on the server's state.

All types serialize as JSON. Slices that may legitimately be empty keep the
distinction between nil and empty when cloned so snapshots compare equal
after a rollback.
*/
package types
