package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBoard(id string) *board.State {
	return board.New(id, []types.Column{
		{ID: "todo", Title: "To Do"},
		{ID: "doing", Title: "In Progress"},
		{ID: "done", Title: "Done"},
	})
}

func commitRename(t *testing.T, s *BoltStore, state *board.State, mutationID, title string) *board.State {
	t.Helper()
	col := state.Board.Columns["todo"].Clone()
	col.Title = title
	payload := types.ChangePayload{Columns: []*types.Column{col}}
	next := board.ApplyChangeAt(state, &payload, state.Revision+1)
	ev := &types.ChangeEvent{
		BoardID:    state.Board.ID,
		Revision:   next.Revision,
		OriginID:   "client-1",
		MutationID: mutationID,
		Kind:       types.ChangeUpdate,
		Payload:    payload,
		CommitTime: time.Date(2025, 1, 1, 0, 0, int(next.Revision), 0, time.UTC),
	}
	require.NoError(t, s.Commit(next, ev))
	return next
}

func TestBoardRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateBoard(testBoard("b1")))
	require.NoError(t, s.CreateBoard(testBoard("b2")))

	got, err := s.GetBoard("b1")
	require.NoError(t, err)
	assert.Equal(t, testBoard("b1"), got)

	boards, err := s.ListBoards()
	require.NoError(t, err)
	assert.Len(t, boards, 2)

	_, err = s.GetBoard("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitAppendsChangeLog(t *testing.T) {
	s := newTestStore(t)
	state := testBoard("b1")
	require.NoError(t, s.CreateBoard(state))

	for i, title := range []string{"Backlog", "Inbox", "Later"} {
		state = commitRename(t, s, state, "m"+string(rune('1'+i)), title)
	}

	got, err := s.GetBoard("b1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.Revision)
	assert.Equal(t, "Later", got.Board.Columns["todo"].Title)

	all, err := s.ListChanges("b1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, ev := range all {
		assert.Equal(t, uint64(i+1), ev.Revision)
	}

	tail, err := s.ListChanges("b1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(2), tail[0].Revision)
	assert.Equal(t, "Inbox", tail[0].Payload.Columns[0].Title)

	none, err := s.ListChanges("other", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCommitRejectsMismatchedRevision(t *testing.T) {
	s := newTestStore(t)
	state := testBoard("b1")
	state.Revision = 2

	err := s.Commit(state, &types.ChangeEvent{BoardID: "b1", Revision: 3})
	assert.Error(t, err)
}

func TestMutationRevisions(t *testing.T) {
	s := newTestStore(t)
	state := testBoard("b1")
	require.NoError(t, s.CreateBoard(state))

	_, err := s.MutationRevision("b1", "m1")
	assert.ErrorIs(t, err, ErrNotFound)

	state = commitRename(t, s, state, "m1", "Backlog")
	commitRename(t, s, state, "m2", "Inbox")

	rev, err := s.MutationRevision("b1", "m2")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rev)

	all, err := s.ListMutations("b1")
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"m1": 1, "m2": 2}, all)
}

func TestRestoreBoardReplaces(t *testing.T) {
	s := newTestStore(t)
	state := testBoard("b1")
	require.NoError(t, s.CreateBoard(state))
	state = commitRename(t, s, state, "m1", "Backlog")
	commitRename(t, s, state, "m2", "Inbox")

	restored := testBoard("b1")
	restored.Revision = 1
	restored.Board.Columns["todo"].Title = "Backlog"
	changes := []*types.ChangeEvent{{BoardID: "b1", Revision: 1, MutationID: "m1", Kind: types.ChangeUpdate}}

	require.NoError(t, s.RestoreBoard(restored, changes, map[string]uint64{"m1": 1}))

	got, err := s.GetBoard("b1")
	require.NoError(t, err)
	assert.Equal(t, restored, got)

	log, err := s.ListChanges("b1", 0)
	require.NoError(t, err)
	assert.Len(t, log, 1)

	_, err = s.MutationRevision("b1", "m2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	state := testBoard("b1")
	require.NoError(t, s.CreateBoard(state))
	commitRename(t, s, state, "m1", "Backlog")
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetBoard("b1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Revision)
}
