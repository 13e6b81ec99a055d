package mutation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/events"
	"github.com/cuemby/boardsync/pkg/move"
	"github.com/cuemby/boardsync/pkg/types"
)

type fakeDispatcher struct {
	sent      []*Pending
	cancelled map[string]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{cancelled: make(map[string]bool)}
}

func (d *fakeDispatcher) Dispatch(p *Pending) context.CancelFunc {
	d.sent = append(d.sent, p)
	return func() { d.cancelled[p.ID] = true }
}

// fixture: A=[T1,T2,T3], B=[T4,T5], C=[]
func fixture() *board.State {
	s := board.New("b1", []types.Column{
		{ID: "A", Title: "To Do"},
		{ID: "B", Title: "In Progress"},
		{ID: "C", Title: "Done"},
	})
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for col, ids := range map[string][]string{"A": {"T1", "T2", "T3"}, "B": {"T4", "T5"}} {
		s.Board.Columns[col].TaskIDs = ids
		for _, id := range ids {
			s.Tasks[id] = &types.Task{ID: id, Title: "task " + id, Priority: types.PriorityMedium, CreatedAt: created, ColumnID: col}
		}
	}
	s.Revision = 4
	return s
}

func newPipeline(t *testing.T) (*Pipeline, *board.Store, *fakeDispatcher) {
	t.Helper()
	store := board.NewStore(fixture())
	d := newFakeDispatcher()
	return NewPipeline(store, d, Config{OriginID: "client-1"}), store, d
}

func moveMutation(taskID, fromCol string, fromIdx int, toCol string, toIdx int) *types.Mutation {
	return &types.Mutation{
		Kind: types.MutationMove,
		Move: &types.MoveTask{
			TaskID: taskID,
			From:   types.Location{ColumnID: fromCol, Index: fromIdx},
			To:     types.Location{ColumnID: toCol, Index: toIdx},
		},
	}
}

func TestSubmitAppliesOptimistically(t *testing.T) {
	p, store, d := newPipeline(t)

	f := p.Submit(moveMutation("T1", "A", 0, "B", 1))

	snap := store.Snapshot()
	assert.Equal(t, []string{"T2", "T3"}, snap.Board.Columns["A"].TaskIDs)
	assert.Equal(t, []string{"T4", "T1", "T5"}, snap.Board.Columns["B"].TaskIDs)
	assert.Equal(t, "B", snap.Tasks["T1"].ColumnID)
	require.Len(t, d.sent, 1)
	assert.Equal(t, "client-1", d.sent[0].Mutation.OriginID)
	assert.Equal(t, "b1", d.sent[0].Mutation.BoardID)
	assert.Equal(t, StatusInFlight, d.sent[0].Status)
	assert.Equal(t, 1, p.InFlight())

	p.Resolve(f.MutationID, &types.Ack{MutationID: f.MutationID, BoardID: "b1", Revision: 5}, nil)

	ack, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ack.Revision)
	assert.Equal(t, 0, p.InFlight())
	assert.Equal(t, []string{"T4", "T1", "T5"}, store.Snapshot().Board.Columns["B"].TaskIDs)
}

func TestRollbackRestoresExactState(t *testing.T) {
	tests := []struct {
		name     string
		mutation *types.Mutation
		cause    error
		reason   Reason
	}{
		{
			name:     "move rejected",
			mutation: moveMutation("T1", "A", 0, "B", 1),
			cause:    fmt.Errorf("write: %w", ErrRejected),
			reason:   ReasonRejected,
		},
		{
			name:     "create timed out",
			mutation: &types.Mutation{Kind: types.MutationCreateTask, CreateTask: &types.CreateTask{Task: types.Task{ID: "T9", Title: "new", ColumnID: "C"}, Index: -1}},
			cause:    context.DeadlineExceeded,
			reason:   ReasonTimeout,
		},
		{
			name:     "delete disconnected",
			mutation: &types.Mutation{Kind: types.MutationDeleteTask, DeleteTask: &types.DeleteTask{TaskID: "T2"}},
			cause:    fmt.Errorf("dial: %w", ErrDisconnected),
			reason:   ReasonDisconnected,
		},
		{
			name:     "column created then rejected",
			mutation: &types.Mutation{Kind: types.MutationCreateColumn, CreateColumn: &types.CreateColumn{ColumnID: "D", Title: "Review"}},
			cause:    errors.New("permission denied"),
			reason:   ReasonRejected,
		},
		{
			name:     "update rejected",
			mutation: &types.Mutation{Kind: types.MutationUpdateTask, UpdateTask: &types.UpdateTask{Task: types.Task{ID: "T4", Title: "renamed", Priority: types.PriorityHigh}}},
			cause:    errors.New("conflict"),
			reason:   ReasonRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, store, d := newPipeline(t)
			before := store.Snapshot()

			f := p.Submit(tt.mutation)
			require.NotEqual(t, before, store.Snapshot())

			p.Resolve(f.MutationID, nil, tt.cause)

			assert.Equal(t, before, store.Snapshot())
			assert.True(t, d.cancelled[f.MutationID])

			_, err := f.Wait(context.Background())
			var failed *MutationFailed
			require.ErrorAs(t, err, &failed)
			assert.Equal(t, tt.reason, failed.Reason)
			assert.Equal(t, tt.mutation.Kind, failed.Kind)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestRollbackPublishesNotification(t *testing.T) {
	broker := events.NewBroker[*events.Event](10)
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	store := board.NewStore(fixture())
	p := NewPipeline(store, newFakeDispatcher(), Config{Broker: broker})

	f := p.Submit(moveMutation("T1", "A", 0, "C", 0))
	p.Resolve(f.MutationID, nil, context.DeadlineExceeded)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventMutationFailed, ev.Type)
		assert.Equal(t, "move", ev.Metadata["kind"])
		assert.Equal(t, "timeout", ev.Metadata["reason"])
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no notification published")
	}
}

func TestSameEntitySerialized(t *testing.T) {
	p, store, d := newPipeline(t)

	first := p.Submit(moveMutation("T1", "A", 0, "B", 1))
	second := p.Submit(moveMutation("T1", "B", 1, "C", 0))

	require.Len(t, d.sent, 1)
	assert.Equal(t, 1, p.Queued())
	assert.Empty(t, store.Snapshot().Board.Columns["C"].TaskIDs)

	p.Resolve(first.MutationID, &types.Ack{MutationID: first.MutationID, Revision: 5}, nil)

	require.Len(t, d.sent, 2)
	assert.Equal(t, second.MutationID, d.sent[1].ID)
	assert.Equal(t, 0, p.Queued())
	snap := store.Snapshot()
	assert.Equal(t, []string{"T1"}, snap.Board.Columns["C"].TaskIDs)
	assert.Equal(t, []string{"T4", "T5"}, snap.Board.Columns["B"].TaskIDs)
	assert.NoError(t, snap.Validate())
}

func TestQueuedMoveStaleAfterRollback(t *testing.T) {
	p, store, d := newPipeline(t)
	before := store.Snapshot()

	first := p.Submit(moveMutation("T1", "A", 0, "B", 1))
	second := p.Submit(moveMutation("T1", "B", 1, "C", 0))

	p.Resolve(first.MutationID, nil, errors.New("rejected"))

	_, err := second.Wait(context.Background())
	var stale *move.StaleMoveError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "T1", stale.TaskID)
	assert.Len(t, d.sent, 1)
	assert.Equal(t, 0, p.Queued())
	assert.Equal(t, before, store.Snapshot())
}

func TestQueuePreservesSubmissionOrder(t *testing.T) {
	p, store, d := newPipeline(t)

	first := p.Submit(&types.Mutation{Kind: types.MutationUpdateTask, UpdateTask: &types.UpdateTask{Task: types.Task{ID: "T4", Title: "one"}}})
	p.Submit(&types.Mutation{Kind: types.MutationUpdateTask, UpdateTask: &types.UpdateTask{Task: types.Task{ID: "T4", Title: "two"}}})
	p.Submit(&types.Mutation{Kind: types.MutationUpdateTask, UpdateTask: &types.UpdateTask{Task: types.Task{ID: "T4", Title: "three"}}})
	assert.Equal(t, 2, p.Queued())

	p.Resolve(first.MutationID, &types.Ack{Revision: 5}, nil)
	assert.Equal(t, "two", store.Snapshot().Tasks["T4"].Title)
	assert.Equal(t, 1, p.Queued())

	p.Resolve(d.sent[1].ID, &types.Ack{Revision: 6}, nil)
	assert.Equal(t, "three", store.Snapshot().Tasks["T4"].Title)
	assert.Equal(t, 0, p.Queued())
}

func TestDisjointMutationsInFlightTogether(t *testing.T) {
	p, _, d := newPipeline(t)

	p.Submit(moveMutation("T1", "A", 0, "C", 0))
	p.Submit(&types.Mutation{Kind: types.MutationUpdateTask, UpdateTask: &types.UpdateTask{Task: types.Task{ID: "T4", Title: "renamed"}}})

	assert.Len(t, d.sent, 2)
	assert.Equal(t, 2, p.InFlight())
	assert.Equal(t, 0, p.Queued())
}

func TestLateAckIgnoredAfterRollback(t *testing.T) {
	p, store, _ := newPipeline(t)
	before := store.Snapshot()

	f := p.Submit(moveMutation("T2", "A", 1, "B", 0))
	p.Resolve(f.MutationID, nil, context.DeadlineExceeded)
	p.Resolve(f.MutationID, &types.Ack{MutationID: f.MutationID, Revision: 9}, nil)

	assert.Equal(t, before, store.Snapshot())
	_, err := f.Wait(context.Background())
	var failed *MutationFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, ReasonTimeout, failed.Reason)
	assert.False(t, p.Holds([]string{board.TaskKey("T2")}))
}

func TestInvalidMutationRejectedLocally(t *testing.T) {
	p, store, d := newPipeline(t)
	before := store.Snapshot()

	f := p.Submit(&types.Mutation{Kind: types.MutationCreateTask, CreateTask: &types.CreateTask{Task: types.Task{ID: "T9", Title: "   ", ColumnID: "A"}}})

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, board.ErrEmptyTitle)
	assert.Empty(t, d.sent)
	assert.Same(t, before, store.Snapshot())
}

func TestNoopMoveNotDispatched(t *testing.T) {
	p, store, d := newPipeline(t)
	before := store.Snapshot()

	f := p.Submit(moveMutation("T2", "A", 1, "A", 1))

	ack, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), ack.Revision)
	assert.Empty(t, d.sent)
	assert.Same(t, before, store.Snapshot())
}

func TestRebaseAppliesChangeBeneathInFlight(t *testing.T) {
	p, store, _ := newPipeline(t)

	f := p.Submit(moveMutation("T1", "A", 0, "B", 1))
	assert.True(t, p.Holds([]string{board.TaskKey("T1")}))
	assert.False(t, p.Holds([]string{board.TaskKey("T2")}))

	renamed := fixture().Tasks["T1"].Clone()
	renamed.Title = "renamed elsewhere"
	p.Rebase(func(s *board.State) *board.State {
		return board.ApplyChangeAt(s, &types.ChangePayload{Tasks: []*types.Task{renamed}}, 5)
	})

	// the optimistic move is replayed over the renamed task
	snap := store.Snapshot()
	assert.Equal(t, uint64(5), snap.Revision)
	assert.Equal(t, "renamed elsewhere", snap.Tasks["T1"].Title)
	assert.Equal(t, []string{"T4", "T1", "T5"}, snap.Board.Columns["B"].TaskIDs)
	assert.NoError(t, snap.Validate())

	p.Resolve(f.MutationID, nil, errors.New("rejected"))

	snap = store.Snapshot()
	assert.Equal(t, "renamed elsewhere", snap.Tasks["T1"].Title)
	assert.Equal(t, []string{"T1", "T2", "T3"}, snap.Board.Columns["A"].TaskIDs)
	assert.Equal(t, []string{"T4", "T5"}, snap.Board.Columns["B"].TaskIDs)
	assert.NoError(t, snap.Validate())
}

func TestRebaseRelocatesMovedTask(t *testing.T) {
	p, store, _ := newPipeline(t)

	p.Submit(moveMutation("T1", "A", 0, "B", 0))

	// another client moved T1 from A to C before this write landed
	remote := &types.ChangePayload{
		Tasks: []*types.Task{{ID: "T1", Title: "task T1", Priority: types.PriorityMedium, ColumnID: "C"}},
		Columns: []*types.Column{
			{ID: "A", Title: "To Do", TaskIDs: []string{"T2", "T3"}},
			{ID: "C", Title: "Done", TaskIDs: []string{"T1"}},
		},
	}
	p.Rebase(func(s *board.State) *board.State { return board.ApplyChangeAt(s, remote, 5) })

	snap := store.Snapshot()
	require.NoError(t, snap.Validate())
	assert.Equal(t, []string{"T2", "T3"}, snap.Board.Columns["A"].TaskIDs)
	assert.Equal(t, []string{"T1", "T4", "T5"}, snap.Board.Columns["B"].TaskIDs)
	assert.Empty(t, snap.Board.Columns["C"].TaskIDs)
	assert.True(t, p.Locked(board.ColumnKey("C")))
	assert.False(t, p.Locked(board.ColumnKey("A")))
}

func TestConfirmedMutationStackedUntilSettled(t *testing.T) {
	p, store, _ := newPipeline(t)

	f := p.Submit(&types.Mutation{Kind: types.MutationUpdateTask, UpdateTask: &types.UpdateTask{Task: types.Task{ID: "T4", Title: "mine"}}})
	p.Resolve(f.MutationID, &types.Ack{MutationID: f.MutationID, Revision: 6}, nil)
	assert.Equal(t, 0, p.InFlight())
	assert.True(t, p.Holds([]string{board.TaskKey("T4")}))

	// an older remote rename lands beneath the confirmed write
	theirs := fixture().Tasks["T4"].Clone()
	theirs.Title = "theirs"
	p.Settle(5)
	p.Rebase(func(s *board.State) *board.State {
		return board.ApplyChangeAt(s, &types.ChangePayload{Tasks: []*types.Task{theirs}}, 5)
	})
	assert.Equal(t, "mine", store.Snapshot().Tasks["T4"].Title)
	assert.True(t, p.Holds([]string{board.TaskKey("T4")}))

	p.Settle(6)
	assert.False(t, p.Holds([]string{board.TaskKey("T4")}))
}

func TestAckForAppliedRevisionNotStacked(t *testing.T) {
	p, _, _ := newPipeline(t)

	f := p.Submit(moveMutation("T1", "A", 0, "C", 0))
	p.Settle(6)
	p.Resolve(f.MutationID, &types.Ack{MutationID: f.MutationID, Revision: 6}, nil)

	assert.False(t, p.Holds([]string{board.TaskKey("T1")}))
}

func TestRollbackReplaysOtherMutations(t *testing.T) {
	p, store, _ := newPipeline(t)

	moved := p.Submit(moveMutation("T1", "A", 0, "C", 0))
	p.Submit(&types.Mutation{Kind: types.MutationUpdateTask, UpdateTask: &types.UpdateTask{Task: types.Task{ID: "T4", Title: "renamed"}}})

	p.Resolve(moved.MutationID, nil, errors.New("rejected"))

	snap := store.Snapshot()
	assert.Equal(t, []string{"T1", "T2", "T3"}, snap.Board.Columns["A"].TaskIDs)
	assert.Empty(t, snap.Board.Columns["C"].TaskIDs)
	assert.Equal(t, "renamed", snap.Tasks["T4"].Title)
	assert.Equal(t, 1, p.InFlight())
	assert.True(t, p.Locked(board.TaskKey("T4")))
	assert.NoError(t, snap.Validate())
}

func TestConfirmByEcho(t *testing.T) {
	p, _, d := newPipeline(t)

	f := p.Submit(moveMutation("T1", "A", 0, "C", 0))
	assert.True(t, p.Confirm(f.MutationID, 5))
	assert.False(t, p.Confirm(f.MutationID, 5))
	assert.False(t, p.Confirm("unknown", 5))

	ack, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ack.Revision)

	// the write's own result arrives afterwards and is ignored
	p.Resolve(f.MutationID, nil, errors.New("late failure"))
	assert.Equal(t, StatusConfirmed, d.sent[0].Status)
}

func TestResetRebasesInFlight(t *testing.T) {
	p, store, _ := newPipeline(t)

	f := p.Submit(moveMutation("T1", "A", 0, "B", 1))

	fetched := fixture()
	delete(fetched.Tasks, "T2")
	fetched.Board.Columns["A"].TaskIDs = []string{"T1", "T3"}
	fetched.Revision = 9

	p.Reset(fetched)

	snap := store.Snapshot()
	assert.Equal(t, uint64(9), snap.Revision)
	assert.Equal(t, []string{"T3"}, snap.Board.Columns["A"].TaskIDs)
	assert.Equal(t, []string{"T4", "T1", "T5"}, snap.Board.Columns["B"].TaskIDs)
	assert.Equal(t, 1, p.InFlight())

	p.Resolve(f.MutationID, nil, errors.New("rejected"))
	assert.Equal(t, fetched, store.Snapshot())
}

func TestResetSupersedesMutationThatNoLongerApplies(t *testing.T) {
	p, store, d := newPipeline(t)

	f := p.Submit(moveMutation("T1", "A", 0, "B", 1))

	fetched := fixture()
	delete(fetched.Tasks, "T1")
	fetched.Board.Columns["A"].TaskIDs = []string{"T2", "T3"}
	fetched.Revision = 9

	p.Reset(fetched)

	assert.Equal(t, fetched, store.Snapshot())
	assert.Equal(t, 0, p.InFlight())
	assert.True(t, d.cancelled[f.MutationID])
	_, err := f.Wait(context.Background())
	var failed *MutationFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, ReasonSuperseded, failed.Reason)
}

func TestAbort(t *testing.T) {
	p, store, _ := newPipeline(t)
	before := store.Snapshot()

	a := p.Submit(moveMutation("T1", "A", 0, "B", 1))
	b := p.Submit(moveMutation("T1", "B", 1, "C", 0))
	c := p.Submit(&types.Mutation{Kind: types.MutationRenameColumn, RenameColumn: &types.RenameColumn{ColumnID: "C", Title: "Shipped"}})

	p.Abort(context.Canceled)

	assert.Equal(t, before, store.Snapshot())
	for _, f := range []*Future{a, b, c} {
		_, err := f.Wait(context.Background())
		var failed *MutationFailed
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, ReasonCancelled, failed.Reason)
	}
}

func TestFutureWaitHonoursContext(t *testing.T) {
	p, _, _ := newPipeline(t)
	f := p.Submit(moveMutation("T1", "A", 0, "C", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-f.Done():
		t.Fatal("future resolved without a result")
	default:
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{context.DeadlineExceeded, ReasonTimeout},
		{fmt.Errorf("write: %w", context.DeadlineExceeded), ReasonTimeout},
		{context.Canceled, ReasonCancelled},
		{fmt.Errorf("rpc: %w", ErrDisconnected), ReasonDisconnected},
		{ErrRejected, ReasonRejected},
		{errors.New("anything else"), ReasonRejected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), tt.err.Error())
	}
}

func TestOperation(t *testing.T) {
	assert.Equal(t, "move", Operation(types.MutationMove))
	assert.Equal(t, "create", Operation(types.MutationCreateColumn))
	assert.Equal(t, "update", Operation(types.MutationRenameColumn))
	assert.Equal(t, "delete", Operation(types.MutationDeleteTask))
}
