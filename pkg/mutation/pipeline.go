package mutation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/events"
	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/metrics"
	"github.com/cuemby/boardsync/pkg/move"
	"github.com/cuemby/boardsync/pkg/types"
)

// Status is the lifecycle state of a pending mutation
type Status string

const (
	StatusQueued    Status = "queued"
	StatusInFlight  Status = "in-flight"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Pending is a mutation between optimistic apply and remote resolution.
// Mutation is never modified once the pending has been dispatched.
type Pending struct {
	ID          string
	Mutation    *types.Mutation
	Keys        []string
	Snapshot    *board.Slice
	SubmittedAt time.Time
	Status      Status

	future   *Future
	cancel   context.CancelFunc
	applied  time.Time
	revision uint64 // confirming revision, once confirmed
}

// Dispatcher sends a pending mutation to the remote store. It must not block
// and must report the outcome back to the pipeline's owner, which then calls
// Resolve. The returned function cancels the remote write.
type Dispatcher interface {
	Dispatch(p *Pending) context.CancelFunc
}

// DispatcherFunc adapts a function to the Dispatcher interface
type DispatcherFunc func(p *Pending) context.CancelFunc

// Dispatch calls f(p)
func (f DispatcherFunc) Dispatch(p *Pending) context.CancelFunc { return f(p) }

// Config configures a Pipeline
type Config struct {
	OriginID string
	Broker   *events.Broker[*events.Event]
	Now      func() time.Time
}

// Pipeline applies mutations optimistically and rolls them back on failure.
//
// Every applied mutation stays on the pipeline's stack until the store has
// caught up with it: in-flight mutations until they resolve, confirmed ones
// until their revision has been applied. A remote change that touches any
// entity on the stack is rebased as a whole (see Rebase).
//
// A Pipeline is not safe for concurrent use. It belongs to the goroutine that
// owns the board.Store it writes to.
type Pipeline struct {
	store      *board.Store
	dispatcher Dispatcher
	broker     *events.Broker[*events.Event]
	originID   string
	now        func() time.Time
	logger     zerolog.Logger

	pending map[string]*Pending
	stack   []*Pending
	locks   map[string]string
	queue   []*Pending
	settled uint64
}

// NewPipeline creates a pipeline writing to store
func NewPipeline(store *board.Store, d Dispatcher, cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OriginID == "" {
		cfg.OriginID = uuid.New().String()
	}
	return &Pipeline{
		store:      store,
		dispatcher: d,
		broker:     cfg.Broker,
		originID:   cfg.OriginID,
		now:        cfg.Now,
		logger:     log.WithComponent("pipeline").With().Str("board_id", store.Snapshot().Board.ID).Logger(),
		pending:    make(map[string]*Pending),
		locks:      make(map[string]string),
		settled:    store.Snapshot().Revision,
	}
}

// OriginID identifies this client on every mutation it submits
func (p *Pipeline) OriginID() string { return p.originID }

// InFlight returns the number of mutations awaiting a remote result
func (p *Pipeline) InFlight() int { return len(p.pending) }

// Queued returns the number of mutations waiting behind an in-flight one
func (p *Pipeline) Queued() int { return len(p.queue) }

// Pending returns the in-flight mutation with the given id
func (p *Pipeline) Pending(id string) (*Pending, bool) {
	pd, ok := p.pending[id]
	return pd, ok
}

// Submit applies m to the store and dispatches it, or queues it behind an
// in-flight mutation touching the same entities. The returned future resolves
// with the remote acknowledgement, a *MutationFailed after rollback, or the
// local validation error (such as *move.StaleMoveError) if m never applied.
func (p *Pipeline) Submit(m *types.Mutation) *Future {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.BoardID == "" {
		m.BoardID = p.store.Snapshot().Board.ID
	}
	m.OriginID = p.originID
	m.SubmittedAt = p.now()

	if err := board.Normalize(m); err != nil {
		metrics.MutationsTotal.WithLabelValues(string(m.Kind), "invalid").Inc()
		return Failed(m.ID, err)
	}

	pd := &Pending{
		ID:          m.ID,
		Mutation:    m,
		Keys:        board.Keys(p.store.Snapshot(), m),
		SubmittedAt: m.SubmittedAt,
		future:      newFuture(m.ID),
	}
	if p.blocked(pd.Keys, p.claimed(len(p.queue))) {
		pd.Status = StatusQueued
		p.queue = append(p.queue, pd)
		metrics.QueuedMutations.Set(float64(len(p.queue)))
		p.logger.Debug().Str("mutation_id", pd.ID).Strs("keys", pd.Keys).Msg("Queued behind in-flight mutation")
		return pd.future
	}
	p.start(pd)
	return pd.future
}

// Resolve delivers the remote result of a dispatched mutation. Results for
// mutations that are no longer in flight are ignored.
func (p *Pipeline) Resolve(id string, ack *types.Ack, err error) {
	pd, ok := p.pending[id]
	if !ok {
		p.logger.Debug().Str("mutation_id", id).Msg("Ignoring result for settled mutation")
		return
	}
	if err != nil {
		p.rollback(pd, Classify(err), err)
	} else {
		if ack == nil {
			ack = &types.Ack{MutationID: id, BoardID: pd.Mutation.BoardID}
		}
		p.confirm(pd, ack)
	}
	p.Drain()
}

// Confirm marks an in-flight mutation confirmed by a committed revision. It
// reports false if id is not in flight.
func (p *Pipeline) Confirm(id string, revision uint64) bool {
	pd, ok := p.pending[id]
	if !ok {
		return false
	}
	p.confirm(pd, &types.Ack{MutationID: id, BoardID: pd.Mutation.BoardID, Revision: revision})
	return true
}

// Locked reports whether an in-flight mutation holds key
func (p *Pipeline) Locked(key string) bool {
	_, ok := p.locks[key]
	return ok
}

// Holds reports whether a mutation on the stack touches any of keys
func (p *Pipeline) Holds(keys []string) bool {
	for _, pd := range p.stack {
		for _, held := range pd.Keys {
			for _, k := range keys {
				if held == k {
					return true
				}
			}
		}
	}
	return false
}

// Rebase applies a remote change underneath the stacked mutations. It
// unwinds every stacked mutation to reach the state the server has
// confirmed, applies change to that state and replays the stack on top, so
// the change is never merged entity by entity into an optimistic state.
// In-flight mutations that no longer apply fail with ReasonSuperseded.
func (p *Pipeline) Rebase(change func(*board.State) *board.State) {
	p.replay(change(p.base()))
	p.Drain()
}

// Settle records that every revision up to revision has been applied and
// drops the confirmed mutations it covers.
func (p *Pipeline) Settle(revision uint64) {
	if revision > p.settled {
		p.settled = revision
	}
	kept := p.stack[:0]
	for _, pd := range p.stack {
		if pd.Status == StatusConfirmed && pd.revision <= revision {
			pd.Snapshot = nil
			continue
		}
		kept = append(kept, pd)
	}
	clear(p.stack[len(kept):])
	p.stack = kept
}

// Drain starts queued mutations whose entities are no longer locked, in
// submission order.
func (p *Pipeline) Drain() {
	if len(p.queue) == 0 {
		return
	}
	claimed := make(map[string]bool)
	var waiting []*Pending
	queue := p.queue
	p.queue = nil
	for _, pd := range queue {
		pd.Keys = board.Keys(p.store.Snapshot(), pd.Mutation)
		if p.blocked(pd.Keys, claimed) {
			for _, k := range pd.Keys {
				claimed[k] = true
			}
			waiting = append(waiting, pd)
			continue
		}
		p.start(pd)
	}
	p.queue = append(waiting, p.queue...)
	metrics.QueuedMutations.Set(float64(len(p.queue)))
}

// Reset replays the stacked mutations onto a freshly fetched state and
// publishes the result. In-flight mutations that no longer apply are dropped
// with ReasonSuperseded.
func (p *Pipeline) Reset(fetched *board.State) {
	p.Settle(fetched.Revision)
	p.replay(fetched)
	p.Drain()
}

// Abort rolls back every in-flight mutation and rejects every queued one
func (p *Pipeline) Abort(cause error) {
	for i := len(p.stack) - 1; i >= 0; i-- {
		if pd := p.stack[i]; pd.Status == StatusInFlight {
			p.rollback(pd, ReasonCancelled, cause)
		}
	}
	queue := p.queue
	p.queue = nil
	for _, pd := range queue {
		p.fail(pd, ReasonCancelled, cause)
	}
	metrics.QueuedMutations.Set(0)
}

func (p *Pipeline) start(pd *Pending) {
	state := p.store.Snapshot()
	pd.Keys = board.Keys(state, pd.Mutation)
	next, _, _, err := board.Apply(state, pd.Mutation)
	if err != nil {
		p.reject(pd, err)
		return
	}
	if next == state {
		pd.Status = StatusConfirmed
		metrics.MutationsTotal.WithLabelValues(string(pd.Mutation.Kind), "noop").Inc()
		pd.future.resolve(&types.Ack{MutationID: pd.ID, BoardID: pd.Mutation.BoardID, Revision: state.Revision}, nil)
		return
	}

	pd.Snapshot = board.Capture(state, pd.Keys)
	p.store.Swap(next)
	for _, k := range pd.Keys {
		p.locks[k] = pd.ID
	}
	pd.Status = StatusInFlight
	pd.applied = p.now()
	p.pending[pd.ID] = pd
	p.stack = append(p.stack, pd)
	metrics.PendingMutations.Set(float64(len(p.pending)))
	p.logger.Debug().Str("mutation_id", pd.ID).Str("kind", string(pd.Mutation.Kind)).Msg("Applied optimistic mutation")

	pd.cancel = p.dispatcher.Dispatch(pd)
}

func (p *Pipeline) reject(pd *Pending, err error) {
	pd.Status = StatusFailed
	metrics.MutationsTotal.WithLabelValues(string(pd.Mutation.Kind), "invalid").Inc()

	var stale *move.StaleMoveError
	if errors.As(err, &stale) {
		p.logger.Warn().Str("mutation_id", pd.ID).Err(err).Msg("Rejected stale move")
		p.publish(events.EventMoveStale, err.Error(), map[string]string{
			"mutation_id": pd.ID,
			"task_id":     stale.TaskID,
		})
	}
	pd.future.resolve(nil, err)
}

func (p *Pipeline) confirm(pd *Pending, ack *types.Ack) {
	p.release(pd)
	pd.Status = StatusConfirmed
	pd.revision = ack.Revision
	if ack.Revision <= p.settled {
		p.unstack(pd)
	}

	kind := string(pd.Mutation.Kind)
	metrics.MutationsTotal.WithLabelValues(kind, "confirmed").Inc()
	metrics.TimerAt(pd.applied).ObserveDurationVec(metrics.MutationLatency, kind)
	p.logger.Debug().Str("mutation_id", pd.ID).Uint64("revision", ack.Revision).Msg("Mutation confirmed")
	p.publish(events.EventMutationConfirmed, "mutation confirmed", map[string]string{
		"mutation_id": pd.ID,
		"kind":        kind,
	})
	pd.future.resolve(ack, nil)
}

func (p *Pipeline) rollback(pd *Pending, reason Reason, cause error) {
	base := p.base()
	p.release(pd)
	p.unstack(pd)
	p.replay(base)
	metrics.MutationRollbacks.WithLabelValues(string(reason)).Inc()
	p.fail(pd, reason, cause)
}

func (p *Pipeline) fail(pd *Pending, reason Reason, cause error) {
	if pd.cancel != nil {
		pd.cancel()
	}
	pd.Status = StatusFailed
	pd.Snapshot = nil
	failure := &MutationFailed{
		MutationID: pd.ID,
		Kind:       pd.Mutation.Kind,
		Reason:     reason,
		Cause:      cause,
	}
	metrics.MutationsTotal.WithLabelValues(string(pd.Mutation.Kind), "failed").Inc()
	p.logger.Warn().Str("mutation_id", pd.ID).Str("reason", string(reason)).Err(cause).Msg("Mutation rolled back")
	p.publish(events.EventMutationFailed, failure.Error(), map[string]string{
		"mutation_id": pd.ID,
		"kind":        Operation(pd.Mutation.Kind),
		"reason":      string(reason),
	})
	pd.future.resolve(nil, failure)
}

// release forgets an in-flight mutation and unlocks its entities
func (p *Pipeline) release(pd *Pending) {
	delete(p.pending, pd.ID)
	for _, k := range pd.Keys {
		if p.locks[k] == pd.ID {
			delete(p.locks, k)
		}
	}
	metrics.PendingMutations.Set(float64(len(p.pending)))
}

// unstack removes pd from the stack
func (p *Pipeline) unstack(pd *Pending) {
	for i, other := range p.stack {
		if other == pd {
			p.stack = append(p.stack[:i:i], p.stack[i+1:]...)
			break
		}
	}
	pd.Snapshot = nil
}

// base returns the store with every stacked mutation unwound, newest first
func (p *Pipeline) base() *board.State {
	s := p.store.Snapshot()
	for i := len(p.stack) - 1; i >= 0; i-- {
		s = board.Restore(s, p.stack[i].Snapshot)
	}
	return s
}

// replay applies the stacked mutations to base in order, recapturing their
// snapshots and locks, and publishes the result. Moves are relocated to the
// task's current position first.
func (p *Pipeline) replay(base *board.State) {
	type dropped struct {
		pd  *Pending
		err error
	}
	var superseded []dropped

	live := base
	locks := make(map[string]string)
	var kept []*Pending
	for _, pd := range p.stack {
		m, err := relocate(live, pd.Mutation)
		var next *board.State
		var keys []string
		if err == nil {
			keys = board.Keys(live, m)
			if pd.Status == StatusInFlight {
				for _, k := range keys {
					if _, taken := locks[k]; taken {
						err = errors.New("entities claimed by an earlier mutation")
						break
					}
				}
			}
		}
		if err == nil {
			next, _, _, err = board.Apply(live, m)
		}
		if err != nil {
			pd.Snapshot = nil
			if pd.Status == StatusInFlight {
				p.logger.Warn().Str("mutation_id", pd.ID).Err(err).Msg("Mutation no longer applies after remote change")
				superseded = append(superseded, dropped{pd, err})
			} else {
				p.logger.Debug().Str("mutation_id", pd.ID).Err(err).Msg("Confirmed mutation left to its revision")
			}
			continue
		}
		pd.Keys = keys
		pd.Snapshot = board.Capture(live, keys)
		if pd.Status == StatusInFlight {
			for _, k := range keys {
				locks[k] = pd.ID
			}
		}
		kept = append(kept, pd)
		live = next
	}

	p.locks = locks
	p.stack = kept
	p.store.Swap(live)
	for _, d := range superseded {
		delete(p.pending, d.pd.ID)
		p.fail(d.pd, ReasonSuperseded, d.err)
	}
	metrics.PendingMutations.Set(float64(len(p.pending)))
}

func (p *Pipeline) blocked(keys []string, claimed map[string]bool) bool {
	for _, k := range keys {
		if _, ok := p.locks[k]; ok || claimed[k] {
			return true
		}
	}
	return false
}

// claimed returns the keys of the first n queued mutations
func (p *Pipeline) claimed(n int) map[string]bool {
	out := make(map[string]bool)
	for _, pd := range p.queue[:n] {
		for _, k := range pd.Keys {
			out[k] = true
		}
	}
	return out
}

func (p *Pipeline) publish(t events.EventType, msg string, md map[string]string) {
	if p.broker == nil {
		return
	}
	ev := events.NewEvent(t, msg, md)
	ev.ID = uuid.New().String()
	p.broker.Publish(ev)
}

// relocate returns m with a move's source replaced by the task's current
// location in s.
func relocate(s *board.State, m *types.Mutation) (*types.Mutation, error) {
	if m.Kind != types.MutationMove || m.Move == nil {
		return m, nil
	}
	mv, err := move.Relocate(s.Order(), move.FromMutation(m.Move))
	if err != nil {
		return nil, err
	}
	out := *m
	out.Move = &types.MoveTask{TaskID: m.Move.TaskID, From: mv.Source, To: m.Move.To}
	return &out, nil
}
