package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/events"
	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/metrics"
	"github.com/cuemby/boardsync/pkg/mutation"
	"github.com/cuemby/boardsync/pkg/presence"
	"github.com/cuemby/boardsync/pkg/reconciler"
	"github.com/cuemby/boardsync/pkg/types"
)

// ErrClosed is returned by intents submitted after Close
var ErrClosed = errors.New("session closed")

// Persistence is the authoritative board store
type Persistence interface {
	Write(ctx context.Context, boardID string, m *types.Mutation) (*types.Ack, error)
	Subscribe(ctx context.Context, boardID string, fromRevision uint64) (<-chan *types.ChangeEvent, error)
	Fetch(ctx context.Context, boardID string) (*board.State, error)
}

// Config configures a Session
type Config struct {
	BoardID  string
	UserID   string
	OriginID string

	WriteTimeout     time.Duration
	GapTimeout       time.Duration
	MaxBuffer        int
	ResubscribeDelay time.Duration

	Backoff presence.Backoff
	Broker  *events.Broker[*events.Event]
}

func (c *Config) setDefaults() {
	if c.OriginID == "" {
		c.OriginID = uuid.New().String()
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.GapTimeout <= 0 {
		c.GapTimeout = 5 * time.Second
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = reconciler.DefaultMaxBuffer
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = time.Second
	}
}

// Snapshot is the immutable view a UI renders
type Snapshot struct {
	Board    *board.State
	Online   []string
	Presence presence.State
}

type intent struct {
	m     *types.Mutation
	reply chan *mutation.Future
}

type writeResult struct {
	id  string
	ack *types.Ack
	err error
}

type change struct {
	gen uint64
	ev  *types.ChangeEvent
}

type streamClosed struct {
	gen uint64
	err error
}

type fetchResult struct {
	state *board.State
	err   error
}

// Session owns the local copy of one board. A single goroutine applies every
// change to the store: local intents, write results, remote changes and
// refetches all arrive over channels.
type Session struct {
	cfg         Config
	persistence Persistence
	tracker     *presence.Tracker
	logger      zerolog.Logger

	store      *board.Store
	pipeline   *mutation.Pipeline
	reconciler *reconciler.Reconciler

	ctx    context.Context
	cancel context.CancelFunc

	intents chan intent
	results chan writeResult
	changes chan change
	closed  chan streamClosed
	fetched chan fetchResult
	doneCh  chan struct{}

	// owned by the loop goroutine
	gen        uint64
	subCancel  context.CancelFunc
	resubC     <-chan time.Time
	gapTimer   *time.Timer
	gapC       <-chan time.Time
	refetching bool
	retryC     <-chan time.Time
}

// Open fetches the board, subscribes to its changes from the next revision
// and starts the session loop. transport may be nil to run without presence.
func Open(ctx context.Context, p Persistence, transport presence.Transport, cfg Config) (*Session, error) {
	cfg.setDefaults()
	if cfg.BoardID == "" {
		return nil, fmt.Errorf("board id required")
	}

	initial, err := p.Fetch(ctx, cfg.BoardID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch board %s: %w", cfg.BoardID, err)
	}

	s := &Session{
		cfg:         cfg,
		persistence: p,
		logger:      log.WithComponent("session").With().Str("board_id", cfg.BoardID).Logger(),
		store:       board.NewStore(initial),
		intents:     make(chan intent),
		results:     make(chan writeResult, 16),
		changes:     make(chan change, 64),
		closed:      make(chan streamClosed, 1),
		fetched:     make(chan fetchResult, 1),
		doneCh:      make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pipeline = mutation.NewPipeline(s.store, s, mutation.Config{
		OriginID: cfg.OriginID,
		Broker:   cfg.Broker,
	})
	s.reconciler = reconciler.NewReconciler(s.store, s.pipeline, reconciler.Config{
		OriginID:  cfg.OriginID,
		MaxBuffer: cfg.MaxBuffer,
	})

	if transport != nil {
		s.tracker = presence.NewTracker(transport, presence.Config{
			BoardID: cfg.BoardID,
			UserID:  cfg.UserID,
			Backoff: cfg.Backoff,
			Broker:  cfg.Broker,
		})
		s.tracker.Start(s.ctx)
	}

	s.subscribe()
	go s.run()

	s.logger.Info().
		Uint64("revision", initial.Revision).
		Str("origin_id", cfg.OriginID).
		Msg("Session opened")
	return s, nil
}

// Close stops the session. In-flight mutations are rolled back and their
// futures fail with ErrClosed.
func (s *Session) Close() error {
	select {
	case <-s.doneCh:
		return nil
	default:
	}
	s.cancel()
	<-s.doneCh
	if s.tracker != nil {
		s.tracker.Stop()
	}
	s.logger.Info().Msg("Session closed")
	return nil
}

// OriginID identifies this session's writes in the change stream
func (s *Session) OriginID() string { return s.cfg.OriginID }

// Snapshot returns the current board and presence view. Safe for concurrent use.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{Board: s.store.Snapshot(), Presence: presence.StateDisconnected, Online: []string{}}
	if s.tracker != nil {
		snap.Online = s.tracker.Online()
		snap.Presence = s.tracker.State()
	}
	return snap
}

// Submit hands m to the session loop. It returns once m has been applied
// optimistically, queued or rejected.
func (s *Session) Submit(ctx context.Context, m *types.Mutation) (*mutation.Future, error) {
	in := intent{m: m, reply: make(chan *mutation.Future, 1)}
	select {
	case s.intents <- in:
	case <-s.doneCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return <-in.reply, nil
}

// Move drags a task. A drop without a destination column does nothing.
func (s *Session) Move(ctx context.Context, taskID string, from, to types.Location) (*mutation.Future, error) {
	if to.ColumnID == "" {
		return mutation.Completed("", nil), nil
	}
	return s.Submit(ctx, &types.Mutation{
		Kind: types.MutationMove,
		Move: &types.MoveTask{TaskID: taskID, From: from, To: to},
	})
}

// CreateTask adds a task to its column at index, or at the end when index < 0.
// Missing ids and creation times are filled in.
func (s *Session) CreateTask(ctx context.Context, task types.Task, index int) (*mutation.Future, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	return s.Submit(ctx, &types.Mutation{
		Kind:       types.MutationCreateTask,
		CreateTask: &types.CreateTask{Task: task, Index: index},
	})
}

// UpdateTask replaces a task's fields; its column and creation time are kept
func (s *Session) UpdateTask(ctx context.Context, task types.Task) (*mutation.Future, error) {
	return s.Submit(ctx, &types.Mutation{
		Kind:       types.MutationUpdateTask,
		UpdateTask: &types.UpdateTask{Task: task},
	})
}

// DeleteTask removes a task
func (s *Session) DeleteTask(ctx context.Context, taskID string) (*mutation.Future, error) {
	return s.Submit(ctx, &types.Mutation{
		Kind:       types.MutationDeleteTask,
		DeleteTask: &types.DeleteTask{TaskID: taskID},
	})
}

// CreateColumn appends a column and returns its generated id
func (s *Session) CreateColumn(ctx context.Context, title string) (string, *mutation.Future, error) {
	id := uuid.New().String()
	f, err := s.Submit(ctx, &types.Mutation{
		Kind:         types.MutationCreateColumn,
		CreateColumn: &types.CreateColumn{ColumnID: id, Title: title},
	})
	return id, f, err
}

// RenameColumn changes a column's title
func (s *Session) RenameColumn(ctx context.Context, columnID, title string) (*mutation.Future, error) {
	return s.Submit(ctx, &types.Mutation{
		Kind:         types.MutationRenameColumn,
		RenameColumn: &types.RenameColumn{ColumnID: columnID, Title: title},
	})
}

// Dispatch runs the remote write for p on its own goroutine and posts the
// result back to the loop.
func (s *Session) Dispatch(p *mutation.Pending) context.CancelFunc {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
	m := p.Mutation
	go func() {
		defer cancel()
		ack, err := s.persistence.Write(ctx, m.BoardID, m)
		select {
		case s.results <- writeResult{id: m.ID, ack: ack, err: err}:
		case <-s.ctx.Done():
		}
	}()
	return cancel
}

func (s *Session) run() {
	defer close(s.doneCh)
	defer s.stopGapTimer()

	for {
		select {
		case in := <-s.intents:
			in.reply <- s.pipeline.Submit(in.m)

		case r := <-s.results:
			s.pipeline.Resolve(r.id, r.ack, r.err)

		case c := <-s.changes:
			if c.gen != s.gen || s.refetching {
				continue
			}
			if err := s.reconciler.Receive(c.ev); err != nil {
				s.refetch(err)
			}
			s.pipeline.Drain()

		case c := <-s.closed:
			if c.gen != s.gen {
				continue
			}
			if c.err != nil {
				s.logger.Warn().Err(c.err).Msg("Change stream failed")
			} else {
				s.logger.Warn().Msg("Change stream closed")
			}
			s.resubC = time.After(s.cfg.ResubscribeDelay)

		case <-s.resubC:
			s.resubC = nil
			s.subscribe()

		case <-s.gapC:
			s.gapTimer, s.gapC = nil, nil
			if gap := s.reconciler.GapTimeout(s.cfg.GapTimeout); gap != nil {
				s.refetch(gap)
			}

		case <-s.retryC:
			s.retryC = nil
			s.refetch(errors.New("retrying failed refetch"))

		case f := <-s.fetched:
			s.applyFetch(f)

		case <-s.ctx.Done():
			if s.subCancel != nil {
				s.subCancel()
			}
			s.pipeline.Abort(ErrClosed)
			return
		}
		s.updateGapTimer()
		s.updateGauges()
	}
}

// subscribe (re)opens the change stream after the last applied revision.
// Events from earlier streams are discarded by generation.
func (s *Session) subscribe() {
	if s.subCancel != nil {
		s.subCancel()
	}
	s.gen++
	gen := s.gen
	from := s.reconciler.Applied() + 1
	ctx, cancel := context.WithCancel(s.ctx)
	s.subCancel = cancel

	go func() {
		stream, err := s.persistence.Subscribe(ctx, s.cfg.BoardID, from)
		if err == nil {
			s.forward(ctx, gen, stream)
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case s.closed <- streamClosed{gen: gen, err: err}:
		case <-ctx.Done():
		}
	}()
	s.logger.Debug().Uint64("from_revision", from).Msg("Subscribed to changes")
}

func (s *Session) forward(ctx context.Context, gen uint64, stream <-chan *types.ChangeEvent) {
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return
			}
			select {
			case s.changes <- change{gen: gen, ev: ev}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) refetch(cause error) {
	if s.refetching {
		return
	}
	s.refetching = true
	s.stopGapTimer()

	var gap *reconciler.RevisionGapTimeout
	if errors.As(cause, &gap) || errors.Is(cause, reconciler.ErrBufferOverflow) {
		s.publish(events.EventRevisionGap, cause.Error(), map[string]string{
			"applied_revision": fmt.Sprint(s.reconciler.Applied()),
		})
	}
	s.logger.Warn().Err(cause).Msg("Refetching board")

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
		defer cancel()
		st, err := s.persistence.Fetch(ctx, s.cfg.BoardID)
		select {
		case s.fetched <- fetchResult{state: st, err: err}:
		case <-s.ctx.Done():
		}
	}()
}

func (s *Session) applyFetch(f fetchResult) {
	s.refetching = false
	if f.err != nil {
		metrics.Refetches.WithLabelValues("failed").Inc()
		s.logger.Error().Err(f.err).Msg("Refetch failed")
		s.retryC = time.After(s.cfg.ResubscribeDelay)
		return
	}
	metrics.Refetches.WithLabelValues("ok").Inc()

	s.pipeline.Reset(f.state)
	s.reconciler.Reset(f.state.Revision)
	s.subscribe()

	s.logger.Info().Uint64("revision", f.state.Revision).Msg("Board refetched")
	s.publish(events.EventBoardRefetched, "board refetched", map[string]string{
		"revision": fmt.Sprint(f.state.Revision),
	})
}

func (s *Session) updateGapTimer() {
	switch {
	case s.reconciler.Gap() && s.gapTimer == nil && !s.refetching:
		s.gapTimer = time.NewTimer(s.cfg.GapTimeout)
		s.gapC = s.gapTimer.C
	case !s.reconciler.Gap() && s.gapTimer != nil:
		s.stopGapTimer()
	}
}

func (s *Session) stopGapTimer() {
	if s.gapTimer != nil {
		s.gapTimer.Stop()
	}
	s.gapTimer, s.gapC = nil, nil
}

func (s *Session) updateGauges() {
	metrics.PendingMutations.Set(float64(s.pipeline.InFlight()))
	metrics.QueuedMutations.Set(float64(s.pipeline.Queued()))
}

func (s *Session) publish(t events.EventType, msg string, md map[string]string) {
	if s.cfg.Broker == nil {
		return
	}
	ev := events.NewEvent(t, msg, md)
	ev.ID = uuid.New().String()
	s.cfg.Broker.Publish(ev)
}
