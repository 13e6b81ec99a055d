package reconciler

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/boardsync/pkg/board"
	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/metrics"
	"github.com/cuemby/boardsync/pkg/types"
)

// DefaultMaxBuffer is the number of out-of-order events held before a refetch
const DefaultMaxBuffer = 256

// ErrBufferOverflow is returned when too many events wait for a missing revision
var ErrBufferOverflow = errors.New("reorder buffer full")

// RevisionGapTimeout reports a revision that did not arrive in time
type RevisionGapTimeout struct {
	BoardID string
	Applied uint64
	Next    uint64
	Waited  time.Duration
}

func (e *RevisionGapTimeout) Error() string {
	return fmt.Sprintf("board %s: revision %d missing after %s (next buffered %d)",
		e.BoardID, e.Applied+1, e.Waited, e.Next)
}

// Ledger is the view of local in-flight mutations the reconciler consults.
// mutation.Pipeline implements it.
type Ledger interface {
	// Confirm marks the in-flight mutation id as committed at revision
	Confirm(mutationID string, revision uint64) bool
	// Settle records that revision has been applied
	Settle(revision uint64)
	// Holds reports whether a local mutation not yet reflected in an
	// applied revision touches any of keys
	Holds(keys []string) bool
	// Rebase applies change beneath the local mutations and replays them
	Rebase(change func(*board.State) *board.State)
}

// Config configures a Reconciler
type Config struct {
	OriginID  string
	MaxBuffer int
}

// Reconciler merges an ordered stream of remote changes into a board store.
//
// Reconciler is not safe for concurrent use; it runs on the goroutine that
// owns the store.
type Reconciler struct {
	store     *board.Store
	ledger    Ledger
	originID  string
	maxBuffer int
	logger    zerolog.Logger

	applied uint64
	buffer  map[uint64]*types.ChangeEvent
}

// NewReconciler creates a reconciler starting after the store's revision
func NewReconciler(store *board.Store, ledger Ledger, cfg Config) *Reconciler {
	if ledger == nil {
		ledger = nopLedger{}
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = DefaultMaxBuffer
	}
	snap := store.Snapshot()
	return &Reconciler{
		store:     store,
		ledger:    ledger,
		originID:  cfg.OriginID,
		maxBuffer: cfg.MaxBuffer,
		logger:    log.WithComponent("reconciler").With().Str("board_id", snap.Board.ID).Logger(),
		applied:   snap.Revision,
		buffer:    make(map[uint64]*types.ChangeEvent),
	}
}

// Applied returns the highest revision applied to the store
func (r *Reconciler) Applied() uint64 { return r.applied }

// Buffered returns the number of events waiting for a predecessor
func (r *Reconciler) Buffered() int { return len(r.buffer) }

// Gap reports whether an event is waiting for a missing revision
func (r *Reconciler) Gap() bool { return len(r.buffer) > 0 }

// Receive applies ev if it is the next revision, buffers it if it is ahead,
// and drops it if it was already applied. It returns ErrBufferOverflow when
// the buffer cannot hold ev; the caller should refetch the board.
func (r *Reconciler) Receive(ev *types.ChangeEvent) error {
	switch {
	case ev.Revision <= r.applied:
		r.logger.Debug().Uint64("revision", ev.Revision).Msg("Dropping already applied change")
		return nil
	case ev.Revision > r.applied+1:
		if _, ok := r.buffer[ev.Revision]; ok {
			return nil
		}
		if len(r.buffer) >= r.maxBuffer {
			metrics.RevisionGaps.Inc()
			return fmt.Errorf("%w: %d events waiting for revision %d", ErrBufferOverflow, len(r.buffer), r.applied+1)
		}
		r.buffer[ev.Revision] = ev
		metrics.BufferedChanges.Set(float64(len(r.buffer)))
		r.logger.Debug().
			Uint64("revision", ev.Revision).
			Uint64("waiting_for", r.applied+1).
			Msg("Buffered out-of-order change")
		return nil
	}

	r.apply(ev)
	for {
		next, ok := r.buffer[r.applied+1]
		if !ok {
			break
		}
		delete(r.buffer, next.Revision)
		r.apply(next)
	}
	metrics.BufferedChanges.Set(float64(len(r.buffer)))
	return nil
}

// GapTimeout describes the current gap after waiting for waited. It returns
// nil if no event is buffered.
func (r *Reconciler) GapTimeout(waited time.Duration) *RevisionGapTimeout {
	if len(r.buffer) == 0 {
		return nil
	}
	var next uint64
	for rev := range r.buffer {
		if next == 0 || rev < next {
			next = rev
		}
	}
	metrics.RevisionGaps.Inc()
	return &RevisionGapTimeout{
		BoardID: r.store.Snapshot().Board.ID,
		Applied: r.applied,
		Next:    next,
		Waited:  waited,
	}
}

// Reset discards buffered events and continues after revision. Call it after
// the store has been replaced by a full fetch.
func (r *Reconciler) Reset(revision uint64) {
	r.applied = revision
	for rev := range r.buffer {
		delete(r.buffer, rev)
	}
	metrics.BufferedChanges.Set(0)
}

func (r *Reconciler) apply(ev *types.ChangeEvent) {
	origin := "remote"
	if r.originID != "" && ev.OriginID == r.originID {
		origin = "local"
	}
	if ev.MutationID != "" && r.ledger.Confirm(ev.MutationID, ev.Revision) {
		metrics.EchoesSuppressed.Inc()
		r.logger.Debug().
			Str("mutation_id", ev.MutationID).
			Uint64("revision", ev.Revision).
			Msg("Change confirms local mutation")
	}

	r.ledger.Settle(ev.Revision)

	change := func(st *board.State) *board.State {
		return board.ApplyChangeAt(st, &ev.Payload, ev.Revision)
	}
	if keys := board.PayloadKeys(&ev.Payload); r.ledger.Holds(keys) {
		r.logger.Debug().
			Uint64("revision", ev.Revision).
			Strs("keys", keys).
			Msg("Rebasing local mutations onto remote change")
		r.ledger.Rebase(change)
	} else {
		r.store.Swap(change(r.store.Snapshot()))
	}
	r.applied = ev.Revision
	metrics.ChangesApplied.WithLabelValues(string(ev.Kind), origin).Inc()
}

type nopLedger struct{}

func (nopLedger) Confirm(string, uint64) bool { return false }
func (nopLedger) Settle(uint64) {}
func (nopLedger) Holds([]string) bool { return false }
func (nopLedger) Rebase(func(*board.State) *board.State) {}
