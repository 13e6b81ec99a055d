package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/boardsync/pkg/events"
	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/metrics"
	"github.com/cuemby/boardsync/pkg/types"
)

// ErrPresenceDisconnected reports that the presence transport was lost.
// It never affects board data.
var ErrPresenceDisconnected = errors.New("presence disconnected")

// State is the connection state of a tracker
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var allStates = []State{StateDisconnected, StateConnecting, StateConnected}

// Transport is the realtime presence channel. Connect returns a stream of
// join/leave events; the stream closing means the transport was lost.
type Transport interface {
	Connect(ctx context.Context, boardID, userID string) (<-chan types.PresenceEvent, error)
	Disconnect() error
}

// Config configures a Tracker
type Config struct {
	BoardID string
	UserID  string
	Backoff Backoff
	Broker  *events.Broker[*events.Event]
	// After waits for a reconnect delay; defaults to time.After
	After func(time.Duration) <-chan time.Time
}

// Tracker maintains the set of collaborators online on one board
type Tracker struct {
	transport Transport
	cfg       Config
	logger    zerolog.Logger

	mu     sync.RWMutex
	state  State
	online map[string]struct{}

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewTracker creates a disconnected tracker
func NewTracker(t Transport, cfg Config) *Tracker {
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	return &Tracker{
		transport: t,
		cfg:       cfg,
		logger: log.WithComponent("presence").With().
			Str("board_id", cfg.BoardID).
			Str("user_id", cfg.UserID).
			Logger(),
		state:  StateDisconnected,
		online: make(map[string]struct{}),
	}
}

// Start connects in the background and keeps reconnecting until Stop
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.doneCh = make(chan struct{})
	go t.run(ctx)
}

// Stop disconnects and waits for the background loop to exit
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	if err := t.transport.Disconnect(); err != nil {
		t.logger.Debug().Err(err).Msg("Disconnect failed")
	}
	<-t.doneCh
	t.mu.Lock()
	t.clear()
	t.setState(StateDisconnected)
	t.mu.Unlock()
}

// State returns the current connection state
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Online returns the ids of online collaborators, sorted
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.doneCh)

	attempt := 0
	for {
		t.transition(StateConnecting)
		stream, err := t.transport.Connect(ctx, t.cfg.BoardID, t.cfg.UserID)
		if err == nil {
			attempt = 0
			t.transition(StateConnected)
			t.publish(events.EventPresenceConnected, "presence connected", nil)
			t.logger.Info().Msg("Presence connected")
			t.consume(ctx, stream)
			err = ErrPresenceDisconnected
		}
		if ctx.Err() != nil {
			return
		}
		t.lost(err)

		delay := t.cfg.Backoff.Delay(attempt)
		attempt++
		metrics.PresenceReconnects.Inc()
		t.logger.Debug().Dur("delay", delay).Int("attempt", attempt).Msg("Reconnecting presence")
		select {
		case <-t.cfg.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) consume(ctx context.Context, stream <-chan types.PresenceEvent) {
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return
			}
			t.handle(ev)
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) handle(ev types.PresenceEvent) {
	if ev.UserID == "" {
		return
	}
	t.mu.Lock()
	_, present := t.online[ev.UserID]
	switch ev.Type {
	case types.PresenceJoin:
		if present {
			t.mu.Unlock()
			return
		}
		t.online[ev.UserID] = struct{}{}
	case types.PresenceLeave:
		if !present {
			t.mu.Unlock()
			return
		}
		delete(t.online, ev.UserID)
	default:
		t.mu.Unlock()
		return
	}
	metrics.PresenceOnline.Set(float64(len(t.online)))
	t.mu.Unlock()

	md := map[string]string{"user_id": ev.UserID}
	if ev.Type == types.PresenceJoin {
		t.publish(events.EventPresenceJoined, ev.UserID+" joined", md)
	} else {
		t.publish(events.EventPresenceLeft, ev.UserID+" left", md)
	}
}

// lost clears the presence set the moment the transport goes away
func (t *Tracker) lost(err error) {
	t.mu.Lock()
	t.clear()
	t.setState(StateDisconnected)
	t.mu.Unlock()

	t.logger.Warn().Err(err).Msg("Presence transport lost")
	t.publish(events.EventPresenceLost, err.Error(), nil)
}

func (t *Tracker) transition(s State) {
	t.mu.Lock()
	t.setState(s)
	t.mu.Unlock()
}

// setState and clear require t.mu
func (t *Tracker) setState(s State) {
	t.state = s
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		metrics.PresenceState.WithLabelValues(string(st)).Set(v)
	}
}

func (t *Tracker) clear() {
	for id := range t.online {
		delete(t.online, id)
	}
	metrics.PresenceOnline.Set(0)
}

func (t *Tracker) publish(typ events.EventType, msg string, md map[string]string) {
	if t.cfg.Broker == nil {
		return
	}
	ev := events.NewEvent(typ, msg, md)
	ev.ID = uuid.New().String()
	t.cfg.Broker.Publish(ev)
}
