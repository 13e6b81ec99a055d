package realtime

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/types"
)

// DefaultPrefix namespaces every key and channel
const DefaultPrefix = "boardsync"

// PresenceConfig configures a Presence transport
type PresenceConfig struct {
	Prefix string
	// TTL is how long a member stays online without a heartbeat.
	// Heartbeats are sent every TTL/3.
	TTL time.Duration
	Now func() time.Time
}

// Presence is a presence.Transport over Redis. Online members of a board
// live in a sorted set scored by their last heartbeat; joins and leaves are
// announced on a pub/sub channel.
type Presence struct {
	rdb    *redis.Client
	cfg    PresenceConfig
	logger zerolog.Logger

	mu   sync.Mutex
	conn *presenceConn
}

type presenceConn struct {
	boardID string
	userID  string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPresence creates a presence transport on rdb
func NewPresence(rdb *redis.Client, cfg PresenceConfig) *Presence {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Presence{
		rdb:    rdb,
		cfg:    cfg,
		logger: log.WithComponent("realtime-presence"),
	}
}

func (p *Presence) membersKey(boardID string) string {
	return p.cfg.Prefix + ":presence:" + boardID + ":members"
}

func (p *Presence) channel(boardID string) string {
	return p.cfg.Prefix + ":presence:" + boardID
}

func (p *Presence) score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Connect joins boardID as userID and streams presence events. The current
// roster is delivered first as joins. The stream closes when a heartbeat
// fails or Disconnect is called.
func (p *Presence) Connect(ctx context.Context, boardID, userID string) (<-chan types.PresenceEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		_ = p.closeLocked()
	}

	sub := p.rdb.Subscribe(ctx, p.channel(boardID))
	// Wait for the subscription so our own join is not missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	key := p.membersKey(boardID)
	now := p.cfg.Now()
	if err := p.rdb.ZAdd(ctx, key, redis.Z{Score: p.score(now), Member: userID}).Err(); err != nil {
		sub.Close()
		return nil, err
	}
	if err := p.announce(ctx, boardID, types.PresenceJoin, userID); err != nil {
		sub.Close()
		return nil, err
	}

	cutoff := strconv.FormatFloat(p.score(now.Add(-p.cfg.TTL)), 'f', 0, 64)
	members, err := p.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "(" + cutoff, Max: "+inf"}).Result()
	if err != nil {
		sub.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	conn := &presenceConn{boardID: boardID, userID: userID, cancel: cancel, done: make(chan struct{})}
	p.conn = conn

	out := make(chan types.PresenceEvent, 64)
	go p.run(runCtx, conn, sub, members, out)

	p.logger.Debug().
		Str("board_id", boardID).
		Str("user_id", userID).
		Int("online", len(members)).
		Msg("Presence connected")
	return out, nil
}

func (p *Presence) run(ctx context.Context, conn *presenceConn, sub *redis.PubSub, roster []string, out chan<- types.PresenceEvent) {
	defer close(conn.done)
	defer close(out)
	defer sub.Close()

	send := func(ev types.PresenceEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for _, member := range roster {
		if !send(types.PresenceEvent{Type: types.PresenceJoin, UserID: member}) {
			return
		}
	}

	ticker := time.NewTicker(p.cfg.TTL / 3)
	defer ticker.Stop()
	msgs := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev types.PresenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				p.logger.Warn().Err(err).Msg("Dropping malformed presence message")
				continue
			}
			if !send(ev) {
				return
			}

		case <-ticker.C:
			if err := p.heartbeat(ctx, conn); err != nil {
				if ctx.Err() == nil {
					p.logger.Warn().Err(err).Str("board_id", conn.boardID).Msg("Presence heartbeat failed")
				}
				return
			}
		}
	}
}

// heartbeat refreshes our score and expires members that stopped beating
func (p *Presence) heartbeat(ctx context.Context, conn *presenceConn) error {
	key := p.membersKey(conn.boardID)
	now := p.cfg.Now()
	if err := p.rdb.ZAdd(ctx, key, redis.Z{Score: p.score(now), Member: conn.userID}).Err(); err != nil {
		return err
	}

	cutoff := strconv.FormatFloat(p.score(now.Add(-p.cfg.TTL)), 'f', 0, 64)
	stale, err := p.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return err
	}
	for _, member := range stale {
		// Only the client that removes the member announces the leave
		removed, err := p.rdb.ZRem(ctx, key, member).Result()
		if err != nil {
			return err
		}
		if removed == 1 {
			if err := p.announce(ctx, conn.boardID, types.PresenceLeave, member); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Presence) announce(ctx context.Context, boardID string, t types.PresenceEventType, userID string) error {
	data, err := json.Marshal(types.PresenceEvent{Type: t, UserID: userID})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel(boardID), data).Err()
}

// Disconnect leaves the board and closes the stream
func (p *Presence) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	return p.closeLocked()
}

func (p *Presence) closeLocked() error {
	conn := p.conn
	p.conn = nil
	conn.cancel()
	<-conn.done

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	removed, err := p.rdb.ZRem(ctx, p.membersKey(conn.boardID), conn.userID).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return nil
	}
	return p.announce(ctx, conn.boardID, types.PresenceLeave, conn.userID)
}
