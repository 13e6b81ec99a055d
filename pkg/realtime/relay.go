package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cuemby/boardsync/pkg/log"
	"github.com/cuemby/boardsync/pkg/types"
)

// Relay republishes committed change events on Redis so consumers outside
// the gRPC API can follow boards. The latest revision of every board is
// kept under <prefix>:board:<id>:revision.
type Relay struct {
	rdb    *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRelay creates a relay on rdb. An empty prefix uses DefaultPrefix.
func NewRelay(rdb *redis.Client, prefix string) *Relay {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Relay{
		rdb:    rdb,
		prefix: prefix,
		logger: log.WithComponent("relay"),
	}
}

func (r *Relay) changesChannel(boardID string) string {
	return r.prefix + ":changes:" + boardID
}

func (r *Relay) revisionKey(boardID string) string {
	return r.prefix + ":board:" + boardID + ":revision"
}

// Run publishes every event from changes until ctx is done or changes closes.
// Publish failures are logged and skipped; Redis consumers recover from the
// gap with a fetch.
func (r *Relay) Run(ctx context.Context, changes <-chan *types.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-changes:
			if !ok {
				return nil
			}
			if err := r.Publish(ctx, ev); err != nil {
				r.logger.Warn().
					Err(err).
					Str("board_id", ev.BoardID).
					Uint64("revision", ev.Revision).
					Msg("Failed to relay change")
			}
		}
	}
}

// Publish records ev's revision and publishes it in one transaction
func (r *Relay) Publish(ctx context.Context, ev *types.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.revisionKey(ev.BoardID), ev.Revision, 0)
	pipe.Publish(ctx, r.changesChannel(ev.BoardID), data)
	_, err = pipe.Exec(ctx)
	return err
}

// Revision returns the latest relayed revision of a board, zero if none
func (r *Relay) Revision(ctx context.Context, boardID string) (uint64, error) {
	rev, err := r.rdb.Get(ctx, r.revisionKey(boardID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return rev, err
}

// Watch streams relayed change events of a board. Delivery is at most once;
// the channel closes when ctx is done.
func (r *Relay) Watch(ctx context.Context, boardID string) (<-chan *types.ChangeEvent, error) {
	sub := r.rdb.Subscribe(ctx, r.changesChannel(boardID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan *types.ChangeEvent, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev types.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Warn().Err(err).Msg("Dropping malformed change message")
					continue
				}
				select {
				case out <- &ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
