package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/venuehub/seat-holds/internal/clock"
	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
)

const (
	seqKeyPrefix    = "seatmap:seq:"
	deltaChanPrefix = "seatmap:delta:"
)

// RedisBus assigns per-event sequences in Redis and relays deltas
// between instances over pub/sub. INCR and PUBLISH run inside one Lua
// script, so the publish order on the channel always matches the
// sequence order; every instance, the publisher included, receives the
// delta through its subscription loop.
type RedisBus struct {
	log    *slog.Logger
	rdb    *redis.Client
	clk    clock.Clock
	script *redis.Script
}

// NewRedisBus builds a bus over an already connected client.
func NewRedisBus(log *slog.Logger, rdb *redis.Client, clk clock.Clock) *RedisBus {
	return &RedisBus{
		log: log,
		rdb: rdb,
		clk: clk,
		script: redis.NewScript(`
			local seq = redis.call('INCR', KEYS[1])
			local env = cjson.decode(ARGV[1])
			env["sequence"] = seq
			redis.call('PUBLISH', KEYS[2], cjson.encode(env))
			return seq
		`),
	}
}

func seqKey(eventID uint64) string {
	return seqKeyPrefix + strconv.FormatUint(eventID, 10)
}

func deltaChan(eventID uint64) string {
	return deltaChanPrefix + strconv.FormatUint(eventID, 10)
}

// Publish stamps the next sequence of the event onto the delta and
// pushes it to every instance's relay loop.
func (b *RedisBus) Publish(ctx context.Context, eventID uint64, kind DeltaKind, seatIDs []uint64) (uint64, error) {
	const op = "realtime.RedisBus.Publish"

	env, err := json.Marshal(Delta{
		EventID:   eventID,
		Type:      kind,
		SeatIDs:   seatIDs,
		Timestamp: b.clk.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	v, err := b.script.Run(ctx, b.rdb,
		[]string{seqKey(eventID), deltaChan(eventID)}, string(env)).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	seq, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected script result %T", op, v)
	}
	return uint64(seq), nil
}

// Current returns the event's latest assigned sequence, zero when no
// delta was ever published.
func (b *RedisBus) Current(ctx context.Context, eventID uint64) (uint64, error) {
	const op = "realtime.RedisBus.Current"

	v, err := b.rdb.Get(ctx, seqKey(eventID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Run subscribes to every event's delta channel and hands each decoded
// delta to deliver, in channel order, until ctx is done. The go-redis
// pub/sub reconnects on its own after broker hiccups; deltas missed
// while disconnected surface as sequence gaps downstream.
func (b *RedisBus) Run(ctx context.Context, deliver func(Delta)) error {
	const op = "realtime.RedisBus.Run"
	log := b.log.With(slog.String("op", op))

	sub := b.rdb.PSubscribe(ctx, deltaChanPrefix+"*")
	defer func() { _ = sub.Close() }()

	log.Info("relaying seat deltas from bus")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			var d Delta
			if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
				log.Warn("dropping undecodable delta", sl.Err(err),
					slog.String("channel", msg.Channel))
				continue
			}
			deliver(d)
		}
	}
}
