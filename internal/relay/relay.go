// Package relay drains the seat-transition outbox into the Kafka audit
// stream. Rows are claimed with a lease, published, then marked done,
// which gives at-least-once delivery: a relay crash between publish and
// mark lets another pass replay the event after the lease expires.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/venuehub/seat-holds/internal/clock"
	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
	"github.com/venuehub/seat-holds/internal/metrics"
	"github.com/venuehub/seat-holds/internal/storage"
)

// OutboxSource is the slice of the store the relay drains.
type OutboxSource interface {
	ClaimOutbox(ctx context.Context, reservedTo time.Time, limit int) ([]storage.OutboxEvent, error)
	MarkOutboxDone(ctx context.Context, ids []string) error
	MarkOutboxFailed(ctx context.Context, ids []string, maxAttempts int) error
}

// EventPublisher pushes one event to the audit stream.
type EventPublisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

const claimLease = time.Minute

// Relay periodically claims a batch of pending outbox events and
// publishes them in created order. Individual failures go back to the
// pool for a later pass until their attempts run out; they never stall
// the rest of the batch.
type Relay struct {
	log         *slog.Logger
	source      OutboxSource
	pub         EventPublisher
	clk         clock.Clock
	metrics     *metrics.Metrics
	interval    time.Duration
	batch       int
	maxAttempts int
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// New builds a relay between the outbox and the audit stream.
func New(
	log *slog.Logger,
	source OutboxSource,
	pub EventPublisher,
	clk clock.Clock,
	m *metrics.Metrics,
	interval time.Duration,
	batch int,
	maxAttempts int,
) *Relay {
	return &Relay{
		log:         log,
		source:      source,
		pub:         pub,
		clk:         clk,
		metrics:     m,
		interval:    interval,
		batch:       batch,
		maxAttempts: maxAttempts,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the drain loop. It returns immediately; the loop runs
// until ctx is done or Stop is called.
func (r *Relay) Start(ctx context.Context) {
	const op = "relay.Start"
	log := r.log.With(slog.String("op", op))

	log.Info("starting outbox relay",
		slog.Duration("interval", r.interval), slog.Int("batch", r.batch))

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		defer close(r.doneCh)
		defer log.Info("outbox relay stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.drain(ctx)
			}
		}
	}()
}

// drain publishes one claimed batch. Events keep their created order on
// the stream; a publish failure parks only that event.
func (r *Relay) drain(ctx context.Context) {
	const op = "relay.drain"
	log := r.log.With(slog.String("op", op))

	events, err := r.source.ClaimOutbox(ctx, r.clk.Now().Add(claimLease), r.batch)
	if err != nil {
		log.Error("claiming outbox events failed", sl.Err(err))
		return
	}
	if len(events) == 0 {
		return
	}

	var done, failed []string
	for _, ev := range events {
		if err := r.pub.Publish(ctx, []byte(ev.Type), ev.Payload); err != nil {
			log.Error("publishing outbox event failed", sl.Err(err),
				slog.String("outbox_id", ev.ID), slog.Int("attempts", ev.Attempts))
			failed = append(failed, ev.ID)
			continue
		}
		done = append(done, ev.ID)
	}

	if len(done) > 0 {
		if err := r.source.MarkOutboxDone(ctx, done); err != nil {
			// the lease expires and the events replay; consumers
			// must tolerate duplicates anyway
			log.Error("marking outbox events done failed", sl.Err(err))
		} else {
			r.metrics.OutboxPublished.Add(float64(len(done)))
		}
	}
	if len(failed) > 0 {
		if err := r.source.MarkOutboxFailed(ctx, failed, r.maxAttempts); err != nil {
			log.Error("marking outbox events failed failed", sl.Err(err))
		}
		r.metrics.OutboxFailed.Add(float64(len(failed)))
	}
	log.Debug("outbox batch drained",
		slog.Int("published", len(done)), slog.Int("failed", len(failed)))
}

// Stop ends the loop and waits for a running drain to finish.
func (r *Relay) Stop() {
	close(r.stopCh)
	<-r.doneCh
}
