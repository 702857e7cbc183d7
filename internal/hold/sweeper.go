package hold

import (
	"context"
	"log/slog"
	"time"

	"github.com/venuehub/seat-holds/internal/clock"
	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
	"github.com/venuehub/seat-holds/internal/metrics"
	"github.com/venuehub/seat-holds/internal/model"
)

// Sweeper releases holds whose deadline passed without a confirm. It is
// the safety net behind inline expiry checks: holds of abandoned
// sessions are returned to the pool within one interval of expiring,
// whether or not their owner ever comes back.
type Sweeper struct {
	log      *slog.Logger
	mgr      *Manager
	store    HoldStore
	clk      clock.Clock
	metrics  *metrics.Metrics
	interval time.Duration
	batch    int
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper builds a sweeper over the same store the manager uses.
func NewSweeper(
	log *slog.Logger,
	mgr *Manager,
	store HoldStore,
	clk clock.Clock,
	m *metrics.Metrics,
	interval time.Duration,
	batch int,
) *Sweeper {
	return &Sweeper{
		log:      log,
		mgr:      mgr,
		store:    store,
		clk:      clk,
		metrics:  m,
		interval: interval,
		batch:    batch,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately; the loop runs
// until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	const op = "hold.Sweeper.Start"
	log := s.log.With(slog.String("op", op))

	log.Info("starting expiration sweeper",
		slog.Duration("interval", s.interval), slog.Int("batch", s.batch))

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		defer close(s.doneCh)
		defer log.Info("expiration sweeper stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// sweep releases one batch of expired holds. Every hold is handled on
// its own; a failure is logged and the rest of the batch continues, so
// one bad record cannot stall expiration for everyone.
func (s *Sweeper) sweep(ctx context.Context) {
	const op = "hold.Sweeper.sweep"
	log := s.log.With(slog.String("op", op))

	expired, err := s.store.ListExpired(ctx, s.clk.Now(), s.batch)
	if err != nil {
		s.metrics.SweepErrors.Inc()
		log.Error("listing expired holds failed", sl.Err(err))
		return
	}
	released := 0
	for _, h := range expired {
		res, err := s.mgr.ReleaseHold(ctx, h.ID, model.ReasonExpired)
		if err != nil {
			s.metrics.SweepErrors.Inc()
			log.Error("expiring hold failed", sl.Err(err), slog.String("hold_id", h.ID))
			continue
		}
		if res.Released {
			s.metrics.HoldsExpired.Inc()
			released++
		}
	}
	if released > 0 {
		log.Info("expired holds released", slog.Int("count", released))
	}
}

// Stop ends the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}
