// Package app assembles the service: storage backend, hold manager,
// sweeper, realtime broadcaster, brokers and the HTTP surface. New does
// all the wiring; MustRun and Stop drive the assembled pieces as one
// unit.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/venuehub/seat-holds/internal/app/httpapp"
	"github.com/venuehub/seat-holds/internal/clock"
	"github.com/venuehub/seat-holds/internal/config"
	"github.com/venuehub/seat-holds/internal/handler"
	"github.com/venuehub/seat-holds/internal/hold"
	"github.com/venuehub/seat-holds/internal/kafka"
	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
	"github.com/venuehub/seat-holds/internal/metrics"
	"github.com/venuehub/seat-holds/internal/middleware"
	"github.com/venuehub/seat-holds/internal/queue"
	"github.com/venuehub/seat-holds/internal/realtime"
	"github.com/venuehub/seat-holds/internal/relay"
	"github.com/venuehub/seat-holds/internal/router"
	"github.com/venuehub/seat-holds/internal/storage/memory"
	"github.com/venuehub/seat-holds/internal/storage/mysql"
)

const shutdownTimeout = 10 * time.Second

// seatStore is everything the service needs from a storage backend.
// Both the memory and the mysql store satisfy it.
type seatStore interface {
	hold.SeatLedger
	hold.HoldStore
	realtime.SnapshotSource
	handler.SeatDirectory
	handler.SeatPublisher
}

type App struct {
	log *slog.Logger

	httpServer  *httpapp.App
	metricsSrv  *metrics.Server
	broadcaster *realtime.Broadcaster
	sweeper     *hold.Sweeper
	relay       *relay.Relay
	producer    *kafka.Producer
	rdb         *redis.Client
	closeStore  func() error
	amqpURL     string

	cancel context.CancelFunc
}

// New wires the whole service from configuration. It panics when a hard
// dependency (the mysql store) cannot be reached; soft dependencies
// like Redis degrade to single-instance behavior instead.
func New(
	log *slog.Logger,
	cfg config.Config,
	holdCfg config.HoldConfig,
	brokerCfg config.BrokerConfig,
) *App {
	clk := clock.NewSystem()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rdb := config.NewRedisClient()

	var (
		store      seatStore
		outbox     relay.OutboxSource
		closeStore func() error
	)
	switch cfg.HoldStore {
	case config.StoreMySQL:
		db, err := mysql.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Error("opening mysql hold store failed", sl.Err(err))
			panic(err)
		}
		st := mysql.New(db, clk)
		store = st
		outbox = st
		closeStore = db.Close
	default:
		store = memory.NewStore(clk)
	}
	log.Info("hold store ready", slog.String("backend", cfg.HoldStore))

	// Cross-instance delta ordering needs Redis; without it sequences
	// are assigned in process and only this instance's subscribers see
	// this instance's deltas.
	var bus realtime.Bus
	if rdb != nil {
		bus = realtime.NewRedisBus(log, rdb, clk)
	} else {
		log.Warn("redis unavailable, realtime bus disabled")
	}
	broadcaster := realtime.New(log, store, bus, clk, m, holdCfg.StreamQueueSize)

	pub := queue.NewPublisher(log, brokerCfg.AMQPURL, clk)

	mgr := hold.New(log, store, store, broadcaster, pub, clk, m, hold.Params{
		DefaultTTL:        holdCfg.DefaultTTL,
		MinTTL:            holdCfg.MinTTL,
		MaxTTL:            holdCfg.MaxTTL,
		MaxLifetime:       holdCfg.MaxLifetime,
		MaxActivePerOwner: holdCfg.MaxActivePerOwner,
		MaxSeatsPerHold:   holdCfg.MaxSeatsPerHold,
	})
	sweeper := hold.NewSweeper(log, mgr, store, clk, m, holdCfg.SweepInterval, holdCfg.SweepBatch)

	// The audit stream drains the transactional outbox, so it exists
	// only where the outbox does.
	var (
		rel      *relay.Relay
		producer *kafka.Producer
	)
	if outbox != nil && len(brokerCfg.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(brokerCfg.KafkaBrokers, brokerCfg.KafkaTopic)
		rel = relay.New(log, outbox, producer, clk, m,
			brokerCfg.RelayInterval, brokerCfg.RelayBatch, brokerCfg.RelayMaxAttempts)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Metrics(m, router.StreamRoute))
	e.Use(middleware.NewTokenBucket(log, config.LoadRateLimitConfig(), rdb, m))

	seatMapH := handler.NewSeatMapHandler(log, store, broadcaster)
	streamH := handler.NewStreamHandler(log, broadcaster)
	holdH := handler.NewHoldHandler(log, mgr)
	adminH := handler.NewSeatAdminHandler(log, store)

	router.RegisterRoutes(e, seatMapH, streamH,
		middleware.NewLayoutCache(config.LoadCacheConfig(), rdb))
	router.RegisterHolds(e, holdH, cfg.JWTSecret)
	router.RegisterService(e, adminH, cfg.JWTSecret)

	return &App{
		log:         log,
		httpServer:  httpapp.New(log, e, cfg.Port),
		metricsSrv:  metrics.NewServer(log, cfg.MetricsPort, reg),
		broadcaster: broadcaster,
		sweeper:     sweeper,
		relay:       rel,
		producer:    producer,
		rdb:         rdb,
		closeStore:  closeStore,
		amqpURL:     brokerCfg.AMQPURL,
	}
}

// MustRun starts every component and returns once they are running.
// The HTTP listener runs in its own goroutine and panics the process
// when it cannot bind.
func (a *App) MustRun() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.broadcaster.Start(ctx)
	a.sweeper.Start(ctx)
	if a.relay != nil {
		a.relay.Start(ctx)
	}
	go func() {
		if err := queue.StartAuditConsumer(ctx, a.amqpURL); err != nil && ctx.Err() == nil {
			a.log.Error("audit consumer ended", sl.Err(err))
		}
	}()
	go a.metricsSrv.MustRun()
	go a.httpServer.MustRun()
}

// Stop shuts the service down in dependency order: stop taking requests,
// stop the background loops, then close the connections they used.
func (a *App) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown failed", sl.Err(err))
	}

	a.sweeper.Stop()
	if a.relay != nil {
		a.relay.Stop()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Error("closing kafka producer failed", sl.Err(err))
		}
	}
	a.metricsSrv.Stop()

	var err error
	if a.rdb != nil {
		err = a.rdb.Close()
	}
	if a.closeStore != nil {
		if cerr := a.closeStore(); err == nil {
			err = cerr
		}
	}
	return err
}
