// Package metrics defines the Prometheus collectors of the hold
// subsystem and the standalone server that exposes them.
package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
)

// Metrics bundles every collector used across the service. All
// components share one instance registered on one registry.
type Metrics struct {
	HoldsCreated   prometheus.Counter
	HoldsConfirmed prometheus.Counter
	HoldsReleased  *prometheus.CounterVec
	SeatConflicts  prometheus.Counter
	HoldsExpired   prometheus.Counter
	SweepErrors    prometheus.Counter

	Subscribers     prometheus.Gauge
	DeltasPublished prometheus.Counter
	DeltasDropped   prometheus.Counter

	OutboxPublished prometheus.Counter
	OutboxFailed    prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	RateLimited  prometheus.Counter
}

// New registers all collectors on reg and returns them.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HoldsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "seat_holds_created_total",
			Help: "Total number of holds successfully created.",
		}),
		HoldsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "seat_holds_confirmed_total",
			Help: "Total number of holds confirmed into sales.",
		}),
		HoldsReleased: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "seat_holds_released_total",
			Help: "Total number of holds released, by reason.",
		}, []string{"reason"}),
		SeatConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "seat_hold_conflicts_total",
			Help: "Total number of hold requests rejected because a seat was taken.",
		}),
		HoldsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "seat_holds_expired_total",
			Help: "Total number of holds released by the expiration sweeper.",
		}),
		SweepErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "seat_hold_sweep_errors_total",
			Help: "Total number of sweeper passes that hit an error.",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "seat_stream_subscribers",
			Help: "Currently connected seat map stream subscribers.",
		}),
		DeltasPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "seat_stream_deltas_total",
			Help: "Total number of seat deltas fanned out to subscribers.",
		}),
		DeltasDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "seat_stream_dropped_total",
			Help: "Total number of deltas dropped on slow subscriber queues.",
		}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "seat_outbox_published_total",
			Help: "Total number of outbox events published to the audit stream.",
		}),
		OutboxFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "seat_outbox_failed_total",
			Help: "Total number of outbox events that failed to publish.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of handled HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.3, 0.6, 1, 3, 6},
		}, []string{"method", "path"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		}),
	}
}

// Server exposes the registry on its own port, away from the API.
type Server struct {
	log  *slog.Logger
	port int
	reg  *prometheus.Registry
	srv  *http.Server
}

// NewServer builds the metrics endpoint server for reg.
func NewServer(log *slog.Logger, port int, reg *prometheus.Registry) *Server {
	return &Server{log: log, port: port, reg: reg}
}

// MustRun starts the server and panics when it cannot listen.
func (s *Server) MustRun() {
	err := s.Run()
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Info("metrics server closed")
	} else if err != nil {
		s.log.Error("failed to start metrics server", sl.Err(err))
		panic(err)
	}
}

// Run serves /metrics until the listener closes.
func (s *Server) Run() error {
	const op = "metrics.Run"
	log := s.log.With(slog.String("op", op), slog.Int("port", s.port))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	s.srv = &http.Server{Addr: fmt.Sprintf(":%d", s.port), Handler: mux}

	log.Info("exposing Prometheus metrics")
	return s.srv.ListenAndServe()
}

// Stop shuts the metrics listener down.
func (s *Server) Stop() {
	if s.srv != nil {
		_ = s.srv.Close()
	}
}
