package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/venuehub/seat-holds/internal/app"
	"github.com/venuehub/seat-holds/internal/config"
	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	// .env is for local runs; deployed environments inject real env vars.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := setupLogger(cfg.Env)
	logger.Info("starting seat hold service",
		slog.String("env", cfg.Env), slog.String("store", cfg.HoldStore))

	application := app.New(logger, cfg, config.LoadHoldConfig(), config.LoadBrokerConfig())
	application.MustRun()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGTERM, syscall.SIGINT)

	sign := <-stopChan
	logger.Info("stopping service", slog.String("signal", sign.String()))
	if err := application.Stop(); err != nil {
		logger.Error("shutdown finished with error", sl.Err(err))
		return
	}
	logger.Info("service stopped")
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
