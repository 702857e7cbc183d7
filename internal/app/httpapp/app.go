// Package httpapp wraps the echo server with the run/stop lifecycle the
// composition root expects from every long-running component.
package httpapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
)

type App struct {
	log  *slog.Logger
	echo *echo.Echo
	port string
}

func New(log *slog.Logger, e *echo.Echo, port string) *App {
	return &App{log: log, echo: e, port: port}
}

// MustRun serves until shutdown and panics when the listener cannot
// start at all.
func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		a.log.Error("failed to start http server", sl.Err(err))
		panic(err)
	}
}

// Run serves the API until Stop closes the listener.
func (a *App) Run() error {
	const op = "httpapp.Run"
	addr := ":" + a.port

	a.log.Info("http server listening", slog.String("op", op), slog.String("addr", addr))
	if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests until ctx expires. Open SSE streams
// end here; clients reconnect to another instance and resync from the
// snapshot.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping http server")
	return a.echo.Shutdown(ctx)
}
