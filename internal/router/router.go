// Package router wires handlers onto their routes and applies the
// per-group middleware. Public read endpoints carry no auth; the hold
// lifecycle requires a CUSTOMER token and seat ingestion a SERVICE one.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/venuehub/seat-holds/internal/handler"
)

// StreamRoute is the registered pattern of the SSE endpoint. The metrics
// middleware skips it because stream connections live for minutes.
const StreamRoute = "/v1/events/:id/stream"

// RegisterRoutes registers the unauthenticated endpoints: the health
// probe and the public seat-map reads. The layout endpoint runs behind
// the response cache; the live snapshot and the stream never do.
func RegisterRoutes(e *echo.Echo, seats *handler.SeatMapHandler, stream *handler.StreamHandler, layoutCache echo.MiddlewareFunc) {
	e.GET("/healthz", handler.Health)

	e.GET("/v1/events/:id/seatmap", seats.Layout, layoutCache)
	e.GET("/v1/events/:id/seats", seats.LiveSeats)
	e.GET(StreamRoute, stream.Stream)
}
