package router

import (
	"github.com/labstack/echo/v4"

	"github.com/venuehub/seat-holds/internal/handler"
	"github.com/venuehub/seat-holds/internal/middleware"
)

// RegisterHolds registers the hold lifecycle endpoints under /v1. All
// routes require a valid JWT with the CUSTOMER role; the owner of every
// hold is taken from the token.
func RegisterHolds(e *echo.Echo, h *handler.HoldHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("CUSTOMER"),
	)

	g.POST("/events/:id/holds", h.RequestHold)
	g.POST("/holds/:id/confirm", h.ConfirmHold)
	g.POST("/holds/:id/extend", h.ExtendHold)
	g.DELETE("/holds/:id", h.ReleaseHold)
}
