package router

import (
	"github.com/labstack/echo/v4"

	"github.com/venuehub/seat-holds/internal/handler"
	"github.com/venuehub/seat-holds/internal/middleware"
)

// RegisterService registers the service-to-service endpoints under /v1.
// Only tokens carrying the SERVICE role may call them; this is how the
// floor-plan system pushes seat inventory in.
func RegisterService(e *echo.Echo, admin *handler.SeatAdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("SERVICE"),
	)

	g.POST("/events/:id/seats", admin.PublishSeats)
}
