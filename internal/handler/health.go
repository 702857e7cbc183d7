package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health answers load-balancer liveness probes. It reports only that the
// process is serving; store reachability shows up in the hold endpoints'
// 503s and in the metrics, not here.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
