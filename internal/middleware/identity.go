package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Context keys under which JWTAuth stores the parsed token claims.
const (
	ctxKeyCallerID = "caller_id"
	ctxKeyRole     = "caller_role"
)

// CallerID returns the authenticated caller's numeric ID. ok is false on
// routes that run without JWTAuth (the public seat map and the stream
// accept anonymous readers).
func CallerID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxKeyCallerID).(uint64)
	return id, ok && id != 0
}

// Role returns the caller's role claim, or the empty string when the
// request is unauthenticated or the token carried no role.
func Role(c echo.Context) string {
	role, _ := c.Get(ctxKeyRole).(string)
	return role
}

// callerKey renders the caller identity for rate-limit bucket keys.
// Anonymous readers share one bucket per IP, which the ip strategies
// already account for.
func callerKey(c echo.Context) string {
	if id, ok := CallerID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
