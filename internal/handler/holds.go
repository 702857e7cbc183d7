// Package handler exposes the hold service over HTTP. Handlers parse
// and validate the wire shapes, delegate to the hold manager or the
// broadcaster, and translate domain errors to status codes; they hold no
// business rules of their own.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/venuehub/seat-holds/internal/hold"
	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
	"github.com/venuehub/seat-holds/internal/middleware"
	"github.com/venuehub/seat-holds/internal/model"
)

// HoldService is the slice of the hold manager the HTTP layer consumes.
type HoldService interface {
	RequestHold(ctx context.Context, in hold.RequestHoldInput) (*hold.HoldResult, error)
	ConfirmHold(ctx context.Context, holdID string, ownerID uint64) (*hold.ConfirmResult, error)
	ReleaseHold(ctx context.Context, holdID string, reason model.ReleaseReason) (*hold.ReleaseResult, error)
	ExtendHold(ctx context.Context, holdID string, ownerID uint64, additional time.Duration) (*hold.ExtendResult, error)
}

// HoldHandler serves the hold lifecycle endpoints. All routes require an
// authenticated caller; the owner ID always comes from the token, never
// from the request body.
type HoldHandler struct {
	log *slog.Logger
	svc HoldService
}

func NewHoldHandler(log *slog.Logger, svc HoldService) *HoldHandler {
	if svc == nil {
		panic("nil HoldService passed to NewHoldHandler")
	}
	return &HoldHandler{log: log, svc: svc}
}

// RequestHold handles POST /v1/events/:id/holds. The body names the
// seats to hold and optionally a TTL and a previous hold to supersede.
// All requested seats are held or none are; on contention the response
// lists exactly which seats were taken.
func (h *HoldHandler) RequestHold(c echo.Context) error {
	ownerID, ok := middleware.CallerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	var body struct {
		SeatIDs         []uint64 `json:"seat_ids"`
		TTLSeconds      int64    `json:"ttl_seconds"`
		SupersedeHoldID string   `json:"supersede_hold_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
	}

	res, err := h.svc.RequestHold(c.Request().Context(), hold.RequestHoldInput{
		EventID:         eventID,
		OwnerID:         ownerID,
		SeatIDs:         body.SeatIDs,
		TTL:             time.Duration(body.TTLSeconds) * time.Second,
		SupersedeHoldID: body.SupersedeHoldID,
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"hold_id":    res.HoldID,
		"event_id":   res.EventID,
		"seat_ids":   res.SeatIDs,
		"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// ConfirmHold handles POST /v1/holds/:id/confirm. Confirming an already
// confirmed hold succeeds again with the same payload, so buyers can
// retry after a lost response without fear of double charges.
func (h *HoldHandler) ConfirmHold(c echo.Context) error {
	ownerID, ok := middleware.CallerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	holdID := c.Param("id")
	if holdID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hold id"})
	}

	res, err := h.svc.ConfirmHold(c.Request().Context(), holdID, ownerID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"hold_id":           res.HoldID,
		"event_id":          res.EventID,
		"seat_ids":          res.SeatIDs,
		"status":            "confirmed",
		"already_confirmed": res.AlreadyConfirmed,
	})
}

// ExtendHold handles POST /v1/holds/:id/extend. The new deadline is
// capped by the hold's maximum lifetime; a capped extension still
// succeeds and reports capped=true with the granted deadline.
func (h *HoldHandler) ExtendHold(c echo.Context) error {
	ownerID, ok := middleware.CallerID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	holdID := c.Param("id")
	if holdID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hold id"})
	}

	var body struct {
		AdditionalSeconds int64 `json:"additional_seconds"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.AdditionalSeconds <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "additional_seconds must be positive"})
	}

	res, err := h.svc.ExtendHold(c.Request().Context(), holdID, ownerID,
		time.Duration(body.AdditionalSeconds)*time.Second)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"hold_id":    res.HoldID,
		"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
		"capped":     res.Capped,
	})
}

// ReleaseHold handles DELETE /v1/holds/:id. The hold ID acts as an
// unguessable capability, so any authenticated caller presenting it may
// release; releasing a hold that already ended reports released=false.
func (h *HoldHandler) ReleaseHold(c echo.Context) error {
	if _, ok := middleware.CallerID(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	holdID := c.Param("id")
	if holdID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid hold id"})
	}

	res, err := h.svc.ReleaseHold(c.Request().Context(), holdID, model.ReasonUserCancelled)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"hold_id":     res.HoldID,
		"released":    res.Released,
		"freed_seats": res.FreedSeats,
	})
}

// writeError maps domain errors onto HTTP responses. Contended seats
// come back as 409 with the blocking seat IDs so the client can offer
// alternatives instead of a blind retry.
func (h *HoldHandler) writeError(c echo.Context, err error) error {
	var unavailable *hold.SeatUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":    "seats_unavailable",
			"seat_ids": unavailable.SeatIDs,
		})
	case errors.Is(err, hold.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	case errors.Is(err, hold.ErrHoldNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "hold not found"})
	case errors.Is(err, hold.ErrNotOwner):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not hold owner"})
	case errors.Is(err, hold.ErrHoldExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "hold expired"})
	case errors.Is(err, hold.ErrHoldInvalid):
		return c.JSON(http.StatusConflict, echo.Map{"error": "hold not active"})
	case errors.Is(err, hold.ErrHoldLifetimeExceeded):
		return c.JSON(http.StatusConflict, echo.Map{"error": "hold lifetime exceeded"})
	case errors.Is(err, hold.ErrOwnerHoldLimit):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "active hold limit reached"})
	case errors.Is(err, hold.ErrConflict), errors.Is(err, hold.ErrStoreUnavailable):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily unavailable"})
	default:
		h.log.Error("unhandled hold error", slog.String("path", c.Path()), sl.Err(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
