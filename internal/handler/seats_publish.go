package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
	"github.com/venuehub/seat-holds/internal/model"
)

// SeatPublisher accepts floor-plan rows into the ledger.
type SeatPublisher interface {
	PublishSeats(ctx context.Context, eventID uint64, seats []*model.Seat) error
}

// SeatAdminHandler serves the service-to-service seat ingestion
// endpoint. The floor-plan system calls it when an event goes on sale
// and again when a plan is re-published; it is never exposed to buyers.
type SeatAdminHandler struct {
	log    *slog.Logger
	ledger SeatPublisher
}

func NewSeatAdminHandler(log *slog.Logger, ledger SeatPublisher) *SeatAdminHandler {
	if ledger == nil {
		panic("nil SeatPublisher passed to NewSeatAdminHandler")
	}
	return &SeatAdminHandler{log: log, ledger: ledger}
}

// publishSeatRow is one seat in the ingestion payload. Blocked marks
// seats the venue withholds from sale (camera platforms, broken seats).
type publishSeatRow struct {
	ID      uint64 `json:"id"`
	ZoneID  uint64 `json:"zone_id"`
	Label   string `json:"label"`
	Blocked bool   `json:"blocked"`
}

// PublishSeats handles POST /v1/events/:id/seats. Re-publishing is safe:
// seats that already exist keep their status, so a plan update during an
// on-sale cannot free sold seats.
func (h *SeatAdminHandler) PublishSeats(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	var body struct {
		Seats []publishSeatRow `json:"seats"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Seats) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats is required"})
	}

	seats := make([]*model.Seat, 0, len(body.Seats))
	seen := make(map[uint64]struct{}, len(body.Seats))
	for _, row := range body.Seats {
		if row.ID == 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat id must be positive"})
		}
		if _, dup := seen[row.ID]; dup {
			continue
		}
		seen[row.ID] = struct{}{}
		status := model.SeatAvailable
		if row.Blocked {
			status = model.SeatBlocked
		}
		seats = append(seats, &model.Seat{
			ID:      row.ID,
			EventID: eventID,
			ZoneID:  row.ZoneID,
			Label:   row.Label,
			Status:  status,
		})
	}

	if err := h.ledger.PublishSeats(c.Request().Context(), eventID, seats); err != nil {
		h.log.Error("publishing seats failed", slog.Uint64("event_id", eventID), sl.Err(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	h.log.Info("seats published",
		slog.Uint64("event_id", eventID), slog.Int("count", len(seats)))
	return c.JSON(http.StatusCreated, echo.Map{
		"event_id":  eventID,
		"published": len(seats),
	})
}
