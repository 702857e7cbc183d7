package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
	"github.com/venuehub/seat-holds/internal/model"
	"github.com/venuehub/seat-holds/internal/realtime"
	"github.com/venuehub/seat-holds/internal/storage"
)

// SeatDirectory is the slice of the ledger the seat-map endpoints use.
type SeatDirectory interface {
	ListSeats(ctx context.Context, eventID uint64) ([]*model.Seat, error)
}

// SnapshotProvider hands out sequence-stamped availability snapshots.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, eventID uint64) (*realtime.Snapshot, error)
}

// SeatMapHandler serves the read side of the seat map: the static
// layout, the live availability snapshot, and (via StreamHandler) the
// delta stream. All of it is public; buyers browse before they log in.
type SeatMapHandler struct {
	log   *slog.Logger
	seats SeatDirectory
	snaps SnapshotProvider
}

func NewSeatMapHandler(log *slog.Logger, seats SeatDirectory, snaps SnapshotProvider) *SeatMapHandler {
	if seats == nil || snaps == nil {
		panic("nil dependency passed to NewSeatMapHandler")
	}
	return &SeatMapHandler{log: log, seats: seats, snaps: snaps}
}

// LiveSeats handles GET /v1/events/:id/seats. It returns the current
// status of every seat with the sequence number of the last change
// already reflected, so a client can line the snapshot up against the
// delta stream.
func (h *SeatMapHandler) LiveSeats(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	snap, err := h.snaps.Snapshot(c.Request().Context(), eventID)
	if err != nil {
		if errors.Is(err, storage.ErrSeatNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		h.log.Error("snapshot failed", slog.Uint64("event_id", eventID), sl.Err(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, snap)
}

// layoutSeat is one seat in the static layout reply.
type layoutSeat struct {
	ID    uint64 `json:"id"`
	Label string `json:"label"`
}

// layoutZone groups the seats of one zone, seats ordered by label.
type layoutZone struct {
	ZoneID uint64       `json:"zone_id"`
	Seats  []layoutSeat `json:"seats"`
}

// Layout handles GET /v1/events/:id/seatmap. The reply carries only the
// floor plan, no availability, which is what makes it safe to cache.
func (h *SeatMapHandler) Layout(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}

	seats, err := h.seats.ListSeats(c.Request().Context(), eventID)
	if err != nil {
		if errors.Is(err, storage.ErrSeatNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		h.log.Error("listing seats failed", slog.Uint64("event_id", eventID), sl.Err(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	byZone := make(map[uint64][]layoutSeat)
	for _, s := range seats {
		byZone[s.ZoneID] = append(byZone[s.ZoneID], layoutSeat{ID: s.ID, Label: s.Label})
	}
	zones := make([]layoutZone, 0, len(byZone))
	for zoneID, zs := range byZone {
		sort.Slice(zs, func(i, j int) bool { return zs[i].Label < zs[j].Label })
		zones = append(zones, layoutZone{ZoneID: zoneID, Seats: zs})
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ZoneID < zones[j].ZoneID })

	return c.JSON(http.StatusOK, echo.Map{
		"event_id": eventID,
		"zones":    zones,
	})
}
