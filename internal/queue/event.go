// Package queue defines the hold lifecycle events published to the
// message broker, the fire-and-forget publisher behind the hold
// manager, and the bundled audit consumer that appends every event to
// logs/holds.log. Checkout and ticket issuance services consume the
// same queue in production.
package queue

import (
	"time"

	"github.com/venuehub/seat-holds/internal/model"
)

// Event types carried on the seat.holds queue.
const (
	TypeHoldCreated   = "hold.created"
	TypeHoldConfirmed = "hold.confirmed"
	TypeHoldReleased  = "hold.released"
	TypeHoldExtended  = "hold.extended"
)

// HoldEvent describes one hold lifecycle transition. It carries enough
// for downstream consumers to log, notify or trigger ticket issuance
// without querying the primary store.
type HoldEvent struct {
	Type       string   `json:"type"`
	HoldID     string   `json:"hold_id"`
	EventID    uint64   `json:"event_id"`
	OwnerID    uint64   `json:"owner_id"`
	SeatIDs    []uint64 `json:"seat_ids"`
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	ExpiresAt  string   `json:"expires_at"`
	OccurredAt string   `json:"occurred_at"`
}

// NewHoldEvent builds the broker payload for one transition of h.
// reason is only meaningful for released holds and is empty otherwise.
func NewHoldEvent(typ string, h *model.Hold, reason model.ReleaseReason, at time.Time) HoldEvent {
	return HoldEvent{
		Type:       typ,
		HoldID:     h.ID,
		EventID:    h.EventID,
		OwnerID:    h.OwnerID,
		SeatIDs:    append([]uint64(nil), h.SeatIDs...),
		Status:     string(h.Status),
		Reason:     string(reason),
		ExpiresAt:  h.ExpiresAt.UTC().Format(time.RFC3339),
		OccurredAt: at.UTC().Format(time.RFC3339),
	}
}
