package model

import "time"

// HoldStatus is the lifecycle state of a hold. ACTIVE is the only
// non-terminal state: a hold leaves it exactly once, into CONFIRMED,
// RELEASED or EXPIRED, and never returns.
type HoldStatus string

const (
	HoldActive    HoldStatus = "ACTIVE"
	HoldConfirmed HoldStatus = "CONFIRMED"
	HoldReleased  HoldStatus = "RELEASED"
	HoldExpired   HoldStatus = "EXPIRED"
)

// Terminal reports whether the status is final.
func (s HoldStatus) Terminal() bool {
	return s != HoldActive
}

// ReleaseReason records why an active hold ended without a sale.
type ReleaseReason string

const (
	ReasonUserCancelled ReleaseReason = "user_cancelled"
	ReasonExpired       ReleaseReason = "expired"
	ReasonSuperseded    ReleaseReason = "superseded"
)

// Hold is a temporary exclusive claim on a set of seats of one event
// while the owner completes checkout. The ID is an unguessable UUID and
// doubles as the capability for release. A hold covers all of its seats
// or none; partial holds never exist.
type Hold struct {
	ID        string     // holds.id, UUID
	EventID   uint64     // holds.event_id
	OwnerID   uint64     // holds.owner_id
	SeatIDs   []uint64   // hold_seats rows
	Status    HoldStatus // holds.status
	ExpiresAt time.Time  // holds.expires_at
	CreatedAt time.Time  // holds.created_at
	UpdatedAt time.Time  // holds.updated_at
}

// Expired reports whether the hold's deadline has passed at now.
// The deadline itself still counts as live.
func (h *Hold) Expired(now time.Time) bool {
	return now.After(h.ExpiresAt)
}
