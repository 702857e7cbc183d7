package model

import "time"

// SeatStatus is the lifecycle state of a seat for one event.
// Transitions are AVAILABLE -> HELD -> SOLD for the purchase path,
// HELD -> AVAILABLE when a hold ends without a sale, and BLOCKED for
// seats the venue withholds from sale entirely.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatHeld      SeatStatus = "HELD"
	SeatSold      SeatStatus = "SOLD"
	SeatBlocked   SeatStatus = "BLOCKED"
)

// Valid reports whether s is one of the known seat states.
func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatHeld, SeatSold, SeatBlocked:
		return true
	}
	return false
}

// Seat is one sellable seat of one event. Seats are published by the
// floor-plan service and identified by their numeric ID, which is stable
// for the lifetime of the event. Version increments on every status
// change and backs the optimistic checks in the ledger.
type Seat struct {
	ID        uint64     // seats.id
	EventID   uint64     // seats.event_id
	ZoneID    uint64     // seats.zone_id
	Label     string     // seats.label, e.g. "K-14"
	Status    SeatStatus // seats.status
	Version   uint64     // seats.version
	CreatedAt time.Time  // seats.created_at
	UpdatedAt time.Time  // seats.updated_at
}
