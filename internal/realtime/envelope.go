// Package realtime streams seat-status changes to every connected
// viewer of an event's seat map. Each event has its own subscriber
// group and a monotonically increasing sequence number stamped on every
// delta; subscribers detect missed deltas by sequence gaps and recover
// by requesting a fresh snapshot. Delivery is best effort per
// connection and never blocks the seat-state transitions that feed it.
package realtime

import (
	"time"

	"github.com/venuehub/seat-holds/internal/model"
)

// DeltaKind names the transition a delta carries. The values are the
// wire casing seen by browsers.
type DeltaKind string

const (
	DeltaHeld      DeltaKind = "held"
	DeltaSold      DeltaKind = "sold"
	DeltaAvailable DeltaKind = "available"
)

// Delta is one seat-status change fanned out to subscribers. Sequence
// increases by one per delta within an event; SeatIDs all assume the
// status named by Type, so re-applying a delta is harmless.
type Delta struct {
	EventID   uint64    `json:"event_id"`
	Sequence  uint64    `json:"sequence"`
	Type      DeltaKind `json:"type"`
	SeatIDs   []uint64  `json:"seat_ids"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the full seat-status view of one event, sent when a
// subscriber connects and again whenever it needs to resync. Sequence
// is the last delta already reflected in Seats.
type Snapshot struct {
	EventID  uint64            `json:"event_id"`
	Sequence uint64            `json:"sequence"`
	Seats    map[uint64]string `json:"seats"`
}

// WireStatus converts a ledger status to the lowercase wire form.
func WireStatus(s model.SeatStatus) string {
	switch s {
	case model.SeatAvailable:
		return "available"
	case model.SeatHeld:
		return "held"
	case model.SeatSold:
		return "sold"
	case model.SeatBlocked:
		return "blocked"
	}
	return "unknown"
}

// Apply folds a delta into the snapshot, moving every seat the delta
// names to the delta's status. Seats unknown to the snapshot are added;
// the result after applying a delta matches a snapshot taken right
// after the underlying transition.
func (s *Snapshot) Apply(d Delta) {
	if d.EventID != s.EventID {
		return
	}
	for _, id := range d.SeatIDs {
		s.Seats[id] = string(d.Type)
	}
	if d.Sequence > s.Sequence {
		s.Sequence = d.Sequence
	}
}
