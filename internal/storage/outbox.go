package storage

import "time"

// Outbox event statuses. NEW rows are eligible for claiming, CLAIMED
// rows are leased to a relay instance until ReservedTo, DONE rows were
// published and FAILED rows exhausted their attempts.
const (
	OutboxNew     = "NEW"
	OutboxClaimed = "CLAIMED"
	OutboxDone    = "DONE"
	OutboxFailed  = "FAILED"
)

// OutboxEvent is one seat-transition record awaiting publication to the
// audit stream. Rows are appended by the mysql store alongside state
// changes and drained by the relay, which gives at-least-once delivery
// without a second write path.
type OutboxEvent struct {
	ID         string    // outbox_events.id, UUID
	Type       string    // outbox_events.event_type
	Payload    []byte    // outbox_events.payload, JSON
	Status     string    // outbox_events.status
	Attempts   int       // outbox_events.attempts
	CreatedAt  time.Time // outbox_events.created_at
	ReservedTo time.Time // outbox_events.reserved_to, zero when unclaimed
}
