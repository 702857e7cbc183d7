package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/venuehub/seat-holds/internal/model"
	"github.com/venuehub/seat-holds/internal/storage"
)

// transitionPayload is the JSON body of a seat.transition outbox event.
type transitionPayload struct {
	EventID uint64           `json:"event_id"`
	SeatIDs []uint64         `json:"seat_ids"`
	From    model.SeatStatus `json:"from"`
	To      model.SeatStatus `json:"to"`
	At      time.Time        `json:"at"`
}

// appendTransitionTx records a seat status change in the outbox within
// the surrounding transaction, so the audit record commits atomically
// with the change itself.
func (s *Store) appendTransitionTx(ctx context.Context, tx *sql.Tx, eventID uint64, seatIDs []uint64, from, to model.SeatStatus) error {
	payload, err := json.Marshal(transitionPayload{
		EventID: eventID,
		SeatIDs: seatIDs,
		From:    from,
		To:      to,
		At:      s.clk.Now(),
	})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (id, event_type, payload, status, attempts, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		uuid.NewString(), "seat.transition", payload, storage.OutboxNew, s.clk.Now())
	return err
}

// ClaimOutbox leases up to limit publishable outbox rows to the caller
// until reservedTo. Rows locked by a concurrent relay instance are
// skipped, so several relays can drain the same table without handing
// out the same event twice while a lease is live.
func (s *Store) ClaimOutbox(ctx context.Context, reservedTo time.Time, limit int) ([]storage.OutboxEvent, error) {
	const op = "storage.mysql.ClaimOutbox"

	now := s.clk.Now()
	var out []storage.OutboxEvent
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, event_type, payload, status, attempts, created_at
			 FROM outbox_events
			 WHERE status = ? OR (status = ? AND reserved_to < ?)
			 ORDER BY created_at LIMIT ?
			 FOR UPDATE SKIP LOCKED`,
			storage.OutboxNew, storage.OutboxClaimed, now, limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			var ev storage.OutboxEvent
			if scanErr := rows.Scan(&ev.ID, &ev.Type, &ev.Payload, &ev.Status,
				&ev.Attempts, &ev.CreatedAt); scanErr != nil {
				rows.Close()
				return scanErr
			}
			out = append(out, ev)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		query := `UPDATE outbox_events SET status = ?, reserved_to = ?, attempts = attempts + 1
		          WHERE id IN (` + placeholders(len(out)) + `)`
		args := make([]interface{}, 0, len(out)+2)
		args = append(args, storage.OutboxClaimed, reservedTo)
		for _, ev := range out {
			args = append(args, ev.ID)
		}
		_, err = tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// MarkOutboxDone marks published events so they are never leased again.
func (s *Store) MarkOutboxDone(ctx context.Context, ids []string) error {
	const op = "storage.mysql.MarkOutboxDone"

	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE outbox_events SET status = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, storage.OutboxDone)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkOutboxFailed gives up on events that exhausted their attempts.
// Events below maxAttempts go back to NEW and retry on a later pass.
func (s *Store) MarkOutboxFailed(ctx context.Context, ids []string, maxAttempts int) error {
	const op = "storage.mysql.MarkOutboxFailed"

	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE outbox_events
	          SET status = CASE WHEN attempts >= ? THEN ? ELSE ? END, reserved_to = NULL
	          WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, 0, len(ids)+3)
	args = append(args, maxAttempts, storage.OutboxFailed, storage.OutboxNew)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
