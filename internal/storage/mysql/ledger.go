package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/venuehub/seat-holds/internal/model"
	"github.com/venuehub/seat-holds/internal/storage"
)

// PublishSeats upserts the seat layout of an event. New seats start
// AVAILABLE at version 1 unless the incoming row carries an explicit
// status; existing seats only refresh zone and label so live holds and
// sales are never disturbed by a layout re-publish.
func (s *Store) PublishSeats(ctx context.Context, eventID uint64, seats []*model.Seat) error {
	const op = "storage.mysql.PublishSeats"

	if len(seats) == 0 {
		return nil
	}
	now := s.clk.Now()
	query := `INSERT INTO seats (event_id, id, zone_id, label, status, version, created_at, updated_at) VALUES `
	args := make([]interface{}, 0, len(seats)*8)
	for i, seat := range seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, 1, ?, ?)"
		status := seat.Status
		if !status.Valid() {
			status = model.SeatAvailable
		}
		args = append(args, eventID, seat.ID, seat.ZoneID, seat.Label, string(status), now, now)
	}
	query += ` ON DUPLICATE KEY UPDATE zone_id = VALUES(zone_id), label = VALUES(label), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListSeats returns all seats of an event ordered by seat ID.
func (s *Store) ListSeats(ctx context.Context, eventID uint64) ([]*model.Seat, error) {
	const op = "storage.mysql.ListSeats"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, zone_id, label, status, version, created_at, updated_at
		 FROM seats WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*model.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSeatNotFound)
	}
	return out, nil
}

// GetSeats returns the requested seats keyed by ID. Unknown IDs are
// absent from the result; callers diff against their request.
func (s *Store) GetSeats(ctx context.Context, eventID uint64, seatIDs []uint64) (map[uint64]*model.Seat, error) {
	const op = "storage.mysql.GetSeats"

	if len(seatIDs) == 0 {
		return map[uint64]*model.Seat{}, nil
	}
	query := `SELECT id, event_id, zone_id, label, status, version, created_at, updated_at
	          FROM seats WHERE event_id = ? AND id IN (` + placeholders(len(seatIDs)) + `)`
	args := make([]interface{}, 0, len(seatIDs)+1)
	args = append(args, eventID)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make(map[uint64]*model.Seat, len(seatIDs))
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[seat.ID] = seat
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// SeatStatuses returns the current status of every seat of an event.
func (s *Store) SeatStatuses(ctx context.Context, eventID uint64) (map[uint64]model.SeatStatus, error) {
	const op = "storage.mysql.SeatStatuses"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status FROM seats WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make(map[uint64]model.SeatStatus)
	for rows.Next() {
		var (
			id     uint64
			status string
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out[id] = model.SeatStatus(status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSeatNotFound)
	}
	return out, nil
}

// TransitionSeats moves every listed seat from one status to another in
// a single transaction. The update is conditional on the current status;
// when fewer rows change than seats were listed the transaction rolls
// back and ErrStaleState is returned, so the batch is all-or-nothing.
func (s *Store) TransitionSeats(ctx context.Context, eventID uint64, seatIDs []uint64, from, to model.SeatStatus) error {
	const op = "storage.mysql.TransitionSeats"

	if len(seatIDs) == 0 {
		return nil
	}
	now := s.clk.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE seats SET status = ?, version = version + 1, updated_at = ?
		          WHERE event_id = ? AND status = ? AND id IN (` + placeholders(len(seatIDs)) + `)`
		args := make([]interface{}, 0, len(seatIDs)+4)
		args = append(args, string(to), now, eventID, string(from))
		for _, id := range seatIDs {
			args = append(args, id)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != int64(len(seatIDs)) {
			return storage.ErrStaleState
		}
		return s.appendTransitionTx(ctx, tx, eventID, seatIDs, from, to)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FreeSeats returns HELD seats among seatIDs to AVAILABLE and reports
// which ones actually changed. Non-HELD seats are skipped.
func (s *Store) FreeSeats(ctx context.Context, eventID uint64, seatIDs []uint64) ([]uint64, error) {
	const op = "storage.mysql.FreeSeats"

	if len(seatIDs) == 0 {
		return nil, nil
	}
	now := s.clk.Now()
	var freed []uint64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT id FROM seats
		          WHERE event_id = ? AND status = ? AND id IN (` + placeholders(len(seatIDs)) + `)
		          ORDER BY id FOR UPDATE`
		args := make([]interface{}, 0, len(seatIDs)+2)
		args = append(args, eventID, string(model.SeatHeld))
		for _, id := range seatIDs {
			args = append(args, id)
		}
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id uint64
			if scanErr := rows.Scan(&id); scanErr != nil {
				rows.Close()
				return scanErr
			}
			freed = append(freed, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(freed) == 0 {
			return nil
		}
		update := `UPDATE seats SET status = ?, version = version + 1, updated_at = ?
		           WHERE event_id = ? AND id IN (` + placeholders(len(freed)) + `)`
		uargs := make([]interface{}, 0, len(freed)+3)
		uargs = append(uargs, string(model.SeatAvailable), now, eventID)
		for _, id := range freed {
			uargs = append(uargs, id)
		}
		if _, err := tx.ExecContext(ctx, update, uargs...); err != nil {
			return err
		}
		return s.appendTransitionTx(ctx, tx, eventID, freed, model.SeatHeld, model.SeatAvailable)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return freed, nil
}

func scanSeat(rows *sql.Rows) (*model.Seat, error) {
	var (
		seat   model.Seat
		status string
	)
	if err := rows.Scan(&seat.ID, &seat.EventID, &seat.ZoneID, &seat.Label,
		&status, &seat.Version, &seat.CreatedAt, &seat.UpdatedAt); err != nil {
		return nil, err
	}
	seat.Status = model.SeatStatus(status)
	return &seat, nil
}
