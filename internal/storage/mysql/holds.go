package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/venuehub/seat-holds/internal/model"
	"github.com/venuehub/seat-holds/internal/storage"
)

// CreateHold stores a new ACTIVE hold and claims its seats. Claims are
// rows in seat_claims with a primary key on (event_id, seat_id), so two
// overlapping holds cannot both commit; the loser's insert hits a
// duplicate key, the transaction rolls back and the conflicting seat
// IDs are reported.
func (s *Store) CreateHold(ctx context.Context, h *model.Hold) error {
	const op = "storage.mysql.CreateHold"

	now := s.clk.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holds (id, event_id, owner_id, status, expires_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.EventID, h.OwnerID, string(model.HoldActive), h.ExpiresAt, now, now,
		); err != nil {
			return err
		}

		seats := `INSERT INTO hold_seats (hold_id, event_id, seat_id) VALUES `
		claims := `INSERT INTO seat_claims (event_id, seat_id, hold_id) VALUES `
		sargs := make([]interface{}, 0, len(h.SeatIDs)*3)
		cargs := make([]interface{}, 0, len(h.SeatIDs)*3)
		for i, id := range h.SeatIDs {
			if i > 0 {
				seats += ","
				claims += ","
			}
			seats += "(?, ?, ?)"
			claims += "(?, ?, ?)"
			sargs = append(sargs, h.ID, h.EventID, id)
			cargs = append(cargs, h.EventID, id, h.ID)
		}
		if _, err := tx.ExecContext(ctx, seats, sargs...); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, claims, cargs...); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if isDupEntry(err) {
			taken, lookErr := s.claimedSeats(ctx, h.EventID, h.SeatIDs)
			if lookErr == nil && len(taken) > 0 {
				return fmt.Errorf("%s: %w", op, &storage.ClaimConflictError{SeatIDs: taken})
			}
			return fmt.Errorf("%s: %w", op, storage.ErrClaimConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	h.Status = model.HoldActive
	h.CreatedAt = now
	h.UpdatedAt = now
	return nil
}

// claimedSeats reports which of seatIDs currently carry a claim.
func (s *Store) claimedSeats(ctx context.Context, eventID uint64, seatIDs []uint64) ([]uint64, error) {
	query := `SELECT seat_id FROM seat_claims WHERE event_id = ? AND seat_id IN (` +
		placeholders(len(seatIDs)) + `) ORDER BY seat_id`
	args := make([]interface{}, 0, len(seatIDs)+1)
	args = append(args, eventID)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var taken []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		taken = append(taken, id)
	}
	return taken, rows.Err()
}

// GetHold returns the hold with the given ID including its seat IDs.
func (s *Store) GetHold(ctx context.Context, holdID string) (*model.Hold, error) {
	const op = "storage.mysql.GetHold"

	var (
		h      model.Hold
		status string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, owner_id, status, expires_at, created_at, updated_at
		 FROM holds WHERE id = ?`, holdID,
	).Scan(&h.ID, &h.EventID, &h.OwnerID, &status, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrHoldNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	h.Status = model.HoldStatus(status)

	rows, err := s.db.QueryContext(ctx,
		`SELECT seat_id FROM hold_seats WHERE hold_id = ? ORDER BY seat_id`, holdID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		h.SeatIDs = append(h.SeatIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &h, nil
}

// FinishHold moves a hold from one status to another, dropping its seat
// claims in the same transaction when the new status is terminal. When
// the hold is no longer in the expected status the update matches zero
// rows and ErrStaleState is returned; callers re-read to see what won.
func (s *Store) FinishHold(ctx context.Context, holdID string, from, to model.HoldStatus) error {
	const op = "storage.mysql.FinishHold"

	now := s.clk.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE holds SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(to), now, holdID, string(from))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM holds WHERE id = ?`, holdID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrHoldNotFound
			}
			if err != nil {
				return err
			}
			return storage.ErrStaleState
		}
		if to.Terminal() {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM seat_claims WHERE hold_id = ?`, holdID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetHoldExpiry replaces the deadline of a still-active hold.
func (s *Store) SetHoldExpiry(ctx context.Context, holdID string, until time.Time) error {
	const op = "storage.mysql.SetHoldExpiry"

	now := s.clk.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE holds SET expires_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		until, now, holdID, string(model.HoldActive))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM holds WHERE id = ?`, holdID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", op, storage.ErrHoldNotFound)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w", op, storage.ErrStaleState)
	}
	return nil
}

// ListExpired returns up to limit active holds whose deadline lies
// before now, oldest deadline first, including their seat IDs.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Hold, error) {
	const op = "storage.mysql.ListExpired"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, owner_id, status, expires_at, created_at, updated_at
		 FROM holds WHERE status = ? AND expires_at < ?
		 ORDER BY expires_at LIMIT ?`,
		string(model.HoldActive), now, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*model.Hold
	for rows.Next() {
		var (
			h      model.Hold
			status string
		)
		if err := rows.Scan(&h.ID, &h.EventID, &h.OwnerID, &status,
			&h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		h.Status = model.HoldStatus(status)
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, h := range out {
		seatRows, err := s.db.QueryContext(ctx,
			`SELECT seat_id FROM hold_seats WHERE hold_id = ? ORDER BY seat_id`, h.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		for seatRows.Next() {
			var id uint64
			if err := seatRows.Scan(&id); err != nil {
				seatRows.Close()
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			h.SeatIDs = append(h.SeatIDs, id)
		}
		if err := seatRows.Close(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return out, nil
}

// CountActiveByOwner counts the active holds one owner has on an event.
func (s *Store) CountActiveByOwner(ctx context.Context, eventID, ownerID uint64) (int, error) {
	const op = "storage.mysql.CountActiveByOwner"

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM holds WHERE event_id = ? AND owner_id = ? AND status = ?`,
		eventID, ownerID, string(model.HoldActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
