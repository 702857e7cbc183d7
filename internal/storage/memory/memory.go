// Package memory provides the in-process seat ledger and hold store used
// by single-instance deployments and tests. All state for one event is
// guarded by that event's mutex, so operations on different events never
// contend and every multi-seat primitive is atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/venuehub/seat-holds/internal/clock"
	"github.com/venuehub/seat-holds/internal/model"
	"github.com/venuehub/seat-holds/internal/storage"
)

type eventState struct {
	mu     sync.Mutex
	seats  map[uint64]*model.Seat
	holds  map[string]*model.Hold
	claims map[uint64]string // seatID -> active hold ID
}

// Store keeps seats, holds and claims for all events in process memory.
type Store struct {
	mu     sync.RWMutex
	events map[uint64]*eventState
	index  map[string]uint64 // holdID -> eventID
	clk    clock.Clock
}

// NewStore returns an empty store stamping timestamps from clk.
func NewStore(clk clock.Clock) *Store {
	return &Store{
		events: make(map[uint64]*eventState),
		index:  make(map[string]uint64),
		clk:    clk,
	}
}

func (s *Store) event(eventID uint64) (*eventState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.events[eventID]
	return st, ok
}

// PublishSeats registers seats for an event, creating the event state on
// first use. Existing seats keep their status and version; only zone and
// label are refreshed. New seats start AVAILABLE at version 1 unless the
// incoming row carries an explicit status such as BLOCKED.
func (s *Store) PublishSeats(ctx context.Context, eventID uint64, seats []*model.Seat) error {
	s.mu.Lock()
	st, ok := s.events[eventID]
	if !ok {
		st = &eventState{
			seats:  make(map[uint64]*model.Seat),
			holds:  make(map[string]*model.Hold),
			claims: make(map[uint64]string),
		}
		s.events[eventID] = st
	}
	s.mu.Unlock()

	now := s.clk.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, in := range seats {
		if cur, ok := st.seats[in.ID]; ok {
			cur.ZoneID = in.ZoneID
			cur.Label = in.Label
			cur.UpdatedAt = now
			continue
		}
		status := in.Status
		if !status.Valid() {
			status = model.SeatAvailable
		}
		st.seats[in.ID] = &model.Seat{
			ID:        in.ID,
			EventID:   eventID,
			ZoneID:    in.ZoneID,
			Label:     in.Label,
			Status:    status,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return nil
}

// ListSeats returns all seats of an event ordered by seat ID.
func (s *Store) ListSeats(ctx context.Context, eventID uint64) ([]*model.Seat, error) {
	st, ok := s.event(eventID)
	if !ok {
		return nil, storage.ErrSeatNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*model.Seat, 0, len(st.seats))
	for _, seat := range st.seats {
		c := *seat
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSeats returns the requested seats keyed by ID. Unknown IDs are
// simply absent from the result; callers diff against their request.
func (s *Store) GetSeats(ctx context.Context, eventID uint64, seatIDs []uint64) (map[uint64]*model.Seat, error) {
	st, ok := s.event(eventID)
	if !ok {
		return nil, storage.ErrSeatNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[uint64]*model.Seat, len(seatIDs))
	for _, id := range seatIDs {
		if seat, ok := st.seats[id]; ok {
			c := *seat
			out[id] = &c
		}
	}
	return out, nil
}

// SeatStatuses returns the current status of every seat of an event.
func (s *Store) SeatStatuses(ctx context.Context, eventID uint64) (map[uint64]model.SeatStatus, error) {
	st, ok := s.event(eventID)
	if !ok {
		return nil, storage.ErrSeatNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[uint64]model.SeatStatus, len(st.seats))
	for id, seat := range st.seats {
		out[id] = seat.Status
	}
	return out, nil
}

// TransitionSeats moves every listed seat from one status to another.
// The check runs over all seats before anything is written, so either
// every seat transitions or none does. A seat that is missing or not in
// the expected status fails the whole batch with ErrStaleState.
func (s *Store) TransitionSeats(ctx context.Context, eventID uint64, seatIDs []uint64, from, to model.SeatStatus) error {
	st, ok := s.event(eventID)
	if !ok {
		return storage.ErrSeatNotFound
	}
	now := s.clk.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, id := range seatIDs {
		seat, ok := st.seats[id]
		if !ok || seat.Status != from {
			return storage.ErrStaleState
		}
	}
	for _, id := range seatIDs {
		seat := st.seats[id]
		seat.Status = to
		seat.Version++
		seat.UpdatedAt = now
	}
	return nil
}

// FreeSeats returns HELD seats among seatIDs to AVAILABLE and reports
// which ones actually changed. Seats in any other state are skipped, so
// the release path can run safely after a partial failure.
func (s *Store) FreeSeats(ctx context.Context, eventID uint64, seatIDs []uint64) ([]uint64, error) {
	st, ok := s.event(eventID)
	if !ok {
		return nil, storage.ErrSeatNotFound
	}
	now := s.clk.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	var freed []uint64
	for _, id := range seatIDs {
		seat, ok := st.seats[id]
		if !ok || seat.Status != model.SeatHeld {
			continue
		}
		seat.Status = model.SeatAvailable
		seat.Version++
		seat.UpdatedAt = now
		freed = append(freed, id)
	}
	sort.Slice(freed, func(i, j int) bool { return freed[i] < freed[j] })
	return freed, nil
}

// CreateHold claims every seat of the hold and stores it as ACTIVE.
// If any seat is already claimed by another active hold nothing is
// written and the conflicting seat IDs are reported.
func (s *Store) CreateHold(ctx context.Context, h *model.Hold) error {
	st, ok := s.event(h.EventID)
	if !ok {
		return storage.ErrSeatNotFound
	}
	now := s.clk.Now()

	st.mu.Lock()
	var taken []uint64
	for _, id := range h.SeatIDs {
		if _, claimed := st.claims[id]; claimed {
			taken = append(taken, id)
		}
	}
	if len(taken) > 0 {
		st.mu.Unlock()
		sort.Slice(taken, func(i, j int) bool { return taken[i] < taken[j] })
		return &storage.ClaimConflictError{SeatIDs: taken}
	}
	stored := cloneHold(h)
	stored.Status = model.HoldActive
	stored.CreatedAt = now
	stored.UpdatedAt = now
	for _, id := range stored.SeatIDs {
		st.claims[id] = stored.ID
	}
	st.holds[stored.ID] = stored
	st.mu.Unlock()

	s.mu.Lock()
	s.index[stored.ID] = h.EventID
	s.mu.Unlock()

	h.Status = stored.Status
	h.CreatedAt = stored.CreatedAt
	h.UpdatedAt = stored.UpdatedAt
	return nil
}

// GetHold returns a copy of the hold with the given ID.
func (s *Store) GetHold(ctx context.Context, holdID string) (*model.Hold, error) {
	s.mu.RLock()
	eventID, ok := s.index[holdID]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrHoldNotFound
	}
	st, ok := s.event(eventID)
	if !ok {
		return nil, storage.ErrHoldNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	h, ok := st.holds[holdID]
	if !ok {
		return nil, storage.ErrHoldNotFound
	}
	return cloneHold(h), nil
}

// FinishHold moves a hold from one status to another, dropping its seat
// claims when the new status is terminal. The transition only applies
// when the hold is still in the expected status; otherwise ErrStaleState
// is returned and the caller can re-read to see what happened.
func (s *Store) FinishHold(ctx context.Context, holdID string, from, to model.HoldStatus) error {
	s.mu.RLock()
	eventID, ok := s.index[holdID]
	s.mu.RUnlock()
	if !ok {
		return storage.ErrHoldNotFound
	}
	st, _ := s.event(eventID)
	now := s.clk.Now()

	st.mu.Lock()
	defer st.mu.Unlock()
	h, ok := st.holds[holdID]
	if !ok {
		return storage.ErrHoldNotFound
	}
	if h.Status != from {
		return storage.ErrStaleState
	}
	h.Status = to
	h.UpdatedAt = now
	if to.Terminal() {
		for _, id := range h.SeatIDs {
			if st.claims[id] == holdID {
				delete(st.claims, id)
			}
		}
	}
	return nil
}

// SetHoldExpiry replaces the deadline of a still-active hold.
func (s *Store) SetHoldExpiry(ctx context.Context, holdID string, until time.Time) error {
	s.mu.RLock()
	eventID, ok := s.index[holdID]
	s.mu.RUnlock()
	if !ok {
		return storage.ErrHoldNotFound
	}
	st, _ := s.event(eventID)
	now := s.clk.Now()

	st.mu.Lock()
	defer st.mu.Unlock()
	h, ok := st.holds[holdID]
	if !ok {
		return storage.ErrHoldNotFound
	}
	if h.Status != model.HoldActive {
		return storage.ErrStaleState
	}
	h.ExpiresAt = until
	h.UpdatedAt = now
	return nil
}

// ListExpired returns up to limit active holds whose deadline lies
// before now, oldest deadline first.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Hold, error) {
	s.mu.RLock()
	states := make([]*eventState, 0, len(s.events))
	for _, st := range s.events {
		states = append(states, st)
	}
	s.mu.RUnlock()

	var out []*model.Hold
	for _, st := range states {
		st.mu.Lock()
		for _, h := range st.holds {
			if h.Status == model.HoldActive && now.After(h.ExpiresAt) {
				out = append(out, cloneHold(h))
			}
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountActiveByOwner counts the active holds one owner has on an event.
func (s *Store) CountActiveByOwner(ctx context.Context, eventID, ownerID uint64) (int, error) {
	st, ok := s.event(eventID)
	if !ok {
		return 0, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for _, h := range st.holds {
		if h.Status == model.HoldActive && h.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func cloneHold(h *model.Hold) *model.Hold {
	c := *h
	c.SeatIDs = append([]uint64(nil), h.SeatIDs...)
	return &c
}
