// Package hold implements the hold lifecycle of the seat reservation
// core: requesting, confirming, releasing and extending temporary seat
// holds, plus the background sweeper that expires them. The manager is
// the only writer of seat and hold state; storage backends provide the
// atomic primitives and the manager composes them into the lifecycle
// rules.
package hold

import (
	"errors"
	"fmt"
)

// ErrSeatUnavailable is returned when at least one requested seat
// cannot be held. It is wrapped in a SeatUnavailableError carrying the
// exact seat IDs, so clients can adjust their selection.
var ErrSeatUnavailable = errors.New("seat unavailable")

// ErrHoldNotFound is returned when no hold exists with the given ID.
var ErrHoldNotFound = errors.New("hold not found")

// ErrHoldInvalid is returned when a hold exists but its state does not
// permit the operation, such as confirming a released hold.
var ErrHoldInvalid = errors.New("hold not active")

// ErrHoldExpired is returned when the hold's deadline has passed.
// Expired holds never come back; request a new hold instead.
var ErrHoldExpired = errors.New("hold expired")

// ErrNotOwner is returned when the caller is not the owner of the hold.
var ErrNotOwner = errors.New("not hold owner")

// ErrOwnerHoldLimit is returned when the owner already has the maximum
// number of active holds for the event.
var ErrOwnerHoldLimit = errors.New("active hold limit reached")

// ErrHoldLifetimeExceeded is returned when an extension would not move
// the deadline because the hold already reached its maximum lifetime.
var ErrHoldLifetimeExceeded = errors.New("hold lifetime exceeded")

// ErrConflict is returned when concurrent state changes kept an
// operation from completing after internal retries. Safe to retry.
var ErrConflict = errors.New("concurrent conflict")

// ErrStoreUnavailable is returned when the backing store could not be
// reached after internal retries. Safe to retry later.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrInvalidRequest is returned for structurally invalid input, such as
// an empty seat list.
var ErrInvalidRequest = errors.New("invalid request")

// SeatUnavailableError lists the seats that blocked a hold request.
// errors.Is(err, ErrSeatUnavailable) matches it.
type SeatUnavailableError struct {
	EventID uint64
	SeatIDs []uint64
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("event %d: %d seat(s) unavailable", e.EventID, len(e.SeatIDs))
}

func (e *SeatUnavailableError) Unwrap() error { return ErrSeatUnavailable }
