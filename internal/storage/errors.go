// Package storage defines the error values and shared record types used
// by the seat ledger and hold store backends. The sentinels let the hold
// manager distinguish failure scenarios without knowing which backend
// produced them: ErrClaimConflict marks a lost race for a seat,
// ErrStaleState marks an optimistic check that found the row in a
// different state than expected, and the not-found pair map to lookups
// of unknown identifiers.
package storage

import (
	"errors"
	"fmt"
)

// ErrSeatNotFound is returned when a referenced seat does not exist
// for the given event.
var ErrSeatNotFound = errors.New("seat not found")

// ErrHoldNotFound is returned when no hold exists with the given ID.
var ErrHoldNotFound = errors.New("hold not found")

// ErrClaimConflict is returned when at least one requested seat is
// already claimed by another active hold. It is usually wrapped in a
// ClaimConflictError carrying the seat IDs that lost the race.
var ErrClaimConflict = errors.New("seat already claimed")

// ErrStaleState is returned when a compare-and-set found the row in a
// state other than the expected one. Callers may re-read and retry.
var ErrStaleState = errors.New("stale state")

// ClaimConflictError reports which seats could not be claimed.
// errors.Is(err, ErrClaimConflict) matches it.
type ClaimConflictError struct {
	SeatIDs []uint64
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("seat already claimed: %d seat(s)", len(e.SeatIDs))
}

func (e *ClaimConflictError) Unwrap() error { return ErrClaimConflict }
