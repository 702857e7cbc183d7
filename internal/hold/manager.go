package hold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/venuehub/seat-holds/internal/clock"
	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
	"github.com/venuehub/seat-holds/internal/metrics"
	"github.com/venuehub/seat-holds/internal/model"
	"github.com/venuehub/seat-holds/internal/storage"
)

// SeatLedger is the seat state the manager drives. TransitionSeats is
// all-or-nothing: either every seat moves or the call fails with
// storage.ErrStaleState. FreeSeats is tolerant and reports what changed.
type SeatLedger interface {
	GetSeats(ctx context.Context, eventID uint64, seatIDs []uint64) (map[uint64]*model.Seat, error)
	TransitionSeats(ctx context.Context, eventID uint64, seatIDs []uint64, from, to model.SeatStatus) error
	FreeSeats(ctx context.Context, eventID uint64, seatIDs []uint64) ([]uint64, error)
}

// HoldStore persists holds and their seat claims. CreateHold claims all
// seats of the hold atomically or fails with a ClaimConflictError, and
// FinishHold drops the claims once the hold reaches a terminal status.
type HoldStore interface {
	CreateHold(ctx context.Context, h *model.Hold) error
	GetHold(ctx context.Context, holdID string) (*model.Hold, error)
	FinishHold(ctx context.Context, holdID string, from, to model.HoldStatus) error
	SetHoldExpiry(ctx context.Context, holdID string, until time.Time) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*model.Hold, error)
	CountActiveByOwner(ctx context.Context, eventID, ownerID uint64) (int, error)
}

// Notifier fans committed seat changes out to live seat map viewers.
type Notifier interface {
	SeatsHeld(ctx context.Context, eventID uint64, seatIDs []uint64)
	SeatsSold(ctx context.Context, eventID uint64, seatIDs []uint64)
	SeatsFreed(ctx context.Context, eventID uint64, seatIDs []uint64)
}

// Publisher emits hold lifecycle events to the message broker. Calls
// are made off the request path and must not block the manager.
type Publisher interface {
	HoldCreated(h *model.Hold)
	HoldConfirmed(h *model.Hold)
	HoldReleased(h *model.Hold, reason model.ReleaseReason)
	HoldExtended(h *model.Hold)
}

// Params are the tunable limits of the hold lifecycle.
type Params struct {
	DefaultTTL        time.Duration
	MinTTL            time.Duration
	MaxTTL            time.Duration
	MaxLifetime       time.Duration
	MaxActivePerOwner int
	MaxSeatsPerHold   int
}

const (
	retryAttempts = 3
	retryBackoff  = 40 * time.Millisecond
)

// Manager owns every transition of seat and hold state. Storage
// backends guarantee atomicity of single primitives; the manager
// sequences them so that no interleaving of concurrent requests can
// give two owners the same seat.
type Manager struct {
	log      *slog.Logger
	ledger   SeatLedger
	store    HoldStore
	notifier Notifier
	pub      Publisher
	clk      clock.Clock
	metrics  *metrics.Metrics
	params   Params
}

// New builds a manager. pub may be nil when no broker is configured.
func New(
	log *slog.Logger,
	ledger SeatLedger,
	store HoldStore,
	notifier Notifier,
	pub Publisher,
	clk clock.Clock,
	m *metrics.Metrics,
	params Params,
) *Manager {
	return &Manager{
		log:      log,
		ledger:   ledger,
		store:    store,
		notifier: notifier,
		pub:      pub,
		clk:      clk,
		metrics:  m,
		params:   params,
	}
}

// RequestHoldInput describes one hold request. A zero TTL means the
// configured default; out-of-range TTLs are clamped, not rejected.
// SupersedeHoldID optionally names a prior hold of the same owner that
// is released before the new seats are claimed.
type RequestHoldInput struct {
	EventID         uint64
	OwnerID         uint64
	SeatIDs         []uint64
	TTL             time.Duration
	SupersedeHoldID string
}

// HoldResult reports a successfully created hold.
type HoldResult struct {
	HoldID    string
	EventID   uint64
	SeatIDs   []uint64
	ExpiresAt time.Time
}

// RequestHold atomically claims the requested seats for one owner. All
// seats are reserved or none are; when any seat is taken the returned
// SeatUnavailableError lists exactly which ones. Losing a race between
// the availability check and the commit is retried a few times before
// giving up with ErrConflict.
func (m *Manager) RequestHold(ctx context.Context, in RequestHoldInput) (*HoldResult, error) {
	const op = "hold.RequestHold"
	log := m.log.With(slog.String("op", op),
		slog.Uint64("event_id", in.EventID), slog.Uint64("owner_id", in.OwnerID))

	if in.EventID == 0 || in.OwnerID == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}
	seatIDs := dedupeSeats(in.SeatIDs)
	if len(seatIDs) == 0 {
		return nil, fmt.Errorf("%s: %w: no seats requested", op, ErrInvalidRequest)
	}
	if m.params.MaxSeatsPerHold > 0 && len(seatIDs) > m.params.MaxSeatsPerHold {
		return nil, fmt.Errorf("%s: %w: at most %d seats per hold", op, ErrInvalidRequest, m.params.MaxSeatsPerHold)
	}
	ttl := m.clampTTL(in.TTL)

	if in.SupersedeHoldID != "" {
		if _, err := m.ReleaseHold(ctx, in.SupersedeHoldID, model.ReasonSuperseded); err != nil && !errors.Is(err, ErrHoldNotFound) {
			return nil, fmt.Errorf("%s: supersede: %w", op, err)
		}
	}

	// The cap is checked after the supersede so swapping one hold for
	// another never trips the limit.
	if m.params.MaxActivePerOwner > 0 {
		var active int
		err := m.callStore(ctx, func() error {
			var cErr error
			active, cErr = m.store.CountActiveByOwner(ctx, in.EventID, in.OwnerID)
			return cErr
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if active >= m.params.MaxActivePerOwner {
			return nil, fmt.Errorf("%s: %w", op, ErrOwnerHoldLimit)
		}
	}

	for attempt := 0; attempt < retryAttempts; attempt++ {
		h, err := m.tryReserve(ctx, in.EventID, in.OwnerID, seatIDs, ttl)
		if err == nil {
			m.notifier.SeatsHeld(ctx, h.EventID, h.SeatIDs)
			if m.pub != nil {
				go m.pub.HoldCreated(h)
			}
			m.metrics.HoldsCreated.Inc()
			log.Info("hold created", slog.String("hold_id", h.ID),
				slog.Int("seats", len(h.SeatIDs)), slog.Time("expires_at", h.ExpiresAt))
			return &HoldResult{HoldID: h.ID, EventID: h.EventID, SeatIDs: h.SeatIDs, ExpiresAt: h.ExpiresAt}, nil
		}
		if errors.Is(err, storage.ErrStaleState) {
			// seat state moved between the check and the commit
			continue
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.metrics.SeatConflicts.Inc()
	return nil, fmt.Errorf("%s: %w", op, ErrConflict)
}

// tryReserve performs one claim-then-transition pass. It returns
// storage.ErrStaleState when the ledger lost a race and the caller
// should look at the seats again.
func (m *Manager) tryReserve(ctx context.Context, eventID, ownerID uint64, seatIDs []uint64, ttl time.Duration) (*model.Hold, error) {
	var seats map[uint64]*model.Seat
	err := m.callStore(ctx, func() error {
		var gErr error
		seats, gErr = m.ledger.GetSeats(ctx, eventID, seatIDs)
		return gErr
	})
	if err != nil {
		if errors.Is(err, storage.ErrSeatNotFound) {
			return nil, &SeatUnavailableError{EventID: eventID, SeatIDs: seatIDs}
		}
		return nil, err
	}
	var unavailable []uint64
	for _, id := range seatIDs {
		seat, ok := seats[id]
		if !ok || seat.Status != model.SeatAvailable {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		m.metrics.SeatConflicts.Inc()
		return nil, &SeatUnavailableError{EventID: eventID, SeatIDs: unavailable}
	}

	h := &model.Hold{
		ID:        uuid.NewString(),
		EventID:   eventID,
		OwnerID:   ownerID,
		SeatIDs:   seatIDs,
		Status:    model.HoldActive,
		ExpiresAt: m.clk.Now().Add(ttl),
	}
	err = m.callStore(ctx, func() error { return m.store.CreateHold(ctx, h) })
	if err != nil {
		var conflict *storage.ClaimConflictError
		if errors.As(err, &conflict) {
			m.metrics.SeatConflicts.Inc()
			return nil, &SeatUnavailableError{EventID: eventID, SeatIDs: conflict.SeatIDs}
		}
		if errors.Is(err, storage.ErrClaimConflict) || errors.Is(err, storage.ErrSeatNotFound) {
			m.metrics.SeatConflicts.Inc()
			return nil, &SeatUnavailableError{EventID: eventID, SeatIDs: seatIDs}
		}
		return nil, err
	}

	// The claims are ours; move the seats. If the ledger saw another
	// state the claims are rolled back and the seats re-checked.
	err = m.callStore(ctx, func() error {
		return m.ledger.TransitionSeats(ctx, eventID, seatIDs, model.SeatAvailable, model.SeatHeld)
	})
	if err != nil {
		if rbErr := m.store.FinishHold(ctx, h.ID, model.HoldActive, model.HoldReleased); rbErr != nil {
			m.log.Error("reserve rollback failed", sl.Err(rbErr), slog.String("hold_id", h.ID))
		}
		return nil, err
	}
	return h, nil
}

// ConfirmResult reports a confirmed hold. AlreadyConfirmed marks the
// idempotent repeat of an earlier confirmation.
type ConfirmResult struct {
	HoldID           string
	EventID          uint64
	SeatIDs          []uint64
	AlreadyConfirmed bool
}

// ConfirmHold finalizes a hold into a sale. Only the owner may confirm.
// Confirming twice is an idempotent success; confirming after the
// deadline releases the hold and fails with ErrHoldExpired, and an
// expired hold never becomes confirmable again.
func (m *Manager) ConfirmHold(ctx context.Context, holdID string, ownerID uint64) (*ConfirmResult, error) {
	const op = "hold.ConfirmHold"
	log := m.log.With(slog.String("op", op), slog.String("hold_id", holdID))

	if holdID == "" || ownerID == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}
	for attempt := 0; attempt < retryAttempts; attempt++ {
		h, err := m.getHold(ctx, holdID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if h.OwnerID != ownerID {
			return nil, fmt.Errorf("%s: %w", op, ErrNotOwner)
		}
		switch h.Status {
		case model.HoldConfirmed:
			// repeat of an earlier confirm; finish sealing the seats in
			// case the first attempt stopped halfway
			_ = m.sealSeats(ctx, h, log)
			return &ConfirmResult{HoldID: h.ID, EventID: h.EventID, SeatIDs: h.SeatIDs, AlreadyConfirmed: true}, nil
		case model.HoldReleased:
			return nil, fmt.Errorf("%s: %w", op, ErrHoldInvalid)
		case model.HoldExpired:
			return nil, fmt.Errorf("%s: %w", op, ErrHoldExpired)
		}
		if h.Expired(m.clk.Now()) {
			m.expireNow(ctx, h)
			return nil, fmt.Errorf("%s: %w", op, ErrHoldExpired)
		}

		err = m.callStore(ctx, func() error {
			return m.store.FinishHold(ctx, holdID, model.HoldActive, model.HoldConfirmed)
		})
		if errors.Is(err, storage.ErrStaleState) {
			// lost to a concurrent confirm or the sweeper, re-read
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		// The hold is confirmed even if sealing needs a later retry;
		// the idempotent path above finishes the job.
		_ = m.sealSeats(ctx, h, log)
		h.Status = model.HoldConfirmed
		if m.pub != nil {
			go m.pub.HoldConfirmed(h)
		}
		m.metrics.HoldsConfirmed.Inc()
		log.Info("hold confirmed", slog.Uint64("event_id", h.EventID), slog.Int("seats", len(h.SeatIDs)))
		return &ConfirmResult{HoldID: h.ID, EventID: h.EventID, SeatIDs: h.SeatIDs}, nil
	}
	return nil, fmt.Errorf("%s: %w", op, ErrConflict)
}

// sealSeats finalizes HELD -> SOLD after a confirm and broadcasts when
// the seats actually changed. Stale means an earlier attempt already
// sealed them.
func (m *Manager) sealSeats(ctx context.Context, h *model.Hold, log *slog.Logger) error {
	err := m.callStore(ctx, func() error {
		return m.ledger.TransitionSeats(ctx, h.EventID, h.SeatIDs, model.SeatHeld, model.SeatSold)
	})
	if err == nil {
		m.notifier.SeatsSold(ctx, h.EventID, h.SeatIDs)
		return nil
	}
	if errors.Is(err, storage.ErrStaleState) {
		return nil
	}
	log.Error("sealing sold seats failed", sl.Err(err), slog.String("hold_id", h.ID))
	return err
}

// ReleaseResult reports the outcome of a release. Released is false
// when the hold had already reached a terminal state.
type ReleaseResult struct {
	HoldID     string
	EventID    uint64
	Released   bool
	FreedSeats []uint64
}

// ReleaseHold ends an active hold and returns its seats to the pool.
// The hold ID is an unguessable capability, so no owner check is made;
// the sweeper and the supersede path call this with their own reasons.
// Releasing a hold that already ended is an idempotent no-op.
func (m *Manager) ReleaseHold(ctx context.Context, holdID string, reason model.ReleaseReason) (*ReleaseResult, error) {
	const op = "hold.ReleaseHold"
	log := m.log.With(slog.String("op", op), slog.String("hold_id", holdID), slog.String("reason", string(reason)))

	if holdID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}
	if reason == "" {
		reason = model.ReasonUserCancelled
	}
	h, err := m.getHold(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if h.Status.Terminal() {
		return &ReleaseResult{HoldID: h.ID, EventID: h.EventID, Released: false}, nil
	}

	// Seats first: whoever actually freed them must broadcast, even if
	// another releaser wins the status change below.
	var freed []uint64
	err = m.callStore(ctx, func() error {
		var fErr error
		freed, fErr = m.ledger.FreeSeats(ctx, h.EventID, h.SeatIDs)
		return fErr
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	to := model.HoldReleased
	if reason == model.ReasonExpired {
		to = model.HoldExpired
	}
	won := true
	err = m.callStore(ctx, func() error {
		return m.store.FinishHold(ctx, holdID, model.HoldActive, to)
	})
	if err != nil {
		if errors.Is(err, storage.ErrStaleState) || errors.Is(err, storage.ErrHoldNotFound) {
			won = false
		} else {
			if len(freed) > 0 {
				m.notifier.SeatsFreed(ctx, h.EventID, freed)
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if len(freed) > 0 {
		m.notifier.SeatsFreed(ctx, h.EventID, freed)
	}
	if won {
		h.Status = to
		if m.pub != nil {
			go m.pub.HoldReleased(h, reason)
		}
		m.metrics.HoldsReleased.WithLabelValues(string(reason)).Inc()
		log.Info("hold released", slog.Int("freed", len(freed)))
	}
	return &ReleaseResult{HoldID: h.ID, EventID: h.EventID, Released: won, FreedSeats: freed}, nil
}

// ExtendResult reports the new deadline. Capped is set when the
// requested extension was cut down to the maximum hold lifetime.
type ExtendResult struct {
	HoldID    string
	ExpiresAt time.Time
	Capped    bool
}

// ExtendHold pushes the deadline of an active hold further out. The
// total lifetime is capped relative to the hold's creation; a hold that
// already reached the cap fails with ErrHoldLifetimeExceeded. The seat
// map is not affected, so nothing is broadcast.
func (m *Manager) ExtendHold(ctx context.Context, holdID string, ownerID uint64, additional time.Duration) (*ExtendResult, error) {
	const op = "hold.ExtendHold"
	log := m.log.With(slog.String("op", op), slog.String("hold_id", holdID))

	if holdID == "" || ownerID == 0 || additional <= 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRequest)
	}
	for attempt := 0; attempt < retryAttempts; attempt++ {
		h, err := m.getHold(ctx, holdID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if h.OwnerID != ownerID {
			return nil, fmt.Errorf("%s: %w", op, ErrNotOwner)
		}
		switch h.Status {
		case model.HoldConfirmed, model.HoldReleased:
			return nil, fmt.Errorf("%s: %w", op, ErrHoldInvalid)
		case model.HoldExpired:
			return nil, fmt.Errorf("%s: %w", op, ErrHoldExpired)
		}
		if h.Expired(m.clk.Now()) {
			m.expireNow(ctx, h)
			return nil, fmt.Errorf("%s: %w", op, ErrHoldExpired)
		}

		limit := h.CreatedAt.Add(m.params.MaxLifetime)
		if !h.ExpiresAt.Before(limit) {
			return nil, fmt.Errorf("%s: %w", op, ErrHoldLifetimeExceeded)
		}
		next := h.ExpiresAt.Add(additional)
		capped := false
		if next.After(limit) {
			next = limit
			capped = true
		}

		err = m.callStore(ctx, func() error {
			return m.store.SetHoldExpiry(ctx, holdID, next)
		})
		if errors.Is(err, storage.ErrStaleState) {
			continue
		}
		if errors.Is(err, storage.ErrHoldNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrHoldNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		h.ExpiresAt = next
		if m.pub != nil {
			go m.pub.HoldExtended(h)
		}
		log.Info("hold extended", slog.Time("expires_at", next), slog.Bool("capped", capped))
		return &ExtendResult{HoldID: h.ID, ExpiresAt: next, Capped: capped}, nil
	}
	return nil, fmt.Errorf("%s: %w", op, ErrConflict)
}

// expireNow releases a hold that was found past its deadline before the
// sweeper got to it. The outcome does not change the caller's answer.
func (m *Manager) expireNow(ctx context.Context, h *model.Hold) {
	if _, err := m.ReleaseHold(ctx, h.ID, model.ReasonExpired); err != nil {
		m.log.Warn("inline expiry failed", sl.Err(err), slog.String("hold_id", h.ID))
	}
}

func (m *Manager) getHold(ctx context.Context, holdID string) (*model.Hold, error) {
	var h *model.Hold
	err := m.callStore(ctx, func() error {
		var gErr error
		h, gErr = m.store.GetHold(ctx, holdID)
		return gErr
	})
	if errors.Is(err, storage.ErrHoldNotFound) {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// callStore runs a storage call, retrying transient failures with a
// short backoff and mapping anything still failing after that to
// ErrStoreUnavailable. Domain sentinels pass through untouched.
func (m *Manager) callStore(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if !transient(err) {
			return err
		}
		if attempt == retryAttempts-1 {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt+1)):
		}
	}
}

// transient reports whether an error is worth a blind retry. Domain
// sentinels and context aborts are not.
func transient(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, storage.ErrSeatNotFound),
		errors.Is(err, storage.ErrHoldNotFound),
		errors.Is(err, storage.ErrClaimConflict),
		errors.Is(err, storage.ErrStaleState),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (m *Manager) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = m.params.DefaultTTL
	}
	if ttl < m.params.MinTTL {
		ttl = m.params.MinTTL
	}
	if ttl > m.params.MaxTTL {
		ttl = m.params.MaxTTL
	}
	return ttl
}

func dedupeSeats(ids []uint64) []uint64 {
	if len(ids) == 0 {
		return nil
	}
	out := append([]uint64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	uniq := out[:1]
	for _, id := range out[1:] {
		if id != uniq[len(uniq)-1] {
			uniq = append(uniq, id)
		}
	}
	return uniq
}
