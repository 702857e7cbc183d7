package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/venuehub/seat-holds/internal/clock"
	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
	"github.com/venuehub/seat-holds/internal/metrics"
	"github.com/venuehub/seat-holds/internal/model"
)

// SnapshotSource supplies the current seat statuses of an event. Both
// storage backends implement it.
type SnapshotSource interface {
	SeatStatuses(ctx context.Context, eventID uint64) (map[uint64]model.SeatStatus, error)
}

// Bus relays deltas between instances and owns the per-event sequence
// when the service runs more than one replica. Publish assigns the next
// sequence and hands the delta to every instance, including the
// publishing one; Run feeds relayed deltas back for local fan-out.
type Bus interface {
	Publish(ctx context.Context, eventID uint64, kind DeltaKind, seatIDs []uint64) (uint64, error)
	Current(ctx context.Context, eventID uint64) (uint64, error)
	Run(ctx context.Context, deliver func(Delta)) error
}

// Subscription is one connection's view of an event's delta stream.
// Deltas arrive on C in sequence order; when the queue overflowed and
// something was dropped, TakeGap reports it once so the transport can
// push a fresh snapshot.
type Subscription struct {
	id      string
	eventID uint64
	ch      chan Delta
	gapped  atomic.Bool
}

// ID returns the connection identifier the subscription was opened with.
func (s *Subscription) ID() string { return s.id }

// C is the subscriber's delta queue. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan Delta { return s.ch }

// TakeGap reports whether deltas were dropped since the last call and
// clears the flag.
func (s *Subscription) TakeGap() bool {
	return s.gapped.CompareAndSwap(true, false)
}

type group struct {
	mu   sync.Mutex
	seq  uint64
	subs map[string]*Subscription
}

// Broadcaster keeps one subscriber group per event and fans every
// committed seat transition out to it. Fan-out runs under the group's
// own lock, never the stores', and sends never block: a subscriber that
// cannot keep up loses its oldest queued delta and is flagged for
// resync instead of slowing anyone else down.
type Broadcaster struct {
	log       *slog.Logger
	source    SnapshotSource
	bus       Bus
	clk       clock.Clock
	metrics   *metrics.Metrics
	queueSize int

	mu     sync.RWMutex
	groups map[uint64]*group
}

// New builds a broadcaster over the given snapshot source. bus may be
// nil for single-instance deployments; sequences are then assigned in
// process.
func New(log *slog.Logger, source SnapshotSource, bus Bus, clk clock.Clock, m *metrics.Metrics, queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Broadcaster{
		log:       log,
		source:    source,
		bus:       bus,
		clk:       clk,
		metrics:   m,
		queueSize: queueSize,
		groups:    make(map[uint64]*group),
	}
}

// Start runs the cross-instance relay loop until ctx is done. It is a
// no-op without a bus.
func (b *Broadcaster) Start(ctx context.Context) {
	if b.bus == nil {
		return
	}
	go func() {
		if err := b.bus.Run(ctx, b.deliver); err != nil && ctx.Err() == nil {
			b.log.Error("delta bus loop ended", sl.Err(err))
		}
	}()
}

func (b *Broadcaster) group(eventID uint64, create bool) *group {
	b.mu.RLock()
	g, ok := b.groups[eventID]
	b.mu.RUnlock()
	if ok || !create {
		return g
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if g, ok = b.groups[eventID]; ok {
		return g
	}
	g = &group{subs: make(map[string]*Subscription)}
	b.groups[eventID] = g
	return g
}

// Subscribe enrolls a connection into an event's fan-out group and
// returns the current snapshot. The subscription is registered before
// the snapshot is read, so a transition racing the subscribe is seen at
// least once: either inside the snapshot, as a queued delta, or both,
// which absolute-status deltas make safe.
func (b *Broadcaster) Subscribe(ctx context.Context, eventID uint64, connID string) (*Snapshot, *Subscription, error) {
	const op = "realtime.Subscribe"

	g := b.group(eventID, true)
	sub := &Subscription{
		id:      connID,
		eventID: eventID,
		ch:      make(chan Delta, b.queueSize),
	}
	g.mu.Lock()
	if old, ok := g.subs[connID]; ok {
		// same connection re-subscribing; the old queue is dead
		delete(g.subs, connID)
		close(old.ch)
		b.metrics.Subscribers.Dec()
	}
	g.subs[connID] = sub
	g.mu.Unlock()
	b.metrics.Subscribers.Inc()

	snap, err := b.Snapshot(ctx, eventID)
	if err != nil {
		b.Unsubscribe(sub)
		return nil, nil, err
	}
	b.log.Debug("subscriber joined", slog.String("op", op),
		slog.Uint64("event_id", eventID), slog.String("conn_id", connID))
	return snap, sub, nil
}

// Snapshot reads the event's sequence and every seat's current status.
// The sequence is read before the statuses: a transition landing in
// between then shows up both in the snapshot and as a delta with a
// higher sequence, which re-applies to the same state.
func (b *Broadcaster) Snapshot(ctx context.Context, eventID uint64) (*Snapshot, error) {
	var (
		seq uint64
		err error
	)
	if b.bus != nil {
		seq, err = b.bus.Current(ctx, eventID)
		if err != nil {
			return nil, err
		}
	} else if g := b.group(eventID, false); g != nil {
		g.mu.Lock()
		seq = g.seq
		g.mu.Unlock()
	}

	statuses, err := b.source.SeatStatuses(ctx, eventID)
	if err != nil {
		return nil, err
	}
	seats := make(map[uint64]string, len(statuses))
	for id, status := range statuses {
		seats[id] = WireStatus(status)
	}
	return &Snapshot{EventID: eventID, Sequence: seq, Seats: seats}, nil
}

// Unsubscribe removes the connection from the fan-out group and closes
// its queue. Unsubscribing twice is harmless.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	g := b.group(sub.eventID, false)
	if g == nil {
		return
	}
	g.mu.Lock()
	cur, ok := g.subs[sub.id]
	if ok && cur == sub {
		delete(g.subs, sub.id)
		close(sub.ch)
		b.metrics.Subscribers.Dec()
	}
	g.mu.Unlock()
}

// Publish stamps the next sequence on a delta and fans it out to every
// subscriber of the event. With a bus the sequence comes from the bus
// and the delta arrives back through the relay loop, keeping replicas
// in one order; failures are logged and swallowed, the next snapshot
// heals any viewer that missed out.
func (b *Broadcaster) Publish(ctx context.Context, eventID uint64, kind DeltaKind, seatIDs []uint64) {
	const op = "realtime.Publish"

	if len(seatIDs) == 0 {
		return
	}
	ids := append([]uint64(nil), seatIDs...)

	if b.bus != nil {
		if _, err := b.bus.Publish(ctx, eventID, kind, ids); err != nil {
			b.log.Error("publishing delta to bus failed", slog.String("op", op),
				sl.Err(err), slog.Uint64("event_id", eventID))
		}
		return
	}

	g := b.group(eventID, true)
	g.mu.Lock()
	g.seq++
	d := Delta{
		EventID:   eventID,
		Sequence:  g.seq,
		Type:      kind,
		SeatIDs:   ids,
		Timestamp: b.clk.Now(),
	}
	for _, sub := range g.subs {
		b.send(sub, d)
	}
	g.mu.Unlock()
	b.metrics.DeltasPublished.Inc()
}

// deliver fans a bus-relayed delta out to local subscribers.
func (b *Broadcaster) deliver(d Delta) {
	g := b.group(d.EventID, false)
	if g == nil {
		return
	}
	g.mu.Lock()
	if d.Sequence > g.seq {
		g.seq = d.Sequence
	}
	for _, sub := range g.subs {
		b.send(sub, d)
	}
	g.mu.Unlock()
	b.metrics.DeltasPublished.Inc()
}

// send queues a delta without ever blocking. When the subscriber's
// queue is full the oldest entry is dropped to make room and the
// subscription is marked gapped; the transport reacts with a snapshot.
func (b *Broadcaster) send(sub *Subscription, d Delta) {
	select {
	case sub.ch <- d:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- d:
	default:
	}
	sub.gapped.Store(true)
	b.metrics.DeltasDropped.Inc()
}

// SubscriberCount reports how many connections follow an event.
func (b *Broadcaster) SubscriberCount(eventID uint64) int {
	g := b.group(eventID, false)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// SeatsHeld implements the hold manager's notifier for held seats.
func (b *Broadcaster) SeatsHeld(ctx context.Context, eventID uint64, seatIDs []uint64) {
	b.Publish(ctx, eventID, DeltaHeld, seatIDs)
}

// SeatsSold implements the hold manager's notifier for sold seats.
func (b *Broadcaster) SeatsSold(ctx context.Context, eventID uint64, seatIDs []uint64) {
	b.Publish(ctx, eventID, DeltaSold, seatIDs)
}

// SeatsFreed implements the hold manager's notifier for freed seats.
func (b *Broadcaster) SeatsFreed(ctx context.Context, eventID uint64, seatIDs []uint64) {
	b.Publish(ctx, eventID, DeltaAvailable, seatIDs)
}
