package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuehub/seat-holds/internal/clock"
	"github.com/venuehub/seat-holds/internal/metrics"
	"github.com/venuehub/seat-holds/internal/model"
)

type fakeSource struct {
	mu       sync.Mutex
	statuses map[uint64]model.SeatStatus
	err      error
}

func (f *fakeSource) SeatStatuses(context.Context, uint64) (map[uint64]model.SeatStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[uint64]model.SeatStatus, len(f.statuses))
	for id, status := range f.statuses {
		out[id] = status
	}
	return out, nil
}

func (f *fakeSource) set(id uint64, status model.SeatStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
}

func newTestBroadcaster(t *testing.T, src SnapshotSource, queueSize int) *Broadcaster {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	return New(log, src, nil, clk, metrics.New(prometheus.NewRegistry()), queueSize)
}

func recvDelta(t *testing.T, sub *Subscription) Delta {
	t.Helper()
	select {
	case d, ok := <-sub.C():
		require.True(t, ok, "subscription channel closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("no delta arrived")
		return Delta{}
	}
}

func TestSubscribe_SnapshotThenDeltas(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{statuses: map[uint64]model.SeatStatus{
		1: model.SeatAvailable,
		2: model.SeatHeld,
		3: model.SeatBlocked,
	}}
	b := newTestBroadcaster(t, src, 16)

	snap, sub, err := b.Subscribe(ctx, 7, "conn-1")
	require.NoError(t, err)
	defer b.Unsubscribe(sub)

	assert.Equal(t, uint64(7), snap.EventID)
	assert.Equal(t, uint64(0), snap.Sequence)
	assert.Equal(t, map[uint64]string{1: "available", 2: "held", 3: "blocked"}, snap.Seats)

	src.set(1, model.SeatHeld)
	b.SeatsHeld(ctx, 7, []uint64{1})
	src.set(1, model.SeatSold)
	b.SeatsSold(ctx, 7, []uint64{1})
	src.set(2, model.SeatAvailable)
	b.SeatsFreed(ctx, 7, []uint64{2})

	d := recvDelta(t, sub)
	assert.Equal(t, uint64(1), d.Sequence)
	assert.Equal(t, DeltaHeld, d.Type)
	assert.Equal(t, []uint64{1}, d.SeatIDs)

	d = recvDelta(t, sub)
	assert.Equal(t, uint64(2), d.Sequence)
	assert.Equal(t, DeltaSold, d.Type)

	d = recvDelta(t, sub)
	assert.Equal(t, uint64(3), d.Sequence)
	assert.Equal(t, DeltaAvailable, d.Type)
	assert.Equal(t, []uint64{2}, d.SeatIDs)

	// replaying the stream over the snapshot converges on live state
	snap.Apply(Delta{EventID: 7, Sequence: 1, Type: DeltaHeld, SeatIDs: []uint64{1}})
	snap.Apply(Delta{EventID: 7, Sequence: 2, Type: DeltaSold, SeatIDs: []uint64{1}})
	snap.Apply(Delta{EventID: 7, Sequence: 3, Type: DeltaAvailable, SeatIDs: []uint64{2}})
	fresh, err := b.Snapshot(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, fresh.Seats, snap.Seats)
	assert.Equal(t, fresh.Sequence, snap.Sequence)
}

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{statuses: map[uint64]model.SeatStatus{1: model.SeatAvailable}}
	b := newTestBroadcaster(t, src, 16)

	_, first, err := b.Subscribe(ctx, 7, "conn-1")
	require.NoError(t, err)
	defer b.Unsubscribe(first)
	_, second, err := b.Subscribe(ctx, 7, "conn-2")
	require.NoError(t, err)
	defer b.Unsubscribe(second)
	_, other, err := b.Subscribe(ctx, 8, "conn-3")
	require.NoError(t, err)
	defer b.Unsubscribe(other)

	assert.Equal(t, 2, b.SubscriberCount(7))
	assert.Equal(t, 1, b.SubscriberCount(8))

	b.Publish(ctx, 7, DeltaHeld, []uint64{1})

	assert.Equal(t, uint64(1), recvDelta(t, first).Sequence)
	assert.Equal(t, uint64(1), recvDelta(t, second).Sequence)
	select {
	case d := <-other.C():
		t.Fatalf("event 8 subscriber got a delta for event 7: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_EmptySeatListIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{statuses: map[uint64]model.SeatStatus{1: model.SeatAvailable}}
	b := newTestBroadcaster(t, src, 16)
	_, sub, err := b.Subscribe(ctx, 7, "conn-1")
	require.NoError(t, err)
	defer b.Unsubscribe(sub)

	b.Publish(ctx, 7, DeltaHeld, nil)

	snap, err := b.Snapshot(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.Sequence, "no delta means no sequence burn")
}

func TestSlowSubscriber_DropsOldestAndFlagsGap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{statuses: map[uint64]model.SeatStatus{1: model.SeatAvailable}}
	b := newTestBroadcaster(t, src, 1)

	_, sub, err := b.Subscribe(ctx, 7, "conn-1")
	require.NoError(t, err)
	defer b.Unsubscribe(sub)

	b.Publish(ctx, 7, DeltaHeld, []uint64{1})
	b.Publish(ctx, 7, DeltaSold, []uint64{1})
	b.Publish(ctx, 7, DeltaAvailable, []uint64{1})

	d := recvDelta(t, sub)
	assert.Equal(t, uint64(3), d.Sequence, "only the newest delta survives the overflow")
	assert.True(t, sub.TakeGap(), "overflow marks the subscription gapped")
	assert.False(t, sub.TakeGap(), "the flag reads once")

	// a subscriber that keeps up never gaps
	b.Publish(ctx, 7, DeltaHeld, []uint64{1})
	d = recvDelta(t, sub)
	assert.Equal(t, uint64(4), d.Sequence)
	assert.False(t, sub.TakeGap())
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{statuses: map[uint64]model.SeatStatus{1: model.SeatAvailable}}
	b := newTestBroadcaster(t, src, 16)

	_, sub, err := b.Subscribe(ctx, 7, "conn-1")
	require.NoError(t, err)

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount(7))
	_, open := <-sub.C()
	assert.False(t, open, "queue closes on unsubscribe")

	b.Unsubscribe(sub) // twice is fine
	b.Unsubscribe(nil)
}

func TestResubscribe_SameConnectionReplacesQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{statuses: map[uint64]model.SeatStatus{1: model.SeatAvailable}}
	b := newTestBroadcaster(t, src, 16)

	_, old, err := b.Subscribe(ctx, 7, "conn-1")
	require.NoError(t, err)
	_, cur, err := b.Subscribe(ctx, 7, "conn-1")
	require.NoError(t, err)
	defer b.Unsubscribe(cur)

	assert.Equal(t, 1, b.SubscriberCount(7))
	_, open := <-old.C()
	assert.False(t, open, "the replaced queue closes")

	b.Publish(ctx, 7, DeltaHeld, []uint64{1})
	assert.Equal(t, uint64(1), recvDelta(t, cur).Sequence)

	// unsubscribing the stale handle must not tear down the live one
	b.Unsubscribe(old)
	assert.Equal(t, 1, b.SubscriberCount(7))
}

func TestSubscribe_SourceFailureCleansUp(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: errors.New("backend down")}
	b := newTestBroadcaster(t, src, 16)

	_, _, err := b.Subscribe(context.Background(), 7, "conn-1")
	require.Error(t, err)
	assert.Equal(t, 0, b.SubscriberCount(7))
}
