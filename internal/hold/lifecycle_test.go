package hold

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuehub/seat-holds/internal/clock"
	"github.com/venuehub/seat-holds/internal/metrics"
	"github.com/venuehub/seat-holds/internal/model"
	"github.com/venuehub/seat-holds/internal/realtime"
	"github.com/venuehub/seat-holds/internal/storage/memory"
)

// TestHoldLifecycle_StreamMatchesLedger drives a full hold workout with
// the real broadcaster as the notifier and checks that a subscriber who
// folds every delta into the initial snapshot lands exactly on the
// ledger's final state, with gapless sequences along the way.
func TestHoldLifecycle_StreamMatchesLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := clock.NewFake(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	store := memory.NewStore(clk)
	m := metrics.New(prometheus.NewRegistry())
	b := realtime.New(discardLogger(), store, nil, clk, m, 64)
	mgr := New(discardLogger(), store, store, b, nil, clk, m, testParams())

	require.NoError(t, store.PublishSeats(ctx, 1, []*model.Seat{
		{ID: 1, ZoneID: 1, Label: "A-1"},
		{ID: 2, ZoneID: 1, Label: "A-2"},
		{ID: 3, ZoneID: 1, Label: "A-3"},
		{ID: 4, ZoneID: 1, Label: "A-4"},
	}))

	snap, sub, err := b.Subscribe(ctx, 1, "viewer")
	require.NoError(t, err)
	defer b.Unsubscribe(sub)
	require.Equal(t, uint64(0), snap.Sequence)

	sale, err := mgr.RequestHold(ctx, RequestHoldInput{EventID: 1, OwnerID: 42, SeatIDs: []uint64{1, 2}})
	require.NoError(t, err)
	_, err = mgr.ConfirmHold(ctx, sale.HoldID, 42)
	require.NoError(t, err)

	abandoned, err := mgr.RequestHold(ctx, RequestHoldInput{EventID: 1, OwnerID: 43, SeatIDs: []uint64{3}})
	require.NoError(t, err)
	_, err = mgr.ReleaseHold(ctx, abandoned.HoldID, model.ReasonUserCancelled)
	require.NoError(t, err)

	expiring, err := mgr.RequestHold(ctx, RequestHoldInput{EventID: 1, OwnerID: 9, SeatIDs: []uint64{3}})
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, err = mgr.ConfirmHold(ctx, expiring.HoldID, 9)
	require.ErrorIs(t, err, ErrHoldExpired)

	final, err := b.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(6), final.Sequence)

	last := snap.Sequence
	for snap.Sequence < final.Sequence {
		select {
		case d := <-sub.C():
			require.Equal(t, last+1, d.Sequence, "no gaps for a subscriber that keeps up")
			last = d.Sequence
			snap.Apply(d)
		case <-time.After(time.Second):
			t.Fatalf("stream stalled at sequence %d", snap.Sequence)
		}
	}

	assert.False(t, sub.TakeGap())
	assert.Equal(t, final.Seats, snap.Seats)
	assert.Equal(t, map[uint64]string{
		1: "sold",
		2: "sold",
		3: "available",
		4: "available",
	}, snap.Seats)
}
