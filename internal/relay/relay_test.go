package relay

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
	"github.com/venuehub/seat-holds/internal/storage"
)

// fakeOutbox hands out pending events and records the bookkeeping calls.
type fakeOutbox struct {
	mu      sync.Mutex
	pending []storage.OutboxEvent
	done    []string
	failed  []string
}

func (f *fakeOutbox) ClaimOutbox(_ context.Context, _ time.Time, limit int) ([]storage.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.pending)
	if limit > 0 && n > limit {
		n = limit
	}
	out := append([]storage.OutboxEvent(nil), f.pending[:n]...)
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeOutbox) MarkOutboxDone(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, ids...)
	return nil
}

func (f *fakeOutbox) MarkOutboxFailed(_ context.Context, ids []string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, ids...)
	return nil
}

func (f *fakeOutbox) snapshot() (done, failed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.done...), append([]string(nil), f.failed...)
}

// fakeStream records published messages; keys named in failKeys reject.
type fakeStream struct {
	mu       sync.Mutex
	keys     []string
	failKeys map[string]bool
}

func (f *fakeStream) Publish(_ context.Context, key, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[string(key)] {
		return errors.New("broker away")
	}
	f.keys = append(f.keys, string(key))
	return nil
}

func (f *fakeStream) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

func newTestRelay(t *testing.T, source OutboxSource, pub EventPublisher) *Relay {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	return New(log, source, pub, clk, metrics.New(prometheus.NewRegistry()), 5*time.Millisecond, 10, 3)
}

func TestRelay_PublishesInOrderAndMarksDone(t *testing.T) {
	t.Parallel()

	outbox := &fakeOutbox{pending: []storage.OutboxEvent{
		{ID: "ev-1", Type: "seats.held", Payload: []byte(`{"seq":1}`)},
		{ID: "ev-2", Type: "seats.sold", Payload: []byte(`{"seq":2}`)},
		{ID: "ev-3", Type: "seats.freed", Payload: []byte(`{"seq":3}`)},
	}}
	stream := &fakeStream{}
	r := newTestRelay(t, outbox, stream)

	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		done, _ := outbox.snapshot()
		return len(done) == 3
	}, time.Second, 10*time.Millisecond)

	done, failed := outbox.snapshot()
	assert.Equal(t, []string{"ev-1", "ev-2", "ev-3"}, done, "claimed order is kept")
	assert.Empty(t, failed)
	assert.Equal(t, []string{"seats.held", "seats.sold", "seats.freed"}, stream.published())
}

func TestRelay_FailedPublishParksOnlyThatEvent(t *testing.T) {
	t.Parallel()

	outbox := &fakeOutbox{pending: []storage.OutboxEvent{
		{ID: "ev-1", Type: "seats.held", Payload: []byte(`{}`)},
		{ID: "ev-2", Type: "seats.poison", Payload: []byte(`{}`)},
		{ID: "ev-3", Type: "seats.freed", Payload: []byte(`{}`)},
	}}
	stream := &fakeStream{failKeys: map[string]bool{"seats.poison": true}}
	r := newTestRelay(t, outbox, stream)

	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		done, failed := outbox.snapshot()
		return len(done) == 2 && len(failed) == 1
	}, time.Second, 10*time.Millisecond)

	done, failed := outbox.snapshot()
	assert.Equal(t, []string{"ev-1", "ev-3"}, done)
	assert.Equal(t, []string{"ev-2"}, failed)
	assert.Equal(t, []string{"seats.held", "seats.freed"}, stream.published())
}

func TestRelay_StopWaitsForLoop(t *testing.T) {
	t.Parallel()

	r := newTestRelay(t, &fakeOutbox{}, &fakeStream{})
	r.Start(context.Background())

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
