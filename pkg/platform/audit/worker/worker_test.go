package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/audit/store/postgres"
)

type fakeOutbox struct {
	mu        sync.Mutex
	records   []postgres.OutboxRecord
	published map[int64]time.Time
}

func (f *fakeOutbox) ListUnpublished(_ context.Context, limit int) ([]postgres.OutboxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []postgres.OutboxRecord
	for _, r := range f.records {
		if _, done := f.published[r.Seq]; done {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, seqs []int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range seqs {
		f.published[s] = at
	}
	return nil
}

func (f *fakeOutbox) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeSink struct {
	batches [][]audit.Event
	err     error
}

func (f *fakeSink) PublishSync(_ context.Context, events []audit.Event) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

func newOutbox(n int) *fakeOutbox {
	out := &fakeOutbox{published: map[int64]time.Time{}}
	for i := 1; i <= n; i++ {
		out.records = append(out.records, postgres.OutboxRecord{
			Seq:   int64(i),
			Event: audit.Event{Type: audit.EventScoreUpdated},
		})
	}
	return out
}

func TestDrain(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("relays in batches and marks rows", func(t *testing.T) {
		outbox := newOutbox(5)
		sink := &fakeSink{}
		relay := NewRelay(outbox, sink, WithBatchSize(2), WithClock(func() time.Time { return fixed }))

		n, err := relay.Drain(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, fixed, outbox.published[1])
		assert.Equal(t, fixed, outbox.published[2])
		_, marked := outbox.published[3]
		assert.False(t, marked)
	})

	t.Run("leaves rows unpublished when the sink fails", func(t *testing.T) {
		outbox := newOutbox(3)
		sink := &fakeSink{err: errors.New("broker down")}
		relay := NewRelay(outbox, sink)

		_, err := relay.Drain(context.Background())
		require.Error(t, err)
		assert.Empty(t, outbox.published)
	})

	t.Run("empty outbox", func(t *testing.T) {
		relay := NewRelay(newOutbox(0), &fakeSink{})
		n, err := relay.Drain(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	outbox := newOutbox(3)
	sink := &fakeSink{}
	relay := NewRelay(outbox, sink, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return outbox.publishedCount() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
