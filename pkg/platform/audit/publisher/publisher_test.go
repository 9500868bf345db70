package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "credline/pkg/domain"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/audit/store/memory"
	"credline/pkg/platform/tx"
	"credline/pkg/requestcontext"
)

type recordingStreamer struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingStreamer) Stream(_ context.Context, event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingStreamer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestPublisher_FillsEnvelope(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithMetrics(NewMetrics(prometheus.NewRegistry())))

	subject := id.Address("0xaaa")
	operator := id.Address("0xop")
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithCaller(ctx, operator)
	ctx = requestcontext.WithRequestID(ctx, "req-7")

	err := pub.Emit(ctx, audit.Event{
		Type:      audit.EventUserBlacklisted,
		Component: audit.ComponentScoring,
		Subject:   subject,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	e := events[0]
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, operator, e.Actor)
	assert.Equal(t, "req-7", e.RequestID)
	assert.Equal(t, audit.CategorySecurity, e.Category)
}

func TestPublisher_RequiresType(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore())
	err := pub.Emit(context.Background(), audit.Event{Subject: "0xaaa"})
	require.Error(t, err)
}

func TestPublisher_EventsFollowTransactionOutcome(t *testing.T) {
	store := memory.NewInMemoryStore()
	streamer := &recordingStreamer{}
	pub := NewPublisher(store, WithStreamer(streamer))
	runner := tx.NewSerial()
	subject := id.Address("0xbbb")

	err := runner.RunInTx(context.Background(), func(txCtx context.Context) error {
		return pub.Emit(txCtx, audit.Event{Type: audit.EventScoreUpdated, Subject: subject})
	})
	require.NoError(t, err)

	rejected := errors.New("rejected")
	err = runner.RunInTx(context.Background(), func(txCtx context.Context) error {
		if err := pub.Emit(txCtx, audit.Event{Type: audit.EventScoreUpdated, Subject: subject}); err != nil {
			return err
		}
		return rejected
	})
	require.ErrorIs(t, err, rejected)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, streamer.count())
}

func TestPublisher_ListRecent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	for i := range 5 {
		err := pub.Emit(context.Background(), audit.Event{
			Type:       audit.EventDocumentAdded,
			Subject:    "0xccc",
			Attributes: map[string]string{"index": string(rune('0' + i))},
		})
		require.NoError(t, err)
	}

	recent, err := pub.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].Attr("index"))
	assert.Equal(t, "4", recent[1].Attr("index"))
}
