// Package worker relays committed events from the Postgres outbox to the
// event stream.
package worker

import (
	"context"
	"log/slog"
	"time"

	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/audit/store/postgres"
)

// Outbox is the read side of the ledger_events table.
type Outbox interface {
	ListUnpublished(ctx context.Context, limit int) ([]postgres.OutboxRecord, error)
	MarkPublished(ctx context.Context, seqs []int64, at time.Time) error
}

// Sink delivers a batch and returns only once every event is acknowledged.
type Sink interface {
	PublishSync(ctx context.Context, events []audit.Event) error
}

// Relay polls the outbox and forwards unpublished events in commit order.
// Delivery is at-least-once: a crash between publish and mark resends the
// batch, and consumers dedupe on event ID.
type Relay struct {
	outbox    Outbox
	sink      Sink
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// Option configures the Relay.
type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

func NewRelay(outbox Outbox, sink Sink, opts ...Option) *Relay {
	r := &Relay{
		outbox:    outbox,
		sink:      sink,
		logger:    slog.Default(),
		interval:  time.Second,
		batchSize: 100,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.Drain(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
				break
			}
			if n < r.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain relays a single batch and reports how many events it forwarded.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	records, err := r.outbox.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	events := make([]audit.Event, 0, len(records))
	seqs := make([]int64, 0, len(records))
	for _, rec := range records {
		events = append(events, rec.Event)
		seqs = append(seqs, rec.Seq)
	}
	if err := r.sink.PublishSync(ctx, events); err != nil {
		return 0, err
	}
	if err := r.outbox.MarkPublished(ctx, seqs, r.now()); err != nil {
		return 0, err
	}
	r.logger.DebugContext(ctx, "outbox batch relayed", "count", len(records), "last_seq", seqs[len(seqs)-1])
	return len(records), nil
}
