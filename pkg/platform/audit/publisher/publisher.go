// Package publisher emits ledger domain events. Events are appended to the
// event store inside the caller's transaction and, once that transaction
// commits, forwarded to an optional streaming sink.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	id "credline/pkg/domain"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/tx"
	"credline/pkg/requestcontext"
)

// Streamer forwards committed events to an external observer (Kafka).
// Implementations must not block the caller.
type Streamer interface {
	Stream(ctx context.Context, event audit.Event)
}

// Metrics tracks event emission.
type Metrics struct {
	Emitted         *prometheus.CounterVec
	PersistFailures prometheus.Counter
}

// NewMetrics registers publisher metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credline_events_emitted_total",
			Help: "Total number of domain events appended to the event log",
		}, []string{"type", "category"}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "credline_events_persist_failures_total",
			Help: "Total number of domain events that failed to persist",
		}),
	}
}

// Publisher emits events with fail-closed semantics: if the event cannot be
// appended the calling operation must fail, which rolls its state back.
type Publisher struct {
	store    audit.Store
	streamer Streamer
	logger   *slog.Logger
	metrics  *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithStreamer forwards committed events to s.
func WithStreamer(s Streamer) Option {
	return func(p *Publisher) {
		p.streamer = s
	}
}

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit fills envelope fields from the request context and appends the event.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Type == "" {
		return fmt.Errorf("event requires Type")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Actor.IsNil() {
		event.Actor = requestcontext.Caller(ctx)
	}
	event.Category = event.Type.Category()

	if err := p.store.Append(ctx, event); err != nil {
		if p.metrics != nil {
			p.metrics.PersistFailures.Inc()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "event persistence failed",
				"type", event.Type,
				"subject", event.Subject,
				"error", err,
			)
		}
		return fmt.Errorf("event persistence failed: %w", err)
	}

	tx.OnCommit(ctx, func() {
		if p.metrics != nil {
			p.metrics.Emitted.WithLabelValues(string(event.Type), string(event.Category)).Inc()
		}
		if p.streamer != nil {
			p.streamer.Stream(context.WithoutCancel(ctx), event)
		}
	})
	return nil
}

// List returns a subject's events in commit order.
func (p *Publisher) List(ctx context.Context, subject id.Address) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// ListRecent returns the most recent events across all subjects.
func (p *Publisher) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return p.store.ListRecent(ctx, limit)
}
