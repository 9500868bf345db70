// Package kafka streams committed ledger events to a Kafka topic. Records are
// keyed by subject so each subject's events stay ordered within a partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "credline/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client the publisher needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Metrics tracks publish outcomes.
type Metrics struct {
	PublishTotal   *prometheus.CounterVec
	PublishLatency prometheus.Histogram
}

// NewMetrics registers Kafka publisher metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credline_kafka_publish_total",
			Help: "Total Kafka publish attempts.",
		}, []string{"topic", "status"}),
		PublishLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "credline_kafka_publish_latency_seconds",
			Help:    "Kafka publish latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observe(topic string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PublishTotal.WithLabelValues(topic, status).Inc()
	m.PublishLatency.Observe(time.Since(start).Seconds())
}

// Publisher writes ledger events to one topic.
type Publisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	metrics  *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func New(producer Producer, topic string, opts ...Option) *Publisher {
	p := &Publisher{producer: producer, topic: topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewClient builds a franz-go client tuned for the event stream.
func NewClient(brokers []string, topic string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func EnsureTopic(ctx context.Context, adm *kadm.Client, topic string, partitions int32, replication int16) error {
	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}

// Stream publishes asynchronously; failures are logged and counted. It is
// the after-commit sink of the in-memory ledger.
func (p *Publisher) Stream(ctx context.Context, event audit.Event) {
	rec, err := p.record(event)
	if err != nil {
		p.logger.Error("encode ledger event failed", "type", event.Type, "error", err)
		return
	}
	start := time.Now()
	p.producer.Produce(ctx, rec, func(r *kgo.Record, err error) {
		p.metrics.observe(p.topic, start, err)
		if err != nil {
			p.logger.Error("kafka publish failed",
				"topic", p.topic,
				"type", event.Type,
				"event_id", event.ID,
				"error", err,
			)
		}
	})
}

// PublishSync publishes a batch and waits for every acknowledgement. The
// outbox relay uses it so rows are only marked once Kafka has them.
func (p *Publisher) PublishSync(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		rec, err := p.record(e)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	start := time.Now()
	err := p.producer.ProduceSync(ctx, records...).FirstErr()
	p.metrics.observe(p.topic, start, err)
	if err != nil {
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	return nil
}

func (p *Publisher) record(event audit.Event) (*kgo.Record, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger event: %w", err)
	}
	return &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Subject),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "category", Value: []byte(event.Category)},
			{Key: "component", Value: []byte(event.Component)},
		},
		Timestamp: event.Timestamp,
	}, nil
}
