// Package cache is a Redis read-through cache for score queries. It is never
// consulted inside a ledger transaction: credit checks read the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"credline/internal/scoring/models"
	id "credline/pkg/domain"
	"credline/pkg/platform/circuit"
)

const (
	scoreKeyPrefix = "credline:score:"
	defaultTTL     = 5 * time.Minute
)

// ErrMiss reports that the subject is not cached or the cache is bypassed.
var ErrMiss = errors.New("score cache miss")

// RedisCache stores score records as JSON with a TTL. A circuit breaker
// bypasses reads while Redis is failing; writes are always attempted so a
// recovered cache converges on fresh values.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*RedisCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *RedisCache) {
		c.logger = logger
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *RedisCache) {
		if b != nil {
			c.breaker = b
		}
	}
}

func New(client *redis.Client, opts ...Option) *RedisCache {
	c := &RedisCache{
		client:  client,
		ttl:     defaultTTL,
		breaker: circuit.New("score-cache"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func key(subject id.Address) string {
	return scoreKeyPrefix + string(subject)
}

// Get returns the cached record or ErrMiss.
func (c *RedisCache) Get(ctx context.Context, subject id.Address) (*models.Record, error) {
	if c.breaker.IsOpen() {
		return nil, ErrMiss
	}
	raw, err := c.client.Get(ctx, key(subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.breaker.RecordSuccess()
		return nil, ErrMiss
	}
	if err != nil {
		c.recordFailure(err)
		return nil, ErrMiss
	}
	c.breaker.RecordSuccess()
	var record models.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode cached score: %w", err)
	}
	return &record, nil
}

// Set writes through a committed record.
func (c *RedisCache) Set(ctx context.Context, record *models.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode score: %w", err)
	}
	if err := c.client.Set(ctx, key(record.Subject), payload, c.ttl).Err(); err != nil {
		c.recordFailure(err)
		return fmt.Errorf("cache score: %w", err)
	}
	c.breaker.RecordSuccess()
	return nil
}

// Invalidate drops a subject's entry.
func (c *RedisCache) Invalidate(ctx context.Context, subject id.Address) error {
	if err := c.client.Del(ctx, key(subject)).Err(); err != nil {
		c.recordFailure(err)
		return fmt.Errorf("invalidate score: %w", err)
	}
	c.breaker.RecordSuccess()
	return nil
}

func (c *RedisCache) recordFailure(err error) {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("score cache circuit opened", "error", err)
	}
}
