package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credline/internal/scoring/models"
	"credline/pkg/platform/circuit"
)

func newCache(t *testing.T, opts ...Option) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, opts...), mr
}

func record() *models.Record {
	r := models.Empty("0xaaa")
	r.ApplyInitial(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	return r
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()

	t.Run("miss then hit", func(t *testing.T) {
		c, _ := newCache(t)
		_, err := c.Get(ctx, "0xaaa")
		require.ErrorIs(t, err, ErrMiss)

		require.NoError(t, c.Set(ctx, record()))
		got, err := c.Get(ctx, "0xaaa")
		require.NoError(t, err)
		assert.Equal(t, models.InitialScore, got.Score)
		assert.True(t, got.LastUpdated.Equal(record().LastUpdated))
	})

	t.Run("entries expire", func(t *testing.T) {
		c, mr := newCache(t, WithTTL(time.Minute))
		require.NoError(t, c.Set(ctx, record()))
		mr.FastForward(2 * time.Minute)
		_, err := c.Get(ctx, "0xaaa")
		assert.ErrorIs(t, err, ErrMiss)
	})

	t.Run("invalidate removes the entry", func(t *testing.T) {
		c, _ := newCache(t)
		require.NoError(t, c.Set(ctx, record()))
		require.NoError(t, c.Invalidate(ctx, "0xaaa"))
		_, err := c.Get(ctx, "0xaaa")
		assert.ErrorIs(t, err, ErrMiss)
	})

	t.Run("opens the breaker when redis is down", func(t *testing.T) {
		breaker := circuit.New("test", circuit.WithFailureThreshold(2))
		c, mr := newCache(t, WithBreaker(breaker))
		mr.Close()

		_, err := c.Get(ctx, "0xaaa")
		assert.ErrorIs(t, err, ErrMiss)
		_, err = c.Get(ctx, "0xaaa")
		assert.ErrorIs(t, err, ErrMiss)
		assert.True(t, breaker.IsOpen())
	})

	t.Run("committed writes close the breaker after an outage", func(t *testing.T) {
		breaker := circuit.New("score-cache", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(2))
		c, mr := newCache(t, WithBreaker(breaker))

		mr.Close()
		_, err := c.Get(ctx, "0xaaa")
		require.ErrorIs(t, err, ErrMiss)
		require.True(t, breaker.IsOpen())

		require.NoError(t, mr.Restart())
		require.NoError(t, c.Set(ctx, record()))
		_, err = c.Get(ctx, "0xaaa")
		assert.ErrorIs(t, err, ErrMiss, "reads skip redis while the breaker is open")

		require.NoError(t, c.Set(ctx, record()))
		assert.False(t, breaker.IsOpen())
		got, err := c.Get(ctx, "0xaaa")
		require.NoError(t, err)
		assert.Equal(t, models.InitialScore, got.Score)
	})
}
