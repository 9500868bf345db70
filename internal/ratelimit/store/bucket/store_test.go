package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"credline/internal/ratelimit/models"
)

const (
	testLimit  = 3
	testWindow = time.Minute
)

type store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
	Reset(ctx context.Context, key string) error
}

// BucketStoreSuite runs the same sliding window contract against every store.
type BucketStoreSuite struct {
	suite.Suite
	newStore func(clock func() time.Time) store
	store    store
	now      time.Time
}

func TestInMemoryBucketStore(t *testing.T) {
	suite.Run(t, &BucketStoreSuite{newStore: func(clock func() time.Time) store {
		return NewInMemoryBucketStore(clock)
	}})
}

func TestRedisBucketStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &BucketStoreSuite{newStore: func(clock func() time.Time) store {
		srv.FlushAll()
		return NewRedisBucketStore(client, clock)
	}})
}

func (s *BucketStoreSuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.store = s.newStore(func() time.Time { return s.now })
}

func (s *BucketStoreSuite) allow(key string) *models.Result {
	result, err := s.store.Allow(context.Background(), key, testLimit, testWindow)
	s.Require().NoError(err)
	return result
}

func (s *BucketStoreSuite) TestAdmitsUpToLimit() {
	first := s.allow("k")
	s.True(first.Allowed)
	s.Equal(testLimit-1, first.Remaining)
	s.Equal(s.now.Add(testWindow), first.ResetAt)

	s.allow("k")
	last := s.allow("k")
	s.True(last.Allowed)
	s.Zero(last.Remaining)

	denied := s.allow("k")
	s.False(denied.Allowed)
	s.Equal(int(testWindow.Seconds()), denied.RetryAfter)
}

func (s *BucketStoreSuite) TestWindowSlides() {
	s.allow("k")
	s.now = s.now.Add(30 * time.Second)
	s.allow("k")
	s.allow("k")
	s.False(s.allow("k").Allowed)

	s.now = s.now.Add(31 * time.Second)
	result := s.allow("k")
	s.True(result.Allowed, "the oldest admission left the window")

	denied := s.allow("k")
	s.False(denied.Allowed)
	s.Equal(29, denied.RetryAfter)
}

func (s *BucketStoreSuite) TestKeysAreIndependent() {
	for range testLimit {
		s.allow("a")
	}
	s.False(s.allow("a").Allowed)
	s.True(s.allow("b").Allowed)
}

func (s *BucketStoreSuite) TestReset() {
	for range testLimit {
		s.allow("k")
	}
	s.Require().NoError(s.store.Reset(context.Background(), "k"))
	s.True(s.allow("k").Allowed)
}

func TestInMemoryStoreEvictsIdleKeys(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewInMemoryBucketStore(func() time.Time { return now })
	ctx := context.Background()

	for _, key := range []string{"ratelimit:ip:10.0.0.1", "ratelimit:ip:10.0.0.2", "ratelimit:caller:0xa1"} {
		_, err := limiter.Allow(ctx, key, testLimit, testWindow)
		require.NoError(t, err)
	}
	assert.Len(t, limiter.buckets, 3)

	now = now.Add(testWindow + time.Second)
	_, err := limiter.Allow(ctx, "ratelimit:caller:0xa1", testLimit, testWindow)
	require.NoError(t, err)
	assert.Len(t, limiter.buckets, 1, "only the active caller keeps a window")
	assert.Contains(t, limiter.buckets, "ratelimit:caller:0xa1")
}
