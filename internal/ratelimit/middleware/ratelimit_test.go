package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"credline/internal/ratelimit/metrics"
	"credline/internal/ratelimit/models"
	"credline/internal/ratelimit/store/bucket"
	id "credline/pkg/domain"
	"credline/pkg/requestcontext"
	httptest "credline/pkg/testutil"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.Result, error) {
	return nil, errors.New("redis down")
}

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	ok      = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
)

func TestRateLimitPerCaller(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	mw := New(bucket.NewInMemoryBucketStore(nil), 2, time.Minute, WithLogger(discard), WithMetrics(m))
	handler := mw.RateLimit(ok)

	as := func(caller id.Address) *http.Request {
		req := httptest.NewRequest(t, http.MethodGet, "/v1/events")
		return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
	}

	httptest.AssertStatusOK(t, httptest.DoRequest(handler, as("0xa1")))
	rr := httptest.DoRequest(handler, as("0xa1"))
	httptest.AssertStatusOK(t, rr)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = httptest.DoRequest(handler, as("0xa1"))
	httptest.AssertStatusAndError(t, rr, http.StatusTooManyRequests, "rate_limit_exceeded")
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	httptest.AssertStatusOK(t, httptest.DoRequest(handler, as("0xb1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("caller", "rejected")))
}

func TestRateLimitFallsBackToClientIP(t *testing.T) {
	handler := New(bucket.NewInMemoryBucketStore(nil), 1, time.Minute, WithLogger(discard)).RateLimit(ok)

	req := httptest.NewRequest(t, http.MethodGet, "/healthz")
	req.RemoteAddr = "10.0.0.1:4000"
	httptest.AssertStatusOK(t, httptest.DoRequest(handler, req))

	req = httptest.NewRequest(t, http.MethodGet, "/healthz")
	req.RemoteAddr = "10.0.0.1:4001"
	httptest.AssertStatus(t, httptest.DoRequest(handler, req), http.StatusTooManyRequests)
}

func TestRateLimitFailsOpen(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	handler := New(failingStore{}, 1, time.Minute, WithLogger(discard), WithMetrics(m)).RateLimit(ok)

	for range 3 {
		httptest.AssertStatusOK(t, httptest.DoRequest(handler, httptest.NewRequest(t, http.MethodGet, "/")))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StoreErrors))
}
