package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"participants": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("participants")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/participants", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusTooManyRequests, res.Code)

	other := httptest.NewRequest(http.MethodGet, "/v1/participants", nil)
	other.Header.Set("X-Forwarded-For", "10.0.0.9, 10.0.0.1")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, other)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestRateLimiterSeparatesRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"sale":   {RequestsPerMinute: 1, Burst: 1},
		"events": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	sale := limiter.Middleware("sale")(okHandler())
	evts := limiter.Middleware("events")(okHandler())
	open := limiter.Middleware("unlimited")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/sale", nil)
	for _, h := range []http.Handler{sale, evts, open, open} {
		res := httptest.NewRecorder()
		h.ServeHTTP(res, req)
		require.Equal(t, http.StatusOK, res.Code)
	}
	res := httptest.NewRecorder()
	sale.ServeHTTP(res, req)
	require.Equal(t, http.StatusTooManyRequests, res.Code)
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"sale": {RequestsPerMinute: 60, Burst: 1},
	}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }
	handler := limiter.Middleware("sale")(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/v1/sale", nil)
	first.Header.Set("X-Real-IP", "10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), first)
	require.Equal(t, 1, limiter.size())

	now = now.Add(DefaultIdleTTL + time.Second)
	second := httptest.NewRequest(http.MethodGet, "/v1/sale", nil)
	second.Header.Set("X-Real-IP", "10.0.0.2")
	handler.ServeHTTP(httptest.NewRecorder(), second)
	require.Equal(t, 1, limiter.size())
	limiter.mu.Lock()
	_, kept := limiter.visitors["sale|10.0.0.2"]
	_, dropped := limiter.visitors["sale|10.0.0.1"]
	limiter.mu.Unlock()
	require.True(t, kept)
	require.False(t, dropped)
}

func TestRateLimiterIgnoresMalformedForwardedHeaders(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"sale": {RequestsPerMinute: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("sale")(okHandler())

	codes := make([]int, 0, 3)
	for _, header := range []string{"garbage-1", "garbage-2", "not an ip"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/sale", nil)
		req.Header.Set("X-Forwarded-For", header)
		req.Header.Set("X-Real-IP", header)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		codes = append(codes, res.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	require.Equal(t, 1, limiter.size())
}
