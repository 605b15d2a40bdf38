package ratelimit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"webhook-gateway/middleware/ratelimit/domain"
	"webhook-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func doRequest(h http.Handler, clientID string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "http://gateway/webhook/principal", strings.NewReader("{}"))
	r.RemoteAddr = "10.0.0.1:1234"
	if clientID != "" {
		r.Header.Set("X-Client-ID", clientID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsMaxThenRejects(t *testing.T) {
	counter := infra.NewFixedWindow(3, time.Minute, infra.WithClock(fixedNow))
	calls := 0
	h := Middleware(Options{
		Counter:             counter,
		KeyHeader:           "X-Client-ID",
		AddRateLimitHeaders: true,
		Now:                 fixedNow,
	})(okHandler(&calls))

	for i := 0; i < 3; i++ {
		w := doRequest(h, "")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := doRequest(h, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1767268860", w.Header().Get("X-RateLimit-Reset"))
	assert.JSONEq(t, `{"success":false,"error":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, 3, calls)
}

func TestMiddleware_RemainingHeaderCountsDown(t *testing.T) {
	counter := infra.NewFixedWindow(5, time.Minute)
	calls := 0
	h := Middleware(Options{Counter: counter, AddRateLimitHeaders: true})(okHandler(&calls))

	w := doRequest(h, "")
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
	w = doRequest(h, "")
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Remaining"))
}

func TestMiddleware_KeyByClientID(t *testing.T) {
	counter := infra.NewFixedWindow(1, time.Minute)
	calls := 0
	h := Middleware(Options{Counter: counter, KeyHeader: "X-Client-ID"})(okHandler(&calls))

	// duas chaves diferentes => ambas passam (cada chave tem sua própria janela)
	assert.Equal(t, http.StatusOK, doRequest(h, "k1").Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "k2").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(h, "k1").Code)
}

func TestMiddleware_TokenBucketRetryAfterRoundsUp(t *testing.T) {
	counter := infra.NewTokenBucket(0.4, 1)
	calls := 0
	h := Middleware(Options{Counter: counter})(okHandler(&calls))

	require.Equal(t, http.StatusOK, doRequest(h, "").Code)
	w := doRequest(h, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	// 1 token a 0.4 rps = 2.5s => 3
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
}

type errCounter struct{}

func (errCounter) Hit(context.Context, domain.Key) (domain.Quota, error) {
	return domain.Quota{}, errors.New("redis: connection refused")
}
func (errCounter) Peek(context.Context, domain.Key) (domain.Quota, error) {
	return domain.Quota{}, nil
}
func (errCounter) Reset(context.Context, domain.Key) error { return nil }

func TestMiddleware_FailsOpenWhenCounterErrors(t *testing.T) {
	calls := 0
	h := Middleware(Options{Counter: errCounter{}, AddRateLimitHeaders: true})(okHandler(&calls))

	w := doRequest(h, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, 1, calls)
}

func TestMiddleware_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	counter := infra.NewFixedWindow(1, time.Minute)
	calls := 0
	h := Middleware(Options{Counter: counter, Stats: stats})(okHandler(&calls))

	doRequest(h, "")
	doRequest(h, "")

	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, stats.Total())
	assert.Equal(t, infra.Counters{Allowed: 1, Denied: 1}, stats.ByRoute()["POST /webhook/principal"])
}

func TestFormatRetryAfter(t *testing.T) {
	assert.Equal(t, "1", formatRetryAfter(0))
	assert.Equal(t, "1", formatRetryAfter(300*time.Millisecond))
	assert.Equal(t, "2", formatRetryAfter(2*time.Second))
	assert.Equal(t, "3", formatRetryAfter(2500*time.Millisecond))
}
