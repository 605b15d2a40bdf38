package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"webhook-gateway/apierr"
	"webhook-gateway/middleware/signature"
	"webhook-gateway/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMsg = webhook.Message{
	MessageID:    "m1",
	InstanceName: "x",
	RemoteJid:    "551199999@s.whatsapp.net",
	SenderPhone:  "551199999",
	SenderName:   "Ana",
	Text:         "hi",
	Event:        "messages.upsert",
}

// recordSleep guarda os atrasos pedidos sem dormir de verdade.
type recordSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func engineReturning(status int, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.WriteHeader(status)
	}))
}

func newTestClient(t *testing.T, url string, rec *recordSleep, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.MaxRetries = 3
	cfg.InitialDelay = 100 * time.Millisecond
	cfg.MaxDelay = 250 * time.Millisecond
	cfg.Timeout = time.Second
	c, err := NewClient(cfg, append([]Option{WithSleep(rec.sleep)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestForward_ServerErrorRetriesMaxRetriesWithGrowingDelays(t *testing.T) {
	var calls int32
	srv := engineReturning(http.StatusInternalServerError, &calls)
	defer srv.Close()
	rec := &recordSleep{}
	c := newTestClient(t, srv.URL, rec)

	_, err := c.Forward(context.Background(), testMsg, 1)
	require.Error(t, err)

	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "1 attempt + 3 retries")
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}, rec.delays)
	for i := 1; i < len(rec.delays); i++ {
		assert.GreaterOrEqual(t, rec.delays[i], rec.delays[i-1])
	}

	assert.Equal(t, apierr.KindForwarding, apierr.KindOf(err))
	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 4, fe.Attempts)
	assert.Equal(t, http.StatusInternalServerError, fe.LastStatus)
	assert.False(t, fe.Terminal)
}

func TestForward_ClientErrorDoesNotRetry(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusTooManyRequests} {
		var calls int32
		srv := engineReturning(status, &calls)
		rec := &recordSleep{}
		c := newTestClient(t, srv.URL, rec)

		_, err := c.Forward(context.Background(), testMsg, 1)
		srv.Close()

		require.Error(t, err, "status %d", status)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "status %d", status)
		assert.Empty(t, rec.delays)
		var fe *Error
		require.True(t, errors.As(err, &fe))
		assert.True(t, fe.Terminal)
		assert.Equal(t, status, fe.LastStatus)
	}
}

func TestForward_RequestTimeoutStatusIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusRequestTimeout)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	rec := &recordSleep{}
	c := newTestClient(t, srv.URL, rec)

	res, err := c.Forward(context.Background(), testMsg, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, rec.delays)
}

func TestForward_RecoversAfterTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, &recordSleep{})

	res, err := c.Forward(context.Background(), testMsg, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
}

func TestForward_ConnectionErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	rec := &recordSleep{}
	c := newTestClient(t, url, rec)

	_, err := c.Forward(context.Background(), testMsg, 1)
	require.Error(t, err)
	assert.Len(t, rec.delays, 3)
	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 0, fe.LastStatus)
}

func TestForward_PerAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRetries = 1
	rec := &recordSleep{}
	c, err := NewClient(cfg, WithSleep(rec.sleep))
	require.NoError(t, err)

	_, err = c.Forward(context.Background(), testMsg, 1)
	require.Error(t, err)
	assert.Len(t, rec.delays, 1, "timeout is transient")
}

func TestForward_CancelledContextAbandonsBackoff(t *testing.T) {
	var calls int32
	srv := engineReturning(http.StatusServiceUnavailable, &calls)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	c, err := NewClient(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = c.Forward(ctx, testMsg, 1)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Terminal)
}

func TestForward_HeadersBodyAndSignature(t *testing.T) {
	var (
		got    http.Header
		body   []byte
		called int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&called, 1)
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.Secret = "engine-secret"
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.Forward(context.Background(), testMsg, 3)
	require.NoError(t, err)
	require.Equal(t, int32(1), called)

	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "x:m1", got.Get("X-Idempotency-Key"))
	assert.Equal(t, "x", got.Get("X-Instance-Name"))
	assert.Equal(t, "m1", got.Get("X-Message-ID"))
	assert.Equal(t, "3", got.Get("X-Processing-Count"))

	v := signature.NewValidator("engine-secret")
	assert.NoError(t, v.Verify(body, got.Get(signature.HeaderSignature), got.Get(signature.HeaderTimestamp)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "hi", decoded["text"])
	assert.Equal(t, "551199999", decoded["senderPhone"])
	assert.Equal(t, float64(3), decoded["processingCount"])
}

func TestForward_ObserverSeesEveryAttempt(t *testing.T) {
	var calls int32
	srv := engineReturning(http.StatusInternalServerError, &calls)
	defer srv.Close()

	var attempts []Attempt
	c := newTestClient(t, srv.URL, &recordSleep{}, WithObserver(func(a Attempt) {
		attempts = append(attempts, a)
	}))

	_, _ = c.Forward(context.Background(), testMsg, 1)
	require.Len(t, attempts, 4)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, http.StatusInternalServerError, a.Status)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "url required")

	cfg.URL = "http://engine"
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.MaxDelay = cfg.InitialDelay / 2
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.MaxRetries = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.MaxDelay = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig, "max delay required")

	bad = cfg
	bad.InitialDelay = 0
	assert.NoError(t, bad.Validate(), "zero initial delay retries immediately")
}
