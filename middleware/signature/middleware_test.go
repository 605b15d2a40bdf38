package signature

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func echoHandler(got *[]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*got = b
		w.WriteHeader(http.StatusOK)
	})
}

func signedRequest(v *Validator, body []byte, ts string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhook/principal", bytes.NewReader(body))
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderSignature, v.Sign(ts, body))
	return r
}

func TestMiddleware_ValidSignaturePassesBodyThrough(t *testing.T) {
	v := newTestValidator()
	var got []byte
	h := Middleware(v, Options{})(echoHandler(&got))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(v, sampleBody, Timestamp(t0)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sampleBody, got)
}

func TestMiddleware_RejectsGenericallyAndLogsReason(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	v := newTestValidator()
	var got []byte
	h := Middleware(v, Options{Logger: zap.New(core)})(echoHandler(&got))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(v, sampleBody, Timestamp(t0.Add(-6*time.Minute))))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"invalid signature"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "timestamp")
	assert.Nil(t, got)

	entries := logs.FilterMessage("webhook signature rejected").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["reason"], "timestamp outside tolerance")
}

func TestMiddleware_MissingHeaders401(t *testing.T) {
	v := newTestValidator()
	var got []byte
	h := Middleware(v, Options{})(echoHandler(&got))

	r := httptest.NewRequest(http.MethodPost, "/webhook/principal", bytes.NewReader(sampleBody))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_GetIsNotVerified(t *testing.T) {
	v := newTestValidator()
	var got []byte
	h := Middleware(v, Options{})(echoHandler(&got))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook/principal", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_BodyTooLarge(t *testing.T) {
	v := newTestValidator()
	var got []byte
	h := Middleware(v, Options{MaxBodyBytes: 16})(echoHandler(&got))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(v, []byte(strings.Repeat("a", 17)), Timestamp(t0)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Nil(t, got)
}

func TestMiddleware_EmptySecretSkipsVerification(t *testing.T) {
	v := NewValidator("")
	var got []byte
	h := Middleware(v, Options{})(echoHandler(&got))

	r := httptest.NewRequest(http.MethodPost, "/webhook/principal", bytes.NewReader(sampleBody))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sampleBody, got)
}
