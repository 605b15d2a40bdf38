// engine-mock faz o papel do motor de automação em execuções locais: recebe
// as mensagens do gateway, confere a assinatura (se ENGINE_SECRET estiver
// definido) e responde com o status configurado.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"webhook-gateway/apierr"
	"webhook-gateway/middleware/ratelimit"
	"webhook-gateway/middleware/ratelimit/infra"
	"webhook-gateway/middleware/signature"

	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	addr := getenvDefault("LISTEN_ADDR", ":8081")
	// FAIL_FIRST=n responde 503 nas n primeiras entregas (exercita o retry do gateway)
	failFirst := getenvIntDefault("FAIL_FIRST", 0)
	status := getenvIntDefault("RESPONSE_STATUS", http.StatusOK)

	m := &mock{
		log:       log,
		verifier:  signature.NewValidator(os.Getenv("ENGINE_SECRET")),
		failFirst: int64(failFirst),
		status:    status,
	}

	// Como o motor real, limita por instância: excesso vira 429, que o gateway
	// trata como possível loop.
	limiter := infra.NewTokenBucket(getenvFloatDefault("RATE_RPS", 5), getenvIntDefault("RATE_BURST", 10))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	limiter.StartJanitor(ctx, time.Minute)

	mux := http.NewServeMux()
	mux.Handle("/", m)

	h := http.Handler(mux)
	h = ratelimit.Middleware(ratelimit.Options{
		Counter:             limiter,
		KeyHeader:           "X-Instance-Name",
		AddRateLimitHeaders: true,
		Logger:              log,
	})(h)

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("engine mock listening",
		zap.String("addr", addr),
		zap.Int("fail_first", failFirst),
		zap.Int("status", status),
		zap.Bool("verify_signature", m.verifier.Enabled()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}

type mock struct {
	log       *zap.Logger
	verifier  *signature.Validator
	failFirst int64
	status    int

	received atomic.Int64
}

type delivery struct {
	MessageID       string `json:"messageId"`
	InstanceName    string `json:"instanceName"`
	SenderPhone     string `json:"senderPhone"`
	Text            string `json:"text"`
	ProcessingCount int    `json:"processingCount"`
}

func (m *mock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		apierr.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "received": m.received.Load()})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, signature.DefaultMaxBodyBytes))
	if err != nil {
		apierr.Write(w, apierr.Wrap(apierr.KindValidation, "invalid request body", err))
		return
	}

	if m.verifier.Enabled() {
		if err := m.verifier.Verify(body, r.Header.Get(signature.HeaderSignature), r.Header.Get(signature.HeaderTimestamp)); err != nil {
			m.log.Warn("gateway signature rejected", zap.Error(err))
			apierr.Write(w, apierr.Wrap(apierr.KindAuthentication, "invalid signature", err))
			return
		}
	}

	var d delivery
	if err := json.Unmarshal(body, &d); err != nil {
		apierr.Write(w, apierr.Wrap(apierr.KindValidation, "malformed message", err))
		return
	}

	n := m.received.Add(1)
	m.log.Info("message received",
		zap.Int64("n", n),
		zap.String("message_id", d.MessageID),
		zap.String("instance", d.InstanceName),
		zap.String("from", d.SenderPhone),
		zap.Int("processing_count", d.ProcessingCount),
		zap.String("idempotency_key", r.Header.Get("X-Idempotency-Key")),
		zap.String("text", d.Text))

	if n <= m.failFirst {
		apierr.Write(w, apierr.New(apierr.KindUnavailable, "simulated failure"))
		return
	}
	apierr.WriteJSON(w, m.status, apierr.Body{Success: m.status < 300, Message: "received"})
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
