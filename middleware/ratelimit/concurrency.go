package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"webhook-gateway/apierr"
	"webhook-gateway/middleware/ratelimit/application"
	"webhook-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

type ConcurrencyOptions struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
	Logger         *zap.Logger
}

// ConcurrencyMiddleware limita quantos webhooks são processados ao mesmo tempo
// (cada um pode ficar preso no retry do forwarder). Sem vaga até o timeout: 503.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Pool == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, err := svc.Acquire(r.Context())
			if err != nil {
				if errors.Is(err, domain.ErrNoSlot) {
					opts.Logger.Warn("concurrency limit reached",
						zap.Int("in_use", opts.Pool.InUse()),
						zap.Int("cap", opts.Pool.Cap()))
				}
				apierr.Write(w, apierr.Wrap(apierr.KindUnavailable, "server busy", err))
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
