package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"webhook-gateway/apierr"
	"webhook-gateway/middleware/ratelimit/application"
	"webhook-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Counter             domain.Counter
	Stats               domain.StatsStore
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
	Logger              *zap.Logger
	// Now é o relógio usado para Retry-After; padrão time.Now.
	Now func() time.Time
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware aplica o rate limit por cliente (X-Client-ID, XFF ou IP).
// Bloqueado: 429 + Retry-After + corpo JSON padrão.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	svc := application.Service{
		Counter:    opts.Counter,
		RetryAfter: opts.RetryAfter,
		Now:        opts.Now,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			dec := svc.Decide(r.Context(), domain.Key(key))
			if dec.Err != nil {
				opts.Logger.Warn("rate limit store failed, allowing request",
					zap.String("client_key", key),
					zap.Error(dec.Err))
			}

			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Key:       domain.Key(key),
					Allowed:   dec.Allowed,
					Remaining: dec.Remaining,
					Method:    r.Method,
					Path:      r.URL.Path,
					At:        opts.Now(),
				}
				if err := opts.Stats.Record(r.Context(), ev); err != nil {
					opts.Logger.Debug("rate limit stats record failed", zap.Error(err))
				}
			}

			if opts.AddRateLimitHeaders && dec.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
				w.Header().Set("X-RateLimit-Reset", formatUnix(dec.ResetAt))
			}

			if !dec.Allowed {
				w.Header().Set("Retry-After", formatRetryAfter(dec.RetryAfter))
				opts.Logger.Info("rate limited",
					zap.String("client_key", key),
					zap.Int("limit", dec.Limit),
					zap.Time("reset_at", dec.ResetAt))
				apierr.Write(w, apierr.New(apierr.KindRateLimited, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
