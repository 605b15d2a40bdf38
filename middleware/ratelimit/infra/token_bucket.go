package infra

import (
	"context"
	"time"

	"webhook-gateway/cache"
	"webhook-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// TokenBucket é a alternativa estrita à janela fixa, baseada em
// golang.org/x/time/rate, com um limiter por chave e expiração por inatividade.
type TokenBucket struct {
	limiters *cache.Store[*rate.Limiter]
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
}

type TokenBucketOption func(*TokenBucket)

func WithIdleTTL(d time.Duration) TokenBucketOption {
	return func(s *TokenBucket) { s.idleTTL = d }
}

func NewTokenBucket(rps float64, burst int, opts ...TokenBucketOption) *TokenBucket {
	return newTokenBucket(rps, burst, time.Now, opts...)
}

func newTokenBucket(rps float64, burst int, now func() time.Time, opts ...TokenBucketOption) *TokenBucket {
	s := &TokenBucket{
		limiters: cache.New[*rate.Limiter](0, cache.WithClock(now)),
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenBucket) RPS() float64 { return float64(s.rps) }
func (s *TokenBucket) Burst() int   { return s.burst }

// Limiter devolve o limiter da chave, criando se preciso, e renova o idleTTL.
func (s *TokenBucket) Limiter(key domain.Key) *rate.Limiter {
	return s.limiters.Update(string(key), func(cur *rate.Limiter, found bool, now time.Time) (*rate.Limiter, time.Time) {
		if !found {
			cur = rate.NewLimiter(s.rps, s.burst)
		}
		return cur, now.Add(s.idleTTL)
	})
}

// Hit implementa domain.Counter.
func (s *TokenBucket) Hit(_ context.Context, key domain.Key) (domain.Quota, error) {
	lim := s.Limiter(key)
	now := s.limiters.Now()
	allowed := lim.AllowN(now, 1)
	return s.quota(lim, now, !allowed), nil
}

func (s *TokenBucket) Peek(_ context.Context, key domain.Key) (domain.Quota, error) {
	now := s.limiters.Now()
	lim, ok := s.limiters.Get(string(key))
	if !ok {
		return domain.Quota{Limit: s.burst, ResetAt: now}, nil
	}
	return s.quota(lim, now, false), nil
}

func (s *TokenBucket) Reset(_ context.Context, key domain.Key) error {
	s.limiters.Delete(string(key))
	return nil
}

// Cleanup remove limiters inativos.
func (s *TokenBucket) Cleanup() int { return s.limiters.Sweep() }

func (s *TokenBucket) StartJanitor(ctx cache.DoneContext, every time.Duration) {
	s.limiters.StartJanitor(ctx, every)
}

func (s *TokenBucket) quota(lim *rate.Limiter, now time.Time, limited bool) domain.Quota {
	tokens := lim.TokensAt(now)
	used := s.burst - int(tokens)
	if used < 0 {
		used = 0
	}
	resetAt := now
	if tokens < 1 && s.rps > 0 {
		missing := 1 - tokens
		resetAt = now.Add(time.Duration(missing / float64(s.rps) * float64(time.Second)))
	}
	return domain.Quota{Limited: limited, Limit: s.burst, Count: used, ResetAt: resetAt}
}
