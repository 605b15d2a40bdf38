package application

import (
	"context"
	"time"

	"webhook-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Counter    domain.Counter
	RetryAfter time.Duration
	Now        func() time.Time
}

// Decide conta a requisição da chave e devolve allow/deny.
//
// Se o Counter falhar (ex.: Redis fora), a decisão é fail-open com Err preenchido.
func (s Service) Decide(ctx context.Context, key domain.Key) domain.Decision {
	if s.Counter == nil {
		return domain.Decision{Allowed: true}
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 1 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}

	q, err := s.Counter.Hit(ctx, key)
	if err != nil {
		return domain.Decision{Allowed: true, Err: err}
	}

	dec := domain.Decision{
		Allowed:   !q.Limited,
		Limit:     q.Limit,
		Remaining: q.Remaining(),
		ResetAt:   q.ResetAt,
	}
	if q.Limited {
		dec.RetryAfter = s.RetryAfter
		if !q.ResetAt.IsZero() {
			if until := q.ResetAt.Sub(s.Now()); until > 0 {
				dec.RetryAfter = until
			}
		}
	}
	return dec
}
