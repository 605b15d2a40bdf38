package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

type Key string

// Quota é o estado de uma chave depois (Hit) ou antes (Peek) de contar uma
// requisição.
type Quota struct {
	Limited bool
	Limit   int
	Count   int
	ResetAt time.Time
}

// Remaining nunca é negativo, mesmo quando Count passou do limite.
func (q Quota) Remaining() int {
	if q.Count >= q.Limit {
		return 0
	}
	return q.Limit - q.Count
}

// Counter conta requisições por chave.
//
// Hit registra uma requisição e diz se ela estourou o limite (isRateLimited).
// Peek só consulta (restante / instante de reset) sem contar.
// A implementação pode ser janela fixa, token bucket, etc.
type Counter interface {
	Hit(ctx context.Context, key Key) (Quota, error)
	Peek(ctx context.Context, key Key) (Quota, error)
	Reset(ctx context.Context, key Key) error
}

// Record é o registro de janela fixa de uma chave.
type Record struct {
	Count         int
	WindowResetAt time.Time
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	// Err vem preenchido quando o store falhou e a decisão foi fail-open.
	Err error
}
