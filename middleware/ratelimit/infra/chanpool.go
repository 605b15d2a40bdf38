package infra

import (
	"context"
	"sync"

	"webhook-gateway/middleware/ratelimit/domain"
)

// ChanPool é um semáforo sobre um channel com buffer.
type ChanPool struct {
	slots chan struct{}
}

// NewChanPool cria o pool com n vagas (mínimo 1).
func NewChanPool(n int) *ChanPool {
	if n < 1 {
		n = 1
	}
	return &ChanPool{slots: make(chan struct{}, n)}
}

var _ domain.SlotPool = (*ChanPool)(nil)

// Acquire devolve um release idempotente: chamar duas vezes não libera duas vagas.
func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { <-p.slots }) }, true
}

func (p *ChanPool) InUse() int { return len(p.slots) }
func (p *ChanPool) Cap() int   { return cap(p.slots) }
