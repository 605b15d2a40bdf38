package infra

import (
	"context"
	"time"

	"webhook-gateway/cache"
	"webhook-gateway/middleware/ratelimit/domain"
)

// FixedWindow conta requisições por chave em janela fixa, em memória.
//
// Na virada da janela um cliente pode somar até 2×max em pouco tempo; isso é
// aceito. Para limite estrito use TokenBucket.
type FixedWindow struct {
	records *cache.Store[domain.Record]
	max     int
	window  time.Duration
}

type FixedWindowOption func(*fixedWindowConfig)

type fixedWindowConfig struct {
	maxKeys int
	now     func() time.Time
}

// WithMaxKeys limita quantos clientes distintos ficam em memória.
func WithMaxKeys(n int) FixedWindowOption {
	return func(c *fixedWindowConfig) { c.maxKeys = n }
}

func WithClock(now func() time.Time) FixedWindowOption {
	return func(c *fixedWindowConfig) { c.now = now }
}

func NewFixedWindow(maxRequests int, window time.Duration, opts ...FixedWindowOption) *FixedWindow {
	cfg := fixedWindowConfig{maxKeys: 10000, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FixedWindow{
		records: cache.New[domain.Record](cfg.maxKeys, cache.WithClock(cfg.now)),
		max:     maxRequests,
		window:  window,
	}
}

func (f *FixedWindow) MaxRequests() int      { return f.max }
func (f *FixedWindow) Window() time.Duration { return f.window }

// Hit implementa domain.Counter.
//
// Sem registro ou com a janela vencida (now > resetAt): abre janela nova com
// count=1 e não limita. Caso contrário incrementa e limita se count > max.
func (f *FixedWindow) Hit(_ context.Context, key domain.Key) (domain.Quota, error) {
	rec := f.records.Update(string(key), func(cur domain.Record, found bool, now time.Time) (domain.Record, time.Time) {
		if !found || now.After(cur.WindowResetAt) {
			reset := now.Add(f.window)
			return domain.Record{Count: 1, WindowResetAt: reset}, reset
		}
		cur.Count++
		return cur, cur.WindowResetAt
	})

	return domain.Quota{
		Limited: rec.Count > f.max,
		Limit:   f.max,
		Count:   rec.Count,
		ResetAt: rec.WindowResetAt,
	}, nil
}

// Peek implementa domain.Counter (getRemainingRequests / getResetTime).
func (f *FixedWindow) Peek(_ context.Context, key domain.Key) (domain.Quota, error) {
	rec, ok := f.records.Get(string(key))
	if !ok {
		return domain.Quota{Limit: f.max, ResetAt: f.records.Now().Add(f.window)}, nil
	}
	return domain.Quota{
		Limited: rec.Count > f.max,
		Limit:   f.max,
		Count:   rec.Count,
		ResetAt: rec.WindowResetAt,
	}, nil
}

func (f *FixedWindow) Reset(_ context.Context, key domain.Key) error {
	f.records.Delete(string(key))
	return nil
}

func (f *FixedWindow) Len() int { return f.records.Len() }

// StartJanitor remove janelas vencidas periodicamente. Pare cancelando o contexto.
func (f *FixedWindow) StartJanitor(ctx cache.DoneContext, every time.Duration) {
	f.records.StartJanitor(ctx, every)
}
