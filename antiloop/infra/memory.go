package infra

import (
	"context"
	"time"

	"webhook-gateway/antiloop/domain"
	"webhook-gateway/cache"
)

type MemoryTracker struct {
	messages *cache.Store[domain.ProcessedMessage]
	contents *cache.Store[string]
	ttl      time.Duration
	every    time.Duration
}

type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	now     func() time.Time
	onSweep func(removed, remaining int)
}

func WithClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) { c.now = now }
}

// WithSweepHook é chamado após cada varredura da tabela de mensagens.
func WithSweepHook(fn func(removed, remaining int)) MemoryOption {
	return func(c *memoryConfig) { c.onSweep = fn }
}

func NewMemoryTracker(cfg domain.Config, opts ...MemoryOption) *MemoryTracker {
	c := memoryConfig{now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}

	msgOpts := []cache.Option{cache.WithClock(c.now)}
	if c.onSweep != nil {
		msgOpts = append(msgOpts, cache.WithSweepHook(c.onSweep))
	}

	return &MemoryTracker{
		messages: cache.New[domain.ProcessedMessage](cfg.MaxCacheSize, msgOpts...),
		contents: cache.New[string](cfg.MaxCacheSize, cache.WithClock(c.now)),
		ttl:      cfg.MessageTTL,
		every:    cfg.CleanupInterval,
	}
}

func (m *MemoryTracker) Touch(_ context.Context, s domain.Sighting) (domain.ProcessedMessage, time.Time, error) {
	var prevSeen time.Time
	msg := m.messages.Update(s.Key(), func(cur domain.ProcessedMessage, found bool, now time.Time) (domain.ProcessedMessage, time.Time) {
		if !found {
			cur = domain.ProcessedMessage{
				MessageID:    s.MessageID,
				InstanceName: s.InstanceName,
				RemoteJid:    s.RemoteJid,
				FirstSeen:    now,
			}
		} else {
			prevSeen = cur.Timestamp
		}
		if s.ContentHash != "" {
			cur.ContentHash = s.ContentHash
		}
		cur.Count++
		cur.Timestamp = now
		return cur, now.Add(m.ttl)
	})
	return msg, prevSeen, nil
}

func (m *MemoryTracker) ClaimContent(_ context.Context, s domain.Sighting, window time.Duration) (string, error) {
	owner, _ := m.contents.Add(s.ContentKey(), s.MessageID, window)
	return owner, nil
}

// Len conta as mensagens rastreadas (inclui vencidas ainda não varridas).
func (m *MemoryTracker) Len() int { return m.messages.Len() }

// Evictions conta mensagens removidas antes do TTL por falta de espaço.
func (m *MemoryTracker) Evictions() uint64 { return m.messages.Evictions() }

// Sweep remove mensagens e conteúdos vencidos.
func (m *MemoryTracker) Sweep() int {
	m.contents.Sweep()
	return m.messages.Sweep()
}

// StartJanitor varre as duas tabelas a cada CleanupInterval até ctx terminar.
func (m *MemoryTracker) StartJanitor(ctx cache.DoneContext) {
	m.messages.StartJanitor(ctx, m.every)
	m.contents.StartJanitor(ctx, m.every)
}
