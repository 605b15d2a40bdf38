package infra

import (
	"context"
	"sync"
	"time"

	"webhook-gateway/cache"
	"webhook-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// MemoryStatsStore guarda contadores de decisões em memória.
//
// Os contadores por chave expiram após keyTTL sem atividade, para que um
// cliente que gira IPs não faça o mapa crescer sem limite.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters

	byKey  *cache.Store[Counters]
	keyTTL time.Duration
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithTrackKeys liga contadores por chave, cada um vivendo keyTTL desde o último evento.
func WithTrackKeys(keyTTL time.Duration, maxKeys int) MemoryStatsOption {
	return func(s *MemoryStatsStore) {
		s.keyTTL = keyTTL
		s.byKey = cache.New[Counters](maxKeys)
	}
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute: make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	c := s.byRoute[route]
	bump(&s.total, ev.Allowed)
	bump(&c, ev.Allowed)
	s.byRoute[route] = c
	s.mu.Unlock()

	if s.byKey != nil && ev.Key != "" {
		s.byKey.Update(string(ev.Key), func(cur Counters, _ bool, now time.Time) (Counters, time.Time) {
			bump(&cur, ev.Allowed)
			return cur, now.Add(s.keyTTL)
		})
	}
	return nil
}

func bump(c *Counters, allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}

// ByKey devolve os contadores de uma chave, se ainda estiverem vivos.
func (s *MemoryStatsStore) ByKey(key domain.Key) (Counters, bool) {
	if s.byKey == nil {
		return Counters{}, false
	}
	return s.byKey.Get(string(key))
}
