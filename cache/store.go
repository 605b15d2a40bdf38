package cache

import (
	"container/heap"
	"sync"
	"time"
)

// Store é um mapa chave→valor com expiração absoluta por entrada e tamanho
// máximo. Seguro para uso concorrente.
//
// Quando cheio, o Set de uma chave nova remove a entrada com a expiração mais
// próxima (não é LRU). Entradas expiradas são removidas de forma preguiçosa em
// Get/Has e de forma proativa por Sweep / StartJanitor.
type Store[V any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[V]
	byExpiry   expiryHeap[V]
	maxEntries int

	now       func() time.Time
	onSweep   func(removed, remaining int)
	evictions uint64
}

// UpdateFunc recebe o valor atual (found=false se ausente ou expirado) e o
// instante corrente do relógio do store, e devolve o novo valor e sua
// expiração absoluta.
type UpdateFunc[V any] func(cur V, found bool, now time.Time) (next V, expiresAt time.Time)

type options struct {
	now     func() time.Time
	onSweep func(removed, remaining int)
}

type Option func(*options)

// WithClock troca o relógio usado para expiração (útil em testes).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSweepHook registra um callback chamado após cada Sweep.
func WithSweepHook(fn func(removed, remaining int)) Option {
	return func(o *options) { o.onSweep = fn }
}

// New cria um store. maxEntries <= 0 significa sem limite.
func New[V any](maxEntries int, opts ...Option) *Store[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[V]{
		entries:    make(map[string]*entry[V]),
		maxEntries: maxEntries,
		now:        o.now,
		onSweep:    o.onSweep,
	}
}

// Now devolve o instante segundo o relógio do store.
func (s *Store[V]) Now() time.Time { return s.now() }

func (s *Store[V]) Set(key string, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, s.now().Add(ttl))
}

// Get devolve o valor se presente e não expirado. Uma entrada expirada é
// removida na hora.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.liveLocked(key, s.now())
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Has faz a mesma checagem de expiração de Get sem estender a vida da entrada.
func (s *Store[V]) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.liveLocked(key, s.now())
	return ok
}

// Update executa read-modify-write atômico sobre a chave.
func (s *Store[V]) Update(key string, fn UpdateFunc[V]) V {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var cur V
	e, found := s.liveLocked(key, now)
	if found {
		cur = e.value
	}
	next, expiresAt := fn(cur, found, now)
	s.setLocked(key, next, expiresAt)
	return next
}

// Add grava somente se a chave estiver ausente ou expirada. Devolve o valor
// vigente e se ele foi gravado agora.
func (s *Store[V]) Add(key string, value V, ttl time.Duration) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.liveLocked(key, now); ok {
		return e.value, false
	}
	s.setLocked(key, value, now.Add(ttl))
	return value, true
}

func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeLocked(e)
	return true
}

// Len inclui entradas expiradas que ainda não foram varridas.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Evictions conta remoções por pressão de tamanho (não inclui expirações).
func (s *Store[V]) Evictions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}

// Sweep remove todas as entradas expiradas e devolve quantas saíram.
// O heap garante que só as entradas vencidas são visitadas.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	now := s.now()
	removed := 0
	for len(s.byExpiry) > 0 && now.After(s.byExpiry[0].expiresAt) {
		s.removeLocked(s.byExpiry[0])
		removed++
	}
	remaining := len(s.entries)
	hook := s.onSweep
	s.mu.Unlock()

	if hook != nil {
		hook(removed, remaining)
	}
	return removed
}

// StartJanitor inicia uma goroutine que chama Sweep a cada `every`.
// Pare cancelando o contexto.
func (s *Store[V]) StartJanitor(ctx DoneContext, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}

// DoneContext é o mínimo necessário de context.Context para o janitor.
type DoneContext interface {
	Done() <-chan struct{}
}

func (s *Store[V]) liveLocked(key string, now time.Time) (*entry[V], bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		s.removeLocked(e)
		return nil, false
	}
	return e, true
}

func (s *Store[V]) setLocked(key string, value V, expiresAt time.Time) {
	if e, ok := s.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		heap.Fix(&s.byExpiry, e.index)
		return
	}

	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictNearestLocked()
	}

	e := &entry[V]{key: key, value: value, expiresAt: expiresAt}
	s.entries[key] = e
	heap.Push(&s.byExpiry, e)
}

func (s *Store[V]) evictNearestLocked() {
	if len(s.byExpiry) == 0 {
		return
	}
	s.removeLocked(s.byExpiry[0])
	s.evictions++
}

func (s *Store[V]) removeLocked(e *entry[V]) {
	heap.Remove(&s.byExpiry, e.index)
	delete(s.entries, e.key)
}
