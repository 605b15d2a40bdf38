package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"webhook-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript incrementa o contador e só arma o PEXPIRE na primeira
// requisição da janela. Quando a chave expira o próximo INCR abre janela nova.
var fixedWindowScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {c, ttl}
`)

// RedisFixedWindow tem a mesma semântica de FixedWindow, mas com o estado no
// Redis, compartilhado entre instâncias do gateway.
type RedisFixedWindow struct {
	rdb    redis.UniversalClient
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

type RedisWindowOption func(*RedisFixedWindow)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(s *RedisFixedWindow) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisFixedWindow(rdb redis.UniversalClient, maxRequests int, window time.Duration, opts ...RedisWindowOption) *RedisFixedWindow {
	s := &RedisFixedWindow{
		rdb:    rdb,
		prefix: "webhook:ratelimit:window",
		max:    maxRequests,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisFixedWindow) key(k domain.Key) string {
	return s.prefix + ":" + string(k)
}

func (s *RedisFixedWindow) Hit(ctx context.Context, key domain.Key) (domain.Quota, error) {
	res, err := fixedWindowScript.Run(ctx, s.rdb, []string{s.key(key)}, s.window.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.Quota{}, fmt.Errorf("redis fixed window hit: %w", err)
	}
	if len(res) != 2 {
		return domain.Quota{}, fmt.Errorf("redis fixed window hit: unexpected reply %v", res)
	}

	count := int(res[0])
	return domain.Quota{
		Limited: count > s.max,
		Limit:   s.max,
		Count:   count,
		ResetAt: s.resetAt(res[1]),
	}, nil
}

func (s *RedisFixedWindow) Peek(ctx context.Context, key domain.Key) (domain.Quota, error) {
	k := s.key(key)
	pipe := s.rdb.Pipeline()
	get := pipe.Get(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.Quota{}, fmt.Errorf("redis fixed window peek: %w", err)
	}

	count, err := get.Int()
	if err == redis.Nil {
		return domain.Quota{Limit: s.max, ResetAt: s.now().Add(s.window)}, nil
	}
	if err != nil {
		return domain.Quota{}, fmt.Errorf("redis fixed window peek: %w", err)
	}
	pttl := ttl.Val().Milliseconds()
	if ttl.Val() < 0 {
		pttl = -1
	}
	return domain.Quota{
		Limited: count > s.max,
		Limit:   s.max,
		Count:   count,
		ResetAt: s.resetAt(pttl),
	}, nil
}

func (s *RedisFixedWindow) Reset(ctx context.Context, key domain.Key) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// resetAt converte o PTTL em instante absoluto. PTTL negativo (sem expiração)
// é tratado como janela cheia.
func (s *RedisFixedWindow) resetAt(pttlMs int64) time.Time {
	if pttlMs < 0 {
		return s.now().Add(s.window)
	}
	return s.now().Add(time.Duration(pttlMs) * time.Millisecond)
}
