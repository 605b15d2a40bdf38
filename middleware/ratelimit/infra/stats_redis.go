package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"webhook-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// Buckets aceitos em WithStatsBucket.
const (
	BucketMinute = "minute"
	BucketNone   = "none"
)

// RedisStatsStore grava contadores de decisões em hashes do Redis, somados
// entre todas as instâncias do gateway.
//
// Layout (prefixo padrão webhook:ratelimit:stats):
//
//	<prefix>:total                 hash allowed/denied, cumulativo
//	<prefix>:minute:<yyyymmddhhmm> hash allowed/denied, expira em ttl
//	<prefix>:route                 hash "<METHOD> <path>:<allowed|denied>"
//	<prefix>:denied_keys           zset das chaves bloqueadas (com trackKeys)
type RedisStatsStore struct {
	rdb       redis.UniversalClient
	prefix    string
	ttl       time.Duration
	bucket    string
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithStatsTTL vale só para os buckets por minuto; total e route não expiram.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if b := strings.ToLower(strings.TrimSpace(bucket)); b != "" {
			s.bucket = b
		}
	}
}

// WithStatsTrackKeys guarda as chaves bloqueadas num ranking. Cuidado com a
// cardinalidade quando a chave é o IP.
func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "webhook:ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: BucketMinute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) totalKey() string      { return s.prefix + ":total" }
func (s *RedisStatsStore) routeKey() string      { return s.prefix + ":route" }
func (s *RedisStatsStore) deniedKeysKey() string { return s.prefix + ":denied_keys" }

func (s *RedisStatsStore) minuteKey(at time.Time) string {
	return s.prefix + ":minute:" + at.UTC().Format("200601021504")
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	field := decisionField(ev.Allowed)
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.totalKey(), field, 1)

	if s.bucket == BucketMinute {
		k := s.minuteKey(at)
		pipe.HIncrBy(ctx, k, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
	}

	route := strings.TrimSpace(ev.Method + " " + ev.Path)
	if route != "" {
		pipe.HIncrBy(ctx, s.routeKey(), route+":"+field, 1)
	}

	if s.trackKeys && !ev.Allowed && ev.Key != "" {
		pipe.ZIncrBy(ctx, s.deniedKeysKey(), 1, string(ev.Key))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis stats record: %w", err)
	}
	return nil
}

// Totals lê os contadores cumulativos.
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	h, err := s.rdb.HGetAll(ctx, s.totalKey()).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("redis stats totals: %w", err)
	}
	allowed, _ := strconv.ParseInt(h["allowed"], 10, 64)
	denied, _ := strconv.ParseInt(h["denied"], 10, 64)
	return Counters{Allowed: allowed, Denied: denied}, nil
}

// TopDenied devolve as n chaves mais bloqueadas (requer trackKeys).
func (s *RedisStatsStore) TopDenied(ctx context.Context, n int64) ([]redis.Z, error) {
	if n <= 0 {
		return nil, nil
	}
	z, err := s.rdb.ZRevRangeWithScores(ctx, s.deniedKeysKey(), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis stats top denied: %w", err)
	}
	return z, nil
}

func decisionField(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
