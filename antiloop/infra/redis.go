package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"webhook-gateway/antiloop/domain"

	"github.com/redis/go-redis/v9"
)

// RedisTracker guarda o anti-loop no Redis para várias instâncias do gateway.
//
// Layout (prefixo padrão webhook:antiloop):
//
//	<prefix>:msg:<instance>:<id>   hash count/instance/remote_jid/content_hash/first_seen/last_seen, PEXPIRE ttl
//	<prefix>:content:<key>         string com o messageID dono, SET NX PX window
type RedisTracker struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type RedisOption func(*RedisTracker)

func WithPrefix(prefix string) RedisOption {
	return func(r *RedisTracker) { r.prefix = strings.Trim(prefix, ":") }
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisTracker) { r.now = now }
}

func NewRedisTracker(rdb redis.UniversalClient, cfg domain.Config, opts ...RedisOption) *RedisTracker {
	r := &RedisTracker{
		rdb:    rdb,
		prefix: "webhook:antiloop",
		ttl:    cfg.MessageTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisTracker) msgKey(s domain.Sighting) string {
	return r.prefix + ":msg:" + s.Key()
}

func (r *RedisTracker) contentKey(s domain.Sighting) string {
	return r.prefix + ":content:" + s.ContentKey()
}

// Touch roda em MULTI/EXEC: o HGET enfileirado antes do HSET devolve o
// last_seen anterior.
func (r *RedisTracker) Touch(ctx context.Context, s domain.Sighting) (domain.ProcessedMessage, time.Time, error) {
	key := r.msgKey(s)
	now := r.now()
	nowMs := now.UnixMilli()

	var (
		prev  *redis.StringCmd
		count *redis.IntCmd
		first *redis.StringCmd
	)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		prev = p.HGet(ctx, key, "last_seen")
		count = p.HIncrBy(ctx, key, "count", 1)
		p.HSetNX(ctx, key, "first_seen", nowMs)
		fields := []any{
			"instance", s.InstanceName,
			"remote_jid", s.RemoteJid,
			"last_seen", nowMs,
		}
		if s.ContentHash != "" {
			fields = append(fields, "content_hash", s.ContentHash)
		}
		p.HSet(ctx, key, fields...)
		first = p.HGet(ctx, key, "first_seen")
		p.PExpire(ctx, key, r.ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.ProcessedMessage{}, time.Time{}, fmt.Errorf("redis antiloop touch: %w", err)
	}

	msg := domain.ProcessedMessage{
		MessageID:    s.MessageID,
		InstanceName: s.InstanceName,
		RemoteJid:    s.RemoteJid,
		ContentHash:  s.ContentHash,
		FirstSeen:    parseMillis(first.Val()),
		Timestamp:    now,
		Count:        int(count.Val()),
	}
	return msg, parseMillis(prev.Val()), nil
}

func (r *RedisTracker) ClaimContent(ctx context.Context, s domain.Sighting, window time.Duration) (string, error) {
	key := r.contentKey(s)
	ok, err := r.rdb.SetNX(ctx, key, s.MessageID, window).Result()
	if err != nil {
		return "", fmt.Errorf("redis antiloop claim: %w", err)
	}
	if ok {
		return s.MessageID, nil
	}

	owner, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expirou entre o SETNX e o GET
		return s.MessageID, nil
	}
	if err != nil {
		return "", fmt.Errorf("redis antiloop claim: %w", err)
	}
	return owner, nil
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
