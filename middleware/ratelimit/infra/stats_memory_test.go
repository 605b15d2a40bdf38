package infra

import (
	"context"
	"testing"
	"time"

	"webhook-gateway/middleware/ratelimit/domain"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStatsStore_CountsByRouteAndKey(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(time.Minute, 100))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Key: "a", Allowed: true, Method: "POST", Path: "/webhook/principal"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "a", Allowed: false, Method: "POST", Path: "/webhook/principal"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "b", Allowed: true, Method: "GET", Path: "/webhook/principal"})

	assert.Equal(t, Counters{Allowed: 2, Denied: 1}, s.Total())
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, s.ByRoute()["POST /webhook/principal"])

	c, ok := s.ByKey("a")
	assert.True(t, ok)
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, c)
}

func TestMemoryStatsStore_NoKeyTrackingByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "a", Allowed: true})

	_, ok := s.ByKey("a")
	assert.False(t, ok)
}

type failingStats struct{ err error }

func (f failingStats) Record(context.Context, domain.StatsEvent) error { return f.err }

func TestMultiStats_RecordsEverywhereAndReturnsFirstError(t *testing.T) {
	mem := NewMemoryStatsStore()
	boom := assert.AnError
	m := MultiStats{failingStats{err: boom}, nil, mem}

	err := m.Record(context.Background(), domain.StatsEvent{Allowed: false})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), mem.Total().Denied)
}
