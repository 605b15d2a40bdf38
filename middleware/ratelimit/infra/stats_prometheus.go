package infra

import (
	"context"

	"webhook-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStatsStore expõe as decisões como contador com labels
// path/decision. A chave do cliente não vira label (cardinalidade).
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
}

func NewPrometheusStatsStore(decisions *prometheus.CounterVec) *PrometheusStatsStore {
	return &PrometheusStatsStore{decisions: decisions}
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.decisions.WithLabelValues(ev.Path, decisionField(ev.Allowed)).Inc()
	return nil
}

// MultiStats repassa o evento para vários stores; devolve o primeiro erro.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
