package infra

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"admission-gateway/middleware/ratelimit/domain"
)

// PrometheusStats exporta as decisões como métricas.
//
// Não usa a chave do cliente como label (cardinalidade).
type PrometheusStats struct {
	decisions      *prometheus.CounterVec
	delays         *prometheus.HistogramVec
	effectiveLimit *prometheus.GaugeVec
}

func NewPrometheusStats(reg prometheus.Registerer) (*PrometheusStats, error) {
	s := &PrometheusStats{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "admission",
			Name:      "decisions_total",
			Help:      "Admission decisions by policy and reason.",
		}, []string{"policy", "reason"}),
		delays: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "admission",
			Name:      "slowdown_seconds",
			Help:      "Suggested slow down delay for admitted requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"policy"}),
		effectiveLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "admission",
			Name:      "effective_limit",
			Help:      "Last effective request ceiling per policy after load adjustment.",
		}, []string{"policy"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{s.decisions, s.delays, s.effectiveLimit} {
			if err := reg.Register(c); err != nil {
				return nil, domain.ErrConfiguration.Wrap(err)
			}
		}
	}
	return s, nil
}

func (s *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	s.decisions.WithLabelValues(ev.Policy, string(ev.Reason)).Inc()
	if ev.Admit && ev.Delay > 0 {
		s.delays.WithLabelValues(ev.Policy).Observe(ev.Delay.Seconds())
	}
	if ev.Limit > 0 {
		s.effectiveLimit.WithLabelValues(ev.Policy).Set(float64(ev.Limit))
	}
	return nil
}

// MultiStats encaminha o evento para várias stores; retorna o primeiro erro.
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
