// Package metrics registra os coletores Prometheus do gateway e expõe o
// handler de /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webhook_gateway"

type Metrics struct {
	registry *prometheus.Registry

	RequestCounter    *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RateLimitDecision *prometheus.CounterVec
	Ignored           *prometheus.CounterVec
	AntiLoopDecision  *prometheus.CounterVec
	AntiLoopSwept     prometheus.Counter
	ForwardAttempts   *prometheus.CounterVec
	ForwardOutcome    *prometheus.CounterVec
	ForwardDuration   prometheus.Histogram
	PanicsRecovered   prometheus.Counter
}

// New cria um registry próprio (sem o global), com os coletores de processo
// e de runtime Go.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "path"}),

		RateLimitDecision: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by path and outcome",
		}, []string{"path", "decision"}),

		Ignored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "ignored_total",
			Help:      "Events ignored by the message filter, by reason",
		}, []string{"reason"}),

		AntiLoopDecision: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "antiloop",
			Name:      "decisions_total",
			Help:      "Anti-loop decisions (admitted, loop_detected, duplicate_content)",
		}, []string{"decision"}),

		AntiLoopSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "antiloop",
			Name:      "swept_total",
			Help:      "Tracked messages removed by the cleanup sweep",
		}),

		ForwardAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "attempts_total",
			Help:      "Delivery attempts to the automation engine by status code",
		}, []string{"status"}),

		ForwardOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "deliveries_total",
			Help:      "Final delivery outcome (success, failed, skipped, queued, queue_full)",
		}, []string{"outcome"}),

		ForwardDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "delivery_duration_seconds",
			Help:      "Total delivery time including retries",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		PanicsRecovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "panics_recovered_total",
			Help:      "Panics recovered in HTTP handlers",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// GaugeFunc registra um gauge calculado na coleta (tamanho de fila, cache).
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware conta requisições e latência. path é o padrão da rota (não a
// URL crua), para manter a cardinalidade fixa.
func (m *Metrics) Middleware(path string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			m.RequestCounter.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusWriter) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }
