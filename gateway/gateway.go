// Package gateway monta o servidor do webhook: stores (memória ou Redis),
// motor anti-loop, forwarder, métricas e a cadeia de middlewares.
//
// Ordem da cadeia, de fora para dentro:
//
//	request-id -> recover -> access log -> headers de segurança -> CORS ->
//	(rota do webhook) métricas -> assinatura -> rate limit -> concorrência -> Handler
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"webhook-gateway/antiloop/application"
	"webhook-gateway/antiloop/domain"
	alinfra "webhook-gateway/antiloop/infra"
	"webhook-gateway/apierr"
	"webhook-gateway/config"
	"webhook-gateway/forwarder"
	"webhook-gateway/metrics"
	"webhook-gateway/middleware/ratelimit"
	rldomain "webhook-gateway/middleware/ratelimit/domain"
	rlinfra "webhook-gateway/middleware/ratelimit/infra"
	"webhook-gateway/middleware/requestid"
	"webhook-gateway/middleware/security"
	"webhook-gateway/middleware/signature"
	"webhook-gateway/webhook"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenBucketSweep é o intervalo da limpeza de limiters ociosos.
const tokenBucketSweep = time.Minute

type Gateway struct {
	cfg     config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	version string
	started time.Time

	rdb        redis.UniversalClient
	httpClient *http.Client
	sleep      forwarder.SleepFunc

	engine   *application.Engine
	client   *forwarder.Client
	queue    *forwarder.Queue
	rlStats  *rlinfra.MemoryStatsStore
	janitors []func(ctx context.Context)

	handler http.Handler
}

type Option func(*Gateway)

// WithRedis injeta o cliente usado pelos stores Redis e pelas estatísticas.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(g *Gateway) { g.rdb = rdb }
}

// WithHTTPClient troca o cliente HTTP do forwarder.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithSleep troca a espera do backoff do forwarder.
func WithSleep(fn forwarder.SleepFunc) Option {
	return func(g *Gateway) { g.sleep = fn }
}

// WithClock injeta o relógio em assinatura, rate limit e anti-loop.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithVersion(v string) Option {
	return func(g *Gateway) { g.version = v }
}

// New constrói tudo a partir da configuração já validada. Nada roda em
// segundo plano até Start.
func New(cfg config.Config, log *zap.Logger, opts ...Option) (*Gateway, error) {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		version: "dev",
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = metrics.New()
	}
	g.started = g.now()

	if cfg.UsesRedis() && g.rdb == nil {
		return nil, errors.New("redis client required by store backend or rate stats")
	}

	tracker, err := g.buildTracker()
	if err != nil {
		return nil, err
	}
	g.engine, err = application.NewEngine(cfg.AntiLoopDomain(), tracker)
	if err != nil {
		return nil, fmt.Errorf("anti-loop engine: %w", err)
	}

	if err := g.buildForwarder(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WebhookPath, g.buildWebhookRoute())
	mux.HandleFunc("GET /health", g.health)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, g.metrics.Handler())
	}
	mux.HandleFunc("/", g.notFound)

	h := http.Handler(mux)
	h = security.CORS(security.CORSOptions{AllowedOrigins: cfg.Security.AllowedOrigins})(h)
	h = security.Headers(h)
	h = accessLog(g.log)(h)
	h = recoverer(g.log, g.metrics)(h)
	h = requestid.Middleware(h)
	g.handler = h

	return g, nil
}

func (g *Gateway) Handler() http.Handler     { return g.handler }
func (g *Gateway) Metrics() *metrics.Metrics { return g.metrics }

// Start sobe janitors e workers da fila. Param quando ctx termina.
func (g *Gateway) Start(ctx context.Context) {
	for _, start := range g.janitors {
		start(ctx)
	}
	if g.queue != nil {
		g.queue.Start(ctx)
	}
}

// Shutdown esvazia a fila do modo async (até ctx terminar).
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.queue == nil {
		return nil
	}
	if err := g.queue.Close(ctx); err != nil {
		return fmt.Errorf("draining forward queue: %w", err)
	}
	return nil
}

func (g *Gateway) redisKey(suffix string) string {
	return g.cfg.Store.RedisPrefix + ":" + suffix
}

func (g *Gateway) buildTracker() (domain.Tracker, error) {
	al := g.cfg.AntiLoopDomain()
	if !al.Enabled {
		return nil, nil
	}

	if g.cfg.Store.Backend == config.BackendRedis {
		return alinfra.NewRedisTracker(g.rdb, al,
			alinfra.WithPrefix(g.redisKey("antiloop")),
			alinfra.WithRedisClock(g.now),
		), nil
	}

	t := alinfra.NewMemoryTracker(al,
		alinfra.WithClock(g.now),
		alinfra.WithSweepHook(func(removed, remaining int) {
			g.metrics.AntiLoopSwept.Add(float64(removed))
			if removed > 0 {
				g.log.Debug("anti-loop sweep", zap.Int("removed", removed), zap.Int("remaining", remaining))
			}
		}),
	)
	g.metrics.GaugeFunc("antiloop", "tracked_messages", "Messages currently tracked in memory",
		func() float64 { return float64(t.Len()) })
	g.janitors = append(g.janitors, func(ctx context.Context) { t.StartJanitor(ctx) })
	return t, nil
}

func (g *Gateway) buildCounter() rldomain.Counter {
	rl := g.cfg.RateLimit
	if rl.Algorithm == config.AlgorithmTokenBucket {
		tb := rlinfra.NewTokenBucket(rl.RPS, rl.Burst)
		g.janitors = append(g.janitors, func(ctx context.Context) { tb.StartJanitor(ctx, tokenBucketSweep) })
		return tb
	}

	if g.cfg.Store.Backend == config.BackendRedis {
		return rlinfra.NewRedisFixedWindow(g.rdb, rl.MaxRequests, rl.Window,
			rlinfra.WithWindowPrefix(g.redisKey("ratelimit:window")))
	}

	fw := rlinfra.NewFixedWindow(rl.MaxRequests, rl.Window,
		rlinfra.WithMaxKeys(rl.MaxKeys),
		rlinfra.WithClock(g.now))
	g.janitors = append(g.janitors, func(ctx context.Context) { fw.StartJanitor(ctx, rl.Window) })
	return fw
}

func (g *Gateway) buildStats() rldomain.StatsStore {
	rl := g.cfg.RateLimit
	g.rlStats = rlinfra.NewMemoryStatsStore()
	stats := rlinfra.MultiStats{
		rlinfra.NewPrometheusStatsStore(g.metrics.RateLimitDecision),
		g.rlStats,
	}
	if rl.Stats.Enabled {
		stats = append(stats, rlinfra.NewRedisStatsStore(g.rdb,
			rlinfra.WithStatsPrefix(rl.Stats.Prefix),
			rlinfra.WithStatsTTL(rl.Stats.TTL),
			rlinfra.WithStatsBucket(rl.Stats.Bucket),
			rlinfra.WithStatsTrackKeys(rl.Stats.TrackKeys),
		))
	}
	return stats
}

func (g *Gateway) buildForwarder() error {
	opts := []forwarder.Option{
		forwarder.WithLogger(g.log.Named("forwarder")),
		forwarder.WithObserver(func(a forwarder.Attempt) {
			g.metrics.ForwardAttempts.WithLabelValues(attemptLabel(a)).Inc()
		}),
	}
	if g.httpClient != nil {
		opts = append(opts, forwarder.WithHTTPClient(g.httpClient))
	}
	if g.sleep != nil {
		opts = append(opts, forwarder.WithSleep(g.sleep))
	}

	client, err := forwarder.NewClient(g.cfg.ForwarderConfig(), opts...)
	if err != nil {
		return fmt.Errorf("forwarder: %w", err)
	}
	g.client = client

	e := g.cfg.Engine
	if e.Mode != config.ModeAsync {
		return nil
	}
	g.queue = forwarder.NewQueue(client, e.QueueSize, e.Workers,
		forwarder.WithQueueLogger(g.log.Named("queue")),
		forwarder.WithOnDone(func(_ forwarder.Job, res forwarder.Result, err error) {
			if err != nil {
				g.metrics.ForwardOutcome.WithLabelValues("failed").Inc()
				return
			}
			g.metrics.ForwardOutcome.WithLabelValues("success").Inc()
			g.metrics.ForwardDuration.Observe(res.Duration.Seconds())
		}),
	)
	q := g.queue
	g.metrics.GaugeFunc("forwarder", "queue_depth", "Jobs waiting in the forward queue",
		func() float64 { return float64(q.Len()) })
	return nil
}

func (g *Gateway) buildWebhookRoute() http.Handler {
	cfg := g.cfg

	filter := webhook.NewFilter(
		webhook.WithAcceptedEvents(cfg.Filter.AcceptedEvents...),
		webhook.WithIgnoreFromMe(cfg.Filter.IgnoreFromMe),
	)

	hopts := HandlerOptions{
		Filter:  filter,
		Engine:  g.engine,
		Sender:  g.client,
		Policy:  cfg.Engine.Policy,
		Logger:  g.log.Named("webhook"),
		Metrics: g.metrics,
		Version: g.version,
		Now:     g.now,
	}
	if g.queue != nil {
		hopts.Queue = g.queue
	}

	h := http.Handler(NewHandler(hopts))

	rl := cfg.RateLimit
	if rl.ConcurrencyMax > 0 {
		h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Pool:           rlinfra.NewChanPool(rl.ConcurrencyMax),
			AcquireTimeout: rl.ConcurrencyTimeout,
			Logger:         g.log,
		})(h)
	}
	if rl.Enabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Counter:             g.buildCounter(),
			Stats:               g.buildStats(),
			KeyHeader:           rl.KeyHeader,
			TrustXForwardedFor:  rl.TrustXFF,
			RetryAfter:          rl.RetryAfter,
			AddRateLimitHeaders: rl.AddHeaders,
			Logger:              g.log,
			Now:                 g.now,
		})(h)
	}

	validator := signature.NewValidator(cfg.Security.WebhookSecret,
		signature.WithTolerance(cfg.Security.SignatureTolerance),
		signature.WithClock(g.now))
	if !validator.Enabled() {
		g.log.Warn("WEBHOOK_SECRET not set, signature verification disabled")
	}
	h = signature.Middleware(validator, signature.Options{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       g.log,
	})(h)

	return g.metrics.Middleware(cfg.Server.WebhookPath)(h)
}

type healthBody struct {
	Status     string  `json:"status"`
	Timestamp  string  `json:"timestamp"`
	Uptime     float64 `json:"uptime"`
	Version    string  `json:"version"`
	Goroutines int     `json:"goroutines"`
	Memory     struct {
		AllocBytes uint64 `json:"allocBytes"`
		SysBytes   uint64 `json:"sysBytes"`
	} `json:"memory"`
	AntiLoop  bool              `json:"antiLoop"`
	Mode      string            `json:"mode"`
	RateLimit *rlinfra.Counters `json:"rateLimit,omitempty"`
}

func (g *Gateway) health(w http.ResponseWriter, _ *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	now := g.now()
	b := healthBody{
		Status:     "healthy",
		Timestamp:  now.UTC().Format(time.RFC3339),
		Uptime:     now.Sub(g.started).Seconds(),
		Version:    g.version,
		Goroutines: runtime.NumGoroutine(),
		AntiLoop:   g.engine.Enabled(),
		Mode:       g.cfg.Engine.Mode,
	}
	b.Memory.AllocBytes = ms.Alloc
	b.Memory.SysBytes = ms.Sys
	if g.rlStats != nil {
		total := g.rlStats.Total()
		b.RateLimit = &total
	}
	apierr.WriteJSON(w, http.StatusOK, b)
}

type notFoundBody struct {
	Success            bool     `json:"success"`
	Error              string   `json:"error"`
	AvailableEndpoints []string `json:"availableEndpoints"`
}

func (g *Gateway) notFound(w http.ResponseWriter, _ *http.Request) {
	p := g.cfg.Server.WebhookPath
	endpoints := []string{"GET " + p, "POST " + p, "GET /health"}
	if g.cfg.Metrics.Enabled {
		endpoints = append(endpoints, "GET "+g.cfg.Metrics.Path)
	}
	apierr.WriteJSON(w, http.StatusNotFound, notFoundBody{
		Error:              "endpoint not found",
		AvailableEndpoints: endpoints,
	})
}

func attemptLabel(a forwarder.Attempt) string {
	if a.Status == 0 {
		return "error"
	}
	return strconv.Itoa(a.Status)
}
