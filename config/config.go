// Package config carrega a configuração do gateway: arquivo YAML opcional
// (com expansão de ${VAR}), depois variáveis de ambiente por cima, depois
// Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"webhook-gateway/antiloop/domain"
	"webhook-gateway/forwarder"
	"webhook-gateway/middleware/signature"
	"webhook-gateway/webhook"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	AlgorithmFixedWindow = "fixed_window"
	AlgorithmTokenBucket = "token_bucket"

	ModeSync  = "sync"
	ModeAsync = "async"

	PolicyEveryAdmitted = "every_admitted"
	PolicyFirstOnly     = "first_only"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	AntiLoop  AntiLoopConfig  `yaml:"anti_loop"`
	Filter    FilterConfig    `yaml:"filter"`
	Engine    EngineConfig    `yaml:"engine"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	WebhookPath     string        `yaml:"webhook_path"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type SecurityConfig struct {
	WebhookSecret      string        `yaml:"webhook_secret"`
	SignatureTolerance time.Duration `yaml:"signature_tolerance"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// Algorithm: fixed_window (padrão) ou token_bucket.
	Algorithm   string        `yaml:"algorithm"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	MaxKeys     int           `yaml:"max_keys"`
	RPS         float64       `yaml:"rps"`
	Burst       int           `yaml:"burst"`

	KeyHeader  string        `yaml:"key_header"`
	TrustXFF   bool          `yaml:"trust_xff"`
	AddHeaders bool          `yaml:"add_headers"`
	RetryAfter time.Duration `yaml:"retry_after"`

	ConcurrencyMax     int           `yaml:"concurrency_max"`
	ConcurrencyTimeout time.Duration `yaml:"concurrency_timeout"`

	Stats StatsConfig `yaml:"stats"`
}

type StatsConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Bucket    string        `yaml:"bucket"`
	TrackKeys bool          `yaml:"track_keys"`
}

type AntiLoopConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxCacheSize    int           `yaml:"max_cache_size"`
	MessageTTL      time.Duration `yaml:"message_ttl"`
	LoopThreshold   int           `yaml:"loop_threshold"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
}

type FilterConfig struct {
	AcceptedEvents []string `yaml:"accepted_events"`
	IgnoreFromMe   bool     `yaml:"ignore_from_me"`
}

type EngineConfig struct {
	URL          string        `yaml:"url"`
	Secret       string        `yaml:"secret"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`

	// Mode: sync (segura a resposta até a entrega) ou async (fila).
	Mode      string `yaml:"mode"`
	Policy    string `yaml:"policy"`
	QueueSize int    `yaml:"queue_size"`
	Workers   int    `yaml:"workers"`
}

type StoreConfig struct {
	// Backend dos contadores e do anti-loop: memory ou redis.
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File liga a saída rotacionada além do stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Default() Config {
	al := domain.DefaultConfig()
	fw := forwarder.DefaultConfig()
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			WebhookPath:     "/webhook/principal",
			MaxBodyBytes:    signature.DefaultMaxBodyBytes,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			SignatureTolerance: signature.DefaultTolerance,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			Algorithm:      AlgorithmFixedWindow,
			MaxRequests:    30,
			Window:         time.Minute,
			MaxKeys:        10000,
			RPS:            0.5,
			Burst:          30,
			KeyHeader:      "X-Client-ID",
			AddHeaders:     true,
			RetryAfter:     time.Second,
			ConcurrencyMax: 100,
			Stats: StatsConfig{
				Prefix: "webhook:ratelimit:stats",
				TTL:    24 * time.Hour,
				Bucket: "minute",
			},
		},
		AntiLoop: AntiLoopConfig{
			Enabled:         al.Enabled,
			MaxCacheSize:    al.MaxCacheSize,
			MessageTTL:      al.MessageTTL,
			LoopThreshold:   al.LoopThreshold,
			CleanupInterval: al.CleanupInterval,
			DuplicateWindow: al.DuplicateWindow,
		},
		Filter: FilterConfig{
			AcceptedEvents: append([]string(nil), webhook.DefaultAcceptedEvents...),
			IgnoreFromMe:   true,
		},
		Engine: EngineConfig{
			Timeout:      fw.Timeout,
			MaxRetries:   fw.MaxRetries,
			InitialDelay: fw.InitialDelay,
			MaxDelay:     fw.MaxDelay,
			Mode:         ModeSync,
			Policy:       PolicyEveryAdmitted,
			QueueSize:    1000,
			Workers:      4,
		},
		Store: StoreConfig{
			Backend:     BackendMemory,
			RedisPrefix: "webhook",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load monta a configuração. path vazio pula o arquivo.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars troca ${VAR} pelo valor da variável (vazio se ausente).
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.ListenAddr = getenvDefault("LISTEN_ADDR", s.ListenAddr)
	s.WebhookPath = getenvDefault("WEBHOOK_PATH", s.WebhookPath)
	s.MaxBodyBytes = getenvInt64Default("MAX_BODY_BYTES", s.MaxBodyBytes)
	s.ShutdownTimeout = getenvDurationDefault("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	sec := &cfg.Security
	sec.WebhookSecret = getenvDefault("WEBHOOK_SECRET", sec.WebhookSecret)
	sec.SignatureTolerance = getenvDurationDefault("SIGNATURE_TOLERANCE", sec.SignatureTolerance)
	sec.AllowedOrigins = getenvListDefault("CORS_ALLOWED_ORIGINS", sec.AllowedOrigins)

	rl := &cfg.RateLimit
	rl.Enabled = getenvBoolDefault("RATE_ENABLED", rl.Enabled)
	rl.Algorithm = strings.ToLower(getenvDefault("RATE_ALGORITHM", rl.Algorithm))
	rl.MaxRequests = getenvIntDefault("RATE_MAX_REQUESTS", rl.MaxRequests)
	rl.Window = getenvDurationDefault("RATE_WINDOW", rl.Window)
	rl.MaxKeys = getenvIntDefault("RATE_MAX_KEYS", rl.MaxKeys)
	rl.RPS = getenvFloatDefault("RATE_RPS", rl.RPS)
	rl.Burst = getenvIntDefault("RATE_BURST", rl.Burst)
	rl.KeyHeader = getenvDefault("RATE_KEY_HEADER", rl.KeyHeader)
	rl.TrustXFF = getenvBoolDefault("TRUST_XFF", rl.TrustXFF)
	rl.AddHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", rl.AddHeaders)
	rl.RetryAfter = getenvDurationDefault("RETRY_AFTER", rl.RetryAfter)
	rl.ConcurrencyMax = getenvIntDefault("CONCURRENCY_MAX", rl.ConcurrencyMax)
	rl.ConcurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", rl.ConcurrencyTimeout)
	rl.Stats.Enabled = getenvBoolDefault("RATE_STATS_ENABLED", rl.Stats.Enabled)
	rl.Stats.Prefix = getenvDefault("RATE_STATS_PREFIX", rl.Stats.Prefix)
	rl.Stats.TTL = getenvDurationDefault("RATE_STATS_TTL", rl.Stats.TTL)
	rl.Stats.Bucket = getenvDefault("RATE_STATS_BUCKET", rl.Stats.Bucket)
	rl.Stats.TrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", rl.Stats.TrackKeys)

	al := &cfg.AntiLoop
	al.Enabled = getenvBoolDefault("ANTILOOP_ENABLED", al.Enabled)
	al.MaxCacheSize = getenvIntDefault("ANTILOOP_MAX_CACHE_SIZE", al.MaxCacheSize)
	al.MessageTTL = getenvDurationDefault("ANTILOOP_MESSAGE_TTL", al.MessageTTL)
	al.LoopThreshold = getenvIntDefault("ANTILOOP_LOOP_THRESHOLD", al.LoopThreshold)
	al.CleanupInterval = getenvDurationDefault("ANTILOOP_CLEANUP_INTERVAL", al.CleanupInterval)
	al.DuplicateWindow = getenvDurationDefault("ANTILOOP_DUPLICATE_WINDOW", al.DuplicateWindow)

	f := &cfg.Filter
	f.AcceptedEvents = getenvListDefault("ACCEPTED_EVENTS", f.AcceptedEvents)
	f.IgnoreFromMe = getenvBoolDefault("IGNORE_FROM_ME", f.IgnoreFromMe)

	e := &cfg.Engine
	e.URL = getenvDefault("ENGINE_URL", e.URL)
	e.Secret = getenvDefault("ENGINE_SECRET", e.Secret)
	e.Timeout = getenvDurationDefault("ENGINE_TIMEOUT", e.Timeout)
	e.MaxRetries = getenvIntDefault("ENGINE_MAX_RETRIES", e.MaxRetries)
	e.InitialDelay = getenvDurationDefault("ENGINE_INITIAL_DELAY", e.InitialDelay)
	e.MaxDelay = getenvDurationDefault("ENGINE_MAX_DELAY", e.MaxDelay)
	e.Mode = strings.ToLower(getenvDefault("FORWARD_MODE", e.Mode))
	e.Policy = strings.ToLower(getenvDefault("FORWARD_POLICY", e.Policy))
	e.QueueSize = getenvIntDefault("FORWARD_QUEUE_SIZE", e.QueueSize)
	e.Workers = getenvIntDefault("FORWARD_WORKERS", e.Workers)

	st := &cfg.Store
	st.Backend = strings.ToLower(getenvDefault("STORE_BACKEND", st.Backend))
	st.RedisAddr = getenvDefault("REDIS_ADDR", st.RedisAddr)
	st.RedisPassword = getenvDefault("REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getenvIntDefault("REDIS_DB", st.RedisDB)
	st.RedisPrefix = getenvDefault("REDIS_PREFIX", st.RedisPrefix)

	l := &cfg.Logging
	l.Level = getenvDefault("LOG_LEVEL", l.Level)
	l.Format = getenvDefault("LOG_FORMAT", l.Format)
	l.File = getenvDefault("LOG_FILE", l.File)

	m := &cfg.Metrics
	m.Enabled = getenvBoolDefault("METRICS_ENABLED", m.Enabled)
	m.Path = getenvDefault("METRICS_PATH", m.Path)
}

// AntiLoopDomain converte para a configuração do motor anti-loop.
func (c Config) AntiLoopDomain() domain.Config {
	a := c.AntiLoop
	return domain.Config{
		Enabled:         a.Enabled,
		MaxCacheSize:    a.MaxCacheSize,
		MessageTTL:      a.MessageTTL,
		LoopThreshold:   a.LoopThreshold,
		CleanupInterval: a.CleanupInterval,
		DuplicateWindow: a.DuplicateWindow,
	}
}

func (c Config) ForwarderConfig() forwarder.Config {
	e := c.Engine
	return forwarder.Config{
		URL:          e.URL,
		Timeout:      e.Timeout,
		MaxRetries:   e.MaxRetries,
		InitialDelay: e.InitialDelay,
		MaxDelay:     e.MaxDelay,
		Secret:       e.Secret,
	}
}

// UsesRedis indica se algum componente precisa do cliente Redis.
func (c Config) UsesRedis() bool {
	return c.Store.Backend == BackendRedis || (c.RateLimit.Enabled && c.RateLimit.Stats.Enabled)
}

func (c Config) Validate() error {
	if !strings.HasPrefix(c.Server.WebhookPath, "/") {
		return fmt.Errorf("server.webhook_path must start with /, got %q", c.Server.WebhookPath)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be > 0")
	}

	if rl := c.RateLimit; rl.Enabled {
		switch rl.Algorithm {
		case AlgorithmFixedWindow:
			if rl.MaxRequests <= 0 {
				return errors.New("RATE_MAX_REQUESTS must be > 0")
			}
			if rl.Window <= 0 {
				return errors.New("RATE_WINDOW must be > 0")
			}
		case AlgorithmTokenBucket:
			if rl.RPS <= 0 {
				return errors.New("RATE_RPS must be > 0")
			}
			if rl.Burst <= 0 {
				return errors.New("RATE_BURST must be > 0")
			}
			if c.Store.Backend == BackendRedis {
				return errors.New("token_bucket is memory only; use fixed_window with the redis backend")
			}
		default:
			return fmt.Errorf("unknown rate_limit.algorithm %q", rl.Algorithm)
		}
	}
	if c.RateLimit.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}

	if err := c.AntiLoopDomain().Validate(); err != nil {
		return err
	}
	if err := c.ForwarderConfig().Validate(); err != nil {
		return err
	}

	switch c.Engine.Mode {
	case ModeSync, ModeAsync:
	default:
		return fmt.Errorf("unknown engine.mode %q", c.Engine.Mode)
	}
	switch c.Engine.Policy {
	case PolicyEveryAdmitted, PolicyFirstOnly:
	default:
		return fmt.Errorf("unknown engine.policy %q", c.Engine.Policy)
	}
	if c.Engine.Mode == ModeAsync && (c.Engine.QueueSize <= 0 || c.Engine.Workers <= 0) {
		return errors.New("engine.queue_size and engine.workers must be > 0 in async mode")
	}

	switch c.Store.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	if c.UsesRedis() && strings.TrimSpace(c.Store.RedisAddr) == "" {
		return errors.New("REDIS_ADDR is required when the redis backend or rate stats are enabled")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}
