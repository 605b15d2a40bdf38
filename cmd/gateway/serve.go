package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"webhook-gateway/config"
	"webhook-gateway/gateway"
	"webhook-gateway/logging"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook gateway",
		Long: `Start the webhook gateway.

Configuration comes from an optional YAML file (--config) with environment
variables applied on top, e.g.:

  WEBHOOK_SECRET=... ENGINE_URL=http://n8n:5678/webhook/in gateway serve
  gateway serve --config gateway.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func runServe(cfg config.Config) error {
	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() {
		_ = log.Sync()
		_ = closer.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []gateway.Option{gateway.WithVersion(Version)}
	if cfg.UsesRedis() {
		rdb, err := connectRedis(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		opts = append(opts, gateway.WithRedis(rdb))
	}

	gw, err := gateway.New(cfg, log, opts...)
	if err != nil {
		return err
	}

	// workers da fila usam um contexto próprio: o sinal encerra o servidor
	// HTTP primeiro e a fila ainda drena no Shutdown.
	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	gw.Start(workCtx)

	// WriteTimeout folgado: o modo sync segura a resposta durante os retries.
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	rl, al, e := cfg.RateLimit, cfg.AntiLoop, cfg.Engine
	log.Info("gateway listening",
		zap.String("addr", cfg.Server.ListenAddr),
		zap.String("webhook_path", cfg.Server.WebhookPath),
		zap.String("engine_url", e.URL),
		zap.String("version", Version))
	log.Info("rate limit",
		zap.Bool("enabled", rl.Enabled),
		zap.String("algorithm", rl.Algorithm),
		zap.Int("max_requests", rl.MaxRequests),
		zap.Duration("window", rl.Window),
		zap.String("key_header", rl.KeyHeader),
		zap.Bool("trust_xff", rl.TrustXFF),
		zap.Int("concurrency_max", rl.ConcurrencyMax))
	log.Info("anti-loop",
		zap.Bool("enabled", al.Enabled),
		zap.Int("loop_threshold", al.LoopThreshold),
		zap.Duration("message_ttl", al.MessageTTL),
		zap.Int("max_cache_size", al.MaxCacheSize),
		zap.String("backend", cfg.Store.Backend))
	log.Info("forwarder",
		zap.String("mode", e.Mode),
		zap.String("policy", e.Policy),
		zap.Int("max_retries", e.MaxRetries),
		zap.Duration("timeout", e.Timeout))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Warn("forward queue not drained", zap.Error(err))
	}
	return nil
}

// connectRedis abre o cliente e falha cedo se o Redis não responder.
func connectRedis(ctx context.Context, st config.StoreConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     st.RedisAddr,
		Password: st.RedisPassword,
		DB:       st.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", st.RedisAddr, err)
	}
	return rdb, nil
}
