package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"webhook-gateway/apierr"
	"webhook-gateway/middleware/signature"
	"webhook-gateway/webhook"

	"go.uber.org/zap"
)

type Config struct {
	URL string
	// Timeout vale por tentativa.
	Timeout      time.Duration
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Secret, quando definido, assina o corpo enviado ao motor.
	Secret string
}

func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

var ErrInvalidConfig = errors.New("invalid forwarder config")

func (c Config) Validate() error {
	switch {
	case c.URL == "":
		return fmt.Errorf("%w: engine url is required", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must be >= 0", ErrInvalidConfig)
	case c.InitialDelay < 0:
		return fmt.Errorf("%w: initial delay must be >= 0", ErrInvalidConfig)
	case c.MaxDelay <= 0:
		return fmt.Errorf("%w: max delay must be > 0", ErrInvalidConfig)
	case c.MaxDelay < c.InitialDelay:
		return fmt.Errorf("%w: max delay (%s) below initial delay (%s)", ErrInvalidConfig, c.MaxDelay, c.InitialDelay)
	}
	return nil
}

// Result descreve uma entrega bem-sucedida.
type Result struct {
	Attempts   int
	StatusCode int
	Duration   time.Duration
}

// Error é a causa dentro do apierr.Error (KindForwarding) devolvido por Forward.
type Error struct {
	Attempts   int
	LastStatus int
	// Terminal indica que a falha não foi transitória (4xx, contexto cancelado).
	Terminal bool
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("forward failed after %d attempt(s) (last status %d): %v", e.Attempts, e.LastStatus, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Attempt é reportado ao observer após cada tentativa.
type Attempt struct {
	MessageID string
	Number    int
	Status    int
	Err       error
	Duration  time.Duration
}

type Client struct {
	cfg      Config
	http     *http.Client
	signer   *signature.Validator
	log      *zap.Logger
	sleep    SleepFunc
	now      func() time.Time
	observer func(Attempt)
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// WithSleep troca a espera do backoff (testes registram os atrasos).
func WithSleep(fn SleepFunc) Option {
	return func(cl *Client) { cl.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// WithObserver recebe cada tentativa (métricas).
func WithObserver(fn func(Attempt)) Option {
	return func(cl *Client) { cl.observer = fn }
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{},
		log:   zap.NewNop(),
		sleep: sleepCtx,
		now:   time.Now,
	}
	if cfg.Secret != "" {
		c.signer = signature.NewValidator(cfg.Secret)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Config() Config { return c.cfg }

// payload é o corpo enviado: a mensagem normalizada + a contagem do anti-loop.
type payload struct {
	webhook.Message
	ProcessingCount int `json:"processingCount"`
}

// Forward entrega msg com retry. O erro, quando houver, é *apierr.Error de
// KindForwarding com um *Error como causa.
func (c *Client) Forward(ctx context.Context, msg webhook.Message, processingCount int) (Result, error) {
	body, err := json.Marshal(payload{Message: msg, ProcessingCount: processingCount})
	if err != nil {
		return Result{}, apierr.Wrap(apierr.KindInternal, "encode message", err)
	}

	log := c.log.With(zap.String("message_id", msg.MessageID), zap.String("instance", msg.InstanceName))
	start := c.now()
	maxAttempts := c.cfg.MaxRetries + 1

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := c.attempt(ctx, msg, processingCount, body)
		c.observe(Attempt{MessageID: msg.MessageID, Number: attempt, Status: status, Err: err, Duration: c.now().Sub(start)})

		if err == nil && status >= 200 && status < 300 {
			log.Info("message forwarded",
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.Duration("elapsed", c.now().Sub(start)))
			return Result{Attempts: attempt, StatusCode: status, Duration: c.now().Sub(start)}, nil
		}

		lastStatus = status
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("engine responded %d", status)
		}

		if ctx.Err() != nil {
			log.Warn("forward abandoned, context done",
				zap.Int("attempt", attempt),
				zap.Error(ctx.Err()))
			return Result{}, c.fail(attempt, lastStatus, true, ctx.Err())
		}

		if !retryable(status, err) {
			if status == http.StatusTooManyRequests {
				log.Warn("engine answered 429, possible loop downstream", zap.Int("attempt", attempt))
			} else {
				log.Warn("engine rejected message", zap.Int("attempt", attempt), zap.Int("status", status))
			}
			return Result{}, c.fail(attempt, lastStatus, true, lastErr)
		}

		if attempt == maxAttempts {
			break
		}

		delay := Backoff(c.cfg.InitialDelay, c.cfg.MaxDelay, attempt-1)
		log.Warn("forward attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Duration("backoff", delay),
			zap.Error(lastErr))
		if err := c.sleep(ctx, delay); err != nil {
			log.Warn("forward abandoned during backoff", zap.Int("attempt", attempt), zap.Error(err))
			return Result{}, c.fail(attempt, lastStatus, true, err)
		}
	}

	log.Error("forward retries exhausted",
		zap.Int("attempts", maxAttempts),
		zap.Int("status", lastStatus),
		zap.Error(lastErr))
	return Result{}, c.fail(maxAttempts, lastStatus, false, lastErr)
}

func (c *Client) attempt(ctx context.Context, msg webhook.Message, processingCount int, body []byte) (int, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Idempotency-Key", msg.IdempotencyKey())
	req.Header.Set("X-Instance-Name", msg.InstanceName)
	req.Header.Set("X-Message-ID", msg.MessageID)
	req.Header.Set("X-Processing-Count", strconv.Itoa(processingCount))
	if c.signer != nil {
		ts := signature.Timestamp(c.now())
		req.Header.Set(signature.HeaderTimestamp, ts)
		req.Header.Set(signature.HeaderSignature, c.signer.Sign(ts, body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// drena para reaproveitar a conexão
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// retryable: erro de transporte/timeout, 5xx e 408.
func retryable(status int, err error) bool {
	if err != nil {
		return true
	}
	return status >= 500 || status == http.StatusRequestTimeout
}

func (c *Client) fail(attempts, status int, terminal bool, err error) error {
	return apierr.Wrap(apierr.KindForwarding, "forwarding failed", &Error{
		Attempts:   attempts,
		LastStatus: status,
		Terminal:   terminal,
		Err:        err,
	})
}

func (c *Client) observe(a Attempt) {
	if c.observer != nil {
		c.observer(a)
	}
}
