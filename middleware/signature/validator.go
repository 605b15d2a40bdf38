package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"

	DefaultTolerance = 5 * time.Minute

	// abaixo disso o timestamp é tratado como segundos (1e11 ms ~ 1973).
	secondsThreshold = 100_000_000_000
	prefixSHA256     = "sha256="
)

var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrMissingHeaders     = fmt.Errorf("%w: missing signature or timestamp header", ErrInvalidSignature)
	ErrMalformedTimestamp = fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
	ErrStaleTimestamp     = fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	ErrSignatureMismatch  = fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
)

type Validator struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

type Option func(*Validator)

func WithTolerance(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

func NewValidator(secret string, opts ...Option) *Validator {
	v := &Validator{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Enabled é falso quando não há segredo configurado (deploy sem autenticação).
func (v *Validator) Enabled() bool { return len(v.secret) > 0 }

func (v *Validator) Tolerance() time.Duration { return v.tolerance }

// Sign devolve a assinatura hex de "{timestamp}:{body}".
func (v *Validator) Sign(timestamp string, body []byte) string {
	return hex.EncodeToString(v.mac(timestamp, body))
}

// Timestamp formata t no formato esperado em X-Webhook-Timestamp.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseTimestamp aceita epoch em ms ou em segundos.
func ParseTimestamp(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, raw)
	}
	if n < secondsThreshold {
		return time.Unix(n, 0), nil
	}
	return time.UnixMilli(n), nil
}

// Verify confere assinatura e frescor. Todo erro devolvido satisfaz
// errors.Is(err, ErrInvalidSignature).
func (v *Validator) Verify(body []byte, signature, timestamp string) error {
	signature = strings.TrimSpace(signature)
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" || timestamp == "" {
		return ErrMissingHeaders
	}

	ts, err := ParseTimestamp(timestamp)
	if err != nil {
		return err
	}
	skew := v.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return fmt.Errorf("%w: skew %s", ErrStaleTimestamp, skew.Round(time.Second))
	}

	got, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(signature), prefixSHA256))
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(got, v.mac(timestamp, body)) {
		return ErrSignatureMismatch
	}
	return nil
}

func (v *Validator) mac(timestamp string, body []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(timestamp))
	m.Write([]byte{':'})
	m.Write(body)
	return m.Sum(nil)
}
