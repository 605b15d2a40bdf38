package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	ReasonLoopDetected     = "loop_detected"
	ReasonDuplicateContent = "duplicate_content"
)

// Config controla o rastreamento. Carregada uma vez na subida.
type Config struct {
	Enabled bool
	// MaxCacheSize limita as mensagens rastreadas em memória.
	MaxCacheSize int
	// MessageTTL é quanto tempo uma mensagem fica rastreada desde o último avistamento.
	MessageTTL time.Duration
	// LoopThreshold é o número de processamentos aceitos antes de marcar loop.
	LoopThreshold   int
	CleanupInterval time.Duration
	// DuplicateWindow é a janela em que o mesmo conteúdo sob outro ID é duplicata.
	DuplicateWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MaxCacheSize:    1000,
		MessageTTL:      30 * time.Minute,
		LoopThreshold:   5,
		CleanupInterval: 5 * time.Minute,
		DuplicateWindow: 2 * time.Minute,
	}
}

var ErrInvalidConfig = errors.New("invalid anti-loop config")

func (c Config) Validate() error {
	switch {
	case c.MaxCacheSize <= 0:
		return fmt.Errorf("%w: max cache size must be > 0, got %d", ErrInvalidConfig, c.MaxCacheSize)
	case c.MessageTTL <= 0:
		return fmt.Errorf("%w: message ttl must be > 0, got %s", ErrInvalidConfig, c.MessageTTL)
	case c.LoopThreshold < 1:
		return fmt.Errorf("%w: loop threshold must be >= 1, got %d", ErrInvalidConfig, c.LoopThreshold)
	case c.CleanupInterval <= 0:
		return fmt.Errorf("%w: cleanup interval must be > 0, got %s", ErrInvalidConfig, c.CleanupInterval)
	case c.CleanupInterval >= c.MessageTTL:
		return fmt.Errorf("%w: cleanup interval (%s) must be shorter than message ttl (%s)",
			ErrInvalidConfig, c.CleanupInterval, c.MessageTTL)
	case c.DuplicateWindow <= 0:
		return fmt.Errorf("%w: duplicate window must be > 0, got %s", ErrInvalidConfig, c.DuplicateWindow)
	case c.DuplicateWindow > c.MessageTTL:
		return fmt.Errorf("%w: duplicate window (%s) must not exceed message ttl (%s)",
			ErrInvalidConfig, c.DuplicateWindow, c.MessageTTL)
	}
	return nil
}

// ProcessedMessage é o estado de uma mensagem rastreada.
type ProcessedMessage struct {
	MessageID    string
	InstanceName string
	RemoteJid    string
	ContentHash  string
	FirstSeen    time.Time
	// Timestamp é o último avistamento.
	Timestamp time.Time
	Count     int
}

// Sighting é uma entrega recebida do provedor.
type Sighting struct {
	MessageID    string
	InstanceName string
	RemoteJid    string
	ContentHash  string
}

// Key identifica a mensagem no rastreador: o ID só é único por instância.
func (s Sighting) Key() string {
	return s.InstanceName + ":" + s.MessageID
}

// ContentKey agrupa o conteúdo por instância e remetente.
func (s Sighting) ContentKey() string {
	return s.InstanceName + "|" + s.RemoteJid + "|" + s.ContentHash
}

// Check é a decisão para um avistamento.
type Check struct {
	CanProcess      bool
	Reason          string
	ProcessingCount int

	IsDuplicate    bool
	IsLoopDetected bool
	// TimeSinceLastProcessed é zero no primeiro avistamento.
	TimeSinceLastProcessed time.Duration
	// DuplicateOf é o ID da mensagem dona do conteúdo, quando IsDuplicate.
	DuplicateOf string
}

// Tracker guarda as mensagens vistas. Implementações precisam ser seguras
// para uso concorrente e atômicas por chave.
type Tracker interface {
	// Touch registra o avistamento: cria com Count=1 ou incrementa e renova o
	// TTL. prevSeen é zero quando a mensagem é nova.
	Touch(ctx context.Context, s Sighting) (msg ProcessedMessage, prevSeen time.Time, err error)

	// ClaimContent associa o conteúdo ao messageID se ninguém o reivindicou na
	// janela, e devolve o dono vigente.
	ClaimContent(ctx context.Context, s Sighting, window time.Duration) (owner string, err error)
}
