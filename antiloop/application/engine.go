package application

import (
	"context"
	"fmt"

	"webhook-gateway/antiloop/domain"
)

// Engine aplica o limiar de loop e a checagem de conteúdo duplicado.
type Engine struct {
	cfg     domain.Config
	tracker domain.Tracker
}

func NewEngine(cfg domain.Config, tracker domain.Tracker) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Enabled && tracker == nil {
		return nil, fmt.Errorf("%w: enabled without tracker", domain.ErrInvalidConfig)
	}
	return &Engine{cfg: cfg, tracker: tracker}, nil
}

func (e *Engine) Config() domain.Config { return e.cfg }
func (e *Engine) Enabled() bool         { return e.cfg.Enabled }

// CheckAndRecord registra o avistamento e devolve a decisão.
//
// Ordem: o limiar de loop vale primeiro; depois, se houver ContentHash, o
// conteúdo precisa pertencer a este messageID na DuplicateWindow.
//
// Com erro do Tracker a decisão volta liberada (fail-open) junto com o erro.
func (e *Engine) CheckAndRecord(ctx context.Context, s domain.Sighting) (domain.Check, error) {
	if !e.cfg.Enabled {
		return domain.Check{CanProcess: true}, nil
	}

	msg, prevSeen, err := e.tracker.Touch(ctx, s)
	if err != nil {
		return domain.Check{CanProcess: true}, fmt.Errorf("track %s: %w", s.Key(), err)
	}

	check := domain.Check{
		CanProcess:      true,
		ProcessingCount: msg.Count,
	}
	if !prevSeen.IsZero() {
		check.TimeSinceLastProcessed = msg.Timestamp.Sub(prevSeen)
	}

	if msg.Count > e.cfg.LoopThreshold {
		check.CanProcess = false
		check.IsLoopDetected = true
		check.Reason = domain.ReasonLoopDetected
		return check, nil
	}

	if s.ContentHash == "" {
		return check, nil
	}
	owner, err := e.tracker.ClaimContent(ctx, s, e.cfg.DuplicateWindow)
	if err != nil {
		return check, fmt.Errorf("claim content %s: %w", s.Key(), err)
	}
	if owner != s.MessageID {
		check.CanProcess = false
		check.IsDuplicate = true
		check.DuplicateOf = owner
		check.Reason = domain.ReasonDuplicateContent
	}
	return check, nil
}
