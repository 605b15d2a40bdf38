package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"webhook-gateway/antiloop/domain"
)

// fakeTracker conta em um map simples; o dono do conteúdo é o primeiro ID.
type fakeTracker struct {
	now      time.Time
	msgs     map[string]domain.ProcessedMessage
	contents map[string]string
	err      error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		now:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		msgs:     map[string]domain.ProcessedMessage{},
		contents: map[string]string{},
	}
}

func (f *fakeTracker) Touch(_ context.Context, s domain.Sighting) (domain.ProcessedMessage, time.Time, error) {
	if f.err != nil {
		return domain.ProcessedMessage{}, time.Time{}, f.err
	}
	m, ok := f.msgs[s.Key()]
	var prev time.Time
	if ok {
		prev = m.Timestamp
	} else {
		m = domain.ProcessedMessage{MessageID: s.MessageID, InstanceName: s.InstanceName, FirstSeen: f.now}
	}
	m.Count++
	m.Timestamp = f.now
	f.msgs[s.Key()] = m
	return m, prev, nil
}

func (f *fakeTracker) ClaimContent(_ context.Context, s domain.Sighting, _ time.Duration) (string, error) {
	if owner, ok := f.contents[s.ContentKey()]; ok {
		return owner, nil
	}
	f.contents[s.ContentKey()] = s.MessageID
	return s.MessageID, nil
}

func newTestEngine(t *testing.T, tr domain.Tracker, threshold int) *Engine {
	t.Helper()
	cfg := domain.DefaultConfig()
	cfg.LoopThreshold = threshold
	e, err := NewEngine(cfg, tr)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngine_AdmitsUpToThresholdThenFlagsLoop(t *testing.T) {
	tr := newFakeTracker()
	e := newTestEngine(t, tr, 3)
	s := domain.Sighting{MessageID: "m1", InstanceName: "x", RemoteJid: "r"}

	for i := 1; i <= 3; i++ {
		c, err := e.CheckAndRecord(context.Background(), s)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if !c.CanProcess || c.ProcessingCount != i {
			t.Fatalf("delivery %d: expected admit with count %d, got %+v", i, i, c)
		}
	}

	for i := 4; i <= 6; i++ {
		c, _ := e.CheckAndRecord(context.Background(), s)
		if c.CanProcess || c.Reason != domain.ReasonLoopDetected || !c.IsLoopDetected {
			t.Fatalf("delivery %d: expected loop_detected, got %+v", i, c)
		}
		if c.ProcessingCount != i {
			t.Fatalf("delivery %d: expected count %d, got %d", i, i, c.ProcessingCount)
		}
	}
}

func TestEngine_TimeSinceLastProcessed(t *testing.T) {
	tr := newFakeTracker()
	e := newTestEngine(t, tr, 5)
	s := domain.Sighting{MessageID: "m1", InstanceName: "x"}

	c, _ := e.CheckAndRecord(context.Background(), s)
	if c.TimeSinceLastProcessed != 0 {
		t.Fatalf("first sighting should have zero interval, got %s", c.TimeSinceLastProcessed)
	}

	tr.now = tr.now.Add(7 * time.Second)
	c, _ = e.CheckAndRecord(context.Background(), s)
	if c.TimeSinceLastProcessed != 7*time.Second {
		t.Fatalf("expected 7s, got %s", c.TimeSinceLastProcessed)
	}
}

func TestEngine_DuplicateContentUnderNewID(t *testing.T) {
	tr := newFakeTracker()
	e := newTestEngine(t, tr, 5)

	first := domain.Sighting{MessageID: "m1", InstanceName: "x", RemoteJid: "r", ContentHash: "h"}
	second := domain.Sighting{MessageID: "m2", InstanceName: "x", RemoteJid: "r", ContentHash: "h"}

	c, _ := e.CheckAndRecord(context.Background(), first)
	if !c.CanProcess {
		t.Fatalf("first should pass: %+v", c)
	}

	c, _ = e.CheckAndRecord(context.Background(), second)
	if c.CanProcess || !c.IsDuplicate || c.Reason != domain.ReasonDuplicateContent || c.DuplicateOf != "m1" {
		t.Fatalf("expected duplicate of m1, got %+v", c)
	}

	// redelivery do dono continua liberada
	c, _ = e.CheckAndRecord(context.Background(), first)
	if !c.CanProcess || c.ProcessingCount != 2 {
		t.Fatalf("owner redelivery should pass: %+v", c)
	}
}

func TestEngine_DisabledAdmitsEverything(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Enabled = false
	e, err := NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	for i := 0; i < 10; i++ {
		c, _ := e.CheckAndRecord(context.Background(), domain.Sighting{MessageID: "m1"})
		if !c.CanProcess || c.ProcessingCount != 0 {
			t.Fatalf("disabled engine should admit with count 0, got %+v", c)
		}
	}
}

func TestEngine_TrackerErrorFailsOpen(t *testing.T) {
	tr := newFakeTracker()
	tr.err = errors.New("redis down")
	e := newTestEngine(t, tr, 5)

	c, err := e.CheckAndRecord(context.Background(), domain.Sighting{MessageID: "m1"})
	if err == nil || !errors.Is(err, tr.err) {
		t.Fatalf("expected wrapped tracker error, got %v", err)
	}
	if !c.CanProcess {
		t.Fatalf("expected fail-open decision")
	}
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.CleanupInterval = cfg.MessageTTL

	if _, err := NewEngine(cfg, newFakeTracker()); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewEngine(domain.DefaultConfig(), nil); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without tracker, got %v", err)
	}
}
