package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"webhook-gateway/middleware/ratelimit/domain"
)

type fakeCounter struct {
	q   domain.Quota
	err error
}

func (f fakeCounter) Hit(context.Context, domain.Key) (domain.Quota, error)  { return f.q, f.err }
func (f fakeCounter) Peek(context.Context, domain.Key) (domain.Quota, error) { return f.q, f.err }
func (f fakeCounter) Reset(context.Context, domain.Key) error                { return nil }

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

func TestService_Decide_AllowsWhenNoCounter(t *testing.T) {
	svc := Service{}
	dec := svc.Decide(context.Background(), "k")
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_AllowsWithRemaining(t *testing.T) {
	svc := Service{
		Counter: fakeCounter{q: domain.Quota{Limit: 30, Count: 10, ResetAt: t0.Add(time.Minute)}},
		Now:     fixedNow,
	}
	dec := svc.Decide(context.Background(), "k")
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.Remaining != 20 {
		t.Fatalf("expected remaining=20, got %d", dec.Remaining)
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected no RetryAfter when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_BlocksUntilWindowReset(t *testing.T) {
	svc := Service{
		Counter: fakeCounter{q: domain.Quota{Limited: true, Limit: 30, Count: 31, ResetAt: t0.Add(42 * time.Second)}},
		Now:     fixedNow,
	}
	dec := svc.Decide(context.Background(), "k")
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.Remaining != 0 {
		t.Fatalf("expected remaining=0, got %d", dec.Remaining)
	}
	if dec.RetryAfter != 42*time.Second {
		t.Fatalf("expected RetryAfter=42s, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_BlocksWithRetryAfterDefault(t *testing.T) {
	svc := Service{Counter: fakeCounter{q: domain.Quota{Limited: true}}}
	dec := svc.Decide(context.Background(), "k")
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 1*time.Second {
		t.Fatalf("expected default RetryAfter=1s, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_FailsOpenOnCounterError(t *testing.T) {
	boom := errors.New("redis down")
	svc := Service{Counter: fakeCounter{err: boom}}
	dec := svc.Decide(context.Background(), "k")
	if !dec.Allowed {
		t.Fatalf("expected fail-open")
	}
	if !errors.Is(dec.Err, boom) {
		t.Fatalf("expected decision to carry the store error, got %v", dec.Err)
	}
}
