package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fragmentforge/llm-gateway/internal/domain"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewInMemory(DefaultConfig())
	if cb.State(context.Background()) != StateClosed {
		t.Errorf("expected StateClosed, got %v", cb.State(context.Background()))
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	cb := NewInMemory(Config{FailureThreshold: 3, RecoveryTimeout: time.Second})

	for i := 0; i < 3; i++ {
		cb.RecordFailure(ctx)
	}

	if cb.State(ctx) != StateOpen {
		t.Errorf("expected StateOpen after 3 failures, got %v", cb.State(ctx))
	}
}

func TestCircuitBreaker_FailsFastWhenOpen(t *testing.T) {
	ctx := context.Background()
	cb := NewInMemory(Config{FailureThreshold: 2, RecoveryTimeout: time.Second})

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)

	invoked := false
	if err := cb.Allow(ctx); err == nil {
		invoked = true
	}
	if invoked {
		t.Fatal("open breaker must not admit requests")
	}
	if err := cb.Allow(ctx); !errors.Is(err, domain.ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	ctx := context.Background()
	cb := NewInMemory(Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})

	cb.RecordFailure(ctx)
	if cb.State(ctx) != StateOpen {
		t.Fatalf("expected open, got %v", cb.State(ctx))
	}

	time.Sleep(30 * time.Millisecond)

	// Exactly one trial is admitted after the recovery timeout.
	if err := cb.Allow(ctx); err != nil {
		t.Fatalf("expected trial to be admitted, got %v", err)
	}
	if cb.State(ctx) != StateHalfOpen {
		t.Errorf("expected half-open, got %v", cb.State(ctx))
	}
	if err := cb.Allow(ctx); !errors.Is(err, domain.ErrCircuitBreakerOpen) {
		t.Errorf("second concurrent trial should be rejected, got %v", err)
	}
}

func TestCircuitBreaker_TrialSuccessCloses(t *testing.T) {
	ctx := context.Background()
	cb := NewInMemory(Config{FailureThreshold: 2, RecoveryTimeout: 10 * time.Millisecond})

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	time.Sleep(20 * time.Millisecond)

	if err := cb.Allow(ctx); err != nil {
		t.Fatalf("expected trial to be admitted, got %v", err)
	}
	cb.RecordSuccess(ctx)

	if cb.State(ctx) != StateClosed {
		t.Errorf("expected closed after trial success, got %v", cb.State(ctx))
	}
	if cb.Failures() != 0 {
		t.Errorf("expected failure count reset, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_TrialFailureReopens(t *testing.T) {
	ctx := context.Background()
	cb := NewInMemory(Config{FailureThreshold: 2, RecoveryTimeout: 10 * time.Millisecond})

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	time.Sleep(20 * time.Millisecond)

	if err := cb.Allow(ctx); err != nil {
		t.Fatalf("expected trial to be admitted, got %v", err)
	}
	cb.RecordFailure(ctx)

	if cb.State(ctx) != StateOpen {
		t.Errorf("expected re-open after trial failure, got %v", cb.State(ctx))
	}
	// The failure timestamp was refreshed, so the next request is still blocked.
	if err := cb.Allow(ctx); !errors.Is(err, domain.ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen right after re-open, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	ctx := context.Background()
	cb := NewInMemory(Config{FailureThreshold: 3, RecoveryTimeout: time.Second})

	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)
	cb.RecordSuccess(ctx)
	cb.RecordFailure(ctx)
	cb.RecordFailure(ctx)

	if cb.State(ctx) != StateClosed {
		t.Errorf("non-consecutive failures must not open the circuit, got %v", cb.State(ctx))
	}
}

func TestManager_ReusesBreakerPerKey(t *testing.T) {
	m := NewManager(DefaultConfig())

	a := m.Get("openai")
	b := m.Get("openai")
	if a != b {
		t.Error("expected the same breaker for the same key")
	}

	c := m.Get("anthropic")
	if a == c {
		t.Error("expected distinct breakers per key")
	}
}

func TestManager_States(t *testing.T) {
	ctx := context.Background()
	m := NewManager(Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	m.Get("openai").RecordFailure(ctx)
	m.Get("anthropic")

	states := m.States()
	if states["openai"] != "open" {
		t.Errorf("expected openai open, got %s", states["openai"])
	}
	if states["anthropic"] != "closed" {
		t.Errorf("expected anthropic closed, got %s", states["anthropic"])
	}
}
