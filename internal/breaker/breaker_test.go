package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arcwright/recall/internal/types"
)

func TestOpensAfterThresholdFailures(t *testing.T) {
	b := New("test", 3, time.Minute)
	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 2; i++ {
		if err := b.Call(context.Background(), failing); err == nil {
			t.Fatalf("expected failure to propagate")
		}
	}
	if b.State() != types.BreakerClosed {
		t.Fatalf("expected still CLOSED after 2 of 3 failures, got %v", b.State())
	}

	_ = b.Call(context.Background(), failing)
	if b.State() != types.BreakerOpen {
		t.Fatalf("expected OPEN after 3rd failure, got %v", b.State())
	}

	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	var openErr *types.BreakerOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected BreakerOpenError, got %v", err)
	}
}

func TestHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond)
	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	if b.State() != types.BreakerOpen {
		t.Fatalf("expected OPEN, got %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != types.BreakerHalfOpen {
		t.Fatalf("expected HALF_OPEN after recovery timeout, got %v", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("test", 3, time.Minute)
	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	if b.FailureCount() != 1 {
		t.Fatalf("expected 1 failure recorded")
	}
	_ = b.Call(context.Background(), func(ctx context.Context) error { return nil })
	if b.FailureCount() != 0 {
		t.Fatalf("expected failure count reset after success")
	}
}

func TestRegistryFirstCallWinsConfig(t *testing.T) {
	reg := NewRegistry(3, time.Minute)
	b1 := reg.GetWithConfig("llm", 1, time.Second)
	b2 := reg.GetWithConfig("llm", 10, time.Hour)
	if b1 != b2 {
		t.Fatalf("expected same breaker instance for repeated name")
	}

	_ = b2.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	if b2.State() != types.BreakerOpen {
		t.Fatalf("expected first-call config (threshold 1) to apply, got %v", b2.State())
	}
}
