package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"studio/internal/domain"
)

func transientErr(msg string) error {
	return &domain.ProviderError{Provider: "test", Message: msg, Transient: true}
}

func fatalErr(msg string) error {
	return &domain.ProviderError{Provider: "test", Message: msg, Transient: false}
}

func fastExec() Executor {
	return Executor{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestDoReturnsFirstSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastExec(), domain.IsTransient, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Fatalf("expected single successful call, got %q after %d calls", got, calls)
	}
}

func TestDoRetriesTransientUntilExhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastExec(), domain.IsTransient, func(context.Context) (string, error) {
		calls++
		return "", transientErr("rate limited")
	})
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("expected attempt count 3, got %d", exhausted.Attempts)
	}
	if !domain.IsTransient(errors.Unwrap(err)) {
		t.Fatal("exhausted error should wrap the last provider error")
	}
}

func TestDoFatalShortCircuits(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastExec(), domain.IsTransient, func(context.Context) (string, error) {
		calls++
		return "", fatalErr("safety block")
	})
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for fatal error, got %d", calls)
	}
	var pe *domain.ProviderError
	if !errors.As(err, &pe) || pe.Transient {
		t.Fatalf("expected fatal provider error, got %v", err)
	}
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastExec(), domain.IsTransient, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, transientErr("upstream 503")
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if got != 7 || calls != 3 {
		t.Fatalf("expected success on third attempt, got %d after %d calls", got, calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Executor{MaxAttempts: 5, BaseDelay: time.Minute}, domain.IsTransient, func(context.Context) (string, error) {
		calls++
		cancel()
		return "", transientErr("throttled")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", calls)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	exec := New(0, 0)
	if exec.MaxAttempts != 3 {
		t.Fatalf("expected default attempts 3, got %d", exec.MaxAttempts)
	}
	if exec.BaseDelay != 500*time.Millisecond {
		t.Fatalf("expected default delay 500ms, got %s", exec.BaseDelay)
	}
}
