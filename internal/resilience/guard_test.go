package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_CompletesInTime(t *testing.T) {
	val, err := WithTimeout(context.Background(), 100*time.Millisecond, func(_ context.Context) (string, error) {
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "done" {
		t.Errorf("expected done, got %q", val)
	}
}

func TestWithTimeout_AbandonsSlowCall(t *testing.T) {
	start := time.Now()
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (string, error) {
		// Ignores its context entirely: the wrapper must still return on time.
		time.Sleep(500 * time.Millisecond)
		return "too late", nil
	})
	elapsed := time.Since(start)

	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("wrapper waited for abandoned call: %s", elapsed)
	}
}

func TestWithTimeout_ParentCancellationNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WithTimeout(ctx, 1*time.Second, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if IsTimeout(err) {
		t.Errorf("parent cancellation should not report as timeout: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestGuarded_ExhaustedRetryCountsOnce(t *testing.T) {
	b := NewBreaker("provider", CircuitConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	})
	cfg := GuardConfig{
		Timeout: 50 * time.Millisecond,
		Retry:   fastRetry(3),
	}

	var calls int
	_, err := Guarded(context.Background(), b, cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, NewTransportError(errors.New("down"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}

	// Three attempts, one circuit failure.
	_, failures, _ := b.Snapshot()
	if failures != 1 {
		t.Errorf("exhausted retry should count as exactly 1 circuit failure, got %d", failures)
	}
}

func TestGuarded_OpenCircuitSkipsRetries(t *testing.T) {
	b := NewBreaker("provider", CircuitConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	})
	cfg := GuardConfig{Timeout: 50 * time.Millisecond, Retry: fastRetry(3)}

	_, _ = Guarded(context.Background(), b, cfg, func(_ context.Context) (int, error) {
		return 0, NewTransportError(errors.New("down"), 500)
	})

	var calls int
	_, err := Guarded(context.Background(), b, cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("open circuit must not invoke the operation, got %d calls", calls)
	}
}

func TestGuarded_TimeoutIsRetried(t *testing.T) {
	b := NewBreaker("provider", DefaultCircuitConfig())
	cfg := GuardConfig{Timeout: 10 * time.Millisecond, Retry: fastRetry(2)}

	var calls int
	_, err := Guarded(context.Background(), b, cfg, func(_ context.Context) (int, error) {
		calls++
		time.Sleep(60 * time.Millisecond)
		return 0, nil
	})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected timeout to be retried, got %d calls", calls)
	}
}
