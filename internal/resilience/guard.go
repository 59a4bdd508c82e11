package resilience

import (
	"context"
	"time"
)

// GuardConfig bundles the per-call ceilings for a guarded provider call.
type GuardConfig struct {
	Timeout time.Duration
	Retry   RetryConfig
}

// DefaultGuardConfig returns the standard guard for network-backed adapters.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout: DefaultCallTimeout,
		Retry:   DefaultRetryConfig(),
	}
}

// Guarded composes the three primitives in the canonical order:
// breaker(retry(timeout(call))). The breaker observes only the final outcome
// of the retry loop, so an exhausted retry counts as exactly one circuit
// failure, and a fast-failed open circuit never consumes retry attempts.
func Guarded[T any](ctx context.Context, b *Breaker, cfg GuardConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	return Call(ctx, b, func(ctx context.Context) (T, error) {
		return Retry(ctx, cfg.Retry, func(ctx context.Context) (T, error) {
			return WithTimeout(ctx, cfg.Timeout, fn)
		})
	})
}
