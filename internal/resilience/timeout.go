package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
)

// ErrTimeout is returned when an operation exceeds its per-attempt ceiling.
// Kept distinct from generic transport errors for diagnostics; retry and
// circuit treatment are the same.
var ErrTimeout = eris.New("operation timed out")

// DefaultCallTimeout bounds each network attempt. No provider call is allowed
// to block indefinitely.
const DefaultCallTimeout = 30 * time.Second

// WithTimeout races fn against a deadline. On expiry the in-flight call is
// abandoned (its context is canceled, its eventual result discarded) and
// ErrTimeout is returned — a timed-out call is failed, no partial result is
// trusted. Parent cancellation is reported as the parent's error, not as a
// timeout.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		d = DefaultCallTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := fn(tctx)
		done <- outcome{val: val, err: err}
	}()

	var zero T
	select {
	case out := <-done:
		return out.val, out.err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, eris.Wrapf(ErrTimeout, "after %s", d)
	}
}

// IsTimeout reports whether err is (or wraps) a per-attempt timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
