package backoff

import "context"

// Retry runs fn until it succeeds or attempts are exhausted, sleeping
// policy.Delay(n) after the n-th failure. It returns fn's value on the
// first success, the last error once every attempt has failed, or
// ctx.Err() if the context is cancelled before or between attempts.
func Retry[T any](ctx context.Context, policy Policy, attempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if attempt < attempts {
			if err := Sleep(ctx, policy.Delay(attempt)); err != nil {
				return zero, err
			}
		}
	}
	return zero, lastErr
}
