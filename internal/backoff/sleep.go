// Package backoff paces retries against remote endpoints: context-aware
// sleeps, fixed or exponential delay policies, and a small retry driver.
package backoff

import (
	"context"
	"time"
)

// Sleep pauses for d, returning early with ctx.Err() if ctx is cancelled
// first. A non-positive d returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
