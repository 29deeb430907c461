package kafka

import (
	"context"
	"time"
)

// sleepWithContext waits for d or until ctx is cancelled. It reports whether
// the full duration elapsed.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextBackoff doubles d, capped at max.
func nextBackoff(d, max time.Duration) time.Duration {
	return min(d*2, max)
}
