package accounts

import (
	"context"
	"math/rand/v2"
	"time"
)

const maxBackoffShift = 16

// backoffDelay returns a jittered exponential delay for the given attempt:
// a random duration in [0, base * 2^attempt).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}

	ceiling := int64(base) << attempt
	return time.Duration(rand.Int64N(ceiling))
}

// sleepContext sleeps for d but returns early when ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
