package ledger

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 10 * time.Millisecond
	maxRetryDelay         = time.Second
)

// RetryPolicy bounds how often a conflicted operation is attempted again.
// MaxRetries counts retries, so an operation runs at most MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultRetryBaseDelay}
}

// delay returns a full-jitter exponential delay in [0, base*2^attempt), capped.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}

	ceiling := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if ceiling > float64(maxRetryDelay) {
		ceiling = float64(maxRetryDelay)
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

// sleep waits for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry wait: %w", ctx.Err())
	}
}
