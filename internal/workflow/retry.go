package workflow

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/foundry/internal/config"
)

// RetryPolicy bounds remote update attempts with exponential backoff.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy is three attempts starting at 200ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Initial: 200 * time.Millisecond, Max: 5 * time.Second}

// RetryPolicyFrom converts configured retry settings.
func RetryPolicyFrom(s config.RetrySettings) RetryPolicy {
	return RetryPolicy{Attempts: s.Attempts, Initial: s.Initial, Max: s.Max}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		bo.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		bo.MaxInterval = p.Max
	}
	// Attempts bound the loop, not elapsed time.
	bo.MaxElapsedTime = 0
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
}

// do runs op until it succeeds, fails permanently, runs out of attempts,
// or ctx is done. It reports how many times op ran.
func (p RetryPolicy) do(ctx context.Context, op func() error, retryable func(error) bool) (int, error) {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
	return attempts, err
}
