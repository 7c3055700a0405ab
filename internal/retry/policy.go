package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 10
	DefaultDelay       = 2 * time.Second
)

// Policy retries an operation a fixed number of times with a fixed delay
// between attempts.
type Policy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
	}
}

// Permanent marks err as non-retryable. Do returns the wrapped error as is.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, the attempt
// budget is spent or ctx is done. The error of the last attempt is returned.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	operation := func() error {
		attempt++
		return op(ctx)
	}

	notify := func(err error, next time.Duration) {
		slog.Warn("Retrying operation",
			"operation", name,
			"attempt", attempt,
			"max_attempts", attempts,
			"retry_in", next,
			"error", err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)
	return backoff.RetryNotify(operation, b, notify)
}
