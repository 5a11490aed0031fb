package executor

import (
	"context"
	"log/slog"
	"time"
)

// MaxRetries is the number of re-attempts after the first failure.
const MaxRetries = 5

// RetryPolicy re-runs an operation on transient faults, sequentially.
type RetryPolicy struct {
	MaxRetries  int
	Delay       time.Duration
	IsTransient func(error) bool
	OnRetry     func(attempt int, err error)
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempts are exhausted. The returned bool reports exhaustion.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, err)
			}
			if p.Delay > 0 {
				select {
				case <-ctx.Done():
					return false, ctx.Err()
				case <-time.After(p.Delay):
				}
			}
		}
		err = fn(ctx)
		if err == nil {
			return false, nil
		}
		if ctx.Err() != nil || p.IsTransient == nil || !p.IsTransient(err) {
			return false, err
		}
	}
	return true, err
}

func logRetry(logger *slog.Logger, dataSource string, max int) func(int, error) {
	return func(attempt int, err error) {
		logger.Warn("transient database fault, retrying",
			"data_source", dataSource, "attempt", attempt, "max_retries", max, "error", err)
	}
}
