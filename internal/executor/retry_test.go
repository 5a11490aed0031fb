package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("deadlock victim")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestRetryExhaustsAfterSixAttempts(t *testing.T) {
	calls, retries := 0, 0
	p := RetryPolicy{MaxRetries: MaxRetries, IsTransient: isTransient, OnRetry: func(int, error) { retries++ }}
	exhausted, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	assert.True(t, exhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 6, calls)
	assert.Equal(t, 5, retries)
}

func TestRetryRecovers(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxRetries: MaxRetries, IsTransient: isTransient}
	exhausted, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.False(t, exhausted)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentFault(t *testing.T) {
	calls := 0
	permanent := errors.New("syntax error")
	p := RetryPolicy{MaxRetries: MaxRetries, IsTransient: isTransient}
	exhausted, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	assert.False(t, exhausted)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryDelayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxRetries: MaxRetries, Delay: time.Hour, IsTransient: isTransient}
	calls := 0
	_, err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
