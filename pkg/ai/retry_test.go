package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return NewError(KindTransient, "test", errors.New("timeout"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustionWrapsKind(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "test", func(context.Context) error {
		calls++
		return NewError(KindTransient, "test", errors.New("timeout"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, KindTransientExhausted, KindOf(err))
	assert.Contains(t, err.Error(), "3 attempts exhausted")
}

func TestDoPermanentFailsImmediately(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), "test", func(context.Context) error {
		calls++
		return NewError(KindPermanent, "test", errors.New("invalid key"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, KindPermanent, KindOf(err))
}

func TestDoValidationFailsImmediately(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), "test", func(context.Context) error {
		calls++
		return NewError(KindValidation, "test", errors.New("empty input"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoResourceExhaustedNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), "test", func(context.Context) error {
		calls++
		return NewError(KindResourceExhausted, "test", errors.New("quota exceeded"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, KindResourceExhausted, KindOf(err))
}

func TestDoHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := policy.Do(ctx, "test", func(context.Context) error {
		calls++
		return NewError(KindTransient, "test", errors.New("timeout"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestKindFromStatus(t *testing.T) {
	assert.Equal(t, KindTransient, KindFromStatus(429))
	assert.Equal(t, KindTransient, KindFromStatus(500))
	assert.Equal(t, KindTransient, KindFromStatus(503))
	assert.Equal(t, KindResourceExhausted, KindFromStatus(402))
	assert.Equal(t, KindResourceExhausted, KindFromStatus(507))
	assert.Equal(t, KindPermanent, KindFromStatus(400))
	assert.Equal(t, KindPermanent, KindFromStatus(401))
	assert.Equal(t, KindPermanent, KindFromStatus(422))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindPermanent, KindOf(errors.New("anything")))
}
