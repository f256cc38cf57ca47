package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsWithoutExhaustingAttempts(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, WaitBetweenFailure: time.Millisecond}
	attempts := 0
	err := policy.Retry(context.Background(), "t", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, WaitBetweenFailure: time.Millisecond}
	attempts := 0
	err := policy.Retry(context.Background(), "t", func(ctx context.Context) error {
		attempts++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryCancellationIsNotAnError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, WaitBetweenFailure: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := policy.Retry(ctx, "t", func(ctx context.Context) error {
		attempts++
		return errors.New("boom")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}
