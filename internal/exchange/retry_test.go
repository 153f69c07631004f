package exchange

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRetryConfig tests retry configuration
func TestRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, config.InitialBackoff)
	assert.Equal(t, 5*time.Second, config.MaxBackoff)
	assert.Equal(t, 2.0, config.BackoffFactor)
}

// TestWithRetry_Success tests successful operation without retries
func TestWithRetry_Success(t *testing.T) {
	ctx := context.Background()
	config := DefaultRetryConfig()

	attempts := 0
	operation := func() error {
		attempts++
		return nil
	}

	err := WithRetry(ctx, config, operation)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts, "Should succeed on first attempt")
}

// TestWithRetry_TransientErrorEventualSuccess tests retry with eventual success
func TestWithRetry_TransientErrorEventualSuccess(t *testing.T) {
	ctx := context.Background()
	config := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		BackoffFactor:  2.0,
	}

	attempts := 0
	operation := func() error {
		attempts++
		if attempts < 3 {
			return &common.APIError{Code: -1001, Message: "Internal error"}
		}
		return nil
	}

	startTime := time.Now()
	err := WithRetry(ctx, config, operation)
	duration := time.Since(startTime)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts, "Should succeed on third attempt")
	// Should have backoff delays: 10ms + 20ms = 30ms minimum
	assert.Greater(t, duration, 30*time.Millisecond, "Should have backoff delays")
}

// TestWithRetry_PermanentError tests immediate failure on non-transient errors
func TestWithRetry_PermanentError(t *testing.T) {
	ctx := context.Background()
	config := DefaultRetryConfig()

	tests := []struct {
		name string
		err  error
	}{
		{
			name: "filter rejection",
			err:  &common.APIError{Code: -2010, Message: "Account has insufficient balance"},
		},
		{
			name: "rate limit",
			err:  &common.APIError{Code: -1003, Message: "Too many requests"},
		},
		{
			name: "permission",
			err:  &common.APIError{Code: -2015, Message: "Invalid API-key"},
		},
		{
			name: "unknown error",
			err:  fmt.Errorf("failed to parse fill price"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := WithRetry(ctx, config, func() error {
				attempts++
				return tt.err
			})
			require.Error(t, err)
			assert.Equal(t, tt.err, err, "Should return the same error")
			assert.Equal(t, 1, attempts, "Should not retry permanent errors")
		})
	}
}

// TestWithRetry_MaxRetriesExceeded tests failure after max retries
func TestWithRetry_MaxRetriesExceeded(t *testing.T) {
	ctx := context.Background()
	config := RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		BackoffFactor:  2.0,
	}

	attempts := 0
	operation := func() error {
		attempts++
		return fmt.Errorf("connection refused")
	}

	err := WithRetry(ctx, config, operation)
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "Should attempt 3 times (initial + 2 retries)")
	assert.Contains(t, err.Error(), "after 3 attempts")
}

// TestWithRetry_ContextCancellation tests abort on context cancellation
func TestWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2.0,
	}

	attempts := 0
	operation := func() error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return fmt.Errorf("connection reset")
	}

	err := WithRetry(ctx, config, operation)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts, "Should stop retrying once the context is cancelled")
}
