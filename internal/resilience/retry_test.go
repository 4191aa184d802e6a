package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetryConfig(maxAttempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

func TestRetry_Success(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("Expected 1 attempt, got %d (calls %d)", attempts, calls)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts, err := Retry(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, fastRetryConfig(3), nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("persistent error")
	}, fastRetryConfig(2), nil)

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 2 || calls != 2 {
		t.Errorf("Expected 2 attempts, got %d (calls %d)", attempts, calls)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	isRetryable := func(err error) bool {
		return false // All errors are non-retryable
	}

	attempts, err := Retry(context.Background(), func(ctx context.Context, attempt int) error {
		return errors.New("non-retryable error")
	}, fastRetryConfig(3), isRetryable)

	if err == nil {
		t.Error("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetry_OnRetryHook(t *testing.T) {
	config := fastRetryConfig(3)
	var retried []int
	config.OnRetry = func(attempt int, err error, wait time.Duration) {
		retried = append(retried, attempt)
	}

	Retry(context.Background(), func(ctx context.Context, attempt int) error {
		return errors.New("invalid request")
	}, config, IsRetryableNetworkError)

	if len(retried) != 0 {
		t.Errorf("Expected no retries for a non-network error, got %v", retried)
	}

	retried = nil
	Retry(context.Background(), func(ctx context.Context, attempt int) error {
		return errors.New("connection reset by peer")
	}, config, IsRetryableNetworkError)

	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("Expected retries after attempts [1 2], got %v", retried)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	attempts, err := Retry(ctx, func(ctx context.Context, attempt int) error {
		return errors.New("slow backend")
	}, config, nil)

	if err == nil || err.Error() != "slow backend" {
		t.Errorf("Expected last backend error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Expected Retry to stop waiting once the context is done")
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"unavailable", errors.New("service Unavailable"), true},
		{"deadline exceeded", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"rate limit", errors.New("rate limit reached"), true},
		{"too many requests", errors.New("429 Too Many Requests"), true},
		{"other error", errors.New("invalid api key"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableNetworkError(tt.err)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt        int
		initialBackoff time.Duration
		maxBackoff     time.Duration
		multiplier     float64
		expected       time.Duration
	}{
		{0, 100 * time.Millisecond, 1 * time.Second, 2.0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond, 1 * time.Second, 2.0, 200 * time.Millisecond},
		{2, 100 * time.Millisecond, 1 * time.Second, 2.0, 400 * time.Millisecond},
		{5, 100 * time.Millisecond, 1 * time.Second, 2.0, 1 * time.Second}, // Capped at max
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			backoff := CalculateBackoff(tt.attempt, tt.initialBackoff, tt.maxBackoff, tt.multiplier)
			if backoff != tt.expected {
				t.Errorf("Expected backoff %v, got %v", tt.expected, backoff)
			}
		})
	}
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	config := &RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	for i := 0; i < 50; i++ {
		wait := backoffFor(config, 0)
		if wait < 100*time.Millisecond || wait > 125*time.Millisecond {
			t.Fatalf("Expected jittered backoff within [100ms, 125ms], got %v", wait)
		}
	}
}
