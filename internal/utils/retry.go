package utils

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// Retry backoff shape shared by outbound HTTP clients.
const (
	BackoffFactor = 2.0
	JitterRange   = 0.1 // ±10% jitter
)

// RetryPolicy bounds the attempts of an outbound call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// CalculateRetryDelay calculates the delay for the next retry attempt with exponential backoff and jitter
func CalculateRetryDelay(attempt int, baseDelay, maxDelay time.Duration, backoffFactor, jitterRange float64) time.Duration {
	delay := float64(baseDelay) * math.Pow(backoffFactor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	jitter := delay * jitterRange * (2*rand.Float64() - 1)
	delay += jitter
	if delay < 0 {
		delay = float64(baseDelay)
	}
	return time.Duration(delay)
}

// Delay returns the wait before retrying after the given zero-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return CalculateRetryDelay(attempt, p.BaseDelay, p.MaxDelay, BackoffFactor, JitterRange)
}

// Wait sleeps for the backoff of attempt or until ctx is done.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// IsRetryableHTTPStatus determines if an HTTP status code indicates a retryable error
func IsRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429 - Rate limit
		http.StatusInternalServerError, // 500 - Server error
		http.StatusBadGateway,          // 502 - Bad gateway
		http.StatusServiceUnavailable,  // 503 - Service unavailable
		http.StatusGatewayTimeout:      // 504 - Gateway timeout
		return true
	default:
		return false
	}
}
