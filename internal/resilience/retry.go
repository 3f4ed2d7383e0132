package resilience

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	apperrors "prepai/internal/errors"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// maxBackoff caps the delay between attempts.
const maxBackoff = 30 * time.Second

// baseDelay is the first backoff step; tests shrink it.
var baseDelay = time.Second

// Retry runs fn up to maxRetries+1 times with exponential backoff and jitter.
// It stops early when retryable reports false or ctx is done.
func Retry[T any](ctx context.Context, operation string, maxRetries int, retryable func(error) bool, logger *apperrors.Logger, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("Retrying operation",
				"operation", operation,
				"attempt", attempt,
				"max_retries", maxRetries,
				"error", lastErr.Error())

			select {
			case <-time.After(backoff(attempt)):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Info("Operation succeeded after retry", "operation", operation, "attempts", attempt+1)
			}
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			break
		}
	}

	return zero, fmt.Errorf("operation '%s' failed: %w", operation, lastErr)
}

func backoff(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	var jitter time.Duration
	if jitterMax := int64(float64(delay) * 0.1); jitterMax > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(jitterMax)); err == nil {
			jitter = time.Duration(n.Int64())
		}
	}
	return min(delay+jitter, maxBackoff)
}

// IsRetryableGoogleError reports whether an error from a Google API call is
// worth another attempt: network failures, throttling and 5xx responses.
func IsRetryableGoogleError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return retryableStatus(genaiErr.Code)
	}

	return false
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
