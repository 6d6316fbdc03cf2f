package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxRetries int           `json:"max_retries"` // Maximum number of retry attempts (default: 3)
	BaseDelay  time.Duration `json:"base_delay"`  // Base delay between retries (default: 1s)
	MaxDelay   time.Duration `json:"max_delay"`   // Maximum delay between retries (default: 30s)
	Multiplier float64       `json:"multiplier"`  // Exponential backoff multiplier (default: 2.0)
	Jitter     bool          `json:"jitter"`      // Add random jitter to prevent thundering herd (default: true)
	LogRetries bool          `json:"log_retries"` // Whether to log retry attempts (default: true)
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`       // Total number of attempts made
	TotalDuration time.Duration `json:"total_duration"` // Total time spent on all attempts
	LastError     error         `json:"-"`              // Last error encountered
	Success       bool          `json:"success"`        // Whether the operation eventually succeeded
}

// DefaultRetryConfig returns a retry configuration with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// PollConfig returns a retry configuration tuned for status polling against
// a remote API: tighter base delay, many attempts, bounded ceiling.
func PollConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 30,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 1.5,
		Jitter:     true,
		LogRetries: false,
	}
}

// RetryWithBackoff executes an operation with exponential backoff retry logic.
// It stops early when ctx is cancelled.
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) RetryResult {
	startTime := time.Now()

	result := RetryResult{}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		if config.LogRetries && attempt > 0 {
			log.Debug().
				Int("attempt", attempt+1).
				Int("max_attempts", config.MaxRetries+1).
				Msg("retrying operation")
		}

		err := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			return result
		}
		result.LastError = err

		if attempt == config.MaxRetries {
			break
		}

		delay := calculateDelay(config, attempt)
		if config.LogRetries {
			log.Debug().
				Err(err).
				Dur("delay", delay).
				Msg("operation failed, backing off")
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay computes the jittered exponential delay for an attempt.
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.Jitter {
		// up to 25% random jitter
		delay += delay * 0.25 * rand.Float64()
	}
	return time.Duration(delay)
}
