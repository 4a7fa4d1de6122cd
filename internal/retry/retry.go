// Package retry retries startup operations such as connecting to a database
// that is still coming up. Request paths never retry.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/modelforge/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig backs off 1s, 2s, 4s, 8s between five attempts
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Result describes a finished retry loop
type Result struct {
	Attempts      int
	Success       bool
	TotalDuration time.Duration
	LastError     error
}

// Func is one attempt
type Func func(ctx context.Context, attempt int) error

// WithExponentialBackoff calls fn until it succeeds, attempts run out or ctx is done
func WithExponentialBackoff(ctx context.Context, cfg Config, name string, fn Func) *Result {
	logger := logging.FromContext(ctx).WithField("operation", name)
	start := time.Now()
	result := &Result{}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("operation succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if attempt == cfg.MaxAttempts {
			logger.WithError(err).WithField("attempts", attempt).Error("operation failed after max attempts")
			break
		}

		delay := Delay(cfg, attempt)
		logger.WithError(err).WithFields(logging.Fields{
			"attempt":      attempt,
			"max_attempts": cfg.MaxAttempts,
			"delay":        delay.String(),
		}).Warn("operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// Do runs fn with cfg and returns an error wrapping the last failure
func Do(ctx context.Context, cfg Config, name string, fn Func) error {
	res := WithExponentialBackoff(ctx, cfg, name, fn)
	if !res.Success {
		return fmt.Errorf("%s failed after %d attempts: %w", name, res.Attempts, res.LastError)
	}
	return nil
}

// Delay returns the wait after the given failed attempt: initial * multiplier^(attempt-1), capped
func Delay(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	return time.Duration(d)
}
