package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrCollaboratorTimeout wraps an external call that exceeded its deadline.
var ErrCollaboratorTimeout = errors.New("collaborator call timed out")

// ErrCollaboratorFailure wraps an external call that failed on every attempt.
var ErrCollaboratorFailure = errors.New("collaborator call failed")

// RetryConfig bounds external collaborator calls.
type RetryConfig struct {
	// Attempts is the total number of tries (default 3).
	Attempts int
	// Timeout is the per-attempt deadline (default 30s).
	Timeout time.Duration
	// Backoff is the wait before the second attempt; it doubles each retry.
	Backoff time.Duration
}

// DefaultRetryConfig returns the default retry bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Timeout:  30 * time.Second,
		Backoff:  2 * time.Second,
	}
}

// withRetry runs fn with a per-attempt timeout and exponential backoff.
// Exhaustion returns the last error wrapped in ErrCollaboratorTimeout or
// ErrCollaboratorFailure so callers can record the failure class.
func withRetry(ctx context.Context, cfg RetryConfig, name string, fn func(ctx context.Context) error) error {
	var lastErr error
	wait := cfg.Backoff
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < cfg.Attempts {
			slog.Warn("collaborator call failed, retrying",
				"call", name,
				"attempt", attempt,
				"backoff", wait.String(),
				"error", err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return fmt.Errorf("%s: %w: %w", name, ErrCollaboratorFailure, ctx.Err())
			}
			wait *= 2
		}
	}
	if errors.Is(lastErr, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", name, ErrCollaboratorTimeout, lastErr)
	}
	return fmt.Errorf("%s: %w: %w", name, ErrCollaboratorFailure, lastErr)
}
