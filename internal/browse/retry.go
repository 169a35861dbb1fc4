package browse

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/epalmerini/msgscope/internal/paging"
)

// RetryPolicy retries transient failures with exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy allows two retries after the first attempt, starting
// at 250ms and doubling.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     2 * time.Second,
	}
}

// ShouldRetry returns true if err is transient and attempt (1-indexed) has
// not used up MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return isRetryable(err)
}

// isRetryable classifies errors by type. Permission refusals, lifecycle
// violations, paging loops and cancellation are permanent; anything else is
// treated as a transient connection problem.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		permErr  *PermissionError
		stateErr *InvalidStateError
	)
	switch {
	case errors.As(err, &permErr),
		errors.As(err, &stateErr),
		errors.Is(err, paging.ErrPagingLoop),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// NextDelay returns the backoff before retry number attempt (1-indexed):
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn until it succeeds, fails permanently or runs out of
// attempts, and returns the last error.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !p.ShouldRetry(err, attempt) {
			return err
		}

		timer := time.NewTimer(p.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
