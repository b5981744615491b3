package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nstogner/tiered/pkg/domain"
)

// RetryPolicy retries a turn attempt with exponential backoff. The zero
// value makes a single attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable reports whether err may be retried. Nil retries only
	// quota exhaustion.
	Retryable func(err error) bool
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy makes up to 3 attempts, backing off 2s then 4s, and
// retries only quota exhaustion.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// IsQuotaExhausted is the default retry predicate.
func IsQuotaExhausted(err error) bool {
	return errors.Is(err, domain.ErrQuotaExhausted)
}

// Backoff returns the delay after failed attempt n (1-based):
// min(BaseDelay * 2^(n-1), MaxDelay).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. It returns the number of attempts made and the
// last error, unmodified.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsQuotaExhausted
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	limit := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || attempt >= limit || !retryable(err) {
			return attempt, err
		}
		d := p.Backoff(attempt)
		slog.WarnContext(ctx, "Retrying after transient error", "attempt", attempt, "backoff", d, "error", err)
		if serr := sleep(ctx, d); serr != nil {
			return attempt, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
