package service

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"payment-collection-broker/internal/core/domain"
)

const maxBackoffShift = 30

// lateOutcomeGrace is how long a cancelled attempt may still report its outcome.
const lateOutcomeGrace = 50 * time.Millisecond

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy bounds and paces attempts against a transient-failure-prone call.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration // 0 = uncapped
	AttemptTimeout time.Duration // 0 = bounded only by the caller's context
	Jitter         bool          // adds up to a quarter of the delay on top, within MaxDelay
	Sleep          SleepFunc     // nil = timer-based sleep
}

// DefaultRetryPolicy returns 3 attempts, 1s base delay and a 5s attempt timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		AttemptTimeout: 5 * time.Second,
	}
}

// NoDelay returns a policy with maxAttempts attempts and no waiting between them.
func NoDelay(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts}
}

// Delay returns the wait before attempt+1, i.e. BaseDelay * 2^(attempt-1)
// plus jitter, never more than MaxDelay when one is set.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt < 1 {
		return 0
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := p.BaseDelay << shift
	if p.Jitter && d > 0 {
		d += time.Duration(rand.Int64N(int64(d)/4 + 1))
	}
	if d <= 0 {
		d = math.MaxInt64
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Execute runs fn until it is accepted or rejected, or attempts run out.
// Unavailable outcomes are retried with exponential backoff; after the final
// attempt an Exhausted outcome carrying the last reason is returned. The only
// error is ctx.Err(), returned as soon as the caller's context is done unless
// the attempt in flight was accepted: an accepted payment is always reported.
func (p RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) domain.Outcome) (domain.Outcome, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var last domain.Outcome
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Outcome{}, err
		}

		out := p.attempt(ctx, fn)
		if out.Kind == domain.OutcomeAccepted {
			out.Attempts = attempt
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return domain.Outcome{}, err
		}
		if out.Kind == domain.OutcomeRejected {
			out.Attempts = attempt
			return out, nil
		}
		last = out

		if attempt < attempts {
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return domain.Outcome{}, err
			}
		}
	}

	return domain.Exhausted(last.Reason, attempts), nil
}

// attempt runs fn under the per-attempt timeout. An attempt that overruns it
// is reported as Unavailable even if fn ignores its context. When the caller
// cancels instead, fn gets lateOutcomeGrace to report what it already has.
func (p RetryPolicy) attempt(ctx context.Context, fn func(ctx context.Context) domain.Outcome) domain.Outcome {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if p.AttemptTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
	}
	defer cancel()

	done := make(chan domain.Outcome, 1)
	go func() { done <- fn(actx) }()

	select {
	case out := <-done:
		if out.Kind == "" {
			return domain.Unavailable("empty outcome from upstream call")
		}
		return out
	case <-actx.Done():
		if ctx.Err() == nil {
			return domain.Unavailable(fmt.Sprintf("attempt timed out after %s", p.AttemptTimeout))
		}
		timer := time.NewTimer(lateOutcomeGrace)
		defer timer.Stop()
		select {
		case out := <-done:
			if out.Kind != "" {
				return out
			}
		case <-timer.C:
		}
		return domain.Unavailable(ctx.Err().Error())
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
