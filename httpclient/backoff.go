package httpclient

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gaborage/condfetch/httpclient/internal/tracking"
	"github.com/gaborage/condfetch/logger"
)

// Operation is one attempt of a retried unit of work. A nil error is success.
type Operation[T any] func(ctx context.Context) (T, error)

// Sleeper suspends for d or until ctx is done, returning ctx.Err() in the latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// Backoff holds the collaborators of Execute: where to log, how long one delay
// step is and how to sleep.
type Backoff struct {
	log   logger.Logger
	unit  time.Duration
	sleep Sleeper
}

// BackoffOption customizes a Backoff.
type BackoffOption func(*Backoff)

// WithUnit sets the duration of one delay step (default: one second).
func WithUnit(unit time.Duration) BackoffOption {
	return func(b *Backoff) {
		if unit > 0 {
			b.unit = unit
		}
	}
}

// WithSleeper replaces the timer-based sleep.
func WithSleeper(s Sleeper) BackoffOption {
	return func(b *Backoff) {
		if s != nil {
			b.sleep = s
		}
	}
}

// NewBackoff creates a Backoff. A nil logger discards output.
func NewBackoff(log logger.Logger, opts ...BackoffOption) *Backoff {
	if log == nil {
		log = logger.Nop()
	}
	b := &Backoff{log: log, unit: time.Second, sleep: sleepContext}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs op until it succeeds, the retry budget is spent or ctx is cancelled
// while waiting between attempts.
//
// The first wait is base units, and each further wait is base times the previous one.
// The loop stops once the next wait would exceed base^exponent units. A failed attempt
// is always followed by its wait, so base=2 exponent=3 makes three attempts and waits
// 2, 4 and 8 units. base=1 never grows and retries until success or cancellation.
//
// On success the result of that attempt is returned. Otherwise the result and error of
// the last attempt are returned, whether the budget ran out or the wait was cancelled.
// A panic in op is recovered and counts as a failed attempt.
func Execute[T any](ctx context.Context, b *Backoff, op Operation[T], base, exponent int) (T, error) {
	if b == nil {
		b = NewBackoff(nil)
	}

	var (
		result T
		err    error = ErrNoAttempts
	)

	if base <= 0 {
		b.log.Warn().Int("base", base).Msg("non-positive backoff base, running a single attempt")
		return runAttempt(ctx, b, op, 1)
	}

	delay := int64(base)
	maxDelay := power(int64(base), exponent)
	for attempt := 1; delay <= maxDelay; attempt++ {
		result, err = runAttempt(ctx, b, op, attempt)
		if err == nil {
			return result, nil
		}

		wait := b.duration(delay)
		b.log.Info().Int("attempt", attempt).Int64("delay", delay).Msgf("request failed, waiting %d seconds to try again", delay)
		tracking.RecordBackoffWait(ctx, wait)
		if serr := b.sleep(ctx, wait); serr != nil {
			b.log.Warn().Err(serr).Int("attempt", attempt).Msg("exponential backoff interrupted")
			break
		}

		if delay > maxDelay/int64(base) {
			break
		}
		delay *= int64(base)
	}
	return result, err
}

func runAttempt[T any](ctx context.Context, b *Backoff, op Operation[T], n int) (T, error) {
	result, err := runRecovered(ctx, op)
	if err != nil {
		b.log.Error().Err(err).Int("attempt", n).Msg("request failed with error")
		tracking.RecordAttempt(ctx, tracking.OutcomeFailure)
		return result, err
	}
	tracking.RecordAttempt(ctx, tracking.OutcomeSuccess)
	return result, nil
}

func runRecovered[T any](ctx context.Context, op Operation[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result, err = zero, fmt.Errorf("%w: %v", ErrOperationPanicked, r)
		}
	}()
	return op(ctx)
}

func (b *Backoff) duration(delay int64) time.Duration {
	if delay > int64(math.MaxInt64/b.unit) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay) * b.unit
}

// power returns base^exp saturated at math.MaxInt64. A negative exponent truncates
// toward zero, so it yields 1 for base 1 and 0 otherwise.
func power(base int64, exp int) int64 {
	if exp < 0 {
		if base == 1 {
			return 1
		}
		return 0
	}
	result := int64(1)
	for range exp {
		if result > math.MaxInt64/base {
			return math.MaxInt64
		}
		result *= base
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
