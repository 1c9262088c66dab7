package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy configures the backoff loop.
type Policy struct {
	// MaxRetries is the total number of attempts, not the number of re-tries.
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// DefaultPolicy is three attempts starting at one second, capped at thirty.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		JitterPercent: 10,
	}
}

// Observer receives attempt outcomes, typically a metrics recorder.
type Observer interface {
	ObserveAttempt(name string, attempt int, err error)
	ObserveExhausted(name string, attempts int)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs operations under a Policy.
type Executor struct {
	policy   Policy
	logger   *slog.Logger
	sleep    SleepFunc
	observer Observer
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithObserver registers an attempt observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

// NewExecutor creates an Executor. Non-positive policy values fall back to DefaultPolicy.
func NewExecutor(policy Policy, logger *slog.Logger, opts ...Option) *Executor {
	def := DefaultPolicy()
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = def.MaxRetries
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	if policy.JitterPercent > 100 {
		policy.JitterPercent = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		policy: policy,
		logger: logger.With("component", "retry"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// backoff yields min(base*2^k, max) with jitter, clamped to max again.
func (e *Executor) backoff() goretry.Backoff {
	b := goretry.NewExponential(e.policy.BaseDelay)
	if e.policy.JitterPercent > 0 {
		b = goretry.WithJitterPercent(e.policy.JitterPercent, b)
	}
	return goretry.WithCappedDuration(e.policy.MaxDelay, b)
}

// Do runs op until it succeeds, returns a Permanent error, the context ends, or
// the policy's attempts are used up.
func Do[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	result, _, err := DoCounted(ctx, e, name, op)
	return result, err
}

// DoCounted is Do that also reports how many attempts were made.
func DoCounted[T any](
	ctx context.Context,
	e *Executor,
	name string,
	op func(ctx context.Context) (T, error),
) (T, int, error) {
	var zero T
	backoff := e.backoff()
	maxAttempts := e.policy.MaxRetries

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, canceled(name, err, lastErr)
		}

		result, err := op(ctx)
		if e.observer != nil {
			e.observer.ObserveAttempt(name, attempt, err)
		}
		if err == nil {
			if attempt > 1 {
				e.logger.InfoContext(ctx, "operation succeeded after retry",
					"operation", name,
					"attempt", attempt)
			}
			return result, attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			e.logger.WarnContext(ctx, "operation failed with permanent error",
				"operation", name,
				"attempt", attempt,
				"error", perm.err)
			return zero, attempt, perm.err
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay, _ := backoff.Next()
		e.logger.WarnContext(ctx, "operation failed, retrying",
			"operation", name,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err)

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return zero, attempt, canceled(name, sleepErr, lastErr)
		}
	}

	e.logger.ErrorContext(ctx, "operation failed after all retries",
		"operation", name,
		"attempts", maxAttempts,
		"error", lastErr)
	if e.observer != nil {
		e.observer.ObserveExhausted(name, maxAttempts)
	}
	return zero, maxAttempts, &ExhaustedError{Name: name, Attempts: maxAttempts, Last: lastErr}
}

func canceled(name string, ctxErr, lastErr error) error {
	if lastErr == nil {
		return fmt.Errorf("%s canceled: %w", name, ctxErr)
	}
	return fmt.Errorf("%s canceled: %w (last error: %w)", name, ctxErr, lastErr)
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
