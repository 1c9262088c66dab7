package retry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
	"github.com/phrazzld/maintenance-orchestrator/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleep captures requested delays without sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func (r *recordingSleep) Total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total time.Duration
	for _, d := range r.delays {
		total += d
	}
	return total
}

type recordingObserver struct {
	attempts  int
	exhausted int
}

func (o *recordingObserver) ObserveAttempt(string, int, error) { o.attempts++ }
func (o *recordingObserver) ObserveExhausted(string, int)      { o.exhausted++ }

func newExecutor(policy retry.Policy, sleeper *recordingSleep, opts ...retry.Option) *retry.Executor {
	opts = append(opts, retry.WithSleep(sleeper.Sleep))
	return retry.NewExecutor(policy, logger.Discard(), opts...)
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	sleeper := &recordingSleep{}
	exec := newExecutor(retry.DefaultPolicy(), sleeper)

	calls := 0
	result, attempts, err := retry.DoCounted(context.Background(), exec, "lookup",
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	sleeper := &recordingSleep{}
	exec := newExecutor(retry.Policy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}, sleeper)

	calls := 0
	result, err := retry.Do(context.Background(), exec, "flaky",
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("temporary")
			}
			return 42, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeper.delays, 2)
}

// N attempts for MaxRetries=N, and the cumulative sleep never exceeds N*MaxDelay.
func TestDo_AttemptCountAndSleepBound(t *testing.T) {
	tests := []struct {
		name   string
		policy retry.Policy
	}{
		{"one attempt", retry.Policy{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: 30 * time.Second, JitterPercent: 10}},
		{"three attempts", retry.Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, JitterPercent: 10}},
		{"capped", retry.Policy{MaxRetries: 8, BaseDelay: time.Second, MaxDelay: 4 * time.Second, JitterPercent: 10}},
		{"full jitter", retry.Policy{MaxRetries: 6, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, JitterPercent: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleep{}
			observer := &recordingObserver{}
			exec := newExecutor(tt.policy, sleeper, retry.WithObserver(observer))

			calls := 0
			_, attempts, err := retry.DoCounted(context.Background(), exec, "always-fails",
				func(ctx context.Context) (struct{}, error) {
					calls++
					return struct{}{}, errors.New("boom")
				})

			require.Error(t, err)
			assert.Equal(t, tt.policy.MaxRetries, calls)
			assert.Equal(t, tt.policy.MaxRetries, attempts)
			assert.Len(t, sleeper.delays, tt.policy.MaxRetries-1)
			assert.LessOrEqual(t, sleeper.Total(), time.Duration(tt.policy.MaxRetries)*tt.policy.MaxDelay)
			for _, d := range sleeper.delays {
				assert.LessOrEqual(t, d, tt.policy.MaxDelay)
			}
			assert.Equal(t, tt.policy.MaxRetries, observer.attempts)
			assert.Equal(t, 1, observer.exhausted)
		})
	}
}

func TestDo_DelaysDoubleWithinJitter(t *testing.T) {
	sleeper := &recordingSleep{}
	policy := retry.Policy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Minute, JitterPercent: 10}
	exec := newExecutor(policy, sleeper)

	_, err := retry.Do(context.Background(), exec, "doubling",
		func(ctx context.Context) (int, error) { return 0, errors.New("fail") })
	require.Error(t, err)

	require.Len(t, sleeper.delays, 4)
	for k, d := range sleeper.delays {
		nominal := time.Second << k
		assert.GreaterOrEqual(t, d, nominal*9/10, "delay %d", k)
		assert.LessOrEqual(t, d, nominal*11/10, "delay %d", k)
	}
}

func TestDo_ExhaustedErrorWrapsLastError(t *testing.T) {
	sleeper := &recordingSleep{}
	exec := newExecutor(retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, sleeper)

	cause := errors.New("provider unavailable")
	_, err := retry.Do(context.Background(), exec, "generate",
		func(ctx context.Context) (string, error) { return "", cause })

	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhaustedRetries)
	assert.ErrorIs(t, err, cause)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "generate", exhausted.Name)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, "generate failed after 2 attempts: provider unavailable", exhausted.Error())
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	sleeper := &recordingSleep{}
	exec := newExecutor(retry.Policy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second}, sleeper)

	cause := errors.New("content blocked")
	calls := 0
	_, err := retry.Do(context.Background(), exec, "blocked",
		func(ctx context.Context) (string, error) {
			calls++
			return "", retry.Permanent(cause)
		})

	assert.Equal(t, cause, err)
	assert.False(t, errors.Is(err, retry.ErrExhaustedRetries))
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestDo_ContextCanceledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := retry.Do(ctx, retry.NewExecutor(retry.DefaultPolicy(), logger.Discard()), "never",
		func(ctx context.Context) (int, error) {
			calls++
			return 1, nil
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := retry.NewExecutor(retry.Policy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, logger.Discard())

	cause := errors.New("first failure")
	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(ctx, exec, "slow", func(ctx context.Context) (int, error) {
			return 0, cause
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, cause)
	case <-time.After(2 * time.Second):
		t.Fatal("backoff sleep did not observe cancellation")
	}
}

func TestNewExecutor_NormalizesPolicy(t *testing.T) {
	exec := retry.NewExecutor(retry.Policy{MaxRetries: 0, BaseDelay: 0, MaxDelay: 0, JitterPercent: 500}, nil)

	policy := exec.Policy()
	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, time.Second, policy.BaseDelay)
	assert.Equal(t, time.Second, policy.MaxDelay)
	assert.Equal(t, uint64(100), policy.JitterPercent)
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, retry.Permanent(nil))

	cause := errors.New("bad input")
	err := retry.Permanent(cause)
	assert.True(t, retry.IsPermanent(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, retry.IsPermanent(cause))
}
