package remote

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/comigor/genieq/internal/backoff"
	"github.com/comigor/genieq/internal/logger"
)

// Sleeper suspends the calling goroutine for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryHook observes every scheduled retry.
type RetryHook func(step string, attempt int, delay time.Duration)

// Executor runs remote operations, retrying rate-limited ones with backoff.
// It holds no per-call state and is safe for concurrent use.
type Executor struct {
	policy     backoff.Policy
	maxRetries int
	sleep      Sleeper
	onRetry    RetryHook
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the backoff sleep, mostly for tests.
func WithSleeper(s Sleeper) Option { return func(e *Executor) { e.sleep = s } }

// WithRetryHook registers a callback fired before each backoff sleep.
func WithRetryHook(h RetryHook) Option { return func(e *Executor) { e.onRetry = h } }

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// NewExecutor builds an Executor that calls a rate-limited operation at most
// maxRetries times per step. Values below 1 are raised to 1.
func NewExecutor(policy backoff.Policy, maxRetries int, opts ...Option) *Executor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	e := &Executor{policy: policy, maxRetries: maxRetries, sleep: SleepContext}
	for _, o := range opts {
		o(e)
	}
	e.logger = logger.Or(e.logger)
	return e
}

// MaxRetries returns the per-step call ceiling.
func (e *Executor) MaxRetries() int { return e.maxRetries }

type attemptsKey struct{}

// ContextWithAttempts attaches a counter that Do raises to the highest
// number of calls any single step under ctx has made so far.
func ContextWithAttempts(ctx context.Context, n *atomic.Int64) context.Context {
	return context.WithValue(ctx, attemptsKey{}, n)
}

func countAttempt(ctx context.Context, calls int) {
	n, ok := ctx.Value(attemptsKey{}).(*atomic.Int64)
	if !ok {
		return
	}
	for {
		cur := n.Load()
		if int64(calls) <= cur || n.CompareAndSwap(cur, int64(calls)) {
			return
		}
	}
}

// Do runs op under e's retry policy. Rate-limited failures are retried after
// a backoff sleep until op was called MaxRetries times, which yields a
// StepError wrapping ErrRetriesExhausted. Any other failure is returned at once as a
// StepError wrapping the remote error.
//
// op receives a context that is never cancelled: an in-flight remote call is
// allowed to finish. Cancelling ctx only interrupts the backoff sleeps.
func Do[T any](ctx context.Context, e *Executor, step string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	callCtx := context.WithoutCancel(ctx)

	for attempt := 0; ; attempt++ {
		countAttempt(ctx, attempt+1)
		v, err := op(callCtx)
		if err == nil {
			if attempt > 0 {
				e.logger.Info("remote call recovered after rate limiting", "step", step, "attempts", attempt+1)
			}
			return v, nil
		}

		var re *Error
		if !errors.As(err, &re) || re.Kind != KindRateLimited {
			e.logger.Debug("remote call failed", "step", step, "attempt", attempt, "error", err)
			return zero, &StepError{Step: step, Attempts: attempt + 1, Err: err}
		}
		if attempt+1 >= e.maxRetries {
			e.logger.Error("remote call still rate limited, giving up", "step", step, "attempts", attempt+1)
			return zero, &StepError{Step: step, Attempts: attempt + 1, Err: ErrRetriesExhausted, Last: err}
		}
		if ctx.Err() != nil {
			return zero, &StepError{Step: step, Attempts: attempt + 1, Err: ctx.Err(), Last: err}
		}

		delay := e.policy.DelayAfter(attempt, re.RetryAfter)
		e.logger.Warn("rate limit exceeded, backing off", "step", step, "attempt", attempt, "delay", delay.String())
		if e.onRetry != nil {
			e.onRetry(step, attempt, delay)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return zero, &StepError{Step: step, Attempts: attempt + 1, Err: err, Last: re}
		}
	}
}
