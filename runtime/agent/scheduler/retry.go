package scheduler

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/corvus-labs/swarmd/runtime/agent/model"
	"github.com/corvus-labs/swarmd/runtime/agent/telemetry"
)

// retryingClient wraps a model.Client with the scheduler's exponential
// backoff retry policy and a semaphore bounding concurrent model calls
// across the whole process. Worker and Supervisor code stays oblivious to
// retry/concurrency concerns; they just see a model.Client.
type retryingClient struct {
	inner  model.Client
	sem    *semaphore.Weighted
	logger telemetry.Logger
}

func newRetryingClient(inner model.Client, sem *semaphore.Weighted, logger telemetry.Logger) model.Client {
	return &retryingClient{inner: inner, sem: sem, logger: logger}
}

func (c *retryingClient) Invoke(ctx context.Context, prompt string, params model.Params) (string, model.Usage, error) {
	type result struct {
		text  string
		usage model.Usage
	}
	r, err := retryCall(ctx, c.sem, c.logger, func() (result, error) {
		text, usage, err := c.inner.Invoke(ctx, prompt, params)
		return result{text, usage}, err
	})
	return r.text, r.usage, err
}

func (c *retryingClient) InvokeStructured(ctx context.Context, prompt string, choices []model.Candidate, params model.Params) (int, string, error) {
	type result struct {
		idx       int
		reasoning string
	}
	r, err := retryCall(ctx, c.sem, c.logger, func() (result, error) {
		idx, reasoning, err := c.inner.InvokeStructured(ctx, prompt, choices, params)
		return result{idx, reasoning}, err
	})
	return r.idx, r.reasoning, err
}

// retryCall runs call up to MaxModelAttempts times, retrying only
// model.ClassTransient failures with jittered exponential backoff. A
// semaphore acquire/release brackets every individual attempt so the
// process-wide concurrent-call bound is honored even while backing off.
func retryCall[T any](ctx context.Context, sem *semaphore.Weighted, logger telemetry.Logger, call func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < MaxModelAttempts; attempt++ {
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				return zero, err
			}
		}
		result, err := call()
		if sem != nil {
			sem.Release(1)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if model.Classify(err) != model.ClassTransient {
			return zero, err
		}
		if attempt == MaxModelAttempts-1 {
			break
		}
		if logger != nil {
			logger.Warn(ctx, "model call failed transiently, retrying", "attempt", attempt+1, "error", err.Error())
		}
		if !sleepJittered(ctx, retryDelays[attempt]) {
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}

// sleepJittered sleeps base ± jitterFraction, returning false if ctx is
// done first so callers can abort cooperatively instead of retrying.
func sleepJittered(ctx context.Context, base time.Duration) bool {
	jitter := 1 + (rand.Float64()*2-1)*jitterFraction
	d := time.Duration(float64(base) * jitter)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
