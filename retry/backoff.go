// Package retry implements the exponential backoff engine used by the
// scheduler to retry transient provider failures.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/types"
)

// Policy configures the backoff engine. Delay before attempt n (1-indexed,
// counting the first retry as attempt 1) is
// min(BaseDelay * Multiplier^(n-1), MaxDelay), optionally jittered by a
// uniform factor in [0.5, 1.5).
type Policy struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	MaxAttempts   int
	JitterEnabled bool
	OnRetry       func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns a sane default backoff policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		MaxAttempts:   3,
		JitterEnabled: true,
	}
}

func (p Policy) normalized() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// Delay returns the backoff delay before attempt n (1-indexed), per the
// law: with jitter disabled, delay(i) == min(BaseDelay*Multiplier^(i-1), MaxDelay)
// exactly. With jitter enabled, that value is multiplied by a uniform
// factor in [0.5, 1.5). retryAfter, when non-zero, is honored as a floor on
// the result.
func (p Policy) Delay(attempt int, retryAfter time.Duration) time.Duration {
	p = p.normalized()
	raw := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}
	if p.JitterEnabled {
		raw *= 0.5 + rand.Float64()
	}
	d := time.Duration(raw)
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

// Engine runs a producer under the backoff policy, classifying failures via
// the shared error taxonomy. It never retries a non-retryable error, never
// retries past MaxAttempts, and never retries after the caller's context is
// cancelled.
type Engine struct {
	policy Policy
	logger *zap.Logger
}

// New creates a retry Engine. logger may be nil, in which case a no-op
// logger is used.
func New(policy Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{policy: policy.normalized(), logger: logger}
}

// Policy returns the engine's current policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// SetPolicy atomically replaces the engine's policy, taking effect for
// subsequent calls to Do.
func (e *Engine) SetPolicy(p Policy) {
	e.policy = p.normalized()
}

// RetryAfterHint lets a producer report a provider-supplied Retry-After
// duration after a failed attempt.
type RetryAfterHint struct {
	Duration time.Duration
}

// Do invokes fn, retrying on retryable *types.Error failures until success,
// a non-retryable error, cancellation, or the attempt cap. It returns the
// final result/error and the number of attempts made (1-indexed) plus the
// cumulative time spent waiting on backoff.
func (e *Engine) Do(ctx context.Context, fn func(attempt int) (any, *RetryAfterHint, error)) (any, int, time.Duration, error) {
	var lastErr error
	var cumulativeWait time.Duration

	maxAttempts := e.policy.MaxAttempts + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, cumulativeWait, types.NewError(types.ErrCancelled, "retry cancelled").
				WithCause(err).WithAttempt(attempt - 1).WithCumulativeWait(cumulativeWait)
		}

		result, hint, err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, attempt, cumulativeWait, nil
		}

		lastErr = err
		if !types.IsRetryable(err) {
			return nil, attempt, cumulativeWait, err
		}
		if attempt >= maxAttempts {
			break
		}

		var retryAfter time.Duration
		if hint != nil {
			retryAfter = hint.Duration
		}
		delay := e.policy.Delay(attempt, retryAfter)

		if e.policy.OnRetry != nil {
			e.policy.OnRetry(attempt, lastErr, delay)
		}
		e.logger.Debug("backing off", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, cumulativeWait, types.NewError(types.ErrCancelled, "retry cancelled during backoff").
				WithCause(ctx.Err()).WithAttempt(attempt).WithCumulativeWait(cumulativeWait)
		case <-timer.C:
			cumulativeWait += delay
		}
	}

	e.logger.Warn("retries exhausted", zap.Int("attempts", maxAttempts), zap.Error(lastErr))
	if e, ok := lastErr.(*types.Error); ok {
		return nil, maxAttempts, cumulativeWait, e.WithAttempt(maxAttempts).WithCumulativeWait(cumulativeWait)
	}
	return nil, maxAttempts, cumulativeWait, lastErr
}
