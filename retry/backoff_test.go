package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sabowaryan/personacraft/types"
)

func TestEngine_SucceedsFirstTry(t *testing.T) {
	e := New(Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxAttempts: 3}, zap.NewNop())

	callCount := 0
	_, attempts, _, err := e.Do(context.Background(), func(attempt int) (any, *RetryAfterHint, error) {
		callCount++
		return "ok", nil, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
	assert.Equal(t, 1, attempts)
}

func TestEngine_RetriesThenSucceeds(t *testing.T) {
	e := New(Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxAttempts: 3}, zap.NewNop())

	callCount := 0
	_, attempts, wait, err := e.Do(context.Background(), func(attempt int) (any, *RetryAfterHint, error) {
		callCount++
		if callCount < 3 {
			return nil, nil, types.NewError(types.ErrNetwork, "temporary")
		}
		return "ok", nil, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, 3, attempts)
	assert.Greater(t, wait, time.Duration(0))
}

func TestEngine_StopsOnNonRetryable(t *testing.T) {
	e := New(Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxAttempts: 3}, zap.NewNop())

	callCount := 0
	_, attempts, _, err := e.Do(context.Background(), func(attempt int) (any, *RetryAfterHint, error) {
		callCount++
		return nil, nil, types.NewError(types.ErrInvalidInput, "bad brief")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, callCount, "should not retry a non-retryable error")
	assert.Equal(t, 1, attempts)
}

func TestEngine_MaxAttemptsExceeded(t *testing.T) {
	e := New(Policy{BaseDelay: 5 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2.0, MaxAttempts: 2}, zap.NewNop())

	callCount := 0
	_, attempts, _, err := e.Do(context.Background(), func(attempt int) (any, *RetryAfterHint, error) {
		callCount++
		return nil, nil, types.NewError(types.ErrUpstream5xx, "always fails")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, callCount, "initial attempt plus 2 retries")
	assert.Equal(t, 3, attempts)
	var fe *types.Error
	assert.True(t, errors.As(err, &fe))
	assert.Equal(t, 3, fe.Attempt)
}

func TestEngine_ContextCancelledDuringBackoff(t *testing.T) {
	e := New(Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0, MaxAttempts: 5}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	callCount := 0
	_, _, _, err := e.Do(ctx, func(attempt int) (any, *RetryAfterHint, error) {
		callCount++
		return nil, nil, types.NewError(types.ErrNetwork, "fails")
	})

	assert.Error(t, err)
	assert.Equal(t, types.ErrCancelled, types.GetErrorCode(err))
	assert.GreaterOrEqual(t, callCount, 1)
}

func TestEngine_RetryAfterHintIsFloor(t *testing.T) {
	e := New(Policy{BaseDelay: 5 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0, MaxAttempts: 1, JitterEnabled: false}, zap.NewNop())

	start := time.Now()
	callCount := 0
	_, _, _, _ = e.Do(context.Background(), func(attempt int) (any, *RetryAfterHint, error) {
		callCount++
		if callCount == 1 {
			return nil, &RetryAfterHint{Duration: 60 * time.Millisecond}, types.NewError(types.ErrRateLimited, "slow down")
		}
		return "ok", nil, nil
	})
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestEngine_DelayCalculation_NoJitter(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0, JitterEnabled: false}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
	}

	for _, tt := range tests {
		got := p.Delay(tt.attempt, 0)
		assert.Equal(t, tt.expected, got)
	}
}

func TestEngine_DelayCalculation_JitterWithinSpecRange(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0, JitterEnabled: true}

	for attempt := 1; attempt <= 4; attempt++ {
		unjittered := time.Duration(float64(100*time.Millisecond) * math.Pow(2.0, float64(attempt-1)))
		if unjittered > time.Second {
			unjittered = time.Second
		}
		lower := time.Duration(float64(unjittered) * 0.5)
		upper := time.Duration(float64(unjittered) * 1.5)
		for i := 0; i < 50; i++ {
			got := p.Delay(attempt, 0)
			assert.GreaterOrEqual(t, got, lower)
			assert.Less(t, got, upper+time.Millisecond)
		}
	}
}

func TestEngine_OnRetryCallback(t *testing.T) {
	callbackCount := 0
	var lastAttempt int

	p := Policy{BaseDelay: 5 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2.0, MaxAttempts: 2,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			callbackCount++
			lastAttempt = attempt
		}}
	e := New(p, zap.NewNop())

	callCount := 0
	_, _, _, _ = e.Do(context.Background(), func(attempt int) (any, *RetryAfterHint, error) {
		callCount++
		if callCount < 3 {
			return nil, nil, types.NewError(types.ErrNetwork, "fails")
		}
		return "ok", nil, nil
	})

	assert.Equal(t, 2, callbackCount)
	assert.Equal(t, 2, lastAttempt)
}

func TestDoTyped(t *testing.T) {
	e := New(Policy{BaseDelay: 5 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2.0, MaxAttempts: 3}, zap.NewNop())

	callCount := 0
	val, attempts, _, err := DoTyped(e, context.Background(), func(attempt int) (string, *RetryAfterHint, error) {
		callCount++
		if callCount < 2 {
			return "", nil, types.NewError(types.ErrNetwork, "fails")
		}
		return "done", nil, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 2, attempts)
}
