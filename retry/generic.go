package retry

import (
	"context"
	"time"
)

// DoTyped is a type-safe wrapper around Engine.Do, eliminating the need for
// a type assertion on the producer's result.
func DoTyped[T any](e *Engine, ctx context.Context, fn func(attempt int) (T, *RetryAfterHint, error)) (T, int, time.Duration, error) {
	result, attempts, wait, err := e.Do(ctx, func(attempt int) (any, *RetryAfterHint, error) {
		return fn(attempt)
	})
	if err != nil {
		var zero T
		return zero, attempts, wait, err
	}
	return result.(T), attempts, wait, nil
}
