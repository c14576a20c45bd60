package copilot

import (
	"context"
	"fmt"
	"time"
)

// DefaultCallTimeout bounds each generation call.
const DefaultCallTimeout = 60 * time.Second

type callResult[T any] struct {
	val T
	err error
}

// callAsync runs fn on its own goroutine with a timeout and waits for either
// its result or the deadline. A provider that ignores ctx cannot hold the
// caller past the timeout; its goroutine finishes in the background and the
// result is dropped.
func callAsync[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- callResult[T]{val: zero, err: fmt.Errorf("provider call panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- callResult[T]{val: v, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("provider call: %w", ctx.Err())
	}
}
