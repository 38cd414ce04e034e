package util

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Flight collapses concurrent calls for the same key into one execution
// whose result every caller shares.
type Flight[T any] struct {
	group   singleflight.Group
	timeout time.Duration
}

// NewFlight returns a Flight whose shared executions are bounded by timeout.
// A zero timeout leaves them unbounded.
func NewFlight[T any](timeout time.Duration) *Flight[T] {
	return &Flight[T]{timeout: timeout}
}

// Do runs fn once per key among concurrent callers. The execution runs on a
// context detached from the first caller so one client hanging up does not
// fail everyone waiting on the same key; each caller still stops waiting
// when its own ctx is done.
func (f *Flight[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	ch := f.group.DoChan(key, func() (interface{}, error) {
		runCtx := context.WithoutCancel(ctx)
		if f.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, f.timeout)
			defer cancel()
		}
		return fn(runCtx)
	})

	select {
	case r := <-ch:
		var zero T
		if r.Err != nil {
			return zero, r.Shared, r.Err
		}
		return r.Val.(T), r.Shared, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Forget drops key so the next call starts a fresh execution.
func (f *Flight[T]) Forget(key string) {
	f.group.Forget(key)
}
