package async

import (
	"context"
	"fmt"
)

type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns an already completed future.
func Resolved[T any](value T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(value, err)
	return f
}

func (f *Future[T]) resolve(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the future resolves or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Go schedules fn on the pool and returns its future.
func Go[T any](ctx context.Context, pool *Pool, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	err := pool.submit(ctx, func() {
		var (
			value T
			err   error
		)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.resolve(zero, fmt.Errorf("async task panic: %v", r))
				return
			}
			f.resolve(value, err)
		}()
		value, err = fn(ctx)
	})
	if err != nil {
		var zero T
		f.resolve(zero, err)
	}
	return f
}
