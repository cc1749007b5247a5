// Package poll holds the periodic fetch primitives: a cancelable future, the
// poll loop driving it and the memoized fetcher deciding when a value changed.
package poll

import (
	"context"
	"errors"
	"sync"
)

// ErrCanceled is returned by Future.Wait when the future was superseded
// before it settled.
var ErrCanceled = errors.New("poll: operation canceled")

// IsCanceled reports whether err signals a superseded or canceled operation
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// Future is an asynchronous operation that can be canceled.
// Canceling cancels the context handed to the operation, so the transport
// request it issued is aborted as well.
type Future[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	canceled bool
	value    T
	err      error
}

// Go starts fn in its own goroutine with a child context of ctx
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	fctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(f.done)
		defer cancel()

		value, err := fn(fctx)

		f.mu.Lock()
		f.value = value
		f.err = err
		f.mu.Unlock()
	}()

	return f
}

// Cancel marks the future as superseded and cancels its context.
// Canceling a settled future has no effect on its result.
func (f *Future[T]) Cancel() {
	select {
	case <-f.done:
		return
	default:
	}

	f.mu.Lock()
	f.canceled = true
	f.mu.Unlock()
	f.cancel()
}

// Done is closed once the operation returned
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the operation already returned
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the operation returns or ctx is done.
// A future canceled before it settled yields ErrCanceled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	var zero T

	select {
	case <-f.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.canceled {
		return zero, ErrCanceled
	}
	return f.value, f.err
}
