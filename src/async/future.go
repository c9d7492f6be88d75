package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// CompletionError wraps a failure that happened on a worker. Unwrap returns
// the original cause.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string { return fmt.Sprintf("async completion: %v", e.Err) }
func (e *CompletionError) Unwrap() error { return e.Err }

// Cause strips any CompletionError layers from err.
func Cause(err error) error {
	for {
		var ce *CompletionError
		if !errors.As(err, &ce) || ce.Err == nil {
			return err
		}
		err = ce.Err
	}
}

// Future is a single-assignment result. The first Complete or Fail wins.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Complete settles the future with v. It reports whether this call won.
func (f *Future[T]) Complete(v T) bool {
	won := false
	f.once.Do(func() {
		f.value = v
		won = true
		close(f.done)
	})
	return won
}

// Fail settles the future with err. It reports whether this call won.
func (f *Future[T]) Fail(err error) bool {
	won := false
	f.once.Do(func() {
		f.err = err
		won = true
		close(f.done)
	})
	return won
}

// Done is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// OnSettle calls fn on its own goroutine once f settles.
func (f *Future[T]) OnSettle(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.value, f.err)
	}()
}

// Await blocks until the future settles or ctx ends.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Run executes fn on ex and returns a future for its result. Panics in fn
// fail the future.
func Run[T any](ex Executor, fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	if ex == nil {
		ex = Goroutines{}
	}
	ex.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				f.Fail(&CompletionError{Err: fmt.Errorf("panic: %v", r)})
			}
		}()
		v, err := fn()
		if err != nil {
			f.Fail(&CompletionError{Err: err})
			return
		}
		f.Complete(v)
	})
	return f
}
