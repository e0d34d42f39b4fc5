package respool

import (
	"context"
	"sync"
)

// Future is a one-shot completion handle: it completes exactly once, with
// either a value or an error, and lets any number of observers await that
// completion. It is the out-of-scope "promise/future primitive" spec.md
// §1 delegates to an external collaborator, realized here as the
// Go-idiomatic shape of "something an observer awaits."
//
// Future is safe to read and wait on from any goroutine, independent of
// the pool's internal lock.
type Future[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	val       T
	err       error
	settled   bool
	observers []func()
}

// newDeferred creates a Future together with the resolve/reject functions
// that settle it. Only the first call to either one takes effect; later
// calls are no-ops and return false. This is the engine's Deferred
// primitive (spec.md §4.A): a pending handle paired with its own
// resolver, kept private because only the Pool Engine ever holds the
// resolver side.
func newDeferred[T any]() (future *Future[T], resolve func(T) bool, reject func(error) bool) {
	f := &Future[T]{done: make(chan struct{})}

	settle := func(v T, err error) bool {
		f.mu.Lock()
		if f.settled {
			f.mu.Unlock()
			return false
		}
		f.settled = true
		f.val = v
		f.err = err
		observers := f.observers
		f.observers = nil
		f.mu.Unlock()

		close(f.done)
		for _, observe := range observers {
			observe()
		}
		return true
	}

	resolve = func(v T) bool {
		return settle(v, nil)
	}
	reject = func(err error) bool {
		var zero T
		return settle(zero, err)
	}
	return f, resolve, reject
}

// Done returns a channel that's closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done, whichever comes
// first. A ctx cancellation does not settle the future itself; it only
// stops this particular caller from waiting on it.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnSettle registers fn to run once the future settles, or runs it
// immediately (synchronously) if it already has. Observers run in
// registration order, after the future's value/error are visible to
// Wait/Done.
func (f *Future[T]) OnSettle(fn func()) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		fn()
		return
	}
	f.observers = append(f.observers, fn)
	f.mu.Unlock()
}
