package respool

import (
	"container/list"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// request is a pending acquisition: spec.md's Resource Request (§4.B),
// a Future paired with its creation timestamp, priority, and an optional
// timeout timer. Every field here is engine-owned state: it is only ever
// read or written while the Pool Engine holds its lock, including from
// the timer callback (Pool.onRequestExpire) that newRequest arms.
type request[T comparable] struct {
	future  *Future[T]
	resolve func(T) bool
	reject  func(error) bool

	createdAt time.Time
	priority  int
	settled   bool

	timer *clock.Timer

	// Queue bookkeeping, set by the priority waiter queue that holds
	// this request so it can be removed in O(1) on dispatch or timeout.
	slot int
	elem *list.Element
}

// newRequest creates a pending Resource Request. If timeout is positive,
// a timer is armed that calls onExpire (expected to take the engine lock,
// check pendingness, and fail the request with ErrTimeout) when it fires.
func newRequest[T comparable](clk clock.Clock, priority int, timeout time.Duration, onExpire func(*request[T])) *request[T] {
	future, resolve, reject := newDeferred[T]()

	r := &request[T]{
		future:    future,
		createdAt: clk.Now(),
		priority:  priority,
	}
	r.resolve = func(v T) bool {
		ok := resolve(v)
		if ok {
			r.settled = true
			r.stopTimer()
		}
		return ok
	}
	r.reject = func(err error) bool {
		ok := reject(err)
		if ok {
			r.settled = true
			r.stopTimer()
		}
		return ok
	}

	if timeout > 0 {
		r.armTimer(clk, timeout, onExpire)
	}
	return r
}

func (r *request[T]) armTimer(clk clock.Clock, delay time.Duration, onExpire func(*request[T])) {
	r.timer = clk.AfterFunc(delay, func() { onExpire(r) })
}

func (r *request[T]) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// fulfill resolves the request with a dispatched resource handle.
func (r *request[T]) fulfill(v T) bool {
	return r.resolve(v)
}

// fail rejects the request, e.g. with ErrTimeout or the error of a
// caller's cancelled context.
func (r *request[T]) fail(err error) bool {
	return r.reject(err)
}

// setTimeout arms a fresh timeout, replacing any existing one, unless the
// request has already settled (a no-op per spec.md §4.B). The effective
// delay accounts for the request's age: max(delay-age, 0).
func (r *request[T]) setTimeout(clk clock.Clock, delay time.Duration, onExpire func(*request[T])) error {
	if delay < 0 {
		return fmt.Errorf("respool: timeout delay must be >= 0, got %s", delay)
	}
	if r.settled {
		return nil
	}
	r.stopTimer()
	age := clk.Now().Sub(r.createdAt)
	effective := delay - age
	if effective < 0 {
		effective = 0
	}
	r.armTimer(clk, effective, onExpire)
	return nil
}
