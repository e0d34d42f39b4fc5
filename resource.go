package respool

import (
	"container/list"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// resourceState is the lifecycle state of a Pooled Resource (spec.md
// §4.D).
type resourceState int

const (
	stateIdle resourceState = iota
	stateAllocated
	stateValidation
	stateReturning
	stateInvalid
)

func (s resourceState) String() string {
	switch s {
	case stateIdle:
		return "IDLE"
	case stateAllocated:
		return "ALLOCATED"
	case stateValidation:
		return "VALIDATION"
	case stateReturning:
		return "RETURNING"
	case stateInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// pooledResource is the engine's wrapper around a live resource handle,
// carrying lifecycle state and timing metadata (spec.md §3, §4.D). Every
// method here assumes the caller holds the Pool Engine's lock; illegal
// transitions panic, since they indicate an engine bug rather than
// caller misuse.
type pooledResource[T comparable] struct {
	id       uuid.UUID
	resource T
	state    resourceState

	createdAt    time.Time
	lastBorrowAt time.Time
	lastReturnAt time.Time
	// lastIdleAt is non-nil iff state == stateIdle.
	lastIdleAt *time.Time

	// elem is the node this resource occupies in the available cache
	// while IDLE, kept here so the cache can be mutated in O(1).
	elem *list.Element
}

func newPooledResource[T comparable](resource T, now time.Time) *pooledResource[T] {
	p := &pooledResource[T]{
		id:        uuid.New(),
		resource:  resource,
		state:     stateIdle,
		createdAt: now,
	}
	idle := now
	p.lastIdleAt = &idle
	return p
}

func (p *pooledResource[T]) mustBeIn(op string, want ...resourceState) {
	for _, s := range want {
		if p.state == s {
			return
		}
	}
	panic(fmt.Sprintf("respool: illegal transition: %s requires state in %v, have %s", op, want, p.state))
}

// allocate transitions IDLE -> ALLOCATED on dispatch to a waiter.
func (p *pooledResource[T]) allocate(now time.Time) {
	p.mustBeIn("allocate", stateIdle)
	p.state = stateAllocated
	p.lastBorrowAt = now
	p.lastIdleAt = nil
}

// test transitions IDLE -> VALIDATION (testOnBorrow) or
// RETURNING -> VALIDATION (testOnReturn).
func (p *pooledResource[T]) test() {
	p.mustBeIn("test", stateIdle, stateReturning)
	p.state = stateValidation
	p.lastIdleAt = nil
}

// returning transitions ALLOCATED -> RETURNING on Release.
func (p *pooledResource[T]) returning(now time.Time) {
	p.mustBeIn("returning", stateAllocated)
	p.state = stateReturning
	p.lastReturnAt = now
}

// idle transitions ALLOCATED, RETURNING, or VALIDATION into IDLE.
func (p *pooledResource[T]) idle(now time.Time) {
	p.mustBeIn("idle", stateAllocated, stateReturning, stateValidation)
	p.state = stateIdle
	idle := now
	p.lastIdleAt = &idle
}

// invalidate transitions any state into the terminal INVALID state ahead
// of destruction.
func (p *pooledResource[T]) invalidate() {
	p.state = stateInvalid
	p.lastIdleAt = nil
}
