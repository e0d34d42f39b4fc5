package respool

import "container/list"

// availableCache is spec.md's Available Cache (§4.F): an ordered
// sequence of idle Pooled Resources supporting FIFO or LIFO dispensing,
// forward/reverse iteration, and a persistent eviction cursor that
// survives arbitrary insertions and removals elsewhere in the list.
//
// Backed by container/list: its *list.Element node pointers are exactly
// the stable node identity spec.md §9 asks the cursor to hold onto, with
// no hand-rolled linked-list code needed (see DESIGN.md).
//
// Every method assumes the Pool Engine's lock is held.
type availableCache[T comparable] struct {
	items  *list.List
	cursor *list.Element
}

func newAvailableCache[T comparable]() *availableCache[T] {
	return &availableCache[T]{items: list.New()}
}

// push appends p to the tail (used for FIFO re-idling: oldest-first
// dispense means new arrivals go to the back).
func (c *availableCache[T]) push(p *pooledResource[T]) {
	p.elem = c.items.PushBack(p)
}

// unshift prepends p to the head (used for LIFO re-idling, and to put a
// resource back in front when dispatch finds no waiter left to take it).
func (c *availableCache[T]) unshift(p *pooledResource[T]) {
	p.elem = c.items.PushFront(p)
}

// shift removes and returns the head (oldest) resource, or nil if empty.
func (c *availableCache[T]) shift() *pooledResource[T] {
	el := c.items.Front()
	if el == nil {
		return nil
	}
	return c.removeElem(el)
}

// pop removes and returns the tail (newest) resource, or nil if empty.
func (c *availableCache[T]) pop() *pooledResource[T] {
	el := c.items.Back()
	if el == nil {
		return nil
	}
	return c.removeElem(el)
}

// remove removes p from wherever it sits in the cache. Safe to call on a
// resource not currently in the cache (no-op, returns false).
func (c *availableCache[T]) remove(p *pooledResource[T]) bool {
	if p.elem == nil {
		return false
	}
	c.removeElem(p.elem)
	return true
}

func (c *availableCache[T]) removeElem(el *list.Element) *pooledResource[T] {
	if c.cursor == el {
		c.cursor = el.Next()
	}
	c.items.Remove(el)
	p := el.Value.(*pooledResource[T])
	p.elem = nil
	return p
}

// Len returns the number of idle resources currently cached.
func (c *availableCache[T]) Len() int {
	return c.items.Len()
}

// forEach visits every idle resource head-to-tail. fn must not mutate
// the cache; use the eviction cursor (nextForEviction) for mutate-while-
// iterating traversal.
func (c *availableCache[T]) forEach(fn func(*pooledResource[T])) {
	for el := c.items.Front(); el != nil; el = el.Next() {
		fn(el.Value.(*pooledResource[T]))
	}
}

// forEachReverse visits every idle resource tail-to-head.
func (c *availableCache[T]) forEachReverse(fn func(*pooledResource[T])) {
	for el := c.items.Back(); el != nil; el = el.Prev() {
		fn(el.Value.(*pooledResource[T]))
	}
}

// nextForEviction returns the resource under the persistent eviction
// cursor and then advances the cursor one step, or returns nil if the
// cache is empty.
// The cursor wraps from the tail back to the head. It survives removals
// anywhere in the list: if the node it was sitting on gets removed
// (whether by eviction or by ordinary shift/push churn), removeElem has
// already snapped it to that node's successor, so the next call here
// resumes from there rather than panicking on a stale pointer.
func (c *availableCache[T]) nextForEviction() *pooledResource[T] {
	if c.items.Len() == 0 {
		c.cursor = nil
		return nil
	}
	if c.cursor == nil {
		c.cursor = c.items.Front()
	}
	p := c.cursor.Value.(*pooledResource[T])
	c.cursor = c.cursor.Next()
	return p
}
