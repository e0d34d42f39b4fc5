// Package respool implements a generic, dynamically sized resource pool.
//
// It amortizes the cost of creating expensive resources (database
// connections, sockets, parsers, file handles, ...) by holding a bounded
// set of them, lending them to callers on demand, and reclaiming them on
// release. Callers acquire a resource and eventually receive one: either
// immediately from the idle cache, after a new one is constructed by the
// caller-supplied factory, or after waiting in a priority queue behind
// other callers. An optional background evictor retires resources that
// have sat idle too long.
//
// The pool itself owns no network sockets, files, or other I/O; all of
// that belongs to the factory the caller supplies via Config.
package respool
