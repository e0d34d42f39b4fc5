package respool

import "errors"

// Sentinel errors returned to callers. All are discriminable with
// errors.Is; wrapping call sites may attach additional context with
// fmt.Errorf("%w: ...").
var (
	// ErrTimeout is returned by Acquire/AcquireCtx when a request sits in
	// the waiter queue longer than Config.AcquireTimeout.
	ErrTimeout = errors.New("respool: acquire timed out")

	// ErrDestroyTimeout is reported (via the factory-destroy-error hook,
	// never returned to a caller directly) when a factory Destroy call
	// exceeds Config.DestroyTimeout.
	ErrDestroyTimeout = errors.New("respool: destroy timed out")

	// ErrQueueFull is returned by Acquire/AcquireCtx when the waiter
	// queue is already at Config.MaxWaitingClients and no idle or
	// creatable capacity remains.
	ErrQueueFull = errors.New("respool: waiting queue is full")

	// ErrDraining is returned by Acquire/AcquireCtx once Drain has been
	// called.
	ErrDraining = errors.New("respool: pool is draining")

	// ErrUnknownResource is returned by Release/Destroy when the handle
	// passed in has no active loan against this pool.
	ErrUnknownResource = errors.New("respool: resource is not on loan from this pool")

	// ErrValidationFailed stands in for a nil factory Validate error when
	// Validate itself returns ok=false; it never escapes to a caller, but
	// is logged and passed to OnFactoryDestroyError alongside the
	// resource's destruction.
	ErrValidationFailed = errors.New("respool: resource failed validation")

	// ErrInvalidConfig is returned by New when Config.Check fails.
	ErrInvalidConfig = errors.New("respool: invalid configuration")
)
