package respool

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Factory produces and retires the resources a Pool manages. Create and
// Destroy are required; Validate is only called (and therefore only
// required) when Config.TestOnBorrow or Config.TestOnReturn is set.
type Factory[T comparable] struct {
	// Create must produce a usable resource or return an error.
	Create func(ctx context.Context) (T, error)

	// Destroy must release a resource. Idempotency is not required: the
	// pool destroys each resource exactly once.
	Destroy func(ctx context.Context, resource T) error

	// Validate reports whether resource is still usable. Required if
	// TestOnBorrow or TestOnReturn is enabled; ignored otherwise.
	Validate func(ctx context.Context, resource T) (bool, error)
}

// Config configures a new Pool.
type Config[T comparable] struct {
	// Factory creates, validates, and destroys resources. Required.
	Factory Factory[T]

	// Max is the absolute ceiling on the number of resources the pool
	// will hold (idle + borrowed + in-flight creation). Clamped to >= 1.
	// Default: 1.
	Max int
	// Min is the floor the background "ensure minimum" routine targets.
	// Clamped to [0, Max]. Default: 0.
	Min int

	// FIFO selects the dispense order for the idle cache: true dispenses
	// the oldest idle resource first, false the most recently returned.
	// Default: false (the zero value; normalize does not change it), so an
	// unset FIFO dispenses the most recently returned resource first.
	FIFO bool

	// PriorityRange is the number of priority slots in the waiter queue.
	// Acquire priorities outside [0, PriorityRange) are clamped to the
	// lowest slot. Default: 1.
	PriorityRange int

	// MaxWaitingClients caps the waiter queue length; Acquire fails with
	// ErrQueueFull once it's exceeded and no spare/idle capacity remains.
	// Zero means unlimited. Default: 0 (unlimited).
	MaxWaitingClients int

	// AcquireTimeout bounds how long a queued request waits before
	// failing with ErrTimeout. Zero means unlimited. Default: 0.
	AcquireTimeout time.Duration
	// DestroyTimeout bounds how long a factory Destroy call may run
	// before being reported via OnFactoryDestroyError. Zero means
	// unlimited. Default: 0.
	DestroyTimeout time.Duration

	// TestOnBorrow validates a resource before dispatching it to a
	// waiter. Default: false.
	TestOnBorrow bool
	// TestOnReturn validates a resource before it re-enters the idle
	// cache on Release. Default: false.
	TestOnReturn bool

	// EvictionRunInterval schedules the background evictor. Zero
	// disables it. Default: 0.
	EvictionRunInterval time.Duration
	// NumTestsPerEvictionRun bounds how many idle resources are visited
	// per eviction run. Default: 3.
	NumTestsPerEvictionRun int
	// SoftIdleTimeout evicts an idle resource once exceeded, but only
	// while doing so keeps available count above Min. Negative disables
	// it. Default: -1.
	SoftIdleTimeout time.Duration
	// IdleTimeout evicts an idle resource once exceeded, regardless of
	// Min. Zero selects the default; a negative value disables it.
	// Default: 30s.
	IdleTimeout time.Duration

	// Autostart runs Start automatically at construction. A nil value
	// means the spec.md default of true; set a pointer to false to
	// disable it.
	Autostart *bool

	// Clock abstracts time for the timers, timestamps, and eviction
	// scheduler; defaults to the real wall clock. Tests inject
	// clock.NewMock() to drive timing deterministically.
	Clock clock.Clock

	// Logger receives structured logs of lifecycle transitions and
	// factory/validation failures. Defaults to a no-op logger.
	Logger zerolog.Logger

	// OnFactoryCreateError, if set, is invoked (off the pool's lock)
	// whenever factory.Create fails.
	OnFactoryCreateError func(error)
	// OnFactoryDestroyError, if set, is invoked (off the pool's lock)
	// whenever factory.Destroy fails or times out.
	OnFactoryDestroyError func(error)
}

// Check validates the configuration's required fields. It does not apply
// defaults; see normalize.
func (c *Config[T]) Check() error {
	if c.Factory.Create == nil {
		return fmt.Errorf("%w: factory.Create is required", ErrInvalidConfig)
	}
	if c.Factory.Destroy == nil {
		return fmt.Errorf("%w: factory.Destroy is required", ErrInvalidConfig)
	}
	if (c.TestOnBorrow || c.TestOnReturn) && c.Factory.Validate == nil {
		return fmt.Errorf("%w: factory.Validate is required when TestOnBorrow or TestOnReturn is set", ErrInvalidConfig)
	}
	if c.Max < 0 {
		return fmt.Errorf("%w: max must be >= 0", ErrInvalidConfig)
	}
	if c.Min < 0 {
		return fmt.Errorf("%w: min must be >= 0", ErrInvalidConfig)
	}
	if c.MaxWaitingClients < 0 {
		return fmt.Errorf("%w: maxWaitingClients must be >= 0", ErrInvalidConfig)
	}
	if c.AcquireTimeout < 0 {
		return fmt.Errorf("%w: acquireTimeout must be >= 0", ErrInvalidConfig)
	}
	if c.DestroyTimeout < 0 {
		return fmt.Errorf("%w: destroyTimeout must be >= 0", ErrInvalidConfig)
	}
	if c.PriorityRange < 0 {
		return fmt.Errorf("%w: priorityRange must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// normalize returns a copy of c with defaults applied and bounds clamped,
// per spec.md §6. Called once by New after Check succeeds.
func (c Config[T]) normalize() Config[T] {
	if c.Max < 1 {
		c.Max = 1
	}
	if c.Min > c.Max {
		c.Min = c.Max
	}
	if c.Min < 0 {
		c.Min = 0
	}
	if c.PriorityRange < 1 {
		c.PriorityRange = 1
	}
	if c.NumTestsPerEvictionRun <= 0 {
		c.NumTestsPerEvictionRun = 3
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.SoftIdleTimeout == 0 {
		c.SoftIdleTimeout = -1
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if reflect.DeepEqual(c.Logger, zerolog.Logger{}) {
		c.Logger = zerolog.Nop()
	}
	return c
}
