package respool

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Pool is the generic resource pool engine (spec.md §4.H): it composes
// the waiter queue, available cache, and evictor policy to accept
// acquire/release/destroy calls, run the dispensing algorithm, track
// in-flight create/validate/destroy operations, and coordinate drain and
// clear. T is the resource handle type; it must be comparable because
// loans are keyed by handle (spec.md §3: "a unique handle per borrowed
// resource").
//
// All exported methods are safe for concurrent use. Internal bookkeeping
// is guarded by a single mutex; factory calls (Create, Destroy, Validate)
// always run outside that lock, in their own goroutines, matching
// spec.md §5's single-mutator discipline.
type Pool[T comparable] struct {
	cfg Config[T]
	clk clock.Clock
	log zerolog.Logger

	mu   sync.Mutex
	cond *sync.Cond

	waiters   *waiterQueue[T]
	available *availableCache[T]

	allResources    map[*pooledResource[T]]struct{}
	loans           map[T]*loan[T]
	destroying      map[*pooledResource[T]]struct{}
	validating      map[*pooledResource[T]]struct{}
	testingOnBorrow map[*pooledResource[T]]struct{}
	creating        int

	started  bool
	draining bool

	evictRunning bool
	evictStop    chan struct{}
	evictWG      sync.WaitGroup
}

// Stats is a point-in-time snapshot of the pool's introspection
// properties (spec.md §6).
type Stats struct {
	Size                  int
	Available             int
	Borrowed              int
	Pending               int
	SpareResourceCapacity int
	Max                   int
	Min                   int
}

// New constructs a Pool from cfg. It returns an error if cfg.Check
// fails. Unless cfg.Autostart is explicitly set to false, the pool is
// started immediately, which schedules the background evictor (if
// configured) and begins creating resources to satisfy cfg.Min.
func New[T comparable](cfg Config[T]) (*Pool[T], error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	cfg = cfg.normalize()

	p := &Pool[T]{
		cfg:             cfg,
		clk:             cfg.Clock,
		log:             cfg.Logger,
		waiters:         newWaiterQueue[T](cfg.PriorityRange),
		available:       newAvailableCache[T](),
		allResources:    make(map[*pooledResource[T]]struct{}),
		loans:           make(map[T]*loan[T]),
		destroying:      make(map[*pooledResource[T]]struct{}),
		validating:      make(map[*pooledResource[T]]struct{}),
		testingOnBorrow: make(map[*pooledResource[T]]struct{}),
		evictStop:       make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	if cfg.Autostart == nil || *cfg.Autostart {
		p.Start()
	}

	return p, nil
}

// Start is idempotent: it marks the pool started, schedules the
// background evictor if cfg.EvictionRunInterval > 0, and triggers
// ensureMinimum.
func (p *Pool[T]) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.ensureMinimumLocked()
	p.mu.Unlock()

	p.scheduleEvictor()
}

// Ready resolves once there are at least cfg.Min idle resources, or
// returns ctx's error if ctx is done first.
func (p *Pool[T]) Ready(ctx context.Context) error {
	return p.waitUntil(ctx, func() bool {
		return p.available.Len() >= p.cfg.Min
	})
}

// Acquire requests a resource at the given priority and returns
// immediately with a Future: it resolves with the resource handle, or
// rejects with ErrDraining, ErrQueueFull, or ErrTimeout. A factory create
// failure does not reject it: the failure goes to OnFactoryCreateError
// and the request stays queued. Priorities outside [0, cfg.PriorityRange)
// are clamped to the lowest-priority slot.
func (p *Pool[T]) Acquire(priority int) *Future[T] {
	return p.acquireInternal(priority).future
}

// AcquireCtx blocks until Acquire's future settles or ctx is done,
// whichever comes first. If ctx is done first, the pending request is
// removed from the waiter queue so it can't later capture a resource
// nobody is left to use.
func (p *Pool[T]) AcquireCtx(ctx context.Context, priority int) (T, error) {
	req := p.acquireInternal(priority)
	select {
	case <-req.future.Done():
	case <-ctx.Done():
		p.mu.Lock()
		if p.waiters.remove(req) {
			req.fail(ctx.Err())
		}
		p.mu.Unlock()
	}
	return req.future.Wait(context.Background())
}

func (p *Pool[T]) acquireInternal(priority int) *request[T] {
	p.mu.Lock()

	if p.draining {
		p.mu.Unlock()
		return failedRequest[T](ErrDraining)
	}

	spare := p.spareCapacityLocked()
	if spare < 1 && p.available.Len() < 1 &&
		p.cfg.MaxWaitingClients > 0 && p.waiters.Len() >= p.cfg.MaxWaitingClients {
		p.mu.Unlock()
		return failedRequest[T](ErrQueueFull)
	}

	req := newRequest[T](p.clk, priority, p.cfg.AcquireTimeout, p.onRequestExpire)
	p.waiters.enqueue(req)
	p.dispenseLocked()
	p.cond.Broadcast()
	p.mu.Unlock()
	return req
}

func failedRequest[T comparable](err error) *request[T] {
	future, _, reject := newDeferred[T]()
	reject(err)
	return &request[T]{future: future, settled: true}
}

func (p *Pool[T]) onRequestExpire(req *request[T]) {
	p.mu.Lock()
	removed := p.waiters.remove(req)
	if removed {
		req.fail(ErrTimeout)
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Release returns a borrowed resource to the pool. The returned Future
// rejects with ErrUnknownResource if resource has no active loan;
// otherwise it resolves once the resource's disposition (back to idle,
// or queued for validation) has been decided, which always happens
// synchronously within this call — see DESIGN.md's note on spec.md §9's
// testOnReturn open question. If cfg.TestOnReturn is set, validation and
// any resulting destroy continue asynchronously after Release returns.
func (p *Pool[T]) Release(resource T) *Future[struct{}] {
	future, resolve, reject := newDeferred[struct{}]()

	p.mu.Lock()
	l, ok := p.loans[resource]
	if !ok {
		p.mu.Unlock()
		reject(ErrUnknownResource)
		return future
	}
	delete(p.loans, resource)
	pr := l.pooled
	now := p.clk.Now()
	pr.returning(now)
	l.complete()

	if p.cfg.TestOnReturn {
		pr.test()
		p.validating[pr] = struct{}{}
		go p.runValidate(pr, false)
		p.cond.Broadcast()
		p.mu.Unlock()
		resolve(struct{}{})
		return future
	}

	pr.idle(now)
	p.pushIdleLocked(pr)
	p.dispenseLocked()
	p.cond.Broadcast()
	p.mu.Unlock()

	resolve(struct{}{})
	return future
}

// Destroy returns a borrowed resource marked for destruction rather than
// reuse. The returned Future rejects with ErrUnknownResource if resource
// has no active loan; otherwise it resolves once destruction has been
// initiated (not necessarily completed — the factory Destroy call runs
// asynchronously).
func (p *Pool[T]) Destroy(resource T) *Future[struct{}] {
	future, resolve, reject := newDeferred[struct{}]()

	p.mu.Lock()
	l, ok := p.loans[resource]
	if !ok {
		p.mu.Unlock()
		reject(ErrUnknownResource)
		return future
	}
	delete(p.loans, resource)
	l.complete()
	p.destroyPooledLocked(l.pooled)
	p.dispenseLocked()
	p.cond.Broadcast()
	p.mu.Unlock()

	resolve(struct{}{})
	return future
}

// IsBorrowedResource reports whether resource is currently on loan from
// this pool.
func (p *Pool[T]) IsBorrowedResource(resource T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.loans[resource]
	return ok
}

// Use acquires a resource at the given priority, invokes fn with it, and
// releases it on success or destroys it on failure, propagating fn's
// result or error. It is a standalone function rather than a Pool
// method because Go methods can't introduce a type parameter beyond the
// receiver's.
func Use[T comparable, U any](ctx context.Context, p *Pool[T], priority int, fn func(T) (U, error)) (U, error) {
	var zero U

	resource, err := p.AcquireCtx(ctx, priority)
	if err != nil {
		return zero, err
	}

	result, err := fn(resource)
	if err != nil {
		p.Destroy(resource)
		return zero, err
	}

	if _, relErr := p.Release(resource).Wait(context.Background()); relErr != nil {
		return zero, relErr
	}
	return result, nil
}

// Drain stops the pool from accepting new Acquire calls, de-schedules
// the evictor, waits for every waiter present at drain-start (or
// enqueued before it, and still being served by the normal dispensing
// path) to settle, and then waits on each outstanding loan's own
// returned Future — spec.md §4.H's reflect adapter over the Resource
// Loans live at that point — for it to complete.
func (p *Pool[T]) Drain(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.descheduleEvictor()

	if err := p.waitUntil(ctx, func() bool { return p.waiters.Len() == 0 }); err != nil {
		return err
	}

	p.mu.Lock()
	futures := make([]*Future[struct{}], 0, len(p.loans))
	for _, l := range p.loans {
		futures = append(futures, l.returned)
	}
	p.mu.Unlock()

	for _, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Clear destroys every idle resource and, once all destroy operations
// settle, re-creates up to cfg.Min — unless the pool is draining, in
// which case it does not (spec.md §9's open question, resolved
// explicitly: clear never re-creates while draining).
func (p *Pool[T]) Clear(ctx context.Context) error {
	if err := p.waitUntil(ctx, func() bool { return p.creating == 0 }); err != nil {
		return err
	}

	p.mu.Lock()
	for {
		pr := p.available.shift()
		if pr == nil {
			break
		}
		p.destroyPooledLocked(pr)
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	if err := p.waitUntil(ctx, func() bool { return len(p.destroying) == 0 }); err != nil {
		return err
	}

	p.mu.Lock()
	if !p.draining {
		p.ensureMinimumLocked()
	}
	p.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the pool's introspection properties.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool[T]) statsLocked() Stats {
	return Stats{
		Size:                  len(p.allResources) + p.creating,
		Available:             p.available.Len(),
		Borrowed:              len(p.loans),
		Pending:               p.waiters.Len(),
		SpareResourceCapacity: p.spareCapacityLocked(),
		Max:                   p.cfg.Max,
		Min:                   p.cfg.Min,
	}
}

// Size returns the total number of resources the pool currently knows
// about (idle + borrowed + in-flight creation).
func (p *Pool[T]) Size() int { return p.Stats().Size }

// Available returns the number of idle resources ready to be dispensed.
func (p *Pool[T]) Available() int { return p.Stats().Available }

// Borrowed returns the number of resources currently on loan.
func (p *Pool[T]) Borrowed() int { return p.Stats().Borrowed }

// Pending returns the number of acquire requests waiting in the queue.
func (p *Pool[T]) Pending() int { return p.Stats().Pending }

// SpareResourceCapacity returns how many more resources could still be
// created before hitting cfg.Max.
func (p *Pool[T]) SpareResourceCapacity() int { return p.Stats().SpareResourceCapacity }

// Max returns the configured ceiling on total resources.
func (p *Pool[T]) Max() int { return p.cfg.Max }

// Min returns the configured floor that ensureMinimum targets.
func (p *Pool[T]) Min() int { return p.cfg.Min }

func (p *Pool[T]) spareCapacityLocked() int {
	spare := p.cfg.Max - (len(p.allResources) + p.creating)
	if spare < 0 {
		return 0
	}
	return spare
}

func (p *Pool[T]) pushIdleLocked(pr *pooledResource[T]) {
	if p.cfg.FIFO {
		p.available.push(pr)
	} else {
		p.available.unshift(pr)
	}
}

// dispenseLocked is spec.md §4.H's dispensing algorithm: it runs after
// any event that could unblock a waiter. The caller must hold p.mu.
func (p *Pool[T]) dispenseLocked() {
	w := p.waiters.Len()
	if w == 0 {
		return
	}

	potentiallyAllocatable := p.available.Len() + len(p.testingOnBorrow) + p.creating
	shortfall := w - potentiallyAllocatable
	if shortfall < 0 {
		shortfall = 0
	}

	toCreate := min(p.spareCapacityLocked(), shortfall)
	for i := 0; i < toCreate; i++ {
		p.startCreateLocked()
	}

	if p.cfg.TestOnBorrow {
		need := w - len(p.testingOnBorrow)
		if need < 0 {
			need = 0
		}
		moveCount := min(p.available.Len(), need)
		for i := 0; i < moveCount; i++ {
			pr := p.available.shift()
			if pr == nil {
				break
			}
			pr.test()
			p.testingOnBorrow[pr] = struct{}{}
			p.validating[pr] = struct{}{}
			go p.runValidate(pr, true)
		}
		return
	}

	dispatchCount := min(p.available.Len(), w)
	for i := 0; i < dispatchCount; i++ {
		pr := p.available.shift()
		if pr == nil {
			break
		}
		p.dispatchToNextWaiterLocked(pr)
	}
}

// dispatchToNextWaiterLocked is spec.md §4.H's dispatchToNextWaiter.
func (p *Pool[T]) dispatchToNextWaiterLocked(pr *pooledResource[T]) {
	req := p.waiters.dequeue()
	if req == nil {
		p.available.unshift(pr)
		return
	}

	now := p.clk.Now()
	pr.allocate(now)
	l := newLoan(pr)
	p.loans[pr.resource] = l

	if !req.fulfill(pr.resource) {
		p.log.Warn().Msg("respool: dequeued request settled before dispatch; re-idling resource")
		delete(p.loans, pr.resource)
		pr.returning(now)
		pr.idle(now)
		p.available.unshift(pr)
	}
}

func (p *Pool[T]) startCreateLocked() {
	p.creating++
	go p.runCreate()
}

// runCreate is spec.md §4.H's creation pipeline.
func (p *Pool[T]) runCreate() {
	resource, err := p.cfg.Factory.Create(context.Background())

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		p.emitFactoryCreateError(err)
		p.mu.Lock()
		p.dispenseLocked()
		p.cond.Broadcast()
		p.mu.Unlock()
		return
	}

	pr := newPooledResource(resource, p.clk.Now())
	p.allResources[pr] = struct{}{}
	p.pushIdleLocked(pr)
	p.dispenseLocked()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// runValidate is spec.md §4.H/§4.D's validation step, shared by
// testOnBorrow (onBorrow=true, pr came out of testingOnBorrow) and
// testOnReturn (onBorrow=false, pr came from Release).
func (p *Pool[T]) runValidate(pr *pooledResource[T], onBorrow bool) {
	var (
		ok  bool
		err error
	)
	if p.cfg.Factory.Validate != nil {
		ok, err = p.cfg.Factory.Validate(context.Background(), pr.resource)
	}

	p.mu.Lock()
	delete(p.validating, pr)
	if onBorrow {
		delete(p.testingOnBorrow, pr)
	}

	if err != nil || !ok {
		if err == nil {
			err = ErrValidationFailed
		}
		p.log.Warn().
			Str("resource_id", pr.id.String()).
			AnErr("validate_error", err).
			Msg("respool: resource failed validation; destroying")
		p.destroyPooledLocked(pr)
		p.dispenseLocked()
		p.cond.Broadcast()
		p.mu.Unlock()
		p.emitFactoryDestroyError(fmt.Errorf("resource %s failed validation: %w", pr.id, err))
		return
	}

	now := p.clk.Now()
	pr.idle(now)
	if onBorrow {
		p.dispatchToNextWaiterLocked(pr)
	} else {
		p.pushIdleLocked(pr)
	}
	p.dispenseLocked()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// destroyPooledLocked transitions pr to INVALID, removes it from
// allResources and available, and launches the async destroy pipeline.
// Callers must hold p.mu.
func (p *Pool[T]) destroyPooledLocked(pr *pooledResource[T]) {
	pr.invalidate()
	delete(p.allResources, pr)
	p.available.remove(pr)
	p.destroying[pr] = struct{}{}
	go p.runDestroy(pr)
}

// runDestroy is spec.md §4.H's destruction pipeline: it calls
// factory.Destroy, racing it against cfg.DestroyTimeout if set, then
// calls ensureMinimum.
func (p *Pool[T]) runDestroy(pr *pooledResource[T]) {
	errCh := make(chan error, 1)
	go func() { errCh <- p.cfg.Factory.Destroy(context.Background(), pr.resource) }()

	var err error
	if p.cfg.DestroyTimeout > 0 {
		timer := p.clk.Timer(p.cfg.DestroyTimeout)
		select {
		case err = <-errCh:
			timer.Stop()
		case <-timer.C:
			err = ErrDestroyTimeout
		}
	} else {
		err = <-errCh
	}

	if err != nil {
		p.emitFactoryDestroyError(fmt.Errorf("resource %s: %w", pr.id, err))
	}

	p.mu.Lock()
	delete(p.destroying, pr)
	p.ensureMinimumLocked()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// ensureMinimumLocked is spec.md §4.H's ensureMinimum. Callers must hold
// p.mu.
func (p *Pool[T]) ensureMinimumLocked() {
	if !p.started || p.draining {
		return
	}
	deficit := p.cfg.Min - (len(p.allResources) + p.creating)
	for i := 0; i < deficit; i++ {
		p.startCreateLocked()
	}
}

func (p *Pool[T]) scheduleEvictor() {
	if p.cfg.EvictionRunInterval <= 0 {
		return
	}

	p.mu.Lock()
	if p.evictRunning {
		p.mu.Unlock()
		return
	}
	p.evictRunning = true
	p.mu.Unlock()

	ticker := p.clk.Ticker(p.cfg.EvictionRunInterval)
	p.evictWG.Add(1)
	go func() {
		defer p.evictWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.runEvictionPass()
			case <-p.evictStop:
				return
			}
		}
	}()
}

func (p *Pool[T]) descheduleEvictor() {
	p.mu.Lock()
	running := p.evictRunning
	p.evictRunning = false
	p.mu.Unlock()

	if !running {
		return
	}
	close(p.evictStop)
	p.evictWG.Wait()
}

// runEvictionPass is spec.md §4.H's eviction run: up to
// cfg.NumTestsPerEvictionRun steps of the persistent cursor over
// available, destroying whatever shouldEvict flags.
func (p *Pool[T]) runEvictionPass() {
	p.mu.Lock()

	if !p.started || p.draining {
		p.mu.Unlock()
		return
	}

	policy := evictorConfig{
		softIdleTimeout: p.cfg.SoftIdleTimeout,
		idleTimeout:     p.cfg.IdleTimeout,
		min:             p.cfg.Min,
	}
	now := p.clk.Now()

	var toDestroy []*pooledResource[T]
	for i := 0; i < p.cfg.NumTestsPerEvictionRun; i++ {
		pr := p.available.nextForEviction()
		if pr == nil {
			break
		}
		if pr.lastIdleAt == nil {
			continue
		}
		if shouldEvict(policy, now, *pr.lastIdleAt, p.available.Len()) {
			p.available.remove(pr)
			toDestroy = append(toDestroy, pr)
		}
	}
	for _, pr := range toDestroy {
		p.destroyPooledLocked(pr)
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool[T]) emitFactoryCreateError(err error) {
	p.log.Error().Err(err).Msg("respool: factory create failed")
	if p.cfg.OnFactoryCreateError != nil {
		p.cfg.OnFactoryCreateError(err)
	}
}

func (p *Pool[T]) emitFactoryDestroyError(err error) {
	p.log.Error().Err(err).Msg("respool: factory destroy failed")
	if p.cfg.OnFactoryDestroyError != nil {
		p.cfg.OnFactoryDestroyError(err)
	}
}

// waitUntil blocks until pred() is true or ctx is done, re-checking pred
// under p.mu every time p.cond is broadcast.
func (p *Pool[T]) waitUntil(ctx context.Context, pred func() bool) error {
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-stopWatch:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for !pred() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cond.Wait()
	}
	return nil
}
