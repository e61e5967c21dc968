package dispatch

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// defaultMaxMaterializing bounds the number of handler objects a
// ContainerPool will let be under construction (entry.New()) at once when
// the caller doesn't pick a limit explicitly.
const defaultMaxMaterializing = 256

// ContainerPool is the untyped-buffer free-list backing ResourceAcquirers'
// own bookkeeping storage (spec §4.7's "container" buffer), so that
// acquiring resources on a hot request path need not allocate a new slice
// per request. It also caps how many handler objects may be materializing
// (under construction, via the registry's factory) at the same time, independent
// of the RequestSet's count cap: a handler factory that blocks or allocates
// heavily saturates only this limit instead of every request slot.
type ContainerPool struct {
	fl  *FreeList[*[]func()]
	sem *semaphore.Weighted
}

// NewContainerPool returns an empty ContainerPool with the default
// materialization limit.
func NewContainerPool() *ContainerPool {
	return NewContainerPoolWithLimit(defaultMaxMaterializing)
}

// NewContainerPoolWithLimit returns an empty ContainerPool that allows at
// most limit handler objects to be materializing concurrently.
func NewContainerPoolWithLimit(limit int64) *ContainerPool {
	return &ContainerPool{
		fl:  NewFreeList[*[]func()](),
		sem: semaphore.NewWeighted(limit),
	}
}

// tryAcquireMaterializeSlot reserves one materialization slot without
// blocking, reporting false if the pool is already at its limit.
func (cp *ContainerPool) tryAcquireMaterializeSlot() bool {
	return cp.sem.TryAcquire(1)
}

// releaseMaterializeSlot returns a slot reserved by tryAcquireMaterializeSlot.
func (cp *ContainerPool) releaseMaterializeSlot() {
	cp.sem.Release(1)
}

// NewAcquirer returns a fresh, one-shot ResourceAcquirer backed by this
// pool's container free-list.
func (cp *ContainerPool) NewAcquirer() *ResourceAcquirer {
	c := cp.fl.Get(func() *[]func() {
		s := make([]func(), 0, 4)
		return &s
	})
	return &ResourceAcquirer{pool: cp, container: c}
}

// ResourceAcquirer is a one-shot, request-scoped bag of resources on loan
// from shared typed free-lists. Close returns every lent object to its
// free-list and the acquirer's own container buffer to the untyped pool.
// Calling Close twice is a programming error, per spec §4.7.
type ResourceAcquirer struct {
	mu        sync.Mutex
	pool      *ContainerPool
	container *[]func()
	closed    bool
}

// Acquire lends a value of type T from fl, calling factory only if fl has
// nothing idle. The returned value is automatically returned to fl when
// the acquirer is closed.
func Acquire[T any](a *ResourceAcquirer, fl *FreeList[T], factory func() T) T {
	v := fl.Get(factory)

	a.mu.Lock()
	*a.container = append(*a.container, func() { fl.Put(v) })
	a.mu.Unlock()

	return v
}

// Close returns every acquired object to its free-list and recycles the
// acquirer's own container. Panics if called more than once.
func (a *ResourceAcquirer) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		panic("dispatch: ResourceAcquirer closed twice")
	}
	a.closed = true
	releases := *a.container
	*a.container = (*a.container)[:0]
	container := a.container
	pool := a.pool
	a.mu.Unlock()

	for _, release := range releases {
		release()
	}
	pool.fl.Put(container)
}
