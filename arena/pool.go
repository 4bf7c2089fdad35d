package arena

import "fmt"

// ExhaustionPolicy controls what ObjectPool.Acquire does when the pool is
// at its high-water mark and the free list is empty.
type ExhaustionPolicy int

const (
	// Fail returns an error immediately.
	Fail ExhaustionPolicy = iota
	// Grow ignores the high-water mark and creates a new object anyway. This
	// is the default: the engine is single-threaded and cooperative (spec.md
	// §5), so there is never another goroutine that will release an object
	// back to the pool to unblock a waiter, which makes a true blocking
	// policy a deadlock hazard in this engine's scheduling model.
	Grow
)

// ObjectPool recycles values of type T. acquire() returns an object marked
// in-use, taking from the free list (and calling reset) when possible, or
// calling create when the free list is empty and the pool is under its
// high-water mark. release() requires the object to be in-use; it calls
// validate, and only objects that pass validation return to the free list.
type ObjectPool[T any] struct {
	create    func() *T
	reset     func(*T)
	validate  func(*T) bool
	highWater int
	policy    ExhaustionPolicy

	free    []*T
	inUse   map[*T]bool
	created int
}

// NewObjectPool creates a pool. highWater <= 0 means unbounded.
func NewObjectPool[T any](create func() *T, reset func(*T), validate func(*T) bool, highWater int, policy ExhaustionPolicy) *ObjectPool[T] {
	return &ObjectPool[T]{
		create:    create,
		reset:     reset,
		validate:  validate,
		highWater: highWater,
		policy:    policy,
		inUse:     make(map[*T]bool),
	}
}

// Acquire returns an in-use object from the free list (reset first) or, if
// the free list is empty, a freshly created one, subject to the pool's
// ExhaustionPolicy once highWater objects have been created.
func (p *ObjectPool[T]) Acquire() (*T, error) {
	if n := len(p.free); n > 0 {
		obj := p.free[n-1]
		p.free = p.free[:n-1]
		if p.reset != nil {
			p.reset(obj)
		}
		p.inUse[obj] = true
		return obj, nil
	}

	if p.highWater > 0 && p.created >= p.highWater {
		if p.policy == Fail {
			return nil, fmt.Errorf("object pool exhausted: %d objects already created (high-water mark)", p.created)
		}
		// Grow: fall through and create anyway.
	}

	obj := p.create()
	p.created++
	p.inUse[obj] = true
	return obj, nil
}

// Release returns obj to the free list, first calling validate (if set). An
// object that fails validation is dropped instead of reused. Release panics
// if obj is not currently in-use, since that indicates a double-release or a
// release of an object this pool never handed out.
func (p *ObjectPool[T]) Release(obj *T) {
	if !p.inUse[obj] {
		panic("arena: release of object not acquired from this pool")
	}
	delete(p.inUse, obj)

	if p.validate != nil && !p.validate(obj) {
		return
	}

	p.free = append(p.free, obj)
}

// InUseCount returns the number of objects currently acquired and not yet
// released.
func (p *ObjectPool[T]) InUseCount() int {
	return len(p.inUse)
}

// FreeCount returns the number of objects sitting in the free list, ready
// for reuse.
func (p *ObjectPool[T]) FreeCount() int {
	return len(p.free)
}
