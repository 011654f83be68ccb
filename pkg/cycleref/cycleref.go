// Package cycleref is the thin, generic façade over pkg/runtime: it adds
// no new semantics, only type-safe wrappers (this "library core,
// not a binary" external interface, expressed with Go generics in place
// of the ground truth's template parameter T).
package cycleref

import (
	"unsafe"

	"cycleref/pkg/registry"
	"cycleref/pkg/runtime"
)

// Owner is a strong reference to a managed value of type T, rooted at the
// control block that owns its storage. The zero value is not a valid
// Owner; obtain one from New or a successful Weak.Strong/Member.Load.
type Owner[T any] struct {
	block   *runtime.Block
	payload *T
}

// Builder is handed to a payload constructor by New, so the constructor
// can register member vertices and, for a payload that must hold a
// reference to itself, obtain one before construction finishes.
type Builder[T any] struct {
	owner *runtime.Block
}

// SelfReference returns a strong reference to the block under
// construction. It fails with runtime.ErrUnderConstruction if called
// before the constructor it was handed to has returned - the payload
// cannot hand a live reference to itself out of a half-built object.
func (b *Builder[T]) SelfReference() (Owner[T], error) {
	if err := b.owner.SelfReference(); err != nil {
		return Owner[T]{}, err
	}
	payload, _ := b.owner.Payload().(*T)
	return Owner[T]{block: b.owner, payload: payload}, nil
}

// New allocates storage for a T, publishes its address range in the
// process-wide registry so nested member constructors can discover their
// owner, runs ctor to initialize the value, and returns a strong owner.
// If ctor returns an error, the half-built block is released (triggering
// a collection, which for a solo newborn block with no edges completes
// immediately) and the publication is rolled back before the error
// propagates - this "Constructor failure" row.
//
// onDestroy, if given, is invoked by the collector's destruction phase
// when this payload is found unreachable - the façade's stand-in for the
// ground truth's per-type payload destructor, since Go values have none
// of their own to hook.
func New[T any](ctor func(payload *T, b *Builder[T]) error, onDestroy ...func(*T)) (Owner[T], error) {
	payload := new(T)
	block := runtime.NewBlock(func() {
		for _, fn := range onDestroy {
			fn(payload)
		}
	})
	block.SetPayload(payload)

	addr := unsafe.Pointer(payload)
	size := unsafe.Sizeof(*payload)
	registry.Global().Publish(addr, size, block)
	defer registry.Global().Unpublish(addr, size)

	if err := ctor(payload, &Builder[T]{owner: block}); err != nil {
		block.FinishConstruction()
		block.Release(false)
		return Owner[T]{}, err
	}
	block.FinishConstruction()

	return Owner[T]{block: block, payload: payload}, nil
}

// Get returns the payload pointer. Valid for as long as the Owner has not
// been released.
func (o Owner[T]) Get() *T { return o.payload }

// Release drops the strong reference this Owner holds. Must be called
// exactly once; Go has no destructors to call it automatically, so
// ownership transfer through this façade is explicit where the ground
// truth's RAII made it implicit.
func (o Owner[T]) Release() {
	if o.block != nil {
		o.block.Release(false)
	}
}

// Weak returns a weak reference to the same block, which does not keep
// the payload alive.
func (o Owner[T]) Weak() Weak[T] {
	return Weak[T]{block: o.block}
}

// Weak is a non-owning reference that can attempt to promote itself back
// to a strong Owner as long as the block has not yet been collected.
type Weak[T any] struct {
	block *runtime.Block
}

// Strong attempts to promote the weak reference to a strong Owner,
// reporting false once the block has been collected - this S6
// "weak promotion across collection" property.
func (w Weak[T]) Strong() (Owner[T], bool) {
	if w.block == nil || !w.block.WeakAcquire() {
		return Owner[T]{}, false
	}
	payload, ok := w.block.Payload().(*T)
	if !ok {
		w.block.Release(false)
		return Owner[T]{}, false
	}
	return Owner[T]{block: w.block, payload: payload}, true
}

// Member is a field-level smart pointer: a vertex owned by the enclosing
// payload's control block, pointing at another managed T. It is the
// façade analogue of the ground truth's cycle_member_ptr<T>.
type Member[T any] struct {
	v *runtime.Vertex
}

// NewMember registers a new, null member vertex owned by the block under
// construction, pointing at a (possibly different) managed type M. Call
// this from inside a New constructor, once per member field, and store
// the result in the field.
func NewMember[M, T any](b *Builder[T]) Member[M] {
	return Member[M]{v: runtime.NewVertex(b.owner)}
}

// Set retargets the member at dst's block. Crosses generations freely;
// SetEdge (pkg/runtime) runs the merge protocol if the ordering invariant
// would otherwise be violated.
func (m Member[T]) Set(dst Owner[T]) {
	m.v.Retarget(dst.block, false, false)
}

// Reset retargets the member to null, releasing whatever strong reference
// it held.
func (m Member[T]) Reset() {
	m.v.Reset()
}

// Load returns a new strong Owner pointing at the member's current
// destination, or ok=false if the member is null or its destination has
// already been collected.
func (m Member[T]) Load() (owner Owner[T], ok bool) {
	blk := m.v.Load()
	if blk == nil {
		return Owner[T]{}, false
	}
	payload, ok := blk.Payload().(*T)
	if !ok {
		blk.Release(false)
		return Owner[T]{}, false
	}
	return Owner[T]{block: blk, payload: payload}, true
}

// Destroy retargets the member to null and unlinks it from its owner's
// edge list. Call this from a payload's own teardown path (there are no
// destructors to call it automatically) before the owning block's last
// strong reference is expected to be dropped.
func (m Member[T]) Destroy() {
	m.v.Destroy()
}

// Alias returns a second strong reference sharing o's control block - the
// façade-level analogue of this S4 aliased subobject: a pointer
// to a field inside the same payload, kept alive by the same control
// block's refcount rather than one of its own.
func Alias[T any](o Owner[T]) Owner[T] {
	o.block.Acquire()
	return Owner[T]{block: o.block, payload: o.payload}
}

// Global pairs a control-block reference with a raw payload pointer, for
// the "unowned control block" case: a value with no participating parent,
// such as a function-local smart pointer or a root value that was not
// itself allocated through New. Its block lives in the reserved unowned
// generation and permanently stays under construction - it is never the
// destination of a cycle_ptr-style strong reference from elsewhere, only
// a placeholder owner so the payload's own Member fields have somewhere
// to attach.
type Global[T any] struct {
	block   *runtime.Block
	payload *T
}

// NewGlobal wraps payload - allocated and owned by the caller, not by
// this package - in a standalone control block, publishing its address
// range for the duration of ctor so nested member constructors can
// discover their owner exactly as New's payloads do. ctor may be nil for
// a payload with no member fields to wire up.
func NewGlobal[T any](payload *T, ctor func(payload *T, b *Builder[T]) error) (Global[T], error) {
	block := runtime.UnownedBlock()
	block.SetPayload(payload)

	if ctor != nil {
		addr := unsafe.Pointer(payload)
		size := unsafe.Sizeof(*payload)
		registry.Global().Publish(addr, size, block)
		defer registry.Global().Unpublish(addr, size)

		if err := ctor(payload, &Builder[T]{owner: block}); err != nil {
			block.ClearEdges()
			runtime.UnlinkUnowned(block)
			return Global[T]{}, err
		}
	}

	return Global[T]{block: block, payload: payload}, nil
}

// Get returns the wrapped payload pointer.
func (g Global[T]) Get() *T { return g.payload }

// Close tears down g's control block. Unlike Owner.Release, this never
// goes through the mark-sweep collector: an unowned block's strong
// reference count is never expected to reach zero, since nothing outside
// this package ever held a counted reference to it. Close instead clears
// every Member field's edge (releasing whatever it pointed at) and
// unlinks the block from the reserved unowned generation directly.
func (g Global[T]) Close() {
	if g.block != nil {
		g.block.ClearEdges()
		runtime.UnlinkUnowned(g.block)
	}
}

// LookupOwner resolves the control block publishing the range
// [addr, addr+size), for a nested value that was not handed a Builder
// explicitly and must discover its owner by its own address instead -
// the façade-level analogue of the ground truth's default cycle_base
// constructor, which looks itself up in the publisher registry rather
// than requiring one passed down. Valid only while the owning New or
// NewGlobal call that published the range is still running.
func LookupOwner(addr unsafe.Pointer, size uintptr) (*runtime.Block, bool) {
	ref, ok := registry.Global().Lookup(addr, size)
	if !ok {
		return nil, false
	}
	blk, ok := ref.(*runtime.Block)
	return blk, ok
}

// OwnerOf is LookupOwner specialized to a typed field pointer, the generic
// façade's stand-in for cycle_base's self-discovering default constructor.
func OwnerOf[T any](field *T) (*runtime.Block, bool) {
	return LookupOwner(unsafe.Pointer(field), unsafe.Sizeof(*field))
}
