// Package hazard implements the hazard-pointer protocol used to safely
// load a counted reference out of an atomically-updated pointer slot,
// without racing a concurrent writer that might retire the last other
// reference between the reader's raw load and its refcount bump.
//
// Note on Go semantics: Go's garbage collector already prevents the raw
// memory behind a stored pointer from being reused for an unrelated
// object while any reachable pointer (including one sitting in a hazard
// slot) still refers to it, so this protocol is not guarding against the
// classic C/C++ use-after-free-and-reuse problem. What it still guards
// against is observing an object whose logical lifetime — governed by
// this runtime's own refcounting, independent of Go's GC — has already
// ended: a reader must either get nil, or a reference acquired strictly
// before the object's destructor trampoline runs.
package hazard

import (
	"sync/atomic"
	"unsafe"
)

// Counted is the capability a hazard-protected payload type must provide:
// an unconditional increment (used once the hazard protocol has proven a
// read is safe) and a decrement that may trigger destruction/collection.
// It is expressed over *T because every real implementation (Generation,
// Block, ...) mutates atomic counters through a pointer receiver; T
// itself names the pointed-to payload type stored in the atomic slot.
type Counted[T any] interface {
	*T
	HazardIncRef()
	HazardDecRef()
}

const cacheLineSize = 64

// slot is one cache-line sized intent cell. Slots are not cache-line
// aligned, but with a cache-line stride no two slots' pointers share a
// cache line.
type slot[T any] struct {
	ptr atomic.Pointer[T]
	_   [cacheLineSize - unsafe.Sizeof(uintptr(0))]byte // padding, prevents false sharing between slots
}

// domainSize is the number of intent slots per Domain: one page (4096
// bytes) worth of slots, the way the ground-truth C++ implementation
// sizes its hazard array. The slot slice is not page aligned, so it may
// span two pages.
const domainSize = 4096 / cacheLineSize

// Domain is the process-wide (or subsystem-wide) set of intent slots for
// one payload type T. Callers obtain a *Reader to claim a slot and reuse
// it across reads; Readers are cheap to create but are not safe for
// concurrent use.
type Domain[T any, PT Counted[T]] struct {
	slots []slot[T]
	next  atomic.Uint64
}

// NewDomain creates an empty hazard domain sized to domainSize slots.
func NewDomain[T any, PT Counted[T]]() *Domain[T, PT] {
	return NewDomainSize[T, PT](domainSize)
}

// NewDomainSize creates an empty hazard domain with a caller-chosen slot
// count, rounded down to the nearest power of two (with a floor of 1) so
// the round-robin assignment in NewReader stays a cheap modulo. pkg/runtime
// sizes its domains with it from a compiled-in constant; internal/rtconfig's
// hazard_domain_slots value is not passed through to it.
func NewDomainSize[T any, PT Counted[T]](slots int) *Domain[T, PT] {
	n := 1
	for n*2 <= slots {
		n *= 2
	}
	return &Domain[T, PT]{slots: make([]slot[T], n)}
}

// Reader is a caller's handle to one assigned intent slot. Go has no
// thread-local storage, so unlike the C++ original (which assigns a slot
// per OS thread on first use), callers here are handed an explicit
// Reader and are expected to keep it for the lifetime of the goroutine
// that uses it.
type Reader[T any, PT Counted[T]] struct {
	d    *Domain[T, PT]
	slot *slot[T]
}

// NewReader claims a slot from the domain, round-robin.
func (d *Domain[T, PT]) NewReader() *Reader[T, PT] {
	idx := d.next.Add(1) % uint64(len(d.slots))
	return &Reader[T, PT]{d: d, slot: &d.slots[idx]}
}

// Load reads src, returning a counted reference to whatever it currently
// points at (nil if src is nil). The returned reference is acquired via
// HazardIncRef before this call returns, so the caller owns exactly one
// reference and must release it (HazardDecRef) when done.
func (r *Reader[T, PT]) Load(src *atomic.Pointer[T]) *T {
	target := src.Load()
	for {
		if target == nil {
			return nil
		}

		// Publish intent to acquire target. NewReader assigns slots
		// round-robin, so several Readers can share one slot; publish by
		// CAS from nil, waiting for a sharing Reader to clear it first
		// (every exit path below clears the slot before returning).
		for !r.slot.ptr.CompareAndSwap(nil, target) {
		}

		// Re-check that src still holds target.
		if tmp := src.Load(); tmp != target {
			if !r.slot.ptr.CompareAndSwap(target, nil) {
				// A writer's release observed our intent and donated a
				// reference before we could retract it; that donated
				// reference is for the stale target, which is no longer
				// in src, so return it.
				PT(target).HazardDecRef()
			}
			target = tmp
			continue
		}

		// Intent published and valid: target is guaranteed not to have
		// its destructor invoked until we clear our slot.
		PT(target).HazardIncRef()
		if !r.slot.ptr.CompareAndSwap(target, nil) {
			// A writer also donated a reference concurrently; we hold
			// two now, we only want one.
			PT(target).HazardDecRef()
		}
		return target
	}
}

// offer scans every slot in the domain still holding outgoing, clearing
// each one to null and handing its reader a donated reference (one extra
// HazardIncRef per slot); it returns the number of donations made. Called
// by writers before dropping their own reference to a value they are
// overwriting.
func offer[T any, PT Counted[T]](d *Domain[T, PT], outgoing *T) int {
	donations := 0
	for i := range d.slots {
		s := &d.slots[i]
		if s.ptr.Load() != outgoing {
			continue
		}
		PT(outgoing).HazardIncRef()
		if s.ptr.CompareAndSwap(outgoing, nil) {
			donations++
		} else {
			// Slot moved on before we could donate; reclaim the extra
			// reference we just took speculatively.
			PT(outgoing).HazardDecRef()
		}
	}
	return donations
}

// Release must be called by a writer after an atomic slot is overwritten
// with a new value, passing the value that used to be stored there. It
// offers the outgoing value to every intent slot that still references
// it, then drops the writer's own reference; each donation was a separate
// reference taken for the reader it went to.
func Release[T any, PT Counted[T]](d *Domain[T, PT], outgoing *T) {
	if outgoing == nil {
		return
	}
	offer[T, PT](d, outgoing)
	PT(outgoing).HazardDecRef()
}

// Reset atomically stores nil into slot, releasing whatever value used
// to be there via the domain's intent slots.
func Reset[T any, PT Counted[T]](d *Domain[T, PT], slot *atomic.Pointer[T]) {
	old := slot.Swap(nil)
	Release[T, PT](d, old)
}

// Store atomically stores newValue into slot, releasing the old value.
// newValue's reference is consumed (transferred into the slot); callers
// that want to keep their own reference must acquire one first.
func Store[T any, PT Counted[T]](d *Domain[T, PT], slot *atomic.Pointer[T], newValue *T) {
	old := slot.Swap(newValue)
	Release[T, PT](d, old)
}

// Exchange atomically stores newValue into slot and returns a counted
// reference to the previous value (nil if there was none). newValue's
// reference is consumed by the slot.
func Exchange[T any, PT Counted[T]](d *Domain[T, PT], slot *atomic.Pointer[T], newValue *T) *T {
	old := slot.Swap(newValue)
	if old == nil {
		return nil
	}
	// The caller wants ownership of the returned reference, not merely a
	// hazard-protected borrow, so acquire one before offering old to the
	// domain — offer's donation path and our own extra reference can
	// safely coexist; Release below balances exactly the reference taken
	// at slot-swap time.
	PT(old).HazardIncRef()
	Release[T, PT](d, old)
	return old
}

// CompareAndSwap attempts to replace slot's value (expected) with
// desired. On success it consumes desired's reference and releases
// expected's. On failure it returns false and leaves both references
// with the caller.
func CompareAndSwap[T any, PT Counted[T]](d *Domain[T, PT], slot *atomic.Pointer[T], expected, desired *T) bool {
	if !slot.CompareAndSwap(expected, desired) {
		return false
	}
	Release[T, PT](d, expected)
	return true
}
