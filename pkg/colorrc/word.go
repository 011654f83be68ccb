package colorrc

import "sync/atomic"

// Word is a single machine word carrying both the strong reference count
// and the GC color of a control block, updated with lock-free CAS loops.
//
// The birth state (count=1, color=White) matches the construction-time
// invariant of a freshly allocated block: it starts reachable with
// exactly one strong reference and no pending collector work.
type Word struct {
	v atomic.Uintptr
}

// NewWord returns a Word in the birth state: one reference, white.
func NewWord() *Word {
	w := &Word{}
	w.Init()
	return w
}

// Init sets w to the birth state (one reference, white). Callers that
// embed a Word by value inside a larger struct must call this explicitly
// on construction: the zero value of atomic.Uintptr decodes to (0 refs,
// red), not the birth state, since White is nonzero.
func (w *Word) Init() {
	w.v.Store(Pack(1, White))
}

// Load returns the raw packed word.
func (w *Word) Load() uintptr {
	return w.v.Load()
}

// Refs returns the current strong reference count.
func (w *Word) Refs() uintptr {
	return Refs(w.v.Load())
}

// GetColor returns the current color.
func (w *Word) GetColor() uintptr {
	return uintptr(GetColor(w.v.Load()))
}

// Color returns the current color.
func (w *Word) Color() Color {
	return GetColor(w.v.Load())
}

// Expired reports whether the block has been collected (color black).
func (w *Word) Expired() bool {
	return GetColor(w.v.Load()) == Black
}

// AcquireNoRed increments the reference count unconditionally.
//
// May only be called when the caller can prove the block is currently
// reachable and not colored red or black. Cheaper than Acquire because
// it skips the CAS loop and the red-promotion check.
func (w *Word) AcquireNoRed() {
	w.v.Add(uintptr(1) << colorShift)
}

// Acquire increments the reference count, promoting red to grey in the
// same CAS if the block was tentatively marked unreachable by the
// collector.
func (w *Word) Acquire() {
	for {
		old := w.v.Load()
		c := GetColor(old)
		target := c
		if c == Red {
			target = Grey
		}
		next := Pack(Refs(old)+1, target)
		if w.v.CompareAndSwap(old, next) {
			return
		}
	}
}

// Release decrements the reference count by one. It reports whether the
// count reached zero, in which case the caller (normally the control
// block) must request a collection on its generation unless it can prove
// the block is otherwise reachable.
func (w *Word) Release() (reachedZero bool) {
	// atomic.Uintptr has no signed subtract helper; do it via CAS to keep
	// the color bits untouched and the post-condition easy to reason about.
	for {
		cur := w.v.Load()
		refs := Refs(cur)
		next := Pack(refs-1, GetColor(cur))
		if w.v.CompareAndSwap(cur, next) {
			return refs == 1
		}
	}
}

// WeakAcquire attempts to promote a weak reference to a strong one.
//
// If the observed color is red, redLocked is consulted: it must return
// true only once the caller holds the owning generation's red-promotion
// mutex in shared mode. WeakAcquire returns false once the block is
// observed black.
func (w *Word) WeakAcquire(redLocked func() bool) bool {
	for {
		old := w.v.Load()
		c := GetColor(old)
		if c == Black {
			return false
		}
		if c == Red && !redLocked() {
			continue
		}
		target := c
		if c == Red {
			target = Grey
		}
		next := Pack(Refs(old)+1, target)
		if w.v.CompareAndSwap(old, next) {
			return true
		}
	}
}

// SetColorCAS performs a bare color transition, leaving the reference
// count unchanged, succeeding only if the word still equals expect.
// Used exclusively by the collector: it is the only party allowed to
// transition white/grey/red to black, or white to red.
func (w *Word) SetColorCAS(expect uintptr, newColor Color) (uintptr, bool) {
	next := Pack(Refs(expect), newColor)
	if w.v.CompareAndSwap(expect, next) {
		return next, true
	}
	return w.v.Load(), false
}

// ExchangeBlack unconditionally forces the word to (0 refs, black) and
// returns the previous value. Used by collector phase 3 finalization on
// blocks already known to carry zero references.
func (w *Word) ExchangeBlack() uintptr {
	return w.v.Swap(Pack(0, Black))
}
