package runtime

import (
	"errors"
	"sync"
	"sync/atomic"

	"cycleref/pkg/colorrc"
	"cycleref/pkg/hazard"
)

// hazardDomainSlots mirrors internal/rtconfig's hazard_domain_slots
// default. Go initializes package-level vars before main() runs, ahead of
// any TOML file being read, so genDomain and blockDomain below are sized
// from this compiled-in constant rather than a value Configure could
// still change at startup; true runtime resizing would require turning
// every genDomain/blockDomain call site into an indirection through a
// lazily-initialized accessor, which was judged not worth the blast
// radius for a tunable whose whole purpose is pre-allocation sizing.
const hazardDomainSlots = 64

// genDomain hazard-protects every Block's pointer to its current
// Generation, matching the ground truth's hazard_ptr<generation>
// generation_ member of base_control.
var genDomain = hazard.NewDomainSize[Generation](hazardDomainSlots)

// blockDomain hazard-protects every Vertex's pointer to its destination
// Block, matching the ground truth's hazard_ptr<base_control> dst_
// member of vertex.
var blockDomain = hazard.NewDomainSize[Block](hazardDomainSlots)

// ErrUnderConstruction is returned by SelfReference when a payload
// constructor tries to obtain a strong reference to its own,
// not-yet-fully-constructed control block.
var ErrUnderConstruction = errors.New("runtime: cannot produce a strong reference to a block still under construction")

// Block is the control block: per-object metadata carrying the colored
// strong refcount, the control refcount, the current generation, and
// the list of outgoing edges. One Block exists per managed object and
// never moves once published.
type Block struct {
	blNext, blPrev *Block
	blList         *blockList

	strong      colorrc.Word // store_refs_
	controlRefs atomic.Int64 // control_refs_

	gen atomic.Pointer[Generation] // generation_, hazard-protected via genDomain

	mu    sync.Mutex // guards edges, matches ground truth's mtx_
	edges edgeList

	underConstruction atomic.Bool

	destroy func() // payload destructor trampoline; runs exactly once
	dealloc func() // optional hook run when controlRefs reaches zero

	payload any // façade-level typed payload pointer; opaque to this package
}

// SetPayload records the façade's typed pointer to this block's payload,
// so a vertex's destination can be turned back into a concrete *T without
// a second, parallel lookup structure. Opaque to this package: only
// pkg/cycleref type-asserts it back.
func (b *Block) SetPayload(p any) { b.payload = p }

// Payload returns whatever SetPayload last recorded.
func (b *Block) Payload() any { return b.payload }

// WeakAcquire attempts to promote a weak reference into a strong one:
// if the block is currently RED, it takes its owning generation's
// red-promotion mutex in shared mode and holds it until the promotion
// attempt returns, so the promotion cannot race the collector's phase 2
// judging the same block finalized. Returns false once the block is
// observed BLACK.
func (b *Block) WeakAcquire() bool {
	var g *Generation
	defer func() {
		if g != nil {
			g.redPromotionMtx.RUnlock()
		}
	}()
	return b.strong.WeakAcquire(func() bool {
		if g == nil {
			g = b.loadGeneration()
			g.redPromotionMtx.RLock()
		}
		return true
	})
}

// NewBlock creates a fresh control block in a brand-new generation, in
// the under-construction state, with one strong reference (the caller's).
// destroy is the payload destructor trampoline invoked by the collector's
// destruction phase; it may be nil for payloads with nothing to release.
func NewBlock(destroy func()) *Block {
	b := &Block{destroy: destroy}
	b.strong.Init()
	b.controlRefs.Store(1)
	b.edges.init()
	b.underConstruction.Store(true)

	g := newGeneration()
	g.link(b)
	g.HazardIncRef()
	hazard.Store(genDomain, &b.gen, g)

	return b
}

// UnownedBlock creates a control block for a payload with no participating
// parent - a function-local smart pointer, or a root value that was not
// itself allocated through New. Unlike NewBlock, it links into the
// reserved unowned generation (sequence 0) shared by every such block
// instead of a generation of its own, and it never leaves the
// under-construction state: this mirrors the ground truth's
// unowned_control_impl, which is constructed once per unowned object but
// always against the same singleton generation, and whose clear_data_
// override asserts it is never asked to destroy a payload, since it never
// leaves construction. Callers must tear the block down with
// UnlinkUnowned rather than Release, since its strong reference is never
// expected to reach zero through the normal collector path.
func UnownedBlock() *Block {
	b := &Block{}
	b.strong.Init()
	b.controlRefs.Store(1)
	b.edges.init()
	b.underConstruction.Store(true)

	unowned.link(b)
	unowned.HazardIncRef()
	hazard.Store(genDomain, &b.gen, unowned)

	return b
}

// UnlinkUnowned removes b, created by UnownedBlock, from the reserved
// unowned generation directly, bypassing the mark-sweep collector - the
// same way the ground truth's base_control destructor manually unlinks a
// still-under-construction block from its generation instead of going
// through generation::gc_(). b must have no remaining live edges pointing
// at it; callers are responsible for that exactly as they are for any
// other object's teardown ordering.
func UnlinkUnowned(b *Block) {
	unowned.unlink(b)
}

// SetDealloc installs the hook run once the control block's own
// controlRefs counter reaches zero. Intended for tests that want to
// observe full quiescence; production callers rarely need it, since Go's
// GC reclaims the Block's memory on its own.
func (b *Block) SetDealloc(fn func()) { b.dealloc = fn }

// HazardIncRef implements hazard.Counted for blockDomain: pins this
// Block alive against concurrent hazard reads of a vertex pointing at it.
func (b *Block) HazardIncRef() {
	old := b.controlRefs.Add(1)
	if old <= 0 {
		panic("runtime: HazardIncRef on a block with no outstanding control references")
	}
}

// HazardDecRef implements hazard.Counted for blockDomain.
func (b *Block) HazardDecRef() {
	remaining := b.controlRefs.Add(-1)
	if remaining < 0 {
		panic("runtime: control refcount underflow")
	}
	if remaining == 0 && b.dealloc != nil {
		b.dealloc()
	}
}

// FinishConstruction clears the under-construction flag, permitting
// self-references taken during construction to resolve to a live strong
// reference from this point on.
func (b *Block) FinishConstruction() { b.underConstruction.Store(false) }

// UnderConstruction reports whether the payload constructor has not yet
// returned successfully.
func (b *Block) UnderConstruction() bool { return b.underConstruction.Load() }

// SelfReference is the entry point a payload constructor uses (through
// pkg/cycleref's Builder) to obtain a strong reference to the block that
// owns it. It fails while the block is still under construction, per the
// "use-during-construction" error kind.
func (b *Block) SelfReference() error {
	if b.UnderConstruction() {
		return ErrUnderConstruction
	}
	b.strong.Acquire()
	return nil
}

// Expired reports whether the block's payload has been (or is about to
// be) destroyed.
func (b *Block) Expired() bool { return b.strong.Color() == colorrc.Black }

// AcquireNoRed takes a strong reference. Callers must be certain the
// block is currently reachable (color is not RED or BLACK).
func (b *Block) AcquireNoRed() { b.strong.AcquireNoRed() }

// Acquire takes a strong reference, promoting RED to GREY if necessary.
func (b *Block) Acquire() { b.strong.Acquire() }

// Release drops one strong reference. If the count reaches zero, a
// collection is requested on the block's current generation, unless
// skipGC is set by a caller that can prove the block stays live anyway.
func (b *Block) Release(skipGC bool) {
	reachedZero := b.strong.Release()
	if reachedZero && !skipGC {
		b.gc()
	}
}

// ClearEdges nulls every outgoing edge of b, releasing whatever strong
// reference each one held. Used by teardown paths that retire a single
// block outside the generation-wide collector - an unowned block's own
// Close/rollback path - where there is no companion destruction pass to
// account for a destination that happens to share b's generation, unlike
// destroyUnreachable's batched release.
func (b *Block) ClearEdges() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edges.forEach(func(v *Vertex) {
		old := v.exchangeDest(nil)
		if old != nil {
			old.Release(false)
			old.HazardDecRef()
		}
	})
}

// gc requests a collection on whichever generation currently owns this
// block, re-checking after the request in case a concurrent merge moved
// the block to a different generation mid-request — mirroring the
// retry loop in the ground truth's base_control::gc().
func (b *Block) gc() {
	for {
		g := b.loadGeneration()
		g.requestCollection()
		if g == b.loadGeneration() {
			return
		}
	}
}

// loadGeneration returns the block's current generation, hazard-read.
func (b *Block) loadGeneration() *Generation {
	r := genDomain.NewReader()
	g := r.Load(&b.gen)
	if g == nil {
		panic("runtime: block has no generation")
	}
	g.HazardDecRef()
	return g
}

// currentGenerationRaw is a racy, non-hazard-protected peek used only
// where the caller already holds a lock that prevents the generation
// pointer from changing concurrently (e.g. inside a generation's own
// control-list mutex during collection).
func (b *Block) currentGenerationRaw() *Generation { return b.gen.Load() }

func (b *Block) pushEdge(v *Vertex) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edges.pushBack(v)
}

func (b *Block) eraseEdge(v *Vertex) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v.unlinkEdge()
}

// SetEdge implements the core edge retarget algorithm: it points
// src's destination at dst, handling cross-generation refcounting and
// triggering a generation merge when the ordering invariant would
// otherwise be violated. hasReference indicates the caller is handing
// over an already-acquired strong reference on dst (only valid together
// with noRedPromotion); otherwise SetEdge acquires one itself whenever
// the edge turns out to be cross-generation.
func SetEdge(src *Vertex, dst *Block, hasReference, noRedPromotion bool) {
	if hasReference && !noRedPromotion {
		panic("runtime: hasReference requires noRedPromotion")
	}

	if src.owner.Expired() {
		// A block that has already been finalized by the collector never
		// writes its edges again; any reference the caller handed in is
		// simply released.
		if dst != nil && hasReference {
			dst.Release(false)
		}
		return
	}

	current := src.loadDestRaw()
	if current == dst {
		if dst != nil && hasReference {
			dst.Release(false)
		}
		return
	}

	srcGen := src.owner.loadGeneration()
	srcGen.mergeMtx.RLock()
	for srcGen != src.owner.currentGenerationRaw() {
		srcGen.mergeMtx.RUnlock()
		srcGen = src.owner.loadGeneration()
		srcGen.mergeMtx.RLock()
	}
	unlocked := false
	unlock := func() {
		if !unlocked {
			srcGen.mergeMtx.RUnlock()
			unlocked = true
		}
	}
	defer unlock()

	acquireDst := func() {
		if noRedPromotion {
			dst.AcquireNoRed()
		} else {
			dst.Acquire()
		}
	}

	// fixOrdering must run for every non-nil destination, not only when the
	// ordering invariant is already violated: it is the only place that
	// clears a generation's moveable bit once it becomes an edge target, and
	// skipping that on the already-satisfied fast path would let a later,
	// unrelated edge lower that generation's sequence out from under this
	// one. fixOrdering itself fast-returns when src and dst already share a
	// generation or already satisfy the invariant; it only escalates to a
	// real merge when neither holds. It hands back the (possibly new) source
	// generation with its merge mutex held in shared mode.
	if dst != nil {
		unlock()
		srcGen = fixOrdering(src.owner, dst)
		unlocked = false
	}

	switch {
	case dst == nil:
		// nothing to acquire
	case dst.currentGenerationRaw() == srcGen:
		if hasReference {
			dst.Release(false)
		}
	default:
		if !hasReference {
			acquireDst()
		}
	}

	oldDst := src.exchangeDest(dst)
	if oldDst != nil {
		// exchangeDest handed us an outstanding control reference on
		// oldDst (transferred out of the vertex's hazard slot); release
		// it once we're done inspecting oldDst below.
		if oldDst.currentGenerationRaw() != srcGen {
			oldDst.Release(false)
		} else if oldDst.strong.Refs() == 0 && !oldDst.Expired() {
			oldDst.gc()
		}
		oldDst.HazardDecRef()
	}
}
