package runtime

import (
	"sync/atomic"

	"cycleref/pkg/hazard"
)

// Vertex is one outgoing edge endpoint: a field inside some payload that
// can point at another managed object. It is always owned by exactly one
// Block (the object the field lives in) for its whole life, and its
// destination is hazard-protected so a concurrent collector can walk the
// owner's edge list and dereference dst_ safely while the owner's payload
// keeps running.
//
// This mirrors the ground truth's vertex<T>: the payload-visible,
// generic member-edge type wraps a Vertex one-to-one and is generic only
// at the façade layer (pkg/cycleref); Vertex itself stores no payload
// type information.
type Vertex struct {
	vNext, vPrev *Vertex // edgeList links; nil when unlinked

	owner *Block // fixed for the vertex's whole life

	dst atomic.Pointer[Block] // dst_, hazard-protected via blockDomain
}

// NewVertex creates a vertex owned by owner, with a null destination, and
// links it into owner's edge list. Constructing a vertex never itself
// produces a cross-generation reference; the first real destination is
// assigned by a subsequent Retarget/SetEdge call.
func NewVertex(owner *Block) *Vertex {
	v := &Vertex{owner: owner}
	owner.pushEdge(v)
	return v
}

// loadDestRaw is a racy, non-hazard-protected peek at the current
// destination. Collector and merge code call it while holding the owner's
// mu; SetEdge calls it without that lock, only to compare the current
// destination with the new one.
func (v *Vertex) loadDestRaw() *Block { return v.dst.Load() }

// exchangeDest hazard-exchanges the vertex's destination for newDst,
// returning the previous destination. newDst's control reference (not its
// strong reference) is consumed by the slot; the returned old destination
// carries an outstanding control reference that the caller must release
// with HazardDecRef once it has finished inspecting it.
func (v *Vertex) exchangeDest(newDst *Block) *Block {
	if newDst != nil {
		newDst.HazardIncRef()
	}
	return hazard.Exchange(blockDomain, &v.dst, newDst)
}

// Load returns a strong (colored) reference to the vertex's current
// destination, or nil if the destination is null or has already been
// collected.
func (v *Vertex) Load() *Block {
	// A fresh Reader per call: a Reader is not safe for concurrent use, and
	// concurrent callers of Load on the same Vertex must not share one.
	dst := blockDomain.NewReader().Load(&v.dst)
	if dst == nil {
		return nil
	}
	defer dst.HazardDecRef()
	if dst.Expired() {
		return nil
	}
	dst.Acquire()
	return dst
}

// Reset retargets the vertex to null, releasing whatever strong reference
// it held.
func (v *Vertex) Reset() {
	SetEdge(v, nil, false, true)
}

// Retarget points the vertex at dst. hasReference and noRedPromotion
// select among this three acquire modes exactly as SetEdge
// documents them.
func (v *Vertex) Retarget(dst *Block, hasReference, noRedPromotion bool) {
	SetEdge(v, dst, hasReference, noRedPromotion)
}

// Destroy retargets the vertex to null and unlinks it from its owner's
// edge list. Must be called exactly once, when the field holding this
// vertex is itself being destroyed.
func (v *Vertex) Destroy() {
	v.Reset()
	v.owner.eraseEdge(v)
}
