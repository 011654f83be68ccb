package runtime

import (
	"cycleref/internal/rtlog"
	"cycleref/pkg/hazard"
)

// mergeInto moves every control block from src into dst, leaving src
// empty, and returns dst together with whether it still needs a
// collection run once all merge locks are released.
//
// src must precede dst under orderInvariant, or tie with it and lose the
// creation-order tiebreak - callers (fixOrdering) are responsible for
// arranging that before calling in.
//
// This mirrors the ground truth's recursive merge_: before folding a
// generation into dst, every edge leaving one of its blocks that points
// at some third generation which would still violate the ordering
// invariant against dst must itself be cascaded into dst first. Cascade
// depth is bounded only by how many distinct generations are reachable
// from src's edges, and that bound is driven by the shape of the object
// graph a caller constructs - not by anything this package controls -
// so the cascade runs over an explicit worklist rather than the Go call
// stack, to keep it from being an attacker-controlled recursion depth.
func mergeInto(dst *Generation, dstGCRequested bool, src *Generation, srcGCRequested bool) (*Generation, bool) {
	type pending struct {
		gen   *Generation
		gcReq bool
	}

	worklist := []pending{{src, srcGCRequested}}
	merged := make(map[*Generation]bool)

	for len(worklist) > 0 {
		top := len(worklist) - 1
		cur := worklist[top]
		worklist = worklist[:top]

		if cur.gen == dst || merged[cur.gen] {
			continue
		}

		cur.gen.mergeMtx.Lock()
		cur.gen.listMtx.Lock()

		var cascades []*Generation
		cur.gen.controls.forEach(func(bc *Block) {
			bc.mu.Lock()
			defer bc.mu.Unlock()
			bc.edges.forEach(func(v *Vertex) {
				edgeDst := v.loadDestRaw()
				if edgeDst == nil {
					return
				}
				edgeDstGen := edgeDst.currentGenerationRaw()
				if edgeDstGen == cur.gen || edgeDstGen == dst || merged[edgeDstGen] {
					return
				}
				if orderInvariant(dst, edgeDstGen) {
					return
				}
				cascades = append(cascades, edgeDstGen)
			})
		})

		if len(cascades) > 0 {
			// Some of cur.gen's edges still point at a generation that
			// would violate the invariant against dst. Fold those in
			// first, then revisit cur.gen - by the time it's popped
			// again, every such edge target will already equal dst.
			cur.gen.listMtx.Unlock()
			cur.gen.mergeMtx.Unlock()
			worklist = append(worklist, cur)
			for _, c := range cascades {
				worklist = append(worklist, pending{c, false})
			}
			continue
		}

		dstGCRequested = merge0(cur.gen, cur.gcReq, dst, dstGCRequested)
		cur.gen.listMtx.Unlock()
		cur.gen.mergeMtx.Unlock()
		merged[cur.gen] = true
	}

	return dst, dstGCRequested
}

// merge0 is the low-level splice: it assumes the caller already holds
// src's mergeMtx and listMtx exclusively, locks dst's listMtx itself,
// and performs the two-stage control-block move described in §3's
// recovered detail (release internal-edge references before reassigning
// generation pointers, never in the same pass).
func merge0(src *Generation, srcGCRequested bool, dst *Generation, dstGCRequested bool) bool {
	if !srcGCRequested {
		srcGCRequested = src.gcPending.CompareAndSwap(false, true)
	}
	if !dstGCRequested {
		dstGCRequested = dst.gcPending.CompareAndSwap(false, true)
	}

	dst.listMtx.Lock()
	defer dst.listMtx.Unlock()

	// Stage 1: release references that become internal to dst. Must run
	// fully before stage 2 below - once a source block's generation
	// pointer has been reassigned, this predicate could no longer tell
	// "was this edge already internal to dst" from "did we just make it
	// internal," and double-release or under-release.
	src.controls.forEach(func(bc *Block) {
		bc.mu.Lock()
		defer bc.mu.Unlock()
		bc.edges.forEach(func(v *Vertex) {
			edgeDst := v.loadDestRaw()
			if edgeDst != nil && edgeDst.currentGenerationRaw() == dst {
				edgeDst.Release(true)
			}
		})
	})

	// Stage 2: reassign generation pointers.
	src.controls.forEach(func(bc *Block) {
		dst.HazardIncRef()
		hazard.Store(genDomain, &bc.gen, dst)
	})

	spliceAll(&src.controls, &dst.controls)

	rtlog.Info().
		Uint64("source_generation", src.creationOrder).
		Uint64("source_sequence", src.seqRaw()).
		Uint64("dest_generation", dst.creationOrder).
		Uint64("dest_sequence", dst.seqRaw()).
		Msg("runtime: generation merge")

	if srcGCRequested {
		// src is now empty; a collection on it is trivially a no-op, so
		// fulfil the promise by simply clearing the flag.
		src.gcPending.Store(false)
	}

	if !dstGCRequested {
		dstGCRequested = dst.gcPending.CompareAndSwap(false, true)
	}
	return dstGCRequested
}
