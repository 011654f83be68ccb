package runtime

import (
	"cycleref/internal/rtlog"
	"cycleref/pkg/colorrc"
)

// collect runs one full mark-sweep pass over g's control list and
// destroys whatever comes out unreachable. It mirrors the ground truth's
// generation::gc_(): phase 1 partitions the list into a reachable
// wavefront and a red tail under g's list mutex alone; phase 2 repeats
// the partition over just the tail with the red-promotion mutex also
// held exclusively, since that mutex is what a weak pointer's promotion
// attempt must take to turn a red block back into a live one - once
// phase 2 finishes, nothing can resurrect what's left. Destruction then
// happens outside both locks, so tearing down a long unreachable chain
// never blocks unrelated mutators on this generation.
func (g *Generation) collect() {
	var unreachable blockList
	unreachable.init()
	var swept, finalized int

	func() {
		g.listMtx.Lock()
		defer g.listMtx.Unlock()
		g.gcPending.Store(false)

		wavefrontEnd := g.gcMark()
		if wavefrontEnd == g.controls.head {
			return // everything reachable; nothing to sweep
		}
		sweepEnd := g.gcSweep(wavefrontEnd)
		swept += countBlocks(g.controls.head.blNext, sweepEnd)
		if sweepEnd == g.controls.head {
			return
		}

		g.redPromotionMtx.Lock()
		defer g.redPromotionMtx.Unlock()

		phase2End := g.gcPhase2Mark(sweepEnd)
		if phase2End == g.controls.head {
			return
		}
		reachableEnd := g.gcPhase2Sweep(phase2End)
		swept += countBlocks(sweepEnd, reachableEnd)
		if reachableEnd == g.controls.head {
			return
		}

		// Phase 3: everything from reachableEnd to the end of the list is
		// unreachable. Pin each with a control reference before finalizing
		// its color, so the block's memory survives until the destruction
		// phase below runs, then hand the whole tail off in one splice.
		for b := reachableEnd; b != g.controls.head; b = b.blNext {
			b.HazardIncRef()
			old := b.strong.ExchangeBlack()
			if colorrc.Refs(old) != 0 || colorrc.GetColor(old) != colorrc.Red {
				panic("runtime: phase 3 finalized a block that was not red with zero references")
			}
			finalized++
		}
		spliceFrom(reachableEnd, &g.controls, &unreachable)
	}()

	rtlog.Info().
		Uint64("generation", g.creationOrder).
		Uint64("sequence", g.seqRaw()).
		Int("swept", swept).
		Int("finalized", finalized).
		Msg("runtime: collection pass complete")

	if unreachable.empty() {
		return
	}
	g.destroyUnreachable(&unreachable)
}

// countBlocks reports how many real nodes lie in [from, to) along the
// blNext chain. Used only for the collection pass's summary log line;
// never called from a path where an O(n) walk would be a hot-path cost,
// since the caller already just walked the same range itself.
func countBlocks(from, to *Block) int {
	n := 0
	for b := from; b != to; b = b.blNext {
		n++
	}
	return n
}

// gcMark is generation::gc_mark_: partitions controls into a wavefront of
// blocks with a nonzero reference count (grey, known reachable) and a
// tail of zero-count blocks (tentatively red). Returns the sentinel if
// nothing is red, signalling the caller that the whole generation is
// reachable and collection is done.
func (g *Generation) gcMark() *Block {
	wavefrontEnd := g.controls.head.blNext
	i := g.controls.head.blNext
	for i != g.controls.head {
		next := i.blNext
		for {
			old := i.strong.Load()
			target := colorrc.Grey
			if colorrc.Refs(old) == 0 {
				target = colorrc.Red
			}
			if _, ok := i.strong.SetColorCAS(old, target); ok {
				if target == colorrc.Grey {
					if i == wavefrontEnd {
						wavefrontEnd = next
					} else {
						moveBefore(i, wavefrontEnd, &g.controls)
					}
				}
				break
			}
		}
		i = next
	}
	return wavefrontEnd
}

// gcSweep walks [begin, wavefrontEnd), turning each grey block white and
// following its edges: any in-generation destination still red is
// promoted to grey and pulled into the wavefront (or re-spliced there if
// it already was grey - harmless). wavefrontEnd grows as new destinations
// are discovered and the loop naturally covers them. Returns the final
// boundary once the whole reachable set has been walked: every block from
// it to the end of the list is still red and is left for phase 2 to
// judge. The sentinel means every block was reached, so the caller has
// nothing left to collect.
func (g *Generation) gcSweep(wavefrontEnd *Block) *Block {
	wavefrontBegin := g.controls.head.blNext
	for wavefrontBegin != wavefrontEnd {
		bc := wavefrontBegin
		for {
			old := bc.strong.Load()
			if _, ok := bc.strong.SetColorCAS(old, colorrc.White); ok {
				break
			}
		}

		bc.mu.Lock()
		bc.edges.forEach(func(v *Vertex) {
			dst := v.loadDestRaw()
			if dst == nil || dst.currentGenerationRaw() != g {
				return
			}
			c, _ := promoteRedToGrey(dst)
			if c == colorrc.White {
				return
			}
			if dst == wavefrontEnd {
				wavefrontEnd = wavefrontEnd.blNext
			} else {
				moveBefore(dst, wavefrontEnd, &g.controls)
			}
		})
		bc.mu.Unlock()

		wavefrontBegin = wavefrontBegin.blNext
	}
	return wavefrontBegin
}

// gcPhase2Mark extends the wavefront over the tail starting at b: anything
// not red joins the wavefront (it became grey via a racing Acquire during
// phase 1's window), everything red stays put for gcPhase2Sweep to judge.
// Unlike gcMark, this never changes a block's color - red-promotion
// mutex held by the caller means no strong Acquire can legally promote a
// block out from under it here.
func (g *Generation) gcPhase2Mark(b *Block) *Block {
	wavefrontEnd := b
	for b != g.controls.head {
		next := b.blNext
		if b.strong.Color() != colorrc.Red {
			if b == wavefrontEnd {
				wavefrontEnd = next
			} else {
				moveBefore(b, wavefrontEnd, &g.controls)
			}
		}
		b = next
	}
	return wavefrontEnd
}

// gcPhase2Sweep is gcSweep's phase 2 analogue, restricted to [begin,
// wavefrontEnd) and skipping anything already whitened by phase 1.
// Unlike gcSweep, an edge destination only rejoins the wavefront if this
// call itself just promoted it from red - a destination already grey or
// white is left alone, since phase 1 already accounted for it.
func (g *Generation) gcPhase2Sweep(wavefrontEnd *Block) *Block {
	wavefrontBegin := g.controls.head.blNext
	for wavefrontBegin != wavefrontEnd {
		bc := wavefrontBegin

		alreadyWhite := bc.strong.Color() == colorrc.White
		if !alreadyWhite {
			for {
				old := bc.strong.Load()
				if colorrc.GetColor(old) == colorrc.White {
					alreadyWhite = true
					break
				}
				if _, ok := bc.strong.SetColorCAS(old, colorrc.White); ok {
					break
				}
			}
		}

		if !alreadyWhite {
			bc.mu.Lock()
			bc.edges.forEach(func(v *Vertex) {
				dst := v.loadDestRaw()
				if dst == nil || dst.currentGenerationRaw() != g {
					return
				}
				_, promoted := promoteRedToGrey(dst)
				if !promoted {
					return
				}
				if dst == wavefrontEnd {
					wavefrontEnd = wavefrontEnd.blNext
				} else {
					moveBefore(dst, wavefrontEnd, &g.controls)
				}
			})
			bc.mu.Unlock()
		}

		// Read bc.blNext only now: a destination just spliced in right
		// after bc must still be walked.
		wavefrontBegin = bc.blNext
	}
	return wavefrontEnd
}

// promoteRedToGrey CAS-loops dst's color from red to grey, reporting the
// color it observed once the loop settles and whether this call is the
// one that performed the red->grey transition (as opposed to finding dst
// already grey or white).
func promoteRedToGrey(dst *Block) (colorrc.Color, bool) {
	for {
		old := dst.strong.Load()
		c := colorrc.GetColor(old)
		if c != colorrc.Red {
			return c, false
		}
		if _, ok := dst.strong.SetColorCAS(old, colorrc.Grey); ok {
			return colorrc.Grey, true
		}
	}
}

// destroyUnreachable runs outside any of g's locks: it clears every
// outgoing edge of each finalized block (releasing a strong reference for
// any edge that crossed into another, still-live generation), invokes
// each block's payload destructor, and finally drops the control
// reference phase 3 pinned on its way in - whatever that reference was
// protecting (blockDomain's hazard readers) is done needing this memory
// alive by construction, since the block is already colored black and no
// hazard read can return a black block as anything but discardable.
func (g *Generation) destroyUnreachable(unreachable *blockList) {
	unreachable.forEach(func(bc *Block) {
		bc.mu.Lock()
		bc.edges.forEach(func(v *Vertex) {
			old := v.exchangeDest(nil)
			if old != nil {
				if old.currentGenerationRaw() != g {
					old.Release(false)
				}
				old.HazardDecRef()
			}
		})
		bc.mu.Unlock()
	})

	for !unreachable.empty() {
		bc := unreachable.head.blNext
		bc.unlink()
		if bc.destroy != nil {
			bc.destroy()
		}
		bc.HazardDecRef()
	}
}
