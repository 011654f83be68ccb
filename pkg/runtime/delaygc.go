package runtime

import "cycleref/pkg/delaygc"

// maybeDelayGC hands g's collection off to the process-wide delay-GC hook,
// reporting whether one was installed. When it returns false, the caller
// (generation.requestCollection) runs g.collect() itself, synchronously.
func maybeDelayGC(g *Generation) bool {
	return delaygc.Invoke(func() { g.collect() })
}
