package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"cycleref/internal/rtconfig"
	"cycleref/pkg/cycleref"
)

var (
	scenario   = flag.String("scenario", "", "Scenario to run: s1,s2,s3,s4,s5,s6, or all (default: all)")
	verbose    = flag.Bool("v", false, "Verbose output")
	configPath = flag.String("config", "", "Path to a runtime tunables TOML file (optional)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "cycleref - cycle-collecting smart pointer exerciser\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                     # Run every scenario\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -scenario s2        # Run only the two-node cycle scenario\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -v -scenario s5     # Verbose cross-generation merge scenario\n", os.Args[0])
	}
	flag.Parse()

	cfg := rtconfig.Default()
	if *configPath != "" {
		var err error
		cfg, err = rtconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
	}
	rtconfig.Apply(cfg)

	want := strings.ToLower(strings.TrimSpace(*scenario))
	if want == "" {
		want = "all"
	}

	scenarios := map[string]func() error{
		"s1": scenarioS1,
		"s2": scenarioS2,
		"s3": scenarioS3,
		"s4": scenarioS4,
		"s5": scenarioS5,
		"s6": scenarioS6,
	}

	run := func(name string) {
		fn, ok := scenarios[name]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown scenario %q\n", name)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("=== running %s ===\n", name)
		}
		if err := fn(); err != nil {
			fmt.Fprintf(os.Stderr, "%s: FAIL: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("%s: ok\n", name)
	}

	if want == "all" {
		for _, name := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
			run(name)
		}
		return
	}
	run(want)
}

// node is the single payload type every scenario below builds graphs out
// of: a name for diagnostics, a "next" member edge, and an integer field
// used by scenarioS4 to exercise an aliased subobject reference.
type node struct {
	name string
	f    int
	next cycleref.Member[node]
}

func newNode(name string, destroyed *atomic.Int64) (cycleref.Owner[node], error) {
	return cycleref.New[node](func(n *node, b *cycleref.Builder[node]) error {
		n.name = name
		n.next = cycleref.NewMember[node](b)
		return nil
	}, func(n *node) {
		destroyed.Add(1)
	})
}

// scenarioS1: allocate A, drop the only strong
// reference. A's destructor must run exactly once; nothing else is
// created.
func scenarioS1() error {
	var destroyed atomic.Int64
	a, err := newNode("A", &destroyed)
	if err != nil {
		return err
	}
	a.Release()

	if got := destroyed.Load(); got != 1 {
		return fmt.Errorf("expected 1 destruction, got %d", got)
	}
	return nil
}

// scenarioS2 is S2: a two-node cycle A<->B. Dropping either external
// reference alone must destroy nothing; dropping the second destroys
// both exactly once.
func scenarioS2() error {
	var destroyed atomic.Int64
	a, err := newNode("A", &destroyed)
	if err != nil {
		return err
	}
	b, err := newNode("B", &destroyed)
	if err != nil {
		return err
	}

	a.Get().next.Set(b)
	b.Get().next.Set(a)

	a.Release()
	if got := destroyed.Load(); got != 0 {
		return fmt.Errorf("expected 0 destructions after dropping first reference, got %d", got)
	}

	b.Release()
	if got := destroyed.Load(); got != 2 {
		return fmt.Errorf("expected 2 destructions after dropping second reference, got %d", got)
	}
	return nil
}

// scenarioS3 is S3: a single node with a self-loop. Dropping the external
// reference must destroy it exactly once, not deadlock and not leak.
func scenarioS3() error {
	var destroyed atomic.Int64
	a, err := newNode("A", &destroyed)
	if err != nil {
		return err
	}
	a.Get().next.Set(a)

	a.Release()
	if got := destroyed.Load(); got != 1 {
		return fmt.Errorf("expected 1 destruction, got %d", got)
	}
	return nil
}

// scenarioS4 is S4: an aliased subobject. A strong reference to a field
// inside A, sharing A's control block, must keep A alive after the
// primary reference drops, and A is destroyed exactly once once the
// alias drops too.
func scenarioS4() error {
	var destroyed atomic.Int64
	a, err := newNode("A", &destroyed)
	if err != nil {
		return err
	}
	a.Get().f = 42

	alias := cycleref.Alias(a)

	a.Release()
	if got := destroyed.Load(); got != 0 {
		return fmt.Errorf("A must survive while the alias is live, got %d destructions", got)
	}
	if alias.Get().f != 42 {
		return fmt.Errorf("alias observed stale field value %d", alias.Get().f)
	}

	alias.Release()
	if got := destroyed.Load(); got != 1 {
		return fmt.Errorf("expected 1 destruction after the alias drops, got %d", got)
	}
	return nil
}

// scenarioS5 is S5: A and B start in different generations with
// seq(G1) < seq(G2). A->B satisfies the ordering invariant already; then
// B->A violates it, forcing either a sequence-lowering or a real merge.
// Both external references dropping afterward must destroy both blocks.
func scenarioS5() error {
	var destroyed atomic.Int64
	a, err := newNode("A", &destroyed) // older generation, created first
	if err != nil {
		return err
	}
	b, err := newNode("B", &destroyed) // younger generation
	if err != nil {
		return err
	}

	a.Get().next.Set(b) // A -> B: already satisfies the invariant (seq(A) < seq(B))
	b.Get().next.Set(a) // B -> A: violates it, escalates fixOrdering

	a.Release()
	b.Release()

	if got := destroyed.Load(); got != 2 {
		return fmt.Errorf("expected 2 destructions, got %d", got)
	}
	return nil
}

// scenarioS6 is S6: take a weak reference, drop the strong one; A is
// destroyed and the weak reference can no longer promote.
func scenarioS6() error {
	var destroyed atomic.Int64
	a, err := newNode("A", &destroyed)
	if err != nil {
		return err
	}
	w := a.Weak()

	a.Release()
	if got := destroyed.Load(); got != 1 {
		return fmt.Errorf("expected 1 destruction, got %d", got)
	}

	if _, ok := w.Strong(); ok {
		return fmt.Errorf("weak reference promoted after its block was collected")
	}
	return nil
}
