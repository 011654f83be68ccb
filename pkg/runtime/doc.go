// Package runtime implements the control block, vertex, and generation
// types that together form the cycle-collecting smart-pointer core:
// colored reference counting per block, a per-edge vertex abstraction
// that enforces cross-generation bookkeeping, and a generation object
// that owns the concurrent mark-sweep collector and the merge protocol.
//
// These three types are one package rather than three because they are
// mutually referential in exactly the way the ground-truth C++
// implementation is: base_control, vertex, and generation live in one
// namespace with friend access to each other's internals. Go has no
// friend and no import cycles, so the natural port keeps them together.
package runtime
