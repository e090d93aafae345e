// Package kernel implements the deterministic core of opsledger: the event
// record, the immutable state container, the logical clock, and the pure
// reducer.
//
// ARCHITECTURE:
//
// Single-Writer Fold:
// State is never stored as ground truth. It is derived by folding the
// reducer over the event log, one event at a time, in seq order. The fold
// is strictly sequential and side-effect free, which ensures:
//   - Predictable handler dispatch order
//   - Bit-identical state across replays, hosts, and processes
//   - Simple reasoning about causality
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// All events are stamped with a monotonic logical timestamp from
// LogicalClock.Tick(). NEVER use wall-clock time inside the kernel.
//
// Frozen Containers:
// Event and State are conceptually frozen after construction. State
// mutation helpers return a new State with structural sharing; handlers
// must never mutate the inputs they are given.
//
// No Process State:
// The clock, registry, and state are plain values passed explicitly
// through the call graph. There are no singletons, which makes parallel
// verifiers over distinct logs trivial.
package kernel
