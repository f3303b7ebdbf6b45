// Package engine drives a stream graph: it runs every registered source
// concurrently, flushes timed buffers on their periods, and stops on the
// first of three conditions.
//
// ARCHITECTURE:
//
// Single Graph Goroutine:
// The goroutine that calls Run is the only one that executes graph code.
// Sources run on their own goroutines and reach the graph through a
// stream.Dispatcher installed in their context; each emission is handed to
// the Run loop and executed to completion before the next event is
// considered. This gives:
// - Run-to-completion for every emission and every flush
// - Per-source emission order preserved end-to-end
// - No locking on graph callback lists
//
// Run Loop:
// Each iteration waits for the earliest of
// 1. a dispatched emission from a source,
// 2. a source finishing (success or failure),
// 3. the nearest timer deadline,
// 4. cancellation of the Run context (the interrupt).
// The nearest deadline is recomputed every iteration because flushing moves
// deadlines. When several events are ready at once the choice between them
// is unspecified.
//
// Terminal States:
// - Completed: every source returned nil.
// - Failed: one source returned an error; the rest are abandoned.
// - Interrupted: the context was cancelled; sources and unflushed buffer
//   contents are abandoned.
//
// With no sources registered Run never completes on its own: it flushes
// timers (if any) until interrupted.
//
// TIMERS:
//
// A timer fires once per wake-up no matter how many periods elapsed while
// the loop was busy. Its next deadline then moves forward by whole periods
// until it is strictly after now; missed ticks are skipped, not replayed.
package engine
