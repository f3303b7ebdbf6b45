// Package stream implements the push-based emission graph.
//
// A graph is built once, before anything is emitted: a Source is the ingress
// point, every combinator registers one callback on its predecessor and
// returns a handle to a fresh downstream node, and Sink terminates a chain.
//
// EXECUTION MODEL:
//
// Emit walks the callback list of the source node synchronously and
// depth-first. Every downstream operator runs to completion before Emit
// returns. Callbacks registered on the same node run in registration order.
// There is no buffering, reordering or back-pressure between operators.
//
// Operators never fail. A transformation that can fail must encode the
// failure in its own output type.
//
// CONCURRENCY:
//
// Callback lists are mutated only while the graph is being built and are
// read-only afterwards, so no locking is done on them. A graph must only be
// driven from one goroutine at a time. Producers running on their own
// goroutines use EmitContext, which hands the emission to the Dispatcher
// carried in the context (installed by the engine) and waits until the graph
// goroutine has run it.
package stream
