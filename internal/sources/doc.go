// Package sources provides network producers that feed a stream graph.
//
// Each producer satisfies the engine's Source capability: Run blocks for as
// long as the producer has data, pushes every value into a stream.Source
// with EmitContext, and returns nil on graceful completion. Any returned
// error is fatal to the engine, so producers do not retry on their own.
//
// Configuration errors are reported by the constructors, before the engine
// runs.
package sources
