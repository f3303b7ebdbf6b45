// Package store records pipeline runs in SQLite.
//
// The store is an append-only log of:
//   - Runs: one row per engine run, keyed by the run's UUIDv7
//   - Batches: every batch a timed buffer flushed during a run
//
// # Ordering
//
// Batches are ordered by seq, a per-run counter assigned by the writer,
// never by timestamp. Runs are ordered by id, which sorts by start time
// because run ids are UUIDv7.
//
// # Integrity
//
// A batch must reference an existing run, and can only be written while
// that run is still in the running state; a trigger rejects late batches
// with ErrRunNotRecording. Open refuses files holding orphaned batches.
//
// Connections use WAL with synchronous=NORMAL and a 5s busy timeout so
// trace can read a database that a run is still writing.
//
// The engine itself persists nothing; the store is attached as a sink.
package store
