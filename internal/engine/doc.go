// Package engine executes liveq query documents against the SQLite store
// and implements session.Engine.
//
// ARCHITECTURE:
//
// ParseQuery compiles CUE query text into a compiler.Document and validates
// it against the table catalog. Compiled documents are cached by source
// hash. Subscribe resolves one operation of the document, binds its
// variables and returns a producer:
//
//   - query: runs once during Listen and completes
//   - mutation: applies one write during Listen and completes
//   - subscription: emits the current result, then re-runs after every
//     change to a table it reads; completes after take results
//
// Change Feed:
// Every applied write is stamped by the logical Clock, recorded in the
// store's change log and published to a hub. Each live subscription owns an
// unbounded changeQueue, so writers never block on slow readers. Bursts of
// changes coalesce into one re-run.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Change seqs come from Clock.Next() under the write lock. NEVER use
// wall-clock timestamps for ordering.
//
// Deterministic Results:
// Payloads are canonical JSON (RFC 8785) and rows are ordered by primary
// key, so an unchanged result hashes identically and is not re-emitted.
//
// Errors:
// Failures to resolve an operation are QueryErrors returned from Subscribe.
// Failures while executing are delivered as {"errors": [...]} payloads.
package engine
