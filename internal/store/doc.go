// Package store provides the SQLite-backed data source that liveq queries
// read and mutations write.
//
// The store holds:
//   - Catalog tables: one per configured table, each with an implicit
//     "id INTEGER PRIMARY KEY" and NOT NULL typed columns
//   - Changes: an append-only log with one row per applied mutation,
//     stamped with a logical seq
//
// # Critical Patterns
//
// Logical time:
//   - Change ordering uses seq INTEGER (logical clock), NEVER timestamps
//
// Deterministic results:
//   - Every read orders by primary key (see querysql)
//   - Booleans are stored as 0/1 and restored from the catalog on read
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
