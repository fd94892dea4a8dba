// Package store provides SQLite-backed persistence for resources and their
// relationship linkage.
//
// A Store owns the database and the transaction boundary. RunInTransaction
// places the active *sql.Tx in the context; every Repository method called
// with that context joins it, so a whole batch commits or rolls back as one.
//
// # Tables
//
//   - resources: (type, id) primary key, attributes as canonical JSON
//   - relationships: one row per linkage member, ordered by position,
//     cascading on delete of either end
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Repository validates writes against a schema.Schema and reports failures
// with the ir error kinds (ErrNotFound, ErrConflict, ErrInvalid, ErrForbidden).
package store
