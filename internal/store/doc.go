// Package store provides persistent storage for loom conversations using SQLite.
//
// # Architecture
//
// Two interfaces split the surface:
//
//   - Store: threads and messages, the durable conversation log
//   - NoteStore: thread-scoped key-value notes backing the builtin notes tools
//
// SQLiteStore implements both in a single struct, allowing easy composition
// while maintaining clear interface boundaries.
//
// # Data Models
//
//   - Thread: a conversation lineage with a title and activity timestamps
//   - Message: one turn entry (user, assistant, system, or tool role) with
//     optional tool calls or a tool-call reference
//   - Note: key-value storage per thread
//
// # Ordering and consistency
//
// Messages are returned in created_at order with insertion order breaking
// ties; that order is exactly what gets replayed into future completion
// calls. Appending a message bumps the owning thread's updated_at in the
// same transaction, and the bump never moves backwards, so a thread's
// updated_at is always at least as new as every message it owns. Deleting a
// thread removes its messages and notes transactionally; no orphan rows are
// ever observable.
package store
