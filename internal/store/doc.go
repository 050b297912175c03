// Package store provides the SQLite migration target.
//
// The target database holds the graph being migrated (whatever tables the
// changesets create) plus the graphmig bookkeeping tables:
//
//   - graphmig_history: the single history root
//   - graphmig_changesets: one node per executed changeset (id, author, checksum)
//   - graphmig_queries: ordered per-query leaves of each changeset
//   - graphmig_executions: one ordering edge per changeset (position, time)
//   - graphmig_lock: the single-row lock marker
//
// The bookkeeping schema is versioned with golang-migrate from SQL files
// embedded in the binary.
//
// # Critical Patterns
//
// One transaction per changeset: Begin starts an IMMEDIATE transaction that
// the write orchestrator commits or rolls back. Queries, condition checks
// and the history record of a changeset all go through it.
//
// Condition queries: QueryBool expects exactly one row with exactly one
// column named "result". Any other shape is a MalformedResultError; a
// statement SQLite rejects is a TargetError.
//
// Deterministic reads: history is returned ORDER BY position ASC, so the
// persisted side of a diff is always in original execution order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - txlock=immediate: Write lock taken at BEGIN
package store
