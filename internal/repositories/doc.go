// Package repositories implements SQLite persistence for the run ledger.
//
// Runs are stored with atomic sequence generation for human-readable ordering and support soft
// deletes via deleted_at timestamps, which are excluded from queries by default.
//
// Key Implementations:
//   - [RunRepository] : one row per validate or migrate invocation with counts and status
//   - [LedgerRepository] : the final per-record state of each run, and summaries rebuilt from it
//   - [AuditRepository] : request and response dumps of batches that had failures
//
// [NextSequence] numbers runs from the runs_sequence counter table.
package repositories
