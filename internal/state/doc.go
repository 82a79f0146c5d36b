// Package state implements the run's state store: the single owner of every [models.MigrationRecord].
//
// Records are inserted during identification and afterwards only mutated through [Store.Update],
// which works on a copy and rejects changes to identity fields or completed phases. Every read
// returns copies, so callers iterating a [Store.Snapshot] never observe a half-applied update.
// Batches partition the record set, so each record has a single writer at a time.
package state
