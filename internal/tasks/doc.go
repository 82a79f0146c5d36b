// Package tasks migrates the work items selected by a query from a source account to a target
// account, with real-time progress reporting.
//
// # Core Operations
//
// The [Engine] interface defines two operations:
//
//  1. [Engine.Validate] : Identification only
//     - Pages the source query, skipping items already tagged as moved
//     - Finds target items whose hyperlink points back at each source item
//     - Decides Create, Update or None per record and reports the counts
//
//  2. [Engine.Migrate] : Identification followed by three write phases
//     - Phase 1 writes core fields with one $batch request per batch of records
//     - Phase 2 runs the enabled processors per record (comments, attachments, links, history)
//     - Phase 3 writes the back-link marker and tags the source items
//
// Every phase is a barrier: a phase starts only after all batches of the previous one finished.
//
// # Batches
//
// [ForEachBatch] splits records into fixed-size batches and runs them on a bounded number of
// goroutines. A failing batch marks its own records and never affects its siblings; a fatal error
// stops dispatching new batches. [Reconciler] maps $batch responses back onto records by position.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates. The [ProgressUpdate] struct
// contains phase, step counters, messages, and optional data for UI rendering. A [Heartbeat]
// additionally logs per-phase counts at a fixed interval.
//
// # Implementation
//
// [MigrationEngine] implements [Engine] with dependencies on:
//   - [services.WorkItemService] : source and target account clients
//   - [retry.Executor] : classification and backoff of every remote call
//   - [state.Store] : the per-record state shared by all phases
//   - [AuditSink] : optional persistence of failed batch dumps (repositories.AuditRepository)
package tasks
