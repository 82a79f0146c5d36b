// Package models defines domain entities and persistence interfaces for the witx work item migration engine.
//
// The package contains three categories of types:
//
// 1. Migration state: per-record bookkeeping owned by the state store
//   - [MigrationRecord] : identity, [Action], [FailureReason], [PhaseRequirement] and [PhaseSet] of one source work item
//   - [Marker] : the revision and step set encoded in the back-link hyperlink comment
//   - [BatchContext] : scratch data for one dispatched batch
//
// 2. Data Transfer Objects (DTOs): wire shapes of the remote work item service
//   - [WorkItem], [Relation], [PatchOperation] : records and JSON Patch documents
//   - [BatchRequest], [BatchResponse] : batch write envelopes
//   - [Comment], [WorkItemUpdate], [AttachmentReference] : enrichment data read by pipeline steps
//
// 3. Persistent Entities: database-backed run ledger
//   - [Run] : one validate or migrate invocation with its summary counts
//   - [LedgerEntry] : per-record outcome of a run
//   - [BatchAudit] : request/response dump of a batch that had failures
//
// Persistent entities implement the Model interface; the Repository[T] interface defines standard CRUD operations.
package models
