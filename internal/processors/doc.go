// Package processors turns a source work item into the patch operations written to its target.
//
// A [Pipeline] is an explicit, statically ordered list of [Step] values built once per run by
// [Default]. Each step declares its order and an enablement predicate over the processor
// configuration. For every batch the pipeline runs the enabled steps' Preprocess once (links
// resolve cross-record targets here), then Process once per record, concatenating the operations
// into a single write.
//
// # Steps
//
//	1 clear-all-relations  remove every target relation except the back-link
//	2 source-hyperlink     add or refresh the back-link marker
//	3 attachments          download, upload and link attached files
//	4 comments             replay discussion comments as history entries
//	5 history              attach the revision history as a file
//	6 links                recreate work item links between migrated items
//	7 git-links            copy git artifact links
//
// Finalizers run in phase 3: post-move-tag appends the configured tag to the target.
//
// # Marker
//
// [Pipeline.Tracked] is the set of enabled steps written to the back-link marker. The always-on
// source-hyperlink step and the destructive clear-all-relations step are not tracked, so toggling
// them does not force rework on the next run.
//
// The [Mapper] builds the phase 1 document: supported source fields after field_map renames,
// field_replacements overrides and project path rewriting, plus a back-link with an empty step
// set.
package processors
