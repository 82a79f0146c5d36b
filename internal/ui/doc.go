// Package ui implements an interactive terminal view of a migration run using bubbletea's Elm architecture.
//
// The TUI walks through three views:
//  1. [ProgressView] : live progress of identification and the three write phases
//  2. [ResultView] : the run summary with counts and failure reasons
//  3. [FailuresView] : a browsable list of the failed records
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the migration engine, providing non-blocking status reporting during runs.
//
// Keyboard navigation uses vim-style bindings (j/k, f, esc, q) with contextual help displayed via charmbracelet/bubbles/help.
// Quitting while a run is in flight cancels it and waits for the engine to return before exiting.
package ui
