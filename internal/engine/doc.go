// Package engine orchestrates one synchronization run of a course.
//
// A run turns raw source rows into a reconciled hierarchy:
//
//  1. Normalize rows into records (package source)
//  2. Build the candidate tree (package hierarchy)
//  3. Reconcile units, then chapters, then topics (package reconcile),
//     threading each level's natural-key→id map into the next
//  4. Rebuild lessons from the chapter and topic maps (package lessons)
//
// Each stage writes through the gateway before the next starts because
// later stages need the ids earlier creates mint. When the gateway
// implements gateway.Transactor and Options.Transactions is set, each
// level runs in its own transaction; there is no run-wide transaction.
//
// ERROR MODEL:
//
// Per-row and per-action failures never abort a run. They become Issues on
// the Report and the run finishes as StatusDegraded. Only a connectivity
// failure moves the state machine to StateFailed and makes Sync return an
// error. Nothing is retried.
//
// Duplicate resolution (package dedup) is a separate maintenance pass. It
// runs before the sync when Options.DedupFirst is set, or alone via Dedup.
package engine
