// Package gateway defines the persistence contract the sync engine depends on.
//
// Every entity has a repository with the same small vocabulary:
// find by natural key, list by parent, create, update order, delete.
// The engine never talks to a store directly, so the reconciliation
// algorithms run unchanged against SQLite, Postgres or the in-memory fake.
//
// # Error classes
//
// Implementations must wrap connection-level failures with ErrUnavailable
// (see Unavailable). The engine aborts a run on those and treats every other
// error from a single call as a per-action persistence failure.
//
// # Cascades
//
// DeleteSubtree removes descendants bottom-up (lessons, topics, chapters)
// before the nodes themselves, so stores enforcing foreign keys never see a
// dangling reference.
package gateway
