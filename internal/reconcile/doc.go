// Package reconcile diffs source-derived candidate nodes against persisted
// nodes one level at a time and applies the result.
//
// A run calls Diff then Apply for units, then chapters, then topics. The
// IDMap returned by Apply for one level is the parent map of the next.
//
// Matching is by natural key: (parent id, name). A matched node whose
// order differs is updated; an unmatched candidate is created. Persisted
// nodes under a candidate parent that no candidate matches are orphans and
// are handled by the level's OrphanPolicy.
package reconcile
