// Package course provides the domain types for the course hierarchy.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import course; course imports nothing internal.
//
// The hierarchy is a strict four-level tree:
//
//	Unit -> Chapter -> Topic -> Lesson
//
// Parent references are plain identifiers, never pointers. Nodes are matched
// across runs by natural key (name within parent scope, or slug for lessons),
// which is distinct from the persisted ID.
package course
