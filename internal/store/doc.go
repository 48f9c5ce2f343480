// Package store implements gateway.Gateway on SQLite.
//
// # Tables
//
//   - courses: id, unique slug, title
//   - units, chapters, topics: one table per level, each row pointing at its
//     parent and carrying course_id for course-wide listing
//   - lessons: chapter_id and topic_id references, slug, order, preview
//   - lesson_tags: ordered tags per lesson, deleted with the lesson
//
// Foreign keys are enforced, so a node cannot be deleted while children or
// lessons still reference it; use gateway.DeleteSubtree.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// IDs are UUIDv7 unless overridden with WithIDs. All list queries order by
// sort_order, created_at, id.
package store
