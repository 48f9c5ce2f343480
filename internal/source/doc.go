// Package source turns rows of the tabular authoring document into
// normalized course.SourceRecords.
//
// Expected columns:
//
//	sequence-number, unit_name, chapter_name, topic_name, lesson_id, lesson_name, tags
//
// The sequence column is optional and may be spelled "Sl. No.", "Sl.No.",
// "sequence-number", "sequence_number" or "seq". Rows missing any of the
// required columns are rejected and reported; they never abort a run.
package source
