package source

import (
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/syllabus/internal/course"
)

// Column names of the authoring document.
const (
	ColUnit        = "unit_name"
	ColChapter     = "chapter_name"
	ColTopic       = "topic_name"
	ColLessonID    = "lesson_id"
	ColLessonTitle = "lesson_name"
	ColTags        = "tags"
)

// SequenceColumns lists accepted spellings of the sequence column, in
// lookup order.
var SequenceColumns = []string{"Sl. No.", "Sl.No.", "sequence-number", "sequence_number", "seq"}

var required = []string{ColUnit, ColChapter, ColTopic, ColLessonID, ColLessonTitle}

// Rejection records a row that could not be normalized.
type Rejection struct {
	RowIndex int      `json:"row"`
	Missing  []string `json:"missing"`
	// Key holds whatever part of the path was present, for reporting.
	Key         course.Key `json:"key"`
	LessonToken string     `json:"lesson_token,omitempty"`
}

// Result is the output of Normalize.
type Result struct {
	Records  []course.SourceRecord
	Rejected []Rejection
}

// Normalize converts rows into records in input order. Row indexes are
// 1-based positions in rows.
func Normalize(rows []Row) Result {
	var res Result
	for i, row := range rows {
		idx := i + 1
		rec := course.SourceRecord{
			Key: course.Key{
				Unit:    course.NormalizeName(row[ColUnit]),
				Chapter: course.NormalizeName(row[ColChapter]),
				Topic:   course.NormalizeName(row[ColTopic]),
			},
			LessonToken: strings.TrimSpace(row[ColLessonID]),
			LessonTitle: course.NormalizeName(row[ColLessonTitle]),
			Tags:        SplitTags(row[ColTags]),
			Sequence:    sequence(row),
			RowIndex:    idx,
		}

		if missing := missingFields(rec); len(missing) > 0 {
			res.Rejected = append(res.Rejected, Rejection{
				RowIndex:    idx,
				Missing:     missing,
				Key:         rec.Key,
				LessonToken: rec.LessonToken,
			})
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func missingFields(rec course.SourceRecord) []string {
	values := map[string]string{
		ColUnit:        rec.Key.Unit,
		ColChapter:     rec.Key.Chapter,
		ColTopic:       rec.Key.Topic,
		ColLessonID:    rec.Slug(),
		ColLessonTitle: rec.LessonTitle,
	}
	var missing []string
	for _, col := range required {
		if values[col] == "" {
			missing = append(missing, col)
		}
	}
	return missing
}

// sequence returns the first positive integer found in a sequence column,
// or 0.
func sequence(row Row) int {
	for _, col := range SequenceColumns {
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		return 0
	}
	return 0
}

// SplitTags splits a comma separated tag list, trimming entries and
// dropping empties and repeats.
func SplitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(tags, t) {
			continue
		}
		tags = append(tags, t)
	}
	return tags
}
