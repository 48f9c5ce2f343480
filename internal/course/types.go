package course

import (
	"fmt"
	"time"
)

// Level identifies a tier of the course hierarchy.
type Level int

const (
	LevelUnit Level = iota + 1
	LevelChapter
	LevelTopic
	LevelLesson
)

// String returns the lowercase level name used in logs and reports.
func (l Level) String() string {
	switch l {
	case LevelUnit:
		return "unit"
	case LevelChapter:
		return "chapter"
	case LevelTopic:
		return "topic"
	case LevelLesson:
		return "lesson"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Child returns the level directly below l, or 0 for lessons.
func (l Level) Child() Level {
	if l >= LevelUnit && l < LevelLesson {
		return l + 1
	}
	return 0
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLevel converts a level name back into a Level.
func ParseLevel(s string) (Level, error) {
	for _, l := range []Level{LevelUnit, LevelChapter, LevelTopic, LevelLesson} {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// Course is the root that owns a hierarchy.
type Course struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Node is a persisted Unit, Chapter or Topic.
//
// ParentID is the course ID for units, the unit ID for chapters and the
// chapter ID for topics. CourseID is carried on every level so a whole
// course can be listed without walking the tree.
type Node struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	CourseID  string    `json:"course_id"`
	ParentID  string    `json:"parent_id"`
	Name      string    `json:"name"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"` // only used to pick dedup survivors
}

// Lesson is a persisted leaf. It references both its chapter and its topic.
type Lesson struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	ChapterID string    `json:"chapter_id"`
	TopicID   string    `json:"topic_id"`
	Code      string    `json:"code"` // raw lesson token from the source
	Slug      string    `json:"slug"` // globally unique natural key
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	Preview   bool      `json:"preview"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Key is the natural-key path of a candidate node, by name.
// A unit key sets only Unit; a chapter key sets Unit and Chapter; a topic
// key sets all three. Key is comparable and used as a map key.
type Key struct {
	Unit    string `json:"unit"`
	Chapter string `json:"chapter,omitempty"`
	Topic   string `json:"topic,omitempty"`
}

// Level reports which tier the key addresses.
func (k Key) Level() Level {
	switch {
	case k.Topic != "":
		return LevelTopic
	case k.Chapter != "":
		return LevelChapter
	default:
		return LevelUnit
	}
}

// Parent returns the key one level up. The parent of a unit key is the zero Key.
func (k Key) Parent() Key {
	switch k.Level() {
	case LevelTopic:
		return Key{Unit: k.Unit, Chapter: k.Chapter}
	case LevelChapter:
		return Key{Unit: k.Unit}
	default:
		return Key{}
	}
}

// Name returns the last path element.
func (k Key) Name() string {
	switch k.Level() {
	case LevelTopic:
		return k.Topic
	case LevelChapter:
		return k.Chapter
	default:
		return k.Unit
	}
}

// String renders the key as "unit::chapter::topic".
func (k Key) String() string {
	switch k.Level() {
	case LevelTopic:
		return k.Unit + "::" + k.Chapter + "::" + k.Topic
	case LevelChapter:
		return k.Unit + "::" + k.Chapter
	default:
		return k.Unit
	}
}

// SourceRecord is one normalized row of the tabular authoring source.
type SourceRecord struct {
	Key         Key      `json:"key"`          // unit/chapter/topic path
	LessonToken string   `json:"lesson_token"` // raw lesson id, e.g. "cbse_maths_10_012"
	LessonTitle string   `json:"lesson_title"`
	Tags        []string `json:"tags,omitempty"`
	Sequence    int      `json:"sequence,omitempty"` // explicit sequence column, 0 when absent
	RowIndex    int      `json:"row_index"`          // 1-based position in the raw input
}

// Order returns the lesson order: the explicit sequence if present,
// otherwise the row index.
func (r SourceRecord) Order() int {
	if r.Sequence > 0 {
		return r.Sequence
	}
	return r.RowIndex
}

// Slug returns the lesson slug derived from the lesson token.
func (r SourceRecord) Slug() string {
	return Slugify(r.LessonToken)
}
