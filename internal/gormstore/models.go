package gormstore

import "time"

type courseRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Slug      string    `gorm:"size:255;not null;uniqueIndex"`
	Title     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

func (courseRow) TableName() string { return "courses" }

// nodeRow is the shared shape of the units, chapters and topics tables.
// Queries name the table explicitly and scan into nodeRow. The per-level
// types exist for AutoMigrate; gorm only flattens exported fields, so the
// shared columns sit behind a named embedded field.
type nodeRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	CourseID  string    `gorm:"size:64;not null;index"`
	ParentID  string    `gorm:"size:64;not null"`
	Name      string    `gorm:"not null"`
	SortOrder int       `gorm:"not null;check:sort_order > 0"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

type unitRow struct {
	Node nodeRow `gorm:"embedded"`
}

func (unitRow) TableName() string { return "units" }

type chapterRow struct {
	Node nodeRow `gorm:"embedded"`
}

func (chapterRow) TableName() string { return "chapters" }

type topicRow struct {
	Node nodeRow `gorm:"embedded"`
}

func (topicRow) TableName() string { return "topics" }

type lessonRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	CourseID  string    `gorm:"size:64;not null;index;index:idx_lessons_slug_course,priority:2"`
	ChapterID string    `gorm:"size:64;not null;index"`
	TopicID   string    `gorm:"size:64;not null;index"`
	Code      string    `gorm:"not null"`
	Slug      string    `gorm:"size:255;not null;index:idx_lessons_slug_course,priority:1"`
	Title     string    `gorm:"not null"`
	SortOrder int       `gorm:"not null"`
	Preview   bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

func (lessonRow) TableName() string { return "lessons" }

type lessonTagRow struct {
	LessonID string `gorm:"primaryKey;size:64"`
	Position int    `gorm:"primaryKey;autoIncrement:false"`
	Tag      string `gorm:"not null"`
}

func (lessonTagRow) TableName() string { return "lesson_tags" }

// naturalKeyIndexes back FindByNaturalKey. They are created by hand because
// the three node tables share one row type.
var naturalKeyIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_units_parent_name ON units (parent_id, name)`,
	`CREATE INDEX IF NOT EXISTS idx_chapters_parent_name ON chapters (parent_id, name)`,
	`CREATE INDEX IF NOT EXISTS idx_topics_parent_name ON topics (parent_id, name)`,
}
