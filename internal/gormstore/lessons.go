package gormstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"gorm.io/gorm"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
)

type lessonRepo struct{ s *Store }

func (r lessonRepo) FindBySlug(ctx context.Context, slug string) ([]course.Lesson, error) {
	return r.find(ctx, "slug = ?", slug)
}

func (r lessonRepo) ListByCourse(ctx context.Context, courseID string) ([]course.Lesson, error) {
	return r.find(ctx, "course_id = ?", courseID)
}

func (r lessonRepo) ListByParent(ctx context.Context, level course.Level, parentIDs ...string) ([]course.Lesson, error) {
	var column string
	switch level {
	case course.LevelChapter:
		column = "chapter_id"
	case course.LevelTopic:
		column = "topic_id"
	default:
		return nil, fmt.Errorf("list lessons: unsupported parent level %s", level)
	}
	var out []course.Lesson
	for _, chunk := range chunks(parentIDs) {
		lessons, err := r.find(ctx, column+" IN ?", chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, lessons...)
	}
	if len(parentIDs) > chunkSize {
		slices.SortFunc(out, compareLessons)
	}
	return out, nil
}

func (r lessonRepo) Create(ctx context.Context, l course.Lesson) (course.Lesson, error) {
	if l.ID == "" {
		l.ID = r.s.newID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = r.s.stamp()
	}
	row := toLessonRow(l)
	err := r.s.write(ctx, func(tx *gorm.DB) error {
		if err := validateLesson(tx, l); err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return writeTags(tx, l.ID, l.Tags)
	})
	if err != nil {
		return course.Lesson{}, fmt.Errorf("create lesson %q: %w", l.Slug, classify(err))
	}
	return l, nil
}

func (r lessonRepo) Update(ctx context.Context, l course.Lesson) error {
	var affected int64
	err := r.s.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&lessonRow{}).Where("id = ?", l.ID).Count(&affected)
		if res.Error != nil || affected == 0 {
			return res.Error
		}
		if err := validateLesson(tx, l); err != nil {
			return err
		}
		err := tx.Model(&lessonRow{}).Where("id = ?", l.ID).Updates(map[string]any{
			"chapter_id": l.ChapterID,
			"topic_id":   l.TopicID,
			"code":       l.Code,
			"slug":       l.Slug,
			"title":      l.Title,
			"sort_order": l.Order,
			"preview":    l.Preview,
		}).Error
		if err != nil {
			return err
		}
		if err := tx.Where("lesson_id = ?", l.ID).Delete(&lessonTagRow{}).Error; err != nil {
			return err
		}
		return writeTags(tx, l.ID, l.Tags)
	})
	if err != nil {
		return fmt.Errorf("update lesson %s: %w", l.ID, classify(err))
	}
	if affected == 0 {
		return fmt.Errorf("update lesson %s: %w", l.ID, gateway.ErrNotFound)
	}
	return nil
}

func (r lessonRepo) Delete(ctx context.Context, ids ...string) error {
	for _, chunk := range chunks(ids) {
		err := r.s.write(ctx, func(tx *gorm.DB) error {
			if err := tx.Where("lesson_id IN ?", chunk).Delete(&lessonTagRow{}).Error; err != nil {
				return err
			}
			return tx.Where("id IN ?", chunk).Delete(&lessonRow{}).Error
		})
		if err != nil {
			return fmt.Errorf("delete lessons: %w", classify(err))
		}
	}
	return nil
}

func (r lessonRepo) DeleteByCourse(ctx context.Context, courseID string) (int, error) {
	var n int64
	err := r.s.write(ctx, func(tx *gorm.DB) error {
		owned := tx.Model(&lessonRow{}).Select("id").Where("course_id = ?", courseID)
		if err := tx.Where("lesson_id IN (?)", owned).Delete(&lessonTagRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("course_id = ?", courseID).Delete(&lessonRow{})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete course lessons: %w", classify(err))
	}
	return int(n), nil
}

func (r lessonRepo) find(ctx context.Context, query string, args ...any) ([]course.Lesson, error) {
	var rows []lessonRow
	db := r.s.db.WithContext(ctx)
	if err := db.Where(query, args...).Order(nodeOrder).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query lessons: %w", classify(err))
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	tags := make(map[string][]string, len(rows))
	for _, chunk := range chunks(ids) {
		var tagRows []lessonTagRow
		err := db.Where("lesson_id IN ?", chunk).Order("lesson_id, position").Find(&tagRows).Error
		if err != nil {
			return nil, fmt.Errorf("load lesson tags: %w", classify(err))
		}
		for _, t := range tagRows {
			tags[t.LessonID] = append(tags[t.LessonID], t.Tag)
		}
	}

	out := make([]course.Lesson, len(rows))
	for i, row := range rows {
		out[i] = course.Lesson{
			ID:        row.ID,
			CourseID:  row.CourseID,
			ChapterID: row.ChapterID,
			TopicID:   row.TopicID,
			Code:      row.Code,
			Slug:      row.Slug,
			Title:     row.Title,
			Order:     row.SortOrder,
			Preview:   row.Preview,
			Tags:      tags[row.ID],
			CreatedAt: row.CreatedAt.UTC(),
		}
	}
	return out, nil
}

func toLessonRow(l course.Lesson) lessonRow {
	return lessonRow{
		ID:        l.ID,
		CourseID:  l.CourseID,
		ChapterID: l.ChapterID,
		TopicID:   l.TopicID,
		Code:      l.Code,
		Slug:      l.Slug,
		Title:     l.Title,
		SortOrder: l.Order,
		Preview:   l.Preview,
		CreatedAt: l.CreatedAt,
	}
}

func validateLesson(tx *gorm.DB, l course.Lesson) error {
	if l.Slug == "" {
		return fmt.Errorf("slug is required")
	}
	if err := exists(tx, "courses", l.CourseID); err != nil {
		return err
	}
	if err := exists(tx, "chapters", l.ChapterID); err != nil {
		return err
	}
	return exists(tx, "topics", l.TopicID)
}

func writeTags(tx *gorm.DB, lessonID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	rows := make([]lessonTagRow, len(tags))
	for i, tag := range tags {
		rows[i] = lessonTagRow{LessonID: lessonID, Position: i, Tag: tag}
	}
	return tx.Create(&rows).Error
}

func sortNodes(nodes []course.Node) {
	slices.SortFunc(nodes, func(a, b course.Node) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func compareLessons(a, b course.Lesson) int {
	if c := cmp.Compare(a.Order, b.Order); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
