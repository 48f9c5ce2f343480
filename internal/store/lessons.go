package store

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
)

type lessonRepo struct{ s *Store }

const lessonColumns = "id, course_id, chapter_id, topic_id, code, slug, title, sort_order, preview, created_at"

const lessonOrder = " ORDER BY sort_order ASC, created_at ASC, id ASC"

func (r lessonRepo) FindBySlug(ctx context.Context, slug string) ([]course.Lesson, error) {
	return r.query(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE slug = ?`+lessonOrder, slug)
}

func (r lessonRepo) ListByCourse(ctx context.Context, courseID string) ([]course.Lesson, error) {
	return r.query(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE course_id = ?`+lessonOrder, courseID)
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
		lessons, err := r.query(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE `+column+` IN (`+placeholders(len(chunk))+`)`+lessonOrder, args(chunk)...)
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
		l.CreatedAt = r.s.now()
	}
	err := r.s.write(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO lessons (`+lessonColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, l.ID, l.CourseID, l.ChapterID, l.TopicID, l.Code, l.Slug, l.Title, l.Order, l.Preview, l.CreatedAt.UnixNano())
		if err != nil {
			return err
		}
		return writeTags(ctx, q, l.ID, l.Tags)
	})
	if err != nil {
		return course.Lesson{}, fmt.Errorf("create lesson %q: %w", l.Slug, classify(err))
	}
	return l, nil
}

func (r lessonRepo) Update(ctx context.Context, l course.Lesson) error {
	var affected int64
	err := r.s.write(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE lessons
			SET chapter_id = ?, topic_id = ?, code = ?, slug = ?, title = ?, sort_order = ?, preview = ?
			WHERE id = ?
		`, l.ChapterID, l.TopicID, l.Code, l.Slug, l.Title, l.Order, l.Preview, l.ID)
		if err != nil {
			return err
		}
		if affected, err = res.RowsAffected(); err != nil || affected == 0 {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM lesson_tags WHERE lesson_id = ?`, l.ID); err != nil {
			return err
		}
		return writeTags(ctx, q, l.ID, l.Tags)
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
		_, err := r.s.q.ExecContext(ctx, `DELETE FROM lessons WHERE id IN (`+placeholders(len(chunk))+`)`, args(chunk)...)
		if err != nil {
			return fmt.Errorf("delete lessons: %w", classify(err))
		}
	}
	return nil
}

func (r lessonRepo) DeleteByCourse(ctx context.Context, courseID string) (int, error) {
	res, err := r.s.q.ExecContext(ctx, `DELETE FROM lessons WHERE course_id = ?`, courseID)
	if err != nil {
		return 0, fmt.Errorf("delete course lessons: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete course lessons: %w", err)
	}
	return int(n), nil
}

func writeTags(ctx context.Context, q querier, lessonID string, tags []string) error {
	for i, tag := range tags {
		if _, err := q.ExecContext(ctx, `INSERT INTO lesson_tags (lesson_id, position, tag) VALUES (?, ?, ?)`, lessonID, i, tag); err != nil {
			return fmt.Errorf("write tag %q: %w", tag, err)
		}
	}
	return nil
}

func (r lessonRepo) query(ctx context.Context, query string, qargs ...any) ([]course.Lesson, error) {
	rows, err := r.s.q.QueryContext(ctx, query, qargs...)
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", classify(err))
	}
	lessons, err := scanLessons(rows)
	if err != nil {
		return nil, err
	}
	if err := r.loadTags(ctx, lessons); err != nil {
		return nil, err
	}
	return lessons, nil
}

func scanLessons(rows *sql.Rows) ([]course.Lesson, error) {
	defer rows.Close()
	var out []course.Lesson
	for rows.Next() {
		var l course.Lesson
		var created int64
		if err := rows.Scan(&l.ID, &l.CourseID, &l.ChapterID, &l.TopicID, &l.Code, &l.Slug, &l.Title, &l.Order, &l.Preview, &created); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		l.CreatedAt = fromNanos(created)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lessons: %w", classify(err))
	}
	return out, nil
}

// loadTags fills Tags on every lesson in place.
func (r lessonRepo) loadTags(ctx context.Context, lessons []course.Lesson) error {
	if len(lessons) == 0 {
		return nil
	}
	index := make(map[string]int, len(lessons))
	ids := make([]string, len(lessons))
	for i, l := range lessons {
		index[l.ID] = i
		ids[i] = l.ID
	}
	for _, chunk := range chunks(ids) {
		rows, err := r.s.q.QueryContext(ctx, `
			SELECT lesson_id, tag FROM lesson_tags
			WHERE lesson_id IN (`+placeholders(len(chunk))+`)
			ORDER BY lesson_id, position
		`, args(chunk)...)
		if err != nil {
			return fmt.Errorf("load lesson tags: %w", classify(err))
		}
		for rows.Next() {
			var id, tag string
			if err := rows.Scan(&id, &tag); err != nil {
				rows.Close()
				return fmt.Errorf("scan lesson tag: %w", err)
			}
			i := index[id]
			lessons[i].Tags = append(lessons[i].Tags, tag)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate lesson tags: %w", classify(err))
		}
	}
	return nil
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
