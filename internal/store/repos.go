package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
)

// chunkSize bounds the number of bound parameters in one IN list.
const chunkSize = 500

type courseRepo struct{ s *Store }

func (r courseRepo) Find(ctx context.Context, ref string) (course.Course, error) {
	var c course.Course
	var created int64
	err := r.s.q.QueryRowContext(ctx, `
		SELECT id, slug, title, created_at FROM courses
		WHERE id = ? OR slug = ?
		ORDER BY id = ? DESC
		LIMIT 1
	`, ref, ref, ref).Scan(&c.ID, &c.Slug, &c.Title, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return course.Course{}, fmt.Errorf("course %q: %w", ref, gateway.ErrNotFound)
	}
	if err != nil {
		return course.Course{}, fmt.Errorf("find course: %w", classify(err))
	}
	c.CreatedAt = fromNanos(created)
	return c, nil
}

func (r courseRepo) Create(ctx context.Context, c course.Course) (course.Course, error) {
	if c.ID == "" {
		c.ID = r.s.newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.s.now()
	}
	_, err := r.s.q.ExecContext(ctx, `
		INSERT INTO courses (id, slug, title, created_at) VALUES (?, ?, ?, ?)
	`, c.ID, c.Slug, c.Title, c.CreatedAt.UnixNano())
	if err != nil {
		return course.Course{}, fmt.Errorf("create course: %w", classify(err))
	}
	return c, nil
}

// nodeTable binds one level to its table.
type nodeTable struct {
	level course.Level
	table string
}

var nodeRepos = [...]nodeTable{
	{course.LevelUnit, "units"},
	{course.LevelChapter, "chapters"},
	{course.LevelTopic, "topics"},
}

func (t nodeTable) bind(s *Store) nodeRepo { return nodeRepo{s: s, nodeTable: t} }

type nodeRepo struct {
	s *Store
	nodeTable
}

const nodeColumns = "id, course_id, parent_id, name, sort_order, created_at"

func (r nodeRepo) FindByNaturalKey(ctx context.Context, parentID, name string) ([]course.Node, error) {
	rows, err := r.s.q.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM `+r.table+`
		WHERE parent_id = ? AND name = ?
		ORDER BY created_at ASC, id ASC
	`, parentID, name)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", r.level, classify(err))
	}
	return r.scan(rows)
}

func (r nodeRepo) ListByParent(ctx context.Context, parentIDs ...string) ([]course.Node, error) {
	var out []course.Node
	for _, chunk := range chunks(parentIDs) {
		rows, err := r.s.q.QueryContext(ctx, `
			SELECT `+nodeColumns+` FROM `+r.table+`
			WHERE parent_id IN (`+placeholders(len(chunk))+`)
			ORDER BY sort_order ASC, created_at ASC, id ASC
		`, args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("list %ss: %w", r.level, classify(err))
		}
		nodes, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	if len(parentIDs) > chunkSize {
		sortNodes(out)
	}
	return out, nil
}

func (r nodeRepo) ListByCourse(ctx context.Context, courseID string) ([]course.Node, error) {
	rows, err := r.s.q.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM `+r.table+`
		WHERE course_id = ?
		ORDER BY sort_order ASC, created_at ASC, id ASC
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", r.level, classify(err))
	}
	return r.scan(rows)
}

func (r nodeRepo) Create(ctx context.Context, n course.Node) (course.Node, error) {
	n.Level = r.level
	if n.ID == "" {
		n.ID = r.s.newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.s.now()
	}
	_, err := r.s.q.ExecContext(ctx, `
		INSERT INTO `+r.table+` (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, n.CourseID, n.ParentID, n.Name, n.Order, n.CreatedAt.UnixNano())
	if err != nil {
		return course.Node{}, fmt.Errorf("create %s %q: %w", r.level, n.Name, classify(err))
	}
	return n, nil
}

func (r nodeRepo) UpdateOrder(ctx context.Context, id string, order int) error {
	res, err := r.s.q.ExecContext(ctx, `UPDATE `+r.table+` SET sort_order = ? WHERE id = ?`, order, id)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", r.level, id, classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s %s: %w", r.level, id, gateway.ErrNotFound)
	}
	return nil
}

func (r nodeRepo) Delete(ctx context.Context, ids ...string) error {
	for _, chunk := range chunks(ids) {
		_, err := r.s.q.ExecContext(ctx, `DELETE FROM `+r.table+` WHERE id IN (`+placeholders(len(chunk))+`)`, args(chunk)...)
		if err != nil {
			return fmt.Errorf("delete %ss: %w", r.level, classify(err))
		}
	}
	return nil
}

func (r nodeRepo) scan(rows *sql.Rows) ([]course.Node, error) {
	defer rows.Close()
	var out []course.Node
	for rows.Next() {
		n := course.Node{Level: r.level}
		var created int64
		if err := rows.Scan(&n.ID, &n.CourseID, &n.ParentID, &n.Name, &n.Order, &created); err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.level, err)
		}
		n.CreatedAt = fromNanos(created)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %ss: %w", r.level, classify(err))
	}
	return out, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func args(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func chunks(ids []string) [][]string {
	var out [][]string
	for len(ids) > chunkSize {
		out = append(out, ids[:chunkSize])
		ids = ids[chunkSize:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
