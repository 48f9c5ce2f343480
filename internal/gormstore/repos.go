package gormstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
)

// chunkSize bounds the number of bound parameters in one IN list.
const chunkSize = 500

const nodeOrder = "sort_order ASC, created_at ASC, id ASC"

type courseRepo struct{ s *Store }

// Find prefers an ID match over a slug match.
func (r courseRepo) Find(ctx context.Context, ref string) (course.Course, error) {
	var rows []courseRow
	err := r.s.db.WithContext(ctx).Where("id = ?", ref).Limit(1).Find(&rows).Error
	if err == nil && len(rows) == 0 {
		err = r.s.db.WithContext(ctx).Where("slug = ?", ref).Limit(1).Find(&rows).Error
	}
	if err != nil {
		return course.Course{}, fmt.Errorf("find course: %w", classify(err))
	}
	if len(rows) == 0 {
		return course.Course{}, fmt.Errorf("course %q: %w", ref, gateway.ErrNotFound)
	}
	row := rows[0]
	return course.Course{ID: row.ID, Slug: row.Slug, Title: row.Title, CreatedAt: row.CreatedAt.UTC()}, nil
}

func (r courseRepo) Create(ctx context.Context, c course.Course) (course.Course, error) {
	if c.ID == "" {
		c.ID = r.s.newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.s.stamp()
	}
	row := courseRow{ID: c.ID, Slug: c.Slug, Title: c.Title, CreatedAt: c.CreatedAt}
	err := r.s.write(ctx, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return course.Course{}, fmt.Errorf("create course: %w", classify(err))
	}
	return c, nil
}

// nodeTable binds a level to its table and to the table its parents live in.
type nodeTable struct {
	level  course.Level
	table  string
	parent string
}

var nodeTables = [...]nodeTable{
	{course.LevelUnit, "units", "courses"},
	{course.LevelChapter, "chapters", "units"},
	{course.LevelTopic, "topics", "chapters"},
}

type nodeRepo struct {
	s *Store
	nodeTable
}

func (r nodeRepo) FindByNaturalKey(ctx context.Context, parentID, name string) ([]course.Node, error) {
	var rows []nodeRow
	err := r.s.db.WithContext(ctx).Table(r.table).
		Where("parent_id = ? AND name = ?", parentID, name).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", r.level, classify(err))
	}
	return r.nodes(rows), nil
}

func (r nodeRepo) ListByParent(ctx context.Context, parentIDs ...string) ([]course.Node, error) {
	var out []course.Node
	for _, chunk := range chunks(parentIDs) {
		var rows []nodeRow
		err := r.s.db.WithContext(ctx).Table(r.table).
			Where("parent_id IN ?", chunk).
			Order(nodeOrder).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("list %ss: %w", r.level, classify(err))
		}
		out = append(out, r.nodes(rows)...)
	}
	if len(parentIDs) > chunkSize {
		sortNodes(out)
	}
	return out, nil
}

func (r nodeRepo) ListByCourse(ctx context.Context, courseID string) ([]course.Node, error) {
	var rows []nodeRow
	err := r.s.db.WithContext(ctx).Table(r.table).
		Where("course_id = ?", courseID).
		Order(nodeOrder).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", r.level, classify(err))
	}
	return r.nodes(rows), nil
}

func (r nodeRepo) Create(ctx context.Context, n course.Node) (course.Node, error) {
	n.Level = r.level
	if n.ID == "" {
		n.ID = r.s.newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.s.stamp()
	}
	if n.Order < 1 {
		return course.Node{}, fmt.Errorf("create %s %q: order %d must be positive", r.level, n.Name, n.Order)
	}
	row := nodeRow{
		ID:        n.ID,
		CourseID:  n.CourseID,
		ParentID:  n.ParentID,
		Name:      n.Name,
		SortOrder: n.Order,
		CreatedAt: n.CreatedAt,
	}
	err := r.s.write(ctx, func(tx *gorm.DB) error {
		if err := exists(tx, "courses", n.CourseID); err != nil {
			return err
		}
		if err := exists(tx, r.parent, n.ParentID); err != nil {
			return err
		}
		return tx.Table(r.table).Create(&row).Error
	})
	if err != nil {
		return course.Node{}, fmt.Errorf("create %s %q: %w", r.level, n.Name, classify(err))
	}
	return n, nil
}

func (r nodeRepo) UpdateOrder(ctx context.Context, id string, order int) error {
	var affected int64
	err := r.s.write(ctx, func(tx *gorm.DB) error {
		res := tx.Table(r.table).Where("id = ?", id).Update("sort_order", order)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("update %s %s: %w", r.level, id, classify(err))
	}
	if affected == 0 {
		return fmt.Errorf("update %s %s: %w", r.level, id, gateway.ErrNotFound)
	}
	return nil
}

// Delete refuses to remove nodes that still have children or lessons.
func (r nodeRepo) Delete(ctx context.Context, ids ...string) error {
	for _, chunk := range chunks(ids) {
		err := r.s.write(ctx, func(tx *gorm.DB) error {
			if err := r.referenced(tx, chunk); err != nil {
				return err
			}
			return tx.Table(r.table).Where("id IN ?", chunk).Delete(&nodeRow{}).Error
		})
		if err != nil {
			return fmt.Errorf("delete %ss: %w", r.level, classify(err))
		}
	}
	return nil
}

func (r nodeRepo) referenced(tx *gorm.DB, ids []string) error {
	var child string
	switch r.level {
	case course.LevelUnit:
		child = "chapters"
	case course.LevelChapter:
		child = "topics"
	}
	if child != "" {
		var n int64
		if err := tx.Table(child).Where("parent_id IN ?", ids).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%d %s still reference them", n, child)
		}
	}
	if r.level == course.LevelUnit {
		return nil
	}
	var n int64
	column := r.level.String() + "_id"
	if err := tx.Model(&lessonRow{}).Where(column+" IN ?", ids).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%d lessons still reference them", n)
	}
	return nil
}

func (r nodeRepo) nodes(rows []nodeRow) []course.Node {
	out := make([]course.Node, len(rows))
	for i, row := range rows {
		out[i] = course.Node{
			ID:        row.ID,
			Level:     r.level,
			CourseID:  row.CourseID,
			ParentID:  row.ParentID,
			Name:      row.Name,
			Order:     row.SortOrder,
			CreatedAt: row.CreatedAt.UTC(),
		}
	}
	return out
}

// exists reports a missing row in table as an error.
func exists(tx *gorm.DB, table, id string) error {
	var n int64
	if err := tx.Table(table).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s row %q does not exist", table, id)
	}
	return nil
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
