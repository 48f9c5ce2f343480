package memstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
)

type courseRepo struct{ s *Store }

func (r courseRepo) Find(ctx context.Context, ref string) (course.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return course.Course{}, err
	}
	if c, ok := r.s.courses[ref]; ok {
		return c, nil
	}
	for _, c := range r.s.courses {
		if c.Slug == ref {
			return c, nil
		}
	}
	return course.Course{}, fmt.Errorf("course %q: %w", ref, gateway.ErrNotFound)
}

func (r courseRepo) Create(ctx context.Context, c course.Course) (course.Course, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return course.Course{}, err
	}
	for _, existing := range r.s.courses {
		if existing.Slug == c.Slug {
			return course.Course{}, fmt.Errorf("course slug %q already exists", c.Slug)
		}
	}
	if c.ID == "" {
		c.ID = r.s.ids.Next("course")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.s.now()
	}
	r.s.courses[c.ID] = c
	return c, nil
}

type nodeRepo struct {
	s     *Store
	level course.Level
}

func (r nodeRepo) FindByNaturalKey(ctx context.Context, parentID, name string) ([]course.Node, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	found := r.s.filterNodes(r.level, func(n course.Node) bool {
		return n.ParentID == parentID && n.Name == name
	})
	slices.SortFunc(found, func(a, b course.Node) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareNodes(a, b)
	})
	return found, nil
}

func (r nodeRepo) ListByParent(ctx context.Context, parentIDs ...string) ([]course.Node, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	parents := idSet(parentIDs)
	return r.s.filterNodes(r.level, func(n course.Node) bool { return parents[n.ParentID] }), nil
}

func (r nodeRepo) ListByCourse(ctx context.Context, courseID string) ([]course.Node, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	return r.s.filterNodes(r.level, func(n course.Node) bool { return n.CourseID == courseID }), nil
}

func (r nodeRepo) Create(ctx context.Context, n course.Node) (course.Node, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return course.Node{}, err
	}
	if err := r.s.inject(Op{Kind: "create", Level: r.level, Name: n.Name}); err != nil {
		return course.Node{}, err
	}
	if n.Order < 1 {
		return course.Node{}, fmt.Errorf("create %s %q: order must be positive, got %d", r.level, n.Name, n.Order)
	}
	if !r.parentExists(n) {
		return course.Node{}, fmt.Errorf("create %s %q: parent %q does not exist", r.level, n.Name, n.ParentID)
	}
	n.Level = r.level
	if n.ID == "" {
		n.ID = r.s.ids.Next(r.level.String())
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.s.now()
	}
	r.s.nodes[r.level][n.ID] = n
	return n, nil
}

// parentExists must be called with r.s.mu held.
func (r nodeRepo) parentExists(n course.Node) bool {
	if r.level == course.LevelUnit {
		_, ok := r.s.courses[n.ParentID]
		return ok
	}
	_, ok := r.s.nodes[r.level-1][n.ParentID]
	return ok
}

func (r nodeRepo) UpdateOrder(ctx context.Context, id string, order int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	n, ok := r.s.nodes[r.level][id]
	if !ok {
		return fmt.Errorf("update %s %s: %w", r.level, id, gateway.ErrNotFound)
	}
	if err := r.s.inject(Op{Kind: "update_order", Level: r.level, ID: id, Name: n.Name}); err != nil {
		return err
	}
	if order < 1 {
		return fmt.Errorf("update %s %s: order must be positive, got %d", r.level, id, order)
	}
	n.Order = order
	r.s.nodes[r.level][id] = n
	return nil
}

func (r nodeRepo) Delete(ctx context.Context, ids ...string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.s.inject(Op{Kind: "delete", Level: r.level, ID: id, Name: r.s.nodes[r.level][id].Name}); err != nil {
			return err
		}
	}
	// Foreign keys: refuse while anything still points at these nodes.
	targets := idSet(ids)
	if child := r.level.Child(); child != course.LevelLesson {
		for _, n := range r.s.nodes[child] {
			if targets[n.ParentID] {
				return fmt.Errorf("delete %s: %s %s still references it", r.level, child, n.ID)
			}
		}
	}
	for _, l := range r.s.lessons {
		if (r.level == course.LevelChapter && targets[l.ChapterID]) ||
			(r.level == course.LevelTopic && targets[l.TopicID]) {
			return fmt.Errorf("delete %s: lesson %s still references it", r.level, l.ID)
		}
	}
	for _, id := range ids {
		delete(r.s.nodes[r.level], id)
	}
	return nil
}

type lessonRepo struct{ s *Store }

func (r lessonRepo) FindBySlug(ctx context.Context, slug string) ([]course.Lesson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	return r.s.filterLessons(func(l course.Lesson) bool { return l.Slug == slug }), nil
}

func (r lessonRepo) ListByCourse(ctx context.Context, courseID string) ([]course.Lesson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	return r.s.filterLessons(func(l course.Lesson) bool { return l.CourseID == courseID }), nil
}

func (r lessonRepo) ListByParent(ctx context.Context, level course.Level, parentIDs ...string) ([]course.Lesson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return nil, err
	}
	parents := idSet(parentIDs)
	switch level {
	case course.LevelChapter:
		return r.s.filterLessons(func(l course.Lesson) bool { return parents[l.ChapterID] }), nil
	case course.LevelTopic:
		return r.s.filterLessons(func(l course.Lesson) bool { return parents[l.TopicID] }), nil
	default:
		return nil, fmt.Errorf("list lessons: unsupported parent level %s", level)
	}
}

func (r lessonRepo) Create(ctx context.Context, l course.Lesson) (course.Lesson, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return course.Lesson{}, err
	}
	if err := r.s.inject(Op{Kind: "create", Level: course.LevelLesson, Name: l.Slug}); err != nil {
		return course.Lesson{}, err
	}
	if err := r.validate(l); err != nil {
		return course.Lesson{}, fmt.Errorf("create lesson %q: %w", l.Slug, err)
	}
	if l.ID == "" {
		l.ID = r.s.ids.Next("lesson")
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = r.s.now()
	}
	l = cloneLesson(l)
	r.s.lessons[l.ID] = l
	return cloneLesson(l), nil
}

func (r lessonRepo) Update(ctx context.Context, l course.Lesson) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	existing, ok := r.s.lessons[l.ID]
	if !ok {
		return fmt.Errorf("update lesson %s: %w", l.ID, gateway.ErrNotFound)
	}
	if err := r.s.inject(Op{Kind: "update", Level: course.LevelLesson, ID: l.ID, Name: l.Slug}); err != nil {
		return err
	}
	if err := r.validate(l); err != nil {
		return fmt.Errorf("update lesson %s: %w", l.ID, err)
	}
	l.CreatedAt = existing.CreatedAt
	r.s.lessons[l.ID] = cloneLesson(l)
	return nil
}

// validate must be called with r.s.mu held.
func (r lessonRepo) validate(l course.Lesson) error {
	if l.Slug == "" {
		return fmt.Errorf("slug is required")
	}
	if _, ok := r.s.courses[l.CourseID]; !ok {
		return fmt.Errorf("course %q does not exist", l.CourseID)
	}
	if _, ok := r.s.nodes[course.LevelChapter][l.ChapterID]; !ok {
		return fmt.Errorf("chapter %q does not exist", l.ChapterID)
	}
	if _, ok := r.s.nodes[course.LevelTopic][l.TopicID]; !ok {
		return fmt.Errorf("topic %q does not exist", l.TopicID)
	}
	return nil
}

func (r lessonRepo) Delete(ctx context.Context, ids ...string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.s.inject(Op{Kind: "delete", Level: course.LevelLesson, ID: id, Name: r.s.lessons[id].Slug}); err != nil {
			return err
		}
	}
	for _, id := range ids {
		delete(r.s.lessons, id)
	}
	return nil
}

func (r lessonRepo) DeleteByCourse(ctx context.Context, courseID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.check(ctx); err != nil {
		return 0, err
	}
	if err := r.s.inject(Op{Kind: "delete", Level: course.LevelLesson, ID: courseID}); err != nil {
		return 0, err
	}
	n := 0
	for id, l := range r.s.lessons {
		if l.CourseID == courseID {
			delete(r.s.lessons, id)
			n++
		}
	}
	return n, nil
}
