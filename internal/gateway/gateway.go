package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/syllabus/internal/course"
)

var (
	// ErrUnavailable marks failures to reach the store at all.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("not found")
)

// Unavailable wraps err so that IsUnavailable reports true for it.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// IsUnavailable reports whether err is a connectivity failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// CourseRepo resolves and creates courses.
type CourseRepo interface {
	// Find looks a course up by ID or slug. Returns ErrNotFound if neither matches.
	Find(ctx context.Context, ref string) (course.Course, error)
	Create(ctx context.Context, c course.Course) (course.Course, error)
}

// NodeRepo persists one of the Unit, Chapter or Topic levels.
//
// List results are ordered by (order, created_at, id).
type NodeRepo interface {
	// FindByNaturalKey returns every node named name under parentID, earliest first.
	// More than one result means the scope holds duplicates.
	FindByNaturalKey(ctx context.Context, parentID, name string) ([]course.Node, error)
	ListByParent(ctx context.Context, parentIDs ...string) ([]course.Node, error)
	ListByCourse(ctx context.Context, courseID string) ([]course.Node, error)
	// Create inserts n, assigning ID and CreatedAt when they are empty.
	Create(ctx context.Context, n course.Node) (course.Node, error)
	UpdateOrder(ctx context.Context, id string, order int) error
	// Delete removes the nodes only. Use DeleteSubtree to cascade.
	Delete(ctx context.Context, ids ...string) error
}

// LessonRepo persists lessons.
//
// List results are ordered by (order, created_at, id).
type LessonRepo interface {
	// FindBySlug searches across all courses.
	FindBySlug(ctx context.Context, slug string) ([]course.Lesson, error)
	ListByCourse(ctx context.Context, courseID string) ([]course.Lesson, error)
	// ListByParent lists lessons referencing any of parentIDs at level,
	// which must be LevelChapter or LevelTopic.
	ListByParent(ctx context.Context, level course.Level, parentIDs ...string) ([]course.Lesson, error)
	Create(ctx context.Context, l course.Lesson) (course.Lesson, error)
	// Update overwrites the structural fields of an existing lesson, keeping its ID.
	Update(ctx context.Context, l course.Lesson) error
	Delete(ctx context.Context, ids ...string) error
	// DeleteByCourse removes every lesson of a course and returns how many went.
	DeleteByCourse(ctx context.Context, courseID string) (int, error)
}

// Gateway bundles the repositories of one store.
type Gateway interface {
	Courses() CourseRepo
	Units() NodeRepo
	Chapters() NodeRepo
	Topics() NodeRepo
	Lessons() LessonRepo

	// Ping verifies the store is reachable. Failures wrap ErrUnavailable.
	Ping(ctx context.Context) error
}

// Transactor is implemented by gateways that can run a batch atomically.
// A failed call inside fn must not poison the transaction; fn decides
// whether to return an error, and only a returned error rolls back.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx Gateway) error) error
}

// Nodes returns the node repository for level, or nil for LevelLesson.
func Nodes(g Gateway, level course.Level) NodeRepo {
	switch level {
	case course.LevelUnit:
		return g.Units()
	case course.LevelChapter:
		return g.Chapters()
	case course.LevelTopic:
		return g.Topics()
	default:
		return nil
	}
}

// RunInTx runs fn inside a transaction when enabled and supported by g,
// and directly against g otherwise.
func RunInTx(ctx context.Context, g Gateway, enabled bool, fn func(tx Gateway) error) error {
	if t, ok := g.(Transactor); ok && enabled {
		return t.InTx(ctx, fn)
	}
	return fn(g)
}
