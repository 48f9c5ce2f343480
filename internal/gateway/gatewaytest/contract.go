// Package gatewaytest holds the behavioral contract every gateway.Gateway
// implementation must satisfy.
package gatewaytest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/testutil"
)

// Factory returns a fresh, empty gateway for one subtest.
type Factory func(t *testing.T) gateway.Gateway

// Run executes the contract against gateways produced by newGateway.
func Run(t *testing.T, newGateway Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, g gateway.Gateway)
	}{
		{"CourseFindByIDOrSlug", testCourseFind},
		{"NodeCreateAssignsIdentity", testNodeCreate},
		{"NodeNaturalKeyKeepsDuplicates", testNaturalKeyDuplicates},
		{"NodeListOrder", testListOrder},
		{"NodeUpdateOrder", testUpdateOrder},
		{"LessonRoundTrip", testLessonRoundTrip},
		{"LessonFindBySlugAcrossCourses", testLessonFindBySlug},
		{"LessonUpdateKeepsID", testLessonUpdate},
		{"LessonDeleteByCourse", testLessonDeleteByCourse},
		{"DeleteSubtree", testDeleteSubtree},
		{"TransactionRollback", testRollback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newGateway(t))
		})
	}
}

// Fixture is a small seeded hierarchy: one course, one unit, one chapter
// and two topics.
type Fixture struct {
	Course  course.Course
	Unit    course.Node
	Chapter course.Node
	Topics  [2]course.Node
}

// Seed creates a Fixture through the public repositories.
func Seed(t *testing.T, g gateway.Gateway, slug string) Fixture {
	t.Helper()
	ctx := context.Background()
	var f Fixture
	var err error

	f.Course, err = g.Courses().Create(ctx, course.Course{Slug: slug, Title: slug})
	require.NoError(t, err)
	f.Unit, err = g.Units().Create(ctx, course.Node{CourseID: f.Course.ID, ParentID: f.Course.ID, Name: "Algebra", Order: 1})
	require.NoError(t, err)
	f.Chapter, err = g.Chapters().Create(ctx, course.Node{CourseID: f.Course.ID, ParentID: f.Unit.ID, Name: "Linear Equations", Order: 1})
	require.NoError(t, err)
	for i, name := range []string{"One Variable", "Two Variables"} {
		f.Topics[i], err = g.Topics().Create(ctx, course.Node{CourseID: f.Course.ID, ParentID: f.Chapter.ID, Name: name, Order: i + 1})
		require.NoError(t, err)
	}
	return f
}

func lesson(f Fixture, topic int, slug string, order int) course.Lesson {
	return course.Lesson{
		CourseID:  f.Course.ID,
		ChapterID: f.Chapter.ID,
		TopicID:   f.Topics[topic].ID,
		Code:      slug,
		Slug:      slug,
		Title:     "Lesson " + slug,
		Order:     order,
	}
}

func testCourseFind(t *testing.T, g gateway.Gateway) {
	ctx := context.Background()
	c, err := g.Courses().Create(ctx, course.Course{Slug: "cbse-maths-10", Title: "Maths 10"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())

	byID, err := g.Courses().Find(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "cbse-maths-10", byID.Slug)

	bySlug, err := g.Courses().Find(ctx, "cbse-maths-10")
	require.NoError(t, err)
	assert.Equal(t, c.ID, bySlug.ID)
	assert.Equal(t, "Maths 10", bySlug.Title)

	_, err = g.Courses().Find(ctx, "missing")
	assert.ErrorIs(t, err, gateway.ErrNotFound)
	assert.False(t, gateway.IsUnavailable(err))
}

func testNodeCreate(t *testing.T, g gateway.Gateway) {
	f := Seed(t, g, "c")
	assert.NotEmpty(t, f.Unit.ID)
	assert.Equal(t, course.LevelUnit, f.Unit.Level)
	assert.Equal(t, course.LevelChapter, f.Chapter.Level)
	assert.Equal(t, course.LevelTopic, f.Topics[0].Level)
	assert.False(t, f.Unit.CreatedAt.IsZero())
	assert.NotEqual(t, f.Topics[0].ID, f.Topics[1].ID)

	_, err := g.Chapters().Create(context.Background(), course.Node{CourseID: f.Course.ID, ParentID: "missing", Name: "X", Order: 1})
	assert.Error(t, err, "chapter with a missing unit must be rejected")
}

func testNaturalKeyDuplicates(t *testing.T, g gateway.Gateway) {
	ctx := context.Background()
	f := Seed(t, g, "c")

	late, err := g.Units().Create(ctx, course.Node{CourseID: f.Course.ID, ParentID: f.Course.ID, Name: "Geometry", Order: 2, CreatedAt: testutil.At(500)})
	require.NoError(t, err)
	early, err := g.Units().Create(ctx, course.Node{CourseID: f.Course.ID, ParentID: f.Course.ID, Name: "Geometry", Order: 3, CreatedAt: testutil.At(100)})
	require.NoError(t, err)

	found, err := g.Units().FindByNaturalKey(ctx, f.Course.ID, "Geometry")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, early.ID, found[0].ID)
	assert.Equal(t, late.ID, found[1].ID)
	assert.True(t, found[0].CreatedAt.Equal(testutil.At(100)))

	none, err := g.Units().FindByNaturalKey(ctx, f.Course.ID, "geometry")
	require.NoError(t, err)
	assert.Empty(t, none, "natural keys are case sensitive")
}

func testListOrder(t *testing.T, g gateway.Gateway) {
	ctx := context.Background()
	f := Seed(t, g, "c")

	second, err := g.Chapters().Create(ctx, course.Node{CourseID: f.Course.ID, ParentID: f.Unit.ID, Name: "Quadratics", Order: 1, CreatedAt: testutil.At(900)})
	require.NoError(t, err)

	chapters, err := g.Chapters().ListByParent(ctx, f.Unit.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	assert.Equal(t, f.Chapter.ID, chapters[0].ID, "equal order falls back to created_at")
	assert.Equal(t, second.ID, chapters[1].ID)

	topics, err := g.Topics().ListByCourse(ctx, f.Course.ID)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "One Variable", topics[0].Name)
	assert.Equal(t, "Two Variables", topics[1].Name)

	empty, err := g.Topics().ListByParent(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testUpdateOrder(t *testing.T, g gateway.Gateway) {
	ctx := context.Background()
	f := Seed(t, g, "c")

	require.NoError(t, g.Topics().UpdateOrder(ctx, f.Topics[0].ID, 3))
	topics, err := g.Topics().ListByParent(ctx, f.Chapter.ID)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, f.Topics[1].ID, topics[0].ID)
	assert.Equal(t, 3, topics[1].Order)

	err = g.Topics().UpdateOrder(ctx, "missing", 1)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func testLessonRoundTrip(t *testing.T, g gateway.Gateway) {
	ctx := context.Background()
	f := Seed(t, g, "c")

	in := lesson(f, 1, "cbse-maths-10-001", 1)
	in.Preview = true
	in.Tags = []string{"algebra", "intro"}
	created, err := g.Lessons().Create(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := g.Lessons().ListByCourse(ctx, f.Course.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, created.ID, got[0].ID)
	assert.Equal(t, f.Topics[1].ID, got[0].TopicID)
	assert.Equal(t, f.Chapter.ID, got[0].ChapterID)
	assert.True(t, got[0].Preview)
	assert.Equal(t, []string{"algebra", "intro"}, got[0].Tags)

	byTopic, err := g.Lessons().ListByParent(ctx, course.LevelTopic, f.Topics[1].ID)
	require.NoError(t, err)
	assert.Len(t, byTopic, 1)
	byOther, err := g.Lessons().ListByParent(ctx, course.LevelTopic, f.Topics[0].ID)
	require.NoError(t, err)
	assert.Empty(t, byOther)
	byChapter, err := g.Lessons().ListByParent(ctx, course.LevelChapter, f.Chapter.ID)
	require.NoError(t, err)
	assert.Len(t, byChapter, 1)

	_, err = g.Lessons().ListByParent(ctx, course.LevelUnit, f.Unit.ID)
	assert.Error(t, err)
}

func testLessonFindBySlug(t *testing.T, g gateway.Gateway) {
	ctx := context.Background()
	a := Seed(t, g, "course-a")
	b := Seed(t, g, "course-b")

	_, err := g.Lessons().Create(ctx, lesson(a, 0, "shared-slug", 1))
	require.NoError(t, err)

	found, err := g.Lessons().FindBySlug(ctx, "shared-slug")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.Course.ID, found[0].CourseID)

	inB, err := g.Lessons().ListByCourse(ctx, b.Course.ID)
	require.NoError(t, err)
	assert.Empty(t, inB)
}

func testLessonUpdate(t *testing.T, g gateway.Gateway) {
	ctx := context.Background()
	f := Seed(t, g, "c")

	in := lesson(f, 0, "s-1", 1)
	in.Tags = []string{"old"}
	created, err := g.Lessons().Create(ctx, in)
	require.NoError(t, err)

	created.TopicID = f.Topics[1].ID
	created.Order = 7
	created.Title = "Renamed"
	created.Tags = []string{"new", "newer"}
	require.NoError(t, g.Lessons().Update(ctx, created))

	got, err := g.Lessons().FindBySlug(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, created.ID, got[0].ID)
	assert.Equal(t, f.Topics[1].ID, got[0].TopicID)
	assert.Equal(t, 7, got[0].Order)
	assert.Equal(t, "Renamed", got[0].Title)
	assert.Equal(t, []string{"new", "newer"}, got[0].Tags)

	created.ID = "missing"
	assert.ErrorIs(t, g.Lessons().Update(ctx, created), gateway.ErrNotFound)
}

func testLessonDeleteByCourse(t *testing.T, g gateway.Gateway) {
	ctx := context.Background()
	a := Seed(t, g, "course-a")
	b := Seed(t, g, "course-b")
	for i, slug := range []string{"a-1", "a-2", "a-3"} {
		_, err := g.Lessons().Create(ctx, lesson(a, i%2, slug, i+1))
		require.NoError(t, err)
	}
	_, err := g.Lessons().Create(ctx, lesson(b, 0, "b-1", 1))
	require.NoError(t, err)

	n, err := g.Lessons().DeleteByCourse(ctx, a.Course.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	left, err := g.Lessons().FindBySlug(ctx, "b-1")
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func testDeleteSubtree(t *testing.T, g gateway.Gateway) {
	ctx := context.Background()
	f := Seed(t, g, "c")
	for i, slug := range []string{"l-1", "l-2", "l-3"} {
		_, err := g.Lessons().Create(ctx, lesson(f, i%2, slug, i+1))
		require.NoError(t, err)
	}

	removed, err := gateway.DeleteSubtree(ctx, g, course.LevelUnit, f.Unit.ID)
	require.NoError(t, err)
	assert.Equal(t, gateway.Removed{Units: 1, Chapters: 1, Topics: 2, Lessons: 3}, removed)

	units, err := g.Units().ListByCourse(ctx, f.Course.ID)
	require.NoError(t, err)
	assert.Empty(t, units)
	lessons, err := g.Lessons().ListByCourse(ctx, f.Course.ID)
	require.NoError(t, err)
	assert.Empty(t, lessons)
}

func testRollback(t *testing.T, g gateway.Gateway) {
	tx, ok := g.(gateway.Transactor)
	if !ok {
		t.Skip("gateway has no transactions")
	}
	ctx := context.Background()
	f := Seed(t, g, "c")
	boom := errors.New("boom")

	err := tx.InTx(ctx, func(inner gateway.Gateway) error {
		if _, err := inner.Units().Create(ctx, course.Node{CourseID: f.Course.ID, ParentID: f.Course.ID, Name: "Geometry", Order: 2}); err != nil {
			return err
		}
		// A failed statement must not poison the transaction.
		_, err := inner.Chapters().Create(ctx, course.Node{CourseID: f.Course.ID, ParentID: "missing", Name: "X", Order: 1})
		assert.Error(t, err)
		found, err := inner.Units().FindByNaturalKey(ctx, f.Course.ID, "Geometry")
		require.NoError(t, err)
		assert.Len(t, found, 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	found, err := g.Units().FindByNaturalKey(ctx, f.Course.ID, "Geometry")
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, tx.InTx(ctx, func(inner gateway.Gateway) error {
		_, err := inner.Units().Create(ctx, course.Node{CourseID: f.Course.ID, ParentID: f.Course.ID, Name: "Geometry", Order: 2})
		return err
	}))
	found, err = g.Units().FindByNaturalKey(ctx, f.Course.ID, "Geometry")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
