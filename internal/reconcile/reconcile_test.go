package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/hierarchy"
	"github.com/roach88/syllabus/internal/logger"
	"github.com/roach88/syllabus/internal/memstore"
	"github.com/roach88/syllabus/internal/testutil"
)

var levels = []course.Level{course.LevelUnit, course.LevelChapter, course.LevelTopic}

func record(row int, unit, chapter, topic string) course.SourceRecord {
	return course.SourceRecord{Key: course.Key{Unit: unit, Chapter: chapter, Topic: topic}, LessonToken: "l", LessonTitle: "L", RowIndex: row}
}

func tree(recs ...course.SourceRecord) *hierarchy.Tree {
	return hierarchy.Build(recs)
}

func newStore(t *testing.T) (*memstore.Store, course.Course) {
	t.Helper()
	s := memstore.New()
	c, err := s.Courses().Create(context.Background(), course.Course{Slug: "cbse-maths-10", Title: "Maths"})
	require.NoError(t, err)
	return s, c
}

// reconcileAll runs the three levels in order and returns their results.
func reconcileAll(t *testing.T, s *memstore.Store, courseID string, tr *hierarchy.Tree, policy OrphanPolicy) map[course.Level]*Result {
	t.Helper()
	ctx := context.Background()
	out := make(map[course.Level]*Result)
	parents := CourseParents(courseID)
	for _, level := range levels {
		persisted, err := Load(ctx, s, level, parents)
		require.NoError(t, err)
		plan := Diff(level, tr.Candidates(level), parents, persisted)
		res, err := Apply(ctx, s, plan, policy, courseID, logger.NewNop())
		require.NoError(t, err)
		out[level] = res
		parents = res.IDs
	}
	return out
}

func TestReconcile_CreatesHierarchy(t *testing.T) {
	s, c := newStore(t)
	tr := tree(
		record(1, "Algebra", "Polynomials", "Zeros"),
		record(2, "Algebra", "Linear Equations", "Graphs"),
		record(3, "Geometry", "Triangles", "Similarity"),
	)

	res := reconcileAll(t, s, c.ID, tr, DefaultOrphanPolicy())
	assert.Equal(t, 2, res[course.LevelUnit].Created)
	assert.Equal(t, 3, res[course.LevelChapter].Created)
	assert.Equal(t, 3, res[course.LevelTopic].Created)

	chapters := s.AllNodes(course.LevelChapter)
	require.Len(t, chapters, 3)
	algebra := res[course.LevelUnit].IDs[course.Key{Unit: "Algebra"}]
	for _, ch := range chapters {
		if ch.Name == "Linear Equations" {
			assert.Equal(t, algebra, ch.ParentID)
			assert.Equal(t, 2, ch.Order)
			assert.Equal(t, c.ID, ch.CourseID)
		}
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	s, c := newStore(t)
	tr := tree(
		record(1, "Algebra", "Polynomials", "Zeros"),
		record(2, "Algebra", "Polynomials", "Division"),
		record(3, "Geometry", "Triangles", "Similarity"),
	)
	reconcileAll(t, s, c.ID, tr, DefaultOrphanPolicy())

	second := reconcileAll(t, s, c.ID, tr, DefaultOrphanPolicy())
	for _, level := range levels {
		r := second[level]
		assert.Zero(t, r.Created, level.String())
		assert.Zero(t, r.Updated, level.String())
		assert.Zero(t, r.Deleted, level.String())
	}
	assert.Equal(t, 3, second[course.LevelTopic].Unchanged)
}

func TestReconcile_OrderCorrection(t *testing.T) {
	s, c := newStore(t)
	u := s.AddNode(course.Node{Level: course.LevelUnit, CourseID: c.ID, ParentID: c.ID, Name: "Algebra", Order: 1})
	s.AddNode(course.Node{Level: course.LevelChapter, CourseID: c.ID, ParentID: u.ID, Name: "Polynomials", Order: 1})
	linear := s.AddNode(course.Node{Level: course.LevelChapter, CourseID: c.ID, ParentID: u.ID, Name: "Linear Equations", Order: 2})

	tr := tree(record(1, "Algebra", "Linear Equations", "Graphs"))
	parents := IDMap{{Unit: "Algebra"}: u.ID}
	persisted, err := Load(context.Background(), s, course.LevelChapter, parents)
	require.NoError(t, err)

	plan := Diff(course.LevelChapter, tr.Candidates(course.LevelChapter), parents, persisted)
	assert.Equal(t, 1, plan.Count(ActionUpdate))
	assert.Equal(t, 0, plan.Count(ActionCreate))
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, Action{
		Kind: ActionUpdate, Level: course.LevelChapter,
		Key:      course.Key{Unit: "Algebra", Chapter: "Linear Equations"},
		ParentID: u.ID, NodeID: linear.ID, Order: 1, FromOrder: 2,
	}, plan.Actions[0])
	assert.Equal(t, `update chapter "Linear Equations" order 2->1`, plan.Actions[0].String())
}

func TestReconcile_OrphanAsymmetry(t *testing.T) {
	s, c := newStore(t)
	u := s.AddNode(course.Node{Level: course.LevelUnit, CourseID: c.ID, ParentID: c.ID, Name: "Algebra", Order: 1})
	ch := s.AddNode(course.Node{Level: course.LevelChapter, CourseID: c.ID, ParentID: u.ID, Name: "Real Numbers", Order: 1})
	poly := s.AddNode(course.Node{Level: course.LevelChapter, CourseID: c.ID, ParentID: u.ID, Name: "Polynomials", Order: 2})
	s.AddNode(course.Node{Level: course.LevelTopic, CourseID: c.ID, ParentID: ch.ID, Name: "Euclid", Order: 1})
	surds := s.AddNode(course.Node{Level: course.LevelTopic, CourseID: c.ID, ParentID: ch.ID, Name: "Surds", Order: 2})
	s.AddLesson(course.Lesson{CourseID: c.ID, ChapterID: ch.ID, TopicID: surds.ID, Slug: "surds-1", Order: 1})
	s.AddLesson(course.Lesson{CourseID: c.ID, ChapterID: ch.ID, TopicID: surds.ID, Slug: "surds-2", Order: 2})

	res := reconcileAll(t, s, c.ID, tree(record(1, "Algebra", "Real Numbers", "Euclid")), DefaultOrphanPolicy())

	assert.Equal(t, 1, res[course.LevelChapter].Retained)
	assert.Zero(t, res[course.LevelChapter].Deleted)
	assert.Equal(t, 1, res[course.LevelTopic].Deleted)
	assert.Equal(t, gateway.Removed{Lessons: 2}, res[course.LevelTopic].Removed)

	var names []string
	for _, n := range s.AllNodes(course.LevelChapter) {
		names = append(names, n.Name)
	}
	assert.ElementsMatch(t, []string{"Real Numbers", "Polynomials"}, names)
	assert.Len(t, s.AllNodes(course.LevelTopic), 1)
	assert.Empty(t, s.AllLessons())
	assert.NotEmpty(t, poly.ID)
}

func TestReconcile_OrphanPolicyConfigurable(t *testing.T) {
	s, c := newStore(t)
	u := s.AddNode(course.Node{Level: course.LevelUnit, CourseID: c.ID, ParentID: c.ID, Name: "Algebra", Order: 1})
	s.AddNode(course.Node{Level: course.LevelChapter, CourseID: c.ID, ParentID: u.ID, Name: "Polynomials", Order: 1})
	s.AddNode(course.Node{Level: course.LevelUnit, CourseID: c.ID, ParentID: c.ID, Name: "Statistics", Order: 2})

	policy := OrphanPolicy{Unit: OrphanRetain, Chapter: OrphanDelete, Topic: OrphanRetain}
	res := reconcileAll(t, s, c.ID, tree(record(1, "Algebra", "Real Numbers", "Euclid")), policy)

	assert.Equal(t, 1, res[course.LevelUnit].Retained)
	assert.Equal(t, 1, res[course.LevelChapter].Deleted)
	assert.Len(t, s.AllNodes(course.LevelUnit), 2)
	require.Len(t, s.AllNodes(course.LevelChapter), 1)
	assert.Equal(t, "Real Numbers", s.AllNodes(course.LevelChapter)[0].Name)
}

func TestReconcile_OrphansOnlyUnderCandidateParents(t *testing.T) {
	s, c := newStore(t)
	stats := s.AddNode(course.Node{Level: course.LevelUnit, CourseID: c.ID, ParentID: c.ID, Name: "Statistics", Order: 1})
	s.AddNode(course.Node{Level: course.LevelChapter, CourseID: c.ID, ParentID: stats.ID, Name: "Mean", Order: 1})

	policy := OrphanPolicy{Unit: OrphanRetain, Chapter: OrphanDelete, Topic: OrphanDelete}
	res := reconcileAll(t, s, c.ID, tree(record(1, "Algebra", "Polynomials", "Zeros")), policy)

	// Statistics is not a candidate, so its chapters are out of scope.
	assert.Zero(t, res[course.LevelChapter].Deleted)
	assert.Len(t, s.AllNodes(course.LevelChapter), 2)
}

func TestReconcile_DuplicatesMatchEarliest(t *testing.T) {
	s, c := newStore(t)
	late := s.AddNode(course.Node{Level: course.LevelUnit, CourseID: c.ID, ParentID: c.ID, Name: "Geometry", Order: 1, CreatedAt: testutil.At(100)})
	early := s.AddNode(course.Node{Level: course.LevelUnit, CourseID: c.ID, ParentID: c.ID, Name: "Geometry", Order: 3, CreatedAt: testutil.At(50)})

	parents := CourseParents(c.ID)
	persisted, err := Load(context.Background(), s, course.LevelUnit, parents)
	require.NoError(t, err)
	plan := Diff(course.LevelUnit, tree(record(1, "Geometry", "Triangles", "Similarity")).Candidates(course.LevelUnit), parents, persisted)

	require.Len(t, plan.Actions, 1)
	assert.Equal(t, early.ID, plan.Actions[0].NodeID)
	assert.Equal(t, ActionUpdate, plan.Actions[0].Kind)
	assert.Empty(t, plan.Orphans, "duplicates are not orphans")
	require.Len(t, plan.Duplicates, 1)
	assert.Equal(t, []string{late.ID}, plan.Duplicates[0].Others)
}

func TestReconcile_UnresolvedParents(t *testing.T) {
	tr := tree(record(1, "Algebra", "Polynomials", "Zeros"))
	plan := Diff(course.LevelChapter, tr.Candidates(course.LevelChapter), IDMap{}, nil)
	assert.Empty(t, plan.Actions)
	require.Len(t, plan.Unresolved, 1)
	assert.Equal(t, "Polynomials", plan.Unresolved[0].Key.Chapter)
}

func TestApply_FailedCreateIsSkipped(t *testing.T) {
	s, c := newStore(t)
	s.Fail = func(op memstore.Op) error {
		if op.Kind == "create" && op.Name == "Polynomials" {
			return errors.New("constraint violation")
		}
		return nil
	}
	tr := tree(
		record(1, "Algebra", "Polynomials", "Zeros"),
		record(2, "Algebra", "Linear Equations", "Graphs"),
	)
	res := reconcileAll(t, s, c.ID, tr, DefaultOrphanPolicy())

	chapters := res[course.LevelChapter]
	assert.Equal(t, 1, chapters.Created)
	require.Len(t, chapters.Failures, 1)
	assert.Equal(t, "create", chapters.Failures[0].Op)
	assert.ErrorContains(t, chapters.Failures[0], "constraint violation")
	assert.NotContains(t, chapters.IDs, course.Key{Unit: "Algebra", Chapter: "Polynomials"})

	// Children of the failed chapter cannot resolve.
	assert.Equal(t, 1, res[course.LevelTopic].Created)
}

func TestApply_UnavailableAborts(t *testing.T) {
	s, c := newStore(t)
	tr := tree(record(1, "Algebra", "Polynomials", "Zeros"))
	parents := CourseParents(c.ID)
	plan := Diff(course.LevelUnit, tr.Candidates(course.LevelUnit), parents, nil)

	s.SetUnavailable(true)
	_, err := Apply(context.Background(), s, plan, DefaultOrphanPolicy(), c.ID, logger.NewNop())
	assert.True(t, gateway.IsUnavailable(err))
}

func TestApply_AdoptsConcurrentCreate(t *testing.T) {
	s, c := newStore(t)
	parents := CourseParents(c.ID)
	plan := Diff(course.LevelUnit, tree(record(1, "Algebra", "P", "Z")).Candidates(course.LevelUnit), parents, nil)
	require.Equal(t, ActionCreate, plan.Actions[0].Kind)

	// Another run writes the unit between Diff and Apply.
	other := s.AddNode(course.Node{Level: course.LevelUnit, CourseID: c.ID, ParentID: c.ID, Name: "Algebra", Order: 4})

	res, err := Apply(context.Background(), s, plan, DefaultOrphanPolicy(), c.ID, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Adopted)
	assert.Equal(t, 1, res.Updated)
	assert.Zero(t, res.Created)
	assert.Equal(t, other.ID, res.IDs[course.Key{Unit: "Algebra"}])
	assert.Len(t, s.AllNodes(course.LevelUnit), 1)
}

func TestOrphanPolicy(t *testing.T) {
	p := DefaultOrphanPolicy()
	assert.Equal(t, OrphanRetain, p.For(course.LevelUnit))
	assert.Equal(t, OrphanRetain, p.For(course.LevelChapter))
	assert.Equal(t, OrphanDelete, p.For(course.LevelTopic))

	assert.Equal(t, OrphanDelete, OrphanPolicy{Unit: OrphanDelete}.For(course.LevelUnit))
	assert.Equal(t, OrphanDelete, OrphanPolicy{}.For(course.LevelTopic), "unset falls back to default")

	assert.NoError(t, p.Validate())
	assert.Error(t, OrphanPolicy{Chapter: "purge"}.Validate())
}
