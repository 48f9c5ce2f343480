package lessons

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/logger"
	"github.com/roach88/syllabus/internal/memstore"
	"github.com/roach88/syllabus/internal/reconcile"
)

var (
	algebra = course.Key{Unit: "Algebra", Chapter: "Polynomials", Topic: "Zeros"}
	linear  = course.Key{Unit: "Algebra", Chapter: "Linear Equations", Topic: "Graphs"}
)

type fixture struct {
	s        *memstore.Store
	courseID string
	chapters reconcile.IDMap
	topics   reconcile.IDMap
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	c := s.AddCourse(course.Course{ID: "course-a", Slug: "cbse-maths-10"})
	f := &fixture{s: s, courseID: c.ID, chapters: reconcile.IDMap{}, topics: reconcile.IDMap{}}
	u := s.AddNode(course.Node{Level: course.LevelUnit, CourseID: c.ID, ParentID: c.ID, Name: "Algebra", Order: 1})
	for i, k := range []course.Key{algebra, linear} {
		ch := s.AddNode(course.Node{Level: course.LevelChapter, CourseID: c.ID, ParentID: u.ID, Name: k.Chapter, Order: i + 1})
		tp := s.AddNode(course.Node{Level: course.LevelTopic, CourseID: c.ID, ParentID: ch.ID, Name: k.Topic, Order: 1})
		f.chapters[k.Parent()] = ch.ID
		f.topics[k] = tp.ID
	}
	return f
}

func (f *fixture) input(records ...course.SourceRecord) Input {
	return Input{CourseID: f.courseID, Records: records, Chapters: f.chapters, Topics: f.topics}
}

func (f *fixture) seedLesson(key course.Key, slug string, order int) course.Lesson {
	return f.s.AddLesson(course.Lesson{CourseID: f.courseID, ChapterID: f.chapters[key.Parent()], TopicID: f.topics[key], Slug: slug, Title: slug, Order: order})
}

func rec(row int, key course.Key, token string) course.SourceRecord {
	return course.SourceRecord{Key: key, LessonToken: token, LessonTitle: "Lesson " + token, RowIndex: row}
}

func run(t *testing.T, f *fixture, mode Mode, in Input) *Result {
	t.Helper()
	res, err := Run(context.Background(), f.s, mode, in, logger.NewNop())
	require.NoError(t, err)
	return res
}

func TestRegenerate_FiftyRowsTwoRejected(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 50; i++ {
		f.seedLesson(algebra, fmt.Sprintf("old-%02d", i), i)
	}

	var records []course.SourceRecord
	var rejected []Skip
	for i := 1; i <= 50; i++ {
		if i == 17 || i == 33 {
			rejected = append(rejected, Skip{Row: i, Reason: ReasonSourceFormat, Err: errors.New("missing chapter_name")})
			continue
		}
		records = append(records, rec(i, algebra, fmt.Sprintf("cbse_maths_10_%03d", i)))
	}
	in := f.input(records...)
	in.Rejected = rejected

	res := run(t, f, ModeRegenerate, in)
	assert.Equal(t, 50, res.Deleted)
	assert.Equal(t, 48, res.Created)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Failed)
	assert.Len(t, f.s.AllLessons(), 48)
}

func TestRegenerate_CrossCourseSlugGuard(t *testing.T) {
	f := newFixture(t)
	other := f.s.AddCourse(course.Course{ID: "course-b", Slug: "cbse-maths-9"})
	f.s.AddLesson(course.Lesson{CourseID: other.ID, ChapterID: "x", TopicID: "y", Slug: "cbse-maths-10-012", Order: 1})

	res := run(t, f, ModeRegenerate, f.input(rec(1, algebra, "cbse_maths_10_012")))
	assert.Zero(t, res.Created)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Skips, 1)
	assert.Equal(t, ReasonSlugConflict, res.Skips[0].Reason)

	for _, l := range f.s.AllLessons() {
		assert.Equal(t, other.ID, l.CourseID, "course A gained no lessons")
	}
}

func TestRegenerate_PreviewRule(t *testing.T) {
	f := newFixture(t)
	res := run(t, f, ModeRegenerate, f.input(
		rec(1, algebra, "a1"),
		rec(2, algebra, "a2"),
		rec(3, algebra, "a3"),
		rec(4, linear, "l1"),
		rec(5, linear, "l2"),
	))
	require.Equal(t, 5, res.Created)

	preview := map[string]bool{}
	for _, l := range f.s.AllLessons() {
		preview[l.Slug] = l.Preview
	}
	assert.Equal(t, map[string]bool{
		"a1": true, // first in chapter
		"a2": true, // among the first two overall
		"a3": false,
		"l1": true, // first in chapter
		"l2": false,
	}, preview)
}

func TestRegenerate_PreviewCountsRawRows(t *testing.T) {
	f := newFixture(t)
	in := f.input(
		rec(2, algebra, "a2"),
		rec(3, algebra, "a3"),
		rec(4, algebra, "a4"),
		rec(5, linear, "l5"),
	)
	in.Rejected = []Skip{{Row: 1, Reason: ReasonSourceFormat, Err: errors.New("missing lesson_id")}}

	res := run(t, f, ModeRegenerate, in)
	require.Equal(t, 4, res.Created)
	assert.Equal(t, 1, res.Skipped)

	preview := map[string]bool{}
	for _, l := range f.s.AllLessons() {
		preview[l.Slug] = l.Preview
	}
	assert.Equal(t, map[string]bool{
		"a2": true,  // first in chapter and row 2
		"a3": false, // second record, but row 3
		"a4": false,
		"l5": true, // first in chapter
	}, preview)
}

func TestRegenerate_FieldsFromRecord(t *testing.T) {
	f := newFixture(t)
	r := rec(7, linear, "CBSE_Maths_10_007")
	r.Sequence = 3
	r.Tags = []string{"graphs", "basics"}
	run(t, f, ModeRegenerate, f.input(r))

	lessons := f.s.AllLessons()
	require.Len(t, lessons, 1)
	l := lessons[0]
	assert.Equal(t, "cbse-maths-10-007", l.Slug)
	assert.Equal(t, "CBSE_Maths_10_007", l.Code)
	assert.Equal(t, "Lesson CBSE_Maths_10_007", l.Title)
	assert.Equal(t, 3, l.Order)
	assert.Equal(t, f.chapters[linear.Parent()], l.ChapterID)
	assert.Equal(t, f.topics[linear], l.TopicID)
	assert.Equal(t, []string{"graphs", "basics"}, l.Tags)
}

func TestRegenerate_UnresolvedParentSkipped(t *testing.T) {
	f := newFixture(t)
	missing := course.Key{Unit: "Algebra", Chapter: "Quadratics", Topic: "Roots"}
	res := run(t, f, ModeRegenerate, f.input(rec(1, algebra, "a1"), rec(2, missing, "q1")))

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, ReasonKeyResolution, res.Skips[0].Reason)
	assert.ErrorContains(t, res.Skips[0], "chapter")
}

func TestRegenerate_RepeatedSlugInSource(t *testing.T) {
	f := newFixture(t)
	res := run(t, f, ModeRegenerate, f.input(rec(1, algebra, "a_1"), rec(2, linear, "a-1")))
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, ReasonSlugConflict, res.Skips[0].Reason)
}

func TestRegenerate_FailedInsertCountsAsSkipped(t *testing.T) {
	f := newFixture(t)
	f.s.Fail = func(op memstore.Op) error {
		if op.Kind == "create" && op.Name == "a2" {
			return errors.New("constraint violation")
		}
		return nil
	}
	res := run(t, f, ModeRegenerate, f.input(rec(1, algebra, "a1"), rec(2, algebra, "a2"), rec(3, algebra, "a3")))
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, ReasonPersistence, res.Skips[0].Reason)
}

func TestRegenerate_IdentityNotPreserved(t *testing.T) {
	f := newFixture(t)
	in := f.input(rec(1, algebra, "a1"))
	run(t, f, ModeRegenerate, in)
	before := f.s.AllLessons()[0].ID

	run(t, f, ModeRegenerate, in)
	after := f.s.AllLessons()
	require.Len(t, after, 1)
	assert.NotEqual(t, before, after[0].ID)
}

func TestUpsert_PreservesIdentity(t *testing.T) {
	f := newFixture(t)
	kept := f.seedLesson(algebra, "a1", 9)
	stale := f.seedLesson(algebra, "gone", 2)

	res := run(t, f, ModeUpsert, f.input(rec(1, algebra, "a1"), rec(2, algebra, "a2")))
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Deleted)

	found, err := f.s.Lessons().FindBySlug(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, kept.ID, found[0].ID)
	assert.Equal(t, 1, found[0].Order)
	assert.Equal(t, kept.CreatedAt, found[0].CreatedAt)

	gone, err := f.s.Lessons().FindBySlug(context.Background(), stale.Slug)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestUpsert_SecondRunUnchanged(t *testing.T) {
	f := newFixture(t)
	in := f.input(rec(1, algebra, "a1"), rec(2, linear, "l1"))
	run(t, f, ModeUpsert, in)

	res := run(t, f, ModeUpsert, in)
	assert.Equal(t, 2, res.Unchanged)
	assert.Zero(t, res.Created+res.Updated+res.Deleted)
}

func TestUpsert_CrossCourseSlugGuard(t *testing.T) {
	f := newFixture(t)
	f.s.AddCourse(course.Course{ID: "course-b", Slug: "b"})
	f.s.AddLesson(course.Lesson{CourseID: "course-b", Slug: "a1", Order: 1})

	res := run(t, f, ModeUpsert, f.input(rec(1, algebra, "a1")))
	assert.Zero(t, res.Created)
	assert.Equal(t, 1, res.Skipped)
}

func TestRun_UnavailableAborts(t *testing.T) {
	f := newFixture(t)
	f.s.SetUnavailable(true)
	_, err := Run(context.Background(), f.s, ModeRegenerate, f.input(rec(1, algebra, "a1")), logger.NewNop())
	assert.True(t, gateway.IsUnavailable(err))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeRegenerate, m)
	m, err = ParseMode("upsert")
	require.NoError(t, err)
	assert.Equal(t, ModeUpsert, m)
	_, err = ParseMode("merge")
	assert.Error(t, err)
}
