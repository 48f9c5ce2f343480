// Package lessons rebuilds the Lesson level of a course from source
// records once the unit, chapter and topic levels are reconciled.
//
// In ModeRegenerate every lesson of the course is deleted and recreated,
// so lesson IDs change on every run. ModeUpsert matches existing lessons
// by slug and keeps their IDs.
package lessons

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/logger"
	"github.com/roach88/syllabus/internal/reconcile"
)

type Mode string

const (
	ModeRegenerate Mode = "regenerate"
	ModeUpsert     Mode = "upsert"
)

// ParseMode accepts "regenerate", "upsert" or "" (regenerate).
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeRegenerate:
		return ModeRegenerate, nil
	case ModeUpsert:
		return ModeUpsert, nil
	default:
		return "", fmt.Errorf("invalid lesson mode %q (want regenerate or upsert)", s)
	}
}

// Reason classifies a skipped row.
type Reason string

const (
	ReasonSourceFormat  Reason = "source_format"
	ReasonKeyResolution Reason = "key_resolution"
	ReasonSlugConflict  Reason = "slug_conflict"
	ReasonPersistence   Reason = "persistence"
)

// Skip is a source row that did not become a lesson, or a lesson-level
// delete that failed (Row 0).
type Skip struct {
	Row    int
	Slug   string
	Key    course.Key
	Reason Reason
	Err    error
}

func (s Skip) Error() string {
	return fmt.Sprintf("row %d (%s): %s: %v", s.Row, s.Slug, s.Reason, s.Err)
}

func (s Skip) Unwrap() error { return s.Err }

// Input is everything the regenerator needs from earlier stages.
type Input struct {
	CourseID string
	Records  []course.SourceRecord
	Chapters reconcile.IDMap
	Topics   reconcile.IDMap
	// Rejected lists rows the normalizer dropped; they count as skipped.
	Rejected []Skip
}

type Result struct {
	Mode      Mode `json:"mode"`
	Deleted   int  `json:"deleted"`
	Created   int  `json:"created"`
	Updated   int  `json:"updated"`
	Unchanged int  `json:"unchanged"`
	// Skipped counts rows that did not become a lesson, failed inserts
	// included.
	Skipped int `json:"skipped"`
	// Failed counts gateway calls that errored.
	Failed int    `json:"failed"`
	Skips  []Skip `json:"-"`
}

// Run rebuilds the lessons of in.CourseID. Per-row failures are recorded
// and skipped; Run returns an error only when the gateway is unavailable
// or ctx is done.
func Run(ctx context.Context, g gateway.Gateway, mode Mode, in Input, log *logger.Logger) (*Result, error) {
	log = log.With("level", course.LevelLesson.String(), "mode", string(mode))
	r := &runner{g: g, in: in, log: log, res: &Result{Mode: mode}}
	for _, s := range in.Rejected {
		r.skip(s)
	}

	var err error
	switch mode {
	case ModeRegenerate, "":
		r.res.Mode = ModeRegenerate
		err = r.regenerate(ctx)
	case ModeUpsert:
		err = r.upsert(ctx)
	default:
		return nil, fmt.Errorf("run lessons: unknown mode %q", mode)
	}
	if err != nil {
		return r.res, err
	}
	log.Info("lessons rebuilt",
		"deleted", r.res.Deleted, "created", r.res.Created, "updated", r.res.Updated,
		"unchanged", r.res.Unchanged, "skipped", r.res.Skipped, "failed", r.res.Failed)
	return r.res, nil
}

type runner struct {
	g   gateway.Gateway
	in  Input
	log *logger.Logger
	res *Result
}

// planned is a record whose parents resolved and whose slug is free.
type planned struct {
	rec    course.SourceRecord
	lesson course.Lesson
	// existing is the same-course lesson holding the slug, if any.
	existing *course.Lesson
}

func (r *runner) regenerate(ctx context.Context) error {
	n, err := r.g.Lessons().DeleteByCourse(ctx, r.in.CourseID)
	if err != nil {
		if fatal(err) {
			return err
		}
		r.res.Failed++
		r.res.Skips = append(r.res.Skips, Skip{Reason: ReasonPersistence, Err: fmt.Errorf("delete course lessons: %w", err)})
		r.log.Warn("delete course lessons failed", "error", err)
	}
	r.res.Deleted = n

	for _, p := range r.resolve() {
		ok, err := r.available(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := r.create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) upsert(ctx context.Context) error {
	current, err := r.g.Lessons().ListByCourse(ctx, r.in.CourseID)
	if err != nil {
		if fatal(err) {
			return err
		}
		// Without the current lessons nothing can be matched safely.
		r.res.Failed++
		r.res.Skips = append(r.res.Skips, Skip{Reason: ReasonPersistence, Err: fmt.Errorf("list course lessons: %w", err)})
		r.res.Skipped += len(r.in.Records)
		return nil
	}
	bySlug := make(map[string]course.Lesson, len(current))
	for _, l := range current {
		if prev, ok := bySlug[l.Slug]; !ok || l.CreatedAt.Before(prev.CreatedAt) {
			bySlug[l.Slug] = l
		}
	}

	keep := make(map[string]bool)
	for _, p := range r.resolve() {
		ok, err := r.available(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		existing, ok := bySlug[p.lesson.Slug]
		if !ok {
			if err := r.create(ctx, p); err != nil {
				return err
			}
			continue
		}
		keep[existing.ID] = true
		p.lesson.ID = existing.ID
		p.lesson.CreatedAt = existing.CreatedAt
		if sameStructure(existing, p.lesson) {
			r.res.Unchanged++
			continue
		}
		if err := r.g.Lessons().Update(ctx, p.lesson); err != nil {
			if fatal(err) {
				return err
			}
			r.res.Failed++
			r.res.Skips = append(r.res.Skips, Skip{Row: p.rec.RowIndex, Slug: p.lesson.Slug, Key: p.rec.Key, Reason: ReasonPersistence, Err: err})
			r.log.Warn("lesson update failed", "row", p.rec.RowIndex, "slug", p.lesson.Slug, "error", err)
			continue
		}
		r.res.Updated++
	}

	// Lessons of the course whose slug left the source, plus extra copies
	// of a slug, are stale.
	sourceSlugs := make(map[string]bool, len(r.in.Records))
	for _, rec := range r.in.Records {
		sourceSlugs[rec.Slug()] = true
	}
	var stale []string
	for _, l := range current {
		if keep[l.ID] {
			continue
		}
		if sourceSlugs[l.Slug] && bySlug[l.Slug].ID == l.ID {
			continue
		}
		stale = append(stale, l.ID)
	}
	for _, id := range stale {
		if err := r.g.Lessons().Delete(ctx, id); err != nil {
			if fatal(err) {
				return err
			}
			r.res.Failed++
			r.res.Skips = append(r.res.Skips, Skip{Reason: ReasonPersistence, Err: fmt.Errorf("delete stale lesson %s: %w", id, err)})
			continue
		}
		r.res.Deleted++
	}
	return nil
}

// resolve maps records to lessons in source order, computing preview
// flags and skipping rows with unresolved parents or repeated slugs.
// "First two" counts raw sheet rows, so a malformed row 1 still uses up a
// slot; "first in chapter" counts records only.
func (r *runner) resolve() []planned {
	var out []planned
	chapterSeen := make(map[course.Key]bool)
	slugRow := make(map[string]int)

	for _, rec := range r.in.Records {
		chapterKey := rec.Key.Parent()
		preview := !chapterSeen[chapterKey] || rec.RowIndex <= 2
		chapterSeen[chapterKey] = true

		chapterID, okC := r.in.Chapters[chapterKey]
		topicID, okT := r.in.Topics[rec.Key]
		if !okC || !okT {
			missing := course.LevelTopic
			if !okC {
				missing = course.LevelChapter
			}
			r.skip(Skip{Row: rec.RowIndex, Slug: rec.Slug(), Key: rec.Key, Reason: ReasonKeyResolution,
				Err: fmt.Errorf("%s %q has no persisted id", missing, rec.Key.String())})
			continue
		}

		slug := rec.Slug()
		if first, dup := slugRow[slug]; dup {
			r.skip(Skip{Row: rec.RowIndex, Slug: slug, Key: rec.Key, Reason: ReasonSlugConflict,
				Err: fmt.Errorf("slug already used by row %d", first)})
			continue
		}
		slugRow[slug] = rec.RowIndex

		out = append(out, planned{rec: rec, lesson: course.Lesson{
			CourseID:  r.in.CourseID,
			ChapterID: chapterID,
			TopicID:   topicID,
			Code:      rec.LessonToken,
			Slug:      slug,
			Title:     rec.LessonTitle,
			Order:     rec.Order(),
			Preview:   preview,
			Tags:      slices.Clone(rec.Tags),
		}})
	}
	return out
}

// available looks the slug up across courses. A lesson of another course
// holding it blocks the row.
func (r *runner) available(ctx context.Context, p planned) (bool, error) {
	found, err := r.g.Lessons().FindBySlug(ctx, p.lesson.Slug)
	if err != nil {
		if fatal(err) {
			return false, err
		}
		r.res.Failed++
		r.skip(Skip{Row: p.rec.RowIndex, Slug: p.lesson.Slug, Key: p.rec.Key, Reason: ReasonPersistence, Err: err})
		return false, nil
	}
	for _, l := range found {
		if l.CourseID != r.in.CourseID {
			r.skip(Skip{Row: p.rec.RowIndex, Slug: p.lesson.Slug, Key: p.rec.Key, Reason: ReasonSlugConflict,
				Err: fmt.Errorf("slug belongs to course %s", l.CourseID)})
			return false, nil
		}
	}
	return true, nil
}

func (r *runner) create(ctx context.Context, p planned) error {
	l, err := r.g.Lessons().Create(ctx, p.lesson)
	if err != nil {
		if fatal(err) {
			return err
		}
		r.res.Failed++
		r.skip(Skip{Row: p.rec.RowIndex, Slug: p.lesson.Slug, Key: p.rec.Key, Reason: ReasonPersistence, Err: err})
		return nil
	}
	r.res.Created++
	r.log.Debug("lesson created", "row", p.rec.RowIndex, "slug", l.Slug, "id", l.ID, "preview", l.Preview)
	return nil
}

func (r *runner) skip(s Skip) {
	r.res.Skipped++
	r.res.Skips = append(r.res.Skips, s)
	r.log.Warn("lesson row skipped", "row", s.Row, "slug", s.Slug, "reason", string(s.Reason), "error", s.Err)
}

func sameStructure(a, b course.Lesson) bool {
	return a.ChapterID == b.ChapterID &&
		a.TopicID == b.TopicID &&
		a.Code == b.Code &&
		a.Title == b.Title &&
		a.Order == b.Order &&
		a.Preview == b.Preview &&
		slices.Equal(a.Tags, b.Tags)
}

func fatal(err error) bool {
	return gateway.IsUnavailable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
