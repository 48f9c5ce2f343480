// Package dedup removes persisted nodes that share a natural key.
//
// Within each group the earliest-created node survives, ties broken by ID.
// Every other member is deleted together with its descendants. Passes run
// bottom-up (lessons, topics, chapters, units) so no pass can leave a
// reference into a subtree a later pass removes.
package dedup

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/logger"
)

// PassOrder is the fixed order levels are deduplicated in.
var PassOrder = []course.Level{course.LevelLesson, course.LevelTopic, course.LevelChapter, course.LevelUnit}

// LevelResult summarizes one pass.
type LevelResult struct {
	Level course.Level `json:"level"`
	// Groups is the number of natural keys that had duplicates.
	Groups int `json:"groups"`
	// Removed counts duplicates deleted at this level.
	Removed int `json:"removed"`
	// Descendants counts records deleted beneath the removed duplicates.
	Descendants gateway.Removed `json:"descendants"`
}

// Failure is a duplicate that could not be deleted.
type Failure struct {
	Level course.Level
	ID    string
	Key   string
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("remove duplicate %s %s (%s): %v", f.Level, f.ID, f.Key, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

type Result struct {
	Levels   []LevelResult
	Failures []Failure
}

// Total returns every record removed across passes.
func (r *Result) Total() gateway.Removed {
	var t gateway.Removed
	for _, lr := range r.Levels {
		t.Add(lr.Descendants)
		switch lr.Level {
		case course.LevelUnit:
			t.Units += lr.Removed
		case course.LevelChapter:
			t.Chapters += lr.Removed
		case course.LevelTopic:
			t.Topics += lr.Removed
		case course.LevelLesson:
			t.Lessons += lr.Removed
		}
	}
	return t
}

// Level returns the result of one pass.
func (r *Result) Level(level course.Level) LevelResult {
	for _, lr := range r.Levels {
		if lr.Level == level {
			return lr
		}
	}
	return LevelResult{Level: level}
}

// group is one natural key's members, survivor first.
type group struct {
	key     string
	members []member
}

type member struct {
	id        string
	createdAt int64
}

// Resolve deduplicates every level of a course. Deletion failures are
// recorded and skipped; Resolve returns an error only when the gateway is
// unavailable or ctx is done.
func Resolve(ctx context.Context, g gateway.Gateway, courseID string, log *logger.Logger) (*Result, error) {
	res := &Result{}
	for _, level := range PassOrder {
		groups, err := duplicates(ctx, g, level, courseID)
		if err != nil {
			return res, err
		}
		lr := LevelResult{Level: level, Groups: len(groups)}
		for _, grp := range groups {
			survivor := grp.members[0].id
			for _, m := range grp.members[1:] {
				if err := ctx.Err(); err != nil {
					return res, err
				}
				removed, err := gateway.DeleteSubtree(ctx, g, level, m.id)
				lr.Descendants.Add(below(removed, level))
				if err != nil {
					if IsFatal(err) {
						res.Levels = append(res.Levels, lr)
						return res, err
					}
					res.Failures = append(res.Failures, Failure{Level: level, ID: m.id, Key: grp.key, Err: err})
					log.Warn("duplicate delete failed", "level", level.String(), "key", grp.key, "id", m.id, "error", err)
					continue
				}
				lr.Removed++
				log.Info("duplicate removed", "level", level.String(), "key", grp.key, "id", m.id, "survivor", survivor)
			}
		}
		log.Info("dedup pass done", "level", level.String(), "groups", lr.Groups, "removed", lr.Removed)
		res.Levels = append(res.Levels, lr)
	}
	return res, nil
}

// duplicates returns the groups at level with more than one member, in
// key order.
func duplicates(ctx context.Context, g gateway.Gateway, level course.Level, courseID string) ([]group, error) {
	byKey := make(map[string][]member)
	if level == course.LevelLesson {
		lessons, err := g.Lessons().ListByCourse(ctx, courseID)
		if err != nil {
			return nil, fmt.Errorf("list lessons: %w", err)
		}
		for _, l := range lessons {
			byKey[l.Slug] = append(byKey[l.Slug], member{l.ID, l.CreatedAt.UnixNano()})
		}
	} else {
		nodes, err := gateway.Nodes(g, level).ListByCourse(ctx, courseID)
		if err != nil {
			return nil, fmt.Errorf("list %ss: %w", level, err)
		}
		for _, n := range nodes {
			k := n.ParentID + "/" + n.Name
			byKey[k] = append(byKey[k], member{n.ID, n.CreatedAt.UnixNano()})
		}
	}

	var groups []group
	for k, members := range byKey {
		if len(members) < 2 {
			continue
		}
		slices.SortFunc(members, func(a, b member) int {
			if c := cmp.Compare(a.createdAt, b.createdAt); c != 0 {
				return c
			}
			return cmp.Compare(a.id, b.id)
		})
		groups = append(groups, group{key: k, members: members})
	}
	slices.SortFunc(groups, func(a, b group) int { return cmp.Compare(a.key, b.key) })
	return groups, nil
}

func below(r gateway.Removed, level course.Level) gateway.Removed {
	switch level {
	case course.LevelUnit:
		r.Units = 0
	case course.LevelChapter:
		r.Chapters = 0
	case course.LevelTopic:
		r.Topics = 0
	case course.LevelLesson:
		r.Lessons = 0
	}
	return r
}

// IsFatal reports whether err from Resolve aborted the passes.
func IsFatal(err error) bool {
	return gateway.IsUnavailable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
