package gateway

import (
	"context"
	"fmt"

	"github.com/roach88/syllabus/internal/course"
)

// Removed counts deleted records per level.
type Removed struct {
	Units    int `json:"units,omitempty"`
	Chapters int `json:"chapters,omitempty"`
	Topics   int `json:"topics,omitempty"`
	Lessons  int `json:"lessons,omitempty"`
}

// Add accumulates o into r.
func (r *Removed) Add(o Removed) {
	r.Units += o.Units
	r.Chapters += o.Chapters
	r.Topics += o.Topics
	r.Lessons += o.Lessons
}

// At returns the count for one level.
func (r Removed) At(level course.Level) int {
	switch level {
	case course.LevelUnit:
		return r.Units
	case course.LevelChapter:
		return r.Chapters
	case course.LevelTopic:
		return r.Topics
	case course.LevelLesson:
		return r.Lessons
	default:
		return 0
	}
}

// Total returns the sum over all levels.
func (r Removed) Total() int {
	return r.Units + r.Chapters + r.Topics + r.Lessons
}

// DeleteSubtree deletes the nodes ids at level together with all of their
// descendants, children first: lessons, then topics, then chapters, then
// the nodes themselves.
//
// On error the returned Removed holds what was deleted before the failure.
// Nothing is retried.
func DeleteSubtree(ctx context.Context, g Gateway, level course.Level, ids ...string) (Removed, error) {
	var removed Removed
	if len(ids) == 0 {
		return removed, nil
	}

	if level == course.LevelLesson {
		if err := g.Lessons().Delete(ctx, ids...); err != nil {
			return removed, fmt.Errorf("delete lessons: %w", err)
		}
		removed.Lessons = len(ids)
		return removed, nil
	}

	var chapterIDs, topicIDs []string
	switch level {
	case course.LevelUnit:
		chapters, err := g.Chapters().ListByParent(ctx, ids...)
		if err != nil {
			return removed, fmt.Errorf("list chapters: %w", err)
		}
		chapterIDs = nodeIDs(chapters)
		topics, err := g.Topics().ListByParent(ctx, chapterIDs...)
		if err != nil {
			return removed, fmt.Errorf("list topics: %w", err)
		}
		topicIDs = nodeIDs(topics)
	case course.LevelChapter:
		chapterIDs = ids
		topics, err := g.Topics().ListByParent(ctx, chapterIDs...)
		if err != nil {
			return removed, fmt.Errorf("list topics: %w", err)
		}
		topicIDs = nodeIDs(topics)
	case course.LevelTopic:
		topicIDs = ids
	default:
		return removed, fmt.Errorf("delete subtree: unsupported level %s", level)
	}

	lessonIDs, err := lessonsUnder(ctx, g, chapterIDs, topicIDs)
	if err != nil {
		return removed, err
	}
	if len(lessonIDs) > 0 {
		if err := g.Lessons().Delete(ctx, lessonIDs...); err != nil {
			return removed, fmt.Errorf("delete lessons: %w", err)
		}
		removed.Lessons = len(lessonIDs)
	}

	if len(topicIDs) > 0 {
		if err := g.Topics().Delete(ctx, topicIDs...); err != nil {
			return removed, fmt.Errorf("delete topics: %w", err)
		}
		removed.Topics = len(topicIDs)
	}
	if level == course.LevelTopic {
		return removed, nil
	}

	if len(chapterIDs) > 0 {
		if err := g.Chapters().Delete(ctx, chapterIDs...); err != nil {
			return removed, fmt.Errorf("delete chapters: %w", err)
		}
		removed.Chapters = len(chapterIDs)
	}
	if level == course.LevelChapter {
		return removed, nil
	}

	if err := g.Units().Delete(ctx, ids...); err != nil {
		return removed, fmt.Errorf("delete units: %w", err)
	}
	removed.Units = len(ids)
	return removed, nil
}

// lessonsUnder collects the IDs of lessons referencing any of the chapters
// or topics. A lesson pointing at both is returned once.
func lessonsUnder(ctx context.Context, g Gateway, chapterIDs, topicIDs []string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	collect := func(level course.Level, parents []string) error {
		if len(parents) == 0 {
			return nil
		}
		lessons, err := g.Lessons().ListByParent(ctx, level, parents...)
		if err != nil {
			return fmt.Errorf("list lessons by %s: %w", level, err)
		}
		for _, l := range lessons {
			if !seen[l.ID] {
				seen[l.ID] = true
				ids = append(ids, l.ID)
			}
		}
		return nil
	}
	if err := collect(course.LevelTopic, topicIDs); err != nil {
		return nil, err
	}
	if err := collect(course.LevelChapter, chapterIDs); err != nil {
		return nil, err
	}
	return ids, nil
}

func nodeIDs(nodes []course.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
