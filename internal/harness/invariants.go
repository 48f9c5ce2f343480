package harness

import (
	"fmt"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/engine"
)

// Snapshot is the whole store after a step, every course included.
type Snapshot struct {
	// CourseID is the scenario course.
	CourseID string
	Courses  map[string]bool
	Nodes    map[course.Level][]course.Node
	Lessons  []course.Lesson
}

func (s *Snapshot) nodeIndex(level course.Level) map[string]course.Node {
	m := make(map[string]course.Node, len(s.Nodes[level]))
	for _, n := range s.Nodes[level] {
		m[n.ID] = n
	}
	return m
}

// Invariant is a structural property checked after every step it
// applies to.
type Invariant struct {
	Name        string
	Description string
	// When reports whether the invariant applies after a step. Nil means
	// always.
	When  func(StepResult) bool
	Check func(*Snapshot) []string
}

// Invariants are checked by Run after every step.
var Invariants = []Invariant{
	{
		Name:        "parents",
		Description: "every node's parent exists one level up in the same course",
		Check:       checkParents,
	},
	{
		Name:        "lesson_refs",
		Description: "every lesson references an existing topic of its chapter",
		Check:       checkLessonRefs,
	},
	{
		Name:        "positive_order",
		Description: "every node and lesson has order >= 1",
		Check:       checkOrders,
	},
	{
		Name:        "unique_slugs",
		Description: "a clean run leaves one lesson per slug in the course",
		When:        clean,
		Check:       checkUniqueSlugs,
	},
	{
		Name:        "unique_keys",
		Description: "a clean deduplication leaves one node per natural key",
		When: func(sr StepResult) bool {
			return clean(sr) && sr.Report.Dedup != nil
		},
		Check: checkUniqueKeys,
	},
}

// clean reports whether a step finished with no persistence failures.
func clean(sr StepResult) bool {
	return sr.Report != nil &&
		sr.Report.State == engine.StateDone &&
		sr.Report.IssueCount(engine.ErrCodePersistence) == 0
}

func checkParents(s *Snapshot) []string {
	var out []string
	for _, n := range s.Nodes[course.LevelUnit] {
		if n.ParentID != n.CourseID || !s.Courses[n.CourseID] {
			out = append(out, fmt.Sprintf("unit %s (%q) has no course %s", n.ID, n.Name, n.ParentID))
		}
	}
	for _, level := range []course.Level{course.LevelChapter, course.LevelTopic} {
		parents := s.nodeIndex(level - 1)
		for _, n := range s.Nodes[level] {
			p, ok := parents[n.ParentID]
			if !ok {
				out = append(out, fmt.Sprintf("%s %s (%q) has no parent %s", level, n.ID, n.Name, n.ParentID))
				continue
			}
			if p.CourseID != n.CourseID {
				out = append(out, fmt.Sprintf("%s %s is in course %s, its parent in %s", level, n.ID, n.CourseID, p.CourseID))
			}
		}
	}
	return out
}

func checkLessonRefs(s *Snapshot) []string {
	chapters := s.nodeIndex(course.LevelChapter)
	topics := s.nodeIndex(course.LevelTopic)
	var out []string
	for _, l := range s.Lessons {
		t, ok := topics[l.TopicID]
		if !ok {
			out = append(out, fmt.Sprintf("lesson %s (%s) has no topic %s", l.ID, l.Slug, l.TopicID))
			continue
		}
		if _, ok := chapters[l.ChapterID]; !ok {
			out = append(out, fmt.Sprintf("lesson %s (%s) has no chapter %s", l.ID, l.Slug, l.ChapterID))
			continue
		}
		if t.ParentID != l.ChapterID {
			out = append(out, fmt.Sprintf("lesson %s (%s): topic %s belongs to chapter %s, not %s", l.ID, l.Slug, t.ID, t.ParentID, l.ChapterID))
		}
		if t.CourseID != l.CourseID {
			out = append(out, fmt.Sprintf("lesson %s (%s) is in course %s, its topic in %s", l.ID, l.Slug, l.CourseID, t.CourseID))
		}
	}
	return out
}

func checkOrders(s *Snapshot) []string {
	var out []string
	for _, level := range []course.Level{course.LevelUnit, course.LevelChapter, course.LevelTopic} {
		for _, n := range s.Nodes[level] {
			if n.Order < 1 {
				out = append(out, fmt.Sprintf("%s %s (%q) has order %d", level, n.ID, n.Name, n.Order))
			}
		}
	}
	for _, l := range s.Lessons {
		if l.Order < 1 {
			out = append(out, fmt.Sprintf("lesson %s (%s) has order %d", l.ID, l.Slug, l.Order))
		}
	}
	return out
}

func checkUniqueSlugs(s *Snapshot) []string {
	seen := make(map[string]string)
	var out []string
	for _, l := range s.Lessons {
		if l.CourseID != s.CourseID {
			continue
		}
		if first, dup := seen[l.Slug]; dup {
			out = append(out, fmt.Sprintf("slug %s held by %s and %s", l.Slug, first, l.ID))
			continue
		}
		seen[l.Slug] = l.ID
	}
	return out
}

func checkUniqueKeys(s *Snapshot) []string {
	type key struct{ parent, name string }
	var out []string
	for _, level := range []course.Level{course.LevelUnit, course.LevelChapter, course.LevelTopic} {
		seen := make(map[key]string)
		for _, n := range s.Nodes[level] {
			if n.CourseID != s.CourseID {
				continue
			}
			k := key{n.ParentID, n.Name}
			if first, dup := seen[k]; dup {
				out = append(out, fmt.Sprintf("%s %q under %s held by %s and %s", level, n.Name, n.ParentID, first, n.ID))
				continue
			}
			seen[k] = n.ID
		}
	}
	return out
}
