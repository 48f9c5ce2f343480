// Package hierarchy groups normalized source records into the candidate
// Unit → Chapter → Topic tree.
package hierarchy

import (
	"github.com/roach88/syllabus/internal/course"
)

// Candidate is one source-derived node awaiting reconciliation.
type Candidate struct {
	Key   course.Key `json:"key"`
	Order int        `json:"order"`
}

// Tree is the candidate hierarchy. Children appear in first-appearance
// order, and each child's Order is its 1-based rank within its parent.
type Tree struct {
	Units []*Unit
}

type Unit struct {
	Candidate
	Chapters []*Chapter
}

type Chapter struct {
	Candidate
	Topics []*Topic
}

type Topic struct {
	Candidate
	// Lessons keep source order.
	Lessons []course.SourceRecord
}

// Build groups records. A key seen for the first time under a parent gets
// order = distinct keys already seen under that parent + 1.
func Build(records []course.SourceRecord) *Tree {
	t := &Tree{}
	units := map[course.Key]*Unit{}
	chapters := map[course.Key]*Chapter{}
	topics := map[course.Key]*Topic{}

	for _, rec := range records {
		uk := course.Key{Unit: rec.Key.Unit}
		u, ok := units[uk]
		if !ok {
			u = &Unit{Candidate: Candidate{Key: uk, Order: len(t.Units) + 1}}
			units[uk] = u
			t.Units = append(t.Units, u)
		}

		ck := rec.Key.Parent()
		c, ok := chapters[ck]
		if !ok {
			c = &Chapter{Candidate: Candidate{Key: ck, Order: len(u.Chapters) + 1}}
			chapters[ck] = c
			u.Chapters = append(u.Chapters, c)
		}

		tp, ok := topics[rec.Key]
		if !ok {
			tp = &Topic{Candidate: Candidate{Key: rec.Key, Order: len(c.Topics) + 1}}
			topics[rec.Key] = tp
			c.Topics = append(c.Topics, tp)
		}
		tp.Lessons = append(tp.Lessons, rec)
	}
	return t
}

// Candidates flattens one level of the tree, parents before children and
// siblings in order.
func (t *Tree) Candidates(level course.Level) []Candidate {
	var out []Candidate
	for _, u := range t.Units {
		if level == course.LevelUnit {
			out = append(out, u.Candidate)
			continue
		}
		for _, c := range u.Chapters {
			if level == course.LevelChapter {
				out = append(out, c.Candidate)
				continue
			}
			for _, tp := range c.Topics {
				out = append(out, tp.Candidate)
			}
		}
	}
	return out
}

// Records returns the lesson records in tree order.
func (t *Tree) Records() []course.SourceRecord {
	var out []course.SourceRecord
	for _, u := range t.Units {
		for _, c := range u.Chapters {
			for _, tp := range c.Topics {
				out = append(out, tp.Lessons...)
			}
		}
	}
	return out
}

// Counts reports how many distinct nodes each level holds.
type Counts struct {
	Units    int `json:"units"`
	Chapters int `json:"chapters"`
	Topics   int `json:"topics"`
	Lessons  int `json:"lessons"`
}

func (t *Tree) Counts() Counts {
	var c Counts
	c.Units = len(t.Units)
	for _, u := range t.Units {
		c.Chapters += len(u.Chapters)
		for _, ch := range u.Chapters {
			c.Topics += len(ch.Topics)
			for _, tp := range ch.Topics {
				c.Lessons += len(tp.Lessons)
			}
		}
	}
	return c
}
