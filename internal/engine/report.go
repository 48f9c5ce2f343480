package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/dedup"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/hierarchy"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// StageReport holds the counts of one level.
type StageReport struct {
	Stage     State        `json:"stage"`
	Level     course.Level `json:"level"`
	Created   int          `json:"created"`
	Updated   int          `json:"updated"`
	Unchanged int          `json:"unchanged"`
	Deleted   int          `json:"deleted"`
	Retained  int          `json:"retained"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	// Removed counts descendants deleted with orphans.
	Removed gateway.Removed `json:"removed"`
}

// SourceReport summarizes normalization.
type SourceReport struct {
	Rows     int              `json:"rows"`
	Records  int              `json:"records"`
	Rejected int              `json:"rejected"`
	Tree     hierarchy.Counts `json:"tree"`
}

// DedupReport summarizes a duplicate resolution pass.
type DedupReport struct {
	Levels []dedup.LevelResult `json:"levels"`
	Total  gateway.Removed     `json:"total"`
}

// Report is the outcome of a run. It is filled in as stages complete, so
// a failed run reports everything up to the failing stage.
type Report struct {
	Course  course.Course `json:"course"`
	State   State         `json:"state"`
	Status  Status        `json:"status"`
	States  []State       `json:"states"`
	Dedup   *DedupReport  `json:"dedup,omitempty"`
	Source  *SourceReport `json:"source,omitempty"`
	Stages  []StageReport `json:"stages,omitempty"`
	Issues  []*SyncError  `json:"issues"`
	Options Options       `json:"options"`
}

// Stage returns the report of one level, and false if it never ran.
func (r *Report) Stage(level course.Level) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Level == level {
			return s, true
		}
	}
	return StageReport{}, false
}

// IssueCount returns how many issues carry code.
func (r *Report) IssueCount(code ErrorCode) int {
	n := 0
	for _, i := range r.Issues {
		if i.Code == code {
			n++
		}
	}
	return n
}

func (r *Report) addIssue(e *SyncError) {
	r.Issues = append(r.Issues, e)
}

// finish sets the final state and derives the status.
func (r *Report) finish(m *machine) {
	r.State = m.current
	r.States = m.history
	switch {
	case m.current == StateFailed:
		r.Status = StatusFailed
	case len(r.Issues) > 0:
		r.Status = StatusDegraded
	default:
		r.Status = StatusOK
	}
}

// WriteText renders the report for terminals.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Course %s (%s)\n", r.Course.Slug, r.Course.ID)

	if r.Dedup != nil {
		b.WriteString("\nDeduplicate\n")
		for _, lr := range r.Dedup.Levels {
			fmt.Fprintf(&b, "  %-8s groups=%d removed=%d", lr.Level, lr.Groups, lr.Removed)
			if d := lr.Descendants; d.Total() > 0 {
				fmt.Fprintf(&b, " (+%s)", removedText(d))
			}
			b.WriteString("\n")
		}
	}

	if r.Source != nil {
		s := r.Source
		b.WriteString("\nSource\n")
		fmt.Fprintf(&b, "  rows=%d records=%d rejected=%d\n", s.Rows, s.Records, s.Rejected)
		fmt.Fprintf(&b, "  units=%d chapters=%d topics=%d lessons=%d\n", s.Tree.Units, s.Tree.Chapters, s.Tree.Topics, s.Tree.Lessons)
	}

	if len(r.Stages) > 0 {
		b.WriteString("\nStages\n")
		for _, s := range r.Stages {
			fmt.Fprintf(&b, "  %-8s created=%d updated=%d unchanged=%d deleted=%d retained=%d skipped=%d failed=%d",
				s.Level, s.Created, s.Updated, s.Unchanged, s.Deleted, s.Retained, s.Skipped, s.Failed)
			if s.Removed.Total() > 0 {
				fmt.Fprintf(&b, " (+%s)", removedText(s.Removed))
			}
			b.WriteString("\n")
		}
	}

	if len(r.Issues) > 0 {
		fmt.Fprintf(&b, "\nIssues (%d)\n", len(r.Issues))
		for _, i := range r.Issues {
			fmt.Fprintf(&b, "  %s\n", i.Error())
		}
	}

	fmt.Fprintf(&b, "\nStatus: %s (%s)\n", r.Status, r.State)
	_, err := io.WriteString(w, b.String())
	return err
}

func removedText(r gateway.Removed) string {
	var parts []string
	for _, l := range []course.Level{course.LevelUnit, course.LevelChapter, course.LevelTopic, course.LevelLesson} {
		if n := r.At(l); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %ss", n, l))
		}
	}
	return strings.Join(parts, ", ")
}
