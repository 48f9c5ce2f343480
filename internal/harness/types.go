package harness

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/syllabus/internal/engine"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Op     string         `json:"op"`
	Report *engine.Report `json:"report,omitempty"`
	Err    string         `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation, assertion and invariant held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors holds one message per failed check. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Tree is the persisted hierarchy of the scenario course after the
	// last step.
	Tree *Tree `json:"tree"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Step returns step n (1-based), or the last step when n is 0.
func (r *Result) Step(n int) (StepResult, bool) {
	if n == 0 {
		n = len(r.Steps)
	}
	if n < 1 || n > len(r.Steps) {
		return StepResult{}, false
	}
	return r.Steps[n-1], true
}

// Tree is a persisted course hierarchy without IDs or timestamps.
type Tree struct {
	Course string     `json:"course"`
	Units  []TreeNode `json:"units"`
}

// TreeNode is a unit, chapter or topic. Only topics carry lessons.
type TreeNode struct {
	Name     string       `json:"name"`
	Order    int          `json:"order"`
	Children []TreeNode   `json:"children,omitempty"`
	Lessons  []TreeLesson `json:"lessons,omitempty"`
}

// TreeLesson is one lesson of a topic.
type TreeLesson struct {
	Slug    string   `json:"slug"`
	Title   string   `json:"title"`
	Order   int      `json:"order"`
	Preview bool     `json:"preview"`
	Tags    []string `json:"tags,omitempty"`
}

// WriteText renders the steps and the final tree, one line per record.
func (r *Result) WriteText(w io.Writer) error {
	var b strings.Builder
	for i, s := range r.Steps {
		fmt.Fprintf(&b, "step %d %s", i+1, s.Op)
		if s.Report == nil {
			fmt.Fprintf(&b, ": error %s\n", s.Err)
			continue
		}
		rep := s.Report
		fmt.Fprintf(&b, ": %s (%s)\n", rep.Status, rep.State)
		states := make([]string, len(rep.States))
		for i, st := range rep.States {
			states[i] = string(st)
		}
		fmt.Fprintf(&b, "  %s\n", strings.Join(states, " > "))
		if rep.Dedup != nil {
			for _, lr := range rep.Dedup.Levels {
				fmt.Fprintf(&b, "  dedup %-8s groups=%d removed=%d descendants=%d\n", lr.Level, lr.Groups, lr.Removed, lr.Descendants.Total())
			}
		}
		for _, st := range rep.Stages {
			fmt.Fprintf(&b, "  %-8s created=%d updated=%d unchanged=%d deleted=%d retained=%d skipped=%d failed=%d\n",
				st.Level, st.Created, st.Updated, st.Unchanged, st.Deleted, st.Retained, st.Skipped, st.Failed)
		}
		for _, issue := range rep.Issues {
			fmt.Fprintf(&b, "  issue %s", issue.Code)
			if issue.Level != 0 {
				fmt.Fprintf(&b, " %s", issue.Level)
			}
			if issue.Row > 0 {
				fmt.Fprintf(&b, " row %d", issue.Row)
			}
			if issue.Key != "" {
				fmt.Fprintf(&b, " %s", issue.Key)
			}
			b.WriteString("\n")
		}
	}
	if r.Tree != nil {
		fmt.Fprintf(&b, "tree %s\n", r.Tree.Course)
		writeNodes(&b, r.Tree.Units, 1)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeNodes(b *strings.Builder, nodes []TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		fmt.Fprintf(b, "%s%d. %s\n", indent, n.Order, n.Name)
		writeNodes(b, n.Children, depth+1)
		for _, l := range n.Lessons {
			fmt.Fprintf(b, "%s  %d. %s %q", indent, l.Order, l.Slug, l.Title)
			if l.Preview {
				b.WriteString(" preview")
			}
			if len(l.Tags) > 0 {
				fmt.Fprintf(b, " [%s]", strings.Join(l.Tags, ", "))
			}
			b.WriteString("\n")
		}
	}
}
