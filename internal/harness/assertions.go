package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/engine"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

var stageCounters = map[string]func(engine.StageReport) int{
	"created":   func(s engine.StageReport) int { return s.Created },
	"updated":   func(s engine.StageReport) int { return s.Updated },
	"unchanged": func(s engine.StageReport) int { return s.Unchanged },
	"deleted":   func(s engine.StageReport) int { return s.Deleted },
	"retained":  func(s engine.StageReport) int { return s.Retained },
	"skipped":   func(s engine.StageReport) int { return s.Skipped },
	"failed":    func(s engine.StageReport) int { return s.Failed },
}

// evaluate dispatches one assertion. Assertions are validated on load, so
// levels parse here.
func evaluate(a Assertion, result *Result, snap *Snapshot) error {
	switch a.Type {
	case AssertNodeCount:
		return assertNodeCount(a, snap)
	case AssertNode:
		return assertNode(a, result.Tree)
	case AssertLessonCount:
		return assertLessonCount(a, snap)
	case AssertLesson:
		return assertLesson(a, result.Tree)
	case AssertIssueCount:
		return assertIssueCount(a, result)
	case AssertStage:
		return assertStage(a, result)
	case AssertStates:
		return assertStates(a, result)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertNodeCount(a Assertion, snap *Snapshot) error {
	level, _ := course.ParseLevel(a.Level)
	n := 0
	for _, node := range snap.Nodes[level] {
		if node.CourseID == snap.CourseID {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertNodeCount,
			Expected: fmt.Sprintf("%d %ss", *a.Count, level),
			Actual:   fmt.Sprint(n),
		}
	}
	return nil
}

// findNode walks path by name, taking the first match at each level.
func findNode(tree *Tree, path []string) (TreeNode, bool) {
	nodes := tree.Units
	var found TreeNode
	for _, name := range path {
		i := slices.IndexFunc(nodes, func(n TreeNode) bool { return n.Name == name })
		if i < 0 {
			return TreeNode{}, false
		}
		found = nodes[i]
		nodes = found.Children
	}
	return found, true
}

func assertNode(a Assertion, tree *Tree) error {
	path := strings.Join(a.Path, " > ")
	n, ok := findNode(tree, a.Path)
	switch {
	case a.Absent && ok:
		return &AssertionError{Type: AssertNode, Expected: path + " absent", Actual: "present"}
	case a.Absent:
		return nil
	case !ok:
		return &AssertionError{Type: AssertNode, Expected: path + " present", Actual: "absent"}
	case a.Order != 0 && n.Order != a.Order:
		return &AssertionError{Type: AssertNode, Expected: fmt.Sprintf("%s at order %d", path, a.Order), Actual: fmt.Sprintf("order %d", n.Order)}
	}
	return nil
}

func assertLessonCount(a Assertion, snap *Snapshot) error {
	n := 0
	for _, l := range snap.Lessons {
		if l.CourseID == snap.CourseID {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{Type: AssertLessonCount, Expected: fmt.Sprintf("%d lessons", *a.Count), Actual: fmt.Sprint(n)}
	}
	return nil
}

// findLesson returns the lesson with slug and the topic path holding it.
func findLesson(tree *Tree, slug string) (TreeLesson, []string, bool) {
	for _, u := range tree.Units {
		for _, ch := range u.Children {
			for _, t := range ch.Children {
				for _, l := range t.Lessons {
					if l.Slug == slug {
						return l, []string{u.Name, ch.Name, t.Name}, true
					}
				}
			}
		}
	}
	return TreeLesson{}, nil, false
}

func assertLesson(a Assertion, tree *Tree) error {
	l, path, ok := findLesson(tree, a.Slug)
	fail := func(expected, actual string) error {
		return &AssertionError{Type: AssertLesson, Expected: fmt.Sprintf("lesson %s %s", a.Slug, expected), Actual: actual}
	}
	switch {
	case a.Absent && ok:
		return fail("absent", "present")
	case a.Absent:
		return nil
	case !ok:
		return fail("present", "absent")
	}
	if len(a.Path) > 0 && !slices.Equal(path, a.Path) {
		return fail("under "+strings.Join(a.Path, " > "), strings.Join(path, " > "))
	}
	if a.Order != 0 && l.Order != a.Order {
		return fail(fmt.Sprintf("at order %d", a.Order), fmt.Sprintf("order %d", l.Order))
	}
	if a.Title != "" && l.Title != a.Title {
		return fail(fmt.Sprintf("titled %q", a.Title), fmt.Sprintf("%q", l.Title))
	}
	if a.Preview != nil && l.Preview != *a.Preview {
		return fail(fmt.Sprintf("preview=%t", *a.Preview), fmt.Sprintf("preview=%t", l.Preview))
	}
	if a.Tags != nil && !slices.Equal(l.Tags, a.Tags) {
		return fail(fmt.Sprintf("tagged %v", a.Tags), fmt.Sprint(l.Tags))
	}
	return nil
}

func stepReport(a Assertion, result *Result) (*engine.Report, error) {
	sr, ok := result.Step(a.Step)
	if !ok {
		return nil, fmt.Errorf("%s: no step %d", a.Type, a.Step)
	}
	if sr.Report == nil {
		return nil, fmt.Errorf("%s: step %d has no report (error: %s)", a.Type, a.Step, sr.Err)
	}
	return sr.Report, nil
}

func assertIssueCount(a Assertion, result *Result) error {
	rep, err := stepReport(a, result)
	if err != nil {
		return err
	}
	n := len(rep.Issues)
	if a.Code != "" {
		n = rep.IssueCount(engine.ErrorCode(a.Code))
	}
	if n != *a.Count {
		var codes []string
		for _, i := range rep.Issues {
			codes = append(codes, string(i.Code))
		}
		return &AssertionError{
			Type:     AssertIssueCount,
			Expected: fmt.Sprintf("%d issues with code %q", *a.Count, a.Code),
			Actual:   fmt.Sprintf("%d of %v", n, codes),
		}
	}
	return nil
}

func assertStage(a Assertion, result *Result) error {
	rep, err := stepReport(a, result)
	if err != nil {
		return err
	}
	level, _ := course.ParseLevel(a.Level)
	stage, ok := rep.Stage(level)
	if !ok {
		return &AssertionError{Type: AssertStage, Expected: fmt.Sprintf("%s stage", level), Actual: "stage did not run"}
	}
	var diffs []string
	for _, name := range sortedKeys(a.Expect) {
		if got := stageCounters[name](stage); got != a.Expect[name] {
			diffs = append(diffs, fmt.Sprintf("%s=%d (want %d)", name, got, a.Expect[name]))
		}
	}
	if len(diffs) > 0 {
		return &AssertionError{Type: AssertStage, Expected: fmt.Sprintf("%s counters %v", level, a.Expect), Actual: strings.Join(diffs, ", ")}
	}
	return nil
}

func assertStates(a Assertion, result *Result) error {
	rep, err := stepReport(a, result)
	if err != nil {
		return err
	}
	got := make([]string, len(rep.States))
	for i, s := range rep.States {
		got[i] = string(s)
	}
	if !slices.Equal(got, a.States) {
		return &AssertionError{Type: AssertStates, Expected: strings.Join(a.States, " > "), Actual: strings.Join(got, " > ")}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
