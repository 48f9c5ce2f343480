package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/engine"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/logger"
	"github.com/roach88/syllabus/internal/memstore"
	"github.com/roach88/syllabus/internal/source"
	"github.com/roach88/syllabus/internal/testutil"
)

// Harness executes one scenario. Each scenario gets its own Harness and
// its own store.
type Harness struct {
	store   *memstore.Store
	ids     *testutil.SequentialIDs
	log     *logger.Logger
	opts    engine.Options
	courses map[string]course.Course
	target  course.Course

	// failOn is the rule set of the step being run.
	failOn []FailRule
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Create a fresh memstore with a deterministic clock and IDs
//  2. Seed the persisted hierarchy
//  3. Execute the steps, checking expectations and invariants after each
//  4. Snapshot the scenario course and evaluate the assertions
//
// The returned error is non-nil only when the scenario could not be run
// at all; failed checks are reported on the Result.
func Run(scenario *Scenario) (*Result, error) {
	clock := testutil.NewDeterministicClock()
	ids := testutil.NewSequentialIDs()
	h := &Harness{
		store:   memstore.New(memstore.WithClock(clock.Now), memstore.WithIDs(ids)),
		ids:     ids,
		log:     logger.NewNop(),
		opts:    scenario.Policy.Apply(engineDefaults()),
		courses: make(map[string]course.Course),
	}
	h.store.Fail = h.fail

	h.target = h.course(scenario.Course)
	for _, sc := range scenario.Seed {
		slug := sc.Course
		if slug == "" {
			slug = scenario.Course
		}
		h.seed(h.course(slug), sc.Units)
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		sr, err := h.runStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		result.Steps = append(result.Steps, sr)
		checkExpect(i+1, step.Expect, sr, result)

		snap := h.snapshot()
		for _, inv := range Invariants {
			if inv.When != nil && !inv.When(sr) {
				continue
			}
			for _, v := range inv.Check(snap) {
				result.AddError(fmt.Sprintf("step %d: invariant %s: %s", i+1, inv.Name, v))
			}
		}
	}

	tree, err := LoadTree(ctx, h.store, h.target)
	if err != nil {
		return nil, fmt.Errorf("load tree: %w", err)
	}
	result.Tree = tree

	snap := h.snapshot()
	for i, a := range scenario.Assertions {
		if err := evaluate(a, result, snap); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

func engineDefaults() engine.Options {
	return engine.DefaultOptions()
}

// course returns the course with slug, creating it on first use.
func (h *Harness) course(slug string) course.Course {
	if c, ok := h.courses[slug]; ok {
		return c
	}
	c := h.store.AddCourse(course.Course{ID: h.ids.Next("course"), Slug: slug, Title: slug})
	h.courses[slug] = c
	return c
}

func (h *Harness) seed(c course.Course, units []SeedNode) {
	for ui, u := range units {
		unit := h.store.AddNode(course.Node{
			Level: course.LevelUnit, CourseID: c.ID, ParentID: c.ID,
			Name: u.Name, Order: orderOr(u.Order, ui),
		})
		for ci, ch := range u.Chapters {
			chapter := h.store.AddNode(course.Node{
				Level: course.LevelChapter, CourseID: c.ID, ParentID: unit.ID,
				Name: ch.Name, Order: orderOr(ch.Order, ci),
			})
			for ti, t := range ch.Topics {
				topic := h.store.AddNode(course.Node{
					Level: course.LevelTopic, CourseID: c.ID, ParentID: chapter.ID,
					Name: t.Name, Order: orderOr(t.Order, ti),
				})
				for li, l := range t.Lessons {
					title := l.Title
					if title == "" {
						title = l.Slug
					}
					h.store.AddLesson(course.Lesson{
						CourseID: c.ID, ChapterID: chapter.ID, TopicID: topic.ID,
						Code: strings.ReplaceAll(l.Slug, "-", "_"), Slug: l.Slug,
						Title: title, Order: orderOr(l.Order, li),
					})
				}
			}
		}
	}
}

func orderOr(order, index int) int {
	if order > 0 {
		return order
	}
	return index + 1
}

// runStep runs one engine invocation. Engine errors are part of the step
// result; only an unreadable CSV is returned as an error.
func (h *Harness) runStep(ctx context.Context, step Step) (StepResult, error) {
	sr := StepResult{Op: step.Op}
	var rows []source.Row
	if step.Op == OpSync {
		var err error
		rows, err = source.ReadCSV(strings.NewReader(step.CSV))
		if err != nil {
			return sr, err
		}
	}

	h.failOn = step.FailOn
	h.store.SetUnavailable(step.Offline)
	defer func() {
		h.failOn = nil
		h.store.SetUnavailable(false)
	}()

	e := engine.New(h.store, h.log, h.opts)
	var (
		report *engine.Report
		err    error
	)
	switch step.Op {
	case OpSync:
		report, err = e.Sync(ctx, h.target.Slug, rows)
	case OpDedup:
		report, err = e.Dedup(ctx, h.target.Slug)
	}
	sr.Report = report
	if err != nil {
		sr.Err = err.Error()
	}
	return sr, nil
}

// fail is installed as the store's failure hook. It runs with the store
// lock held and must not call back into the store.
func (h *Harness) fail(op memstore.Op) error {
	for _, r := range h.failOn {
		if r.Kind != "" && r.Kind != op.Kind {
			continue
		}
		if r.Level != "" && r.Level != op.Level.String() {
			continue
		}
		if r.Name != "" && r.Name != op.Name {
			continue
		}
		return fmt.Errorf("injected failure: %s %s %q", op.Kind, op.Level, op.Name)
	}
	return nil
}

func (h *Harness) snapshot() *Snapshot {
	s := &Snapshot{
		CourseID: h.target.ID,
		Courses:  make(map[string]bool, len(h.courses)),
		Nodes:    make(map[course.Level][]course.Node, 3),
		Lessons:  h.store.AllLessons(),
	}
	for _, c := range h.courses {
		s.Courses[c.ID] = true
	}
	for _, level := range []course.Level{course.LevelUnit, course.LevelChapter, course.LevelTopic} {
		s.Nodes[level] = h.store.AllNodes(level)
	}
	return s
}

// checkExpect compares a step with its expectation.
func checkExpect(n int, want *StepExpect, sr StepResult, result *Result) {
	if want == nil {
		return
	}
	switch {
	case want.Error && sr.Err == "":
		result.AddError(fmt.Sprintf("step %d: expected an error", n))
	case !want.Error && sr.Err != "":
		result.AddError(fmt.Sprintf("step %d: unexpected error: %s", n, sr.Err))
	}
	if sr.Report == nil {
		if want.Status != "" || want.State != "" {
			result.AddError(fmt.Sprintf("step %d: no report", n))
		}
		return
	}
	if want.Status != "" && string(sr.Report.Status) != want.Status {
		result.AddError(fmt.Sprintf("step %d: status = %s, want %s", n, sr.Report.Status, want.Status))
	}
	if want.State != "" && string(sr.Report.State) != want.State {
		result.AddError(fmt.Sprintf("step %d: state = %s, want %s", n, sr.Report.State, want.State))
	}
}

// LoadTree reads the persisted hierarchy of c through g.
func LoadTree(ctx context.Context, g gateway.Gateway, c course.Course) (*Tree, error) {
	units, err := g.Units().ListByCourse(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	chapters, err := g.Chapters().ListByCourse(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	topics, err := g.Topics().ListByCourse(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	lessons, err := g.Lessons().ListByCourse(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	lessonsOf := make(map[string][]TreeLesson)
	for _, l := range lessons {
		lessonsOf[l.TopicID] = append(lessonsOf[l.TopicID], TreeLesson{
			Slug: l.Slug, Title: l.Title, Order: l.Order, Preview: l.Preview, Tags: l.Tags,
		})
	}
	children := func(nodes []course.Node, parentID string, fill func(course.Node) TreeNode) []TreeNode {
		var out []TreeNode
		for _, n := range nodes {
			if n.ParentID == parentID {
				out = append(out, fill(n))
			}
		}
		return out
	}

	tree := &Tree{Course: c.Slug}
	tree.Units = children(units, c.ID, func(u course.Node) TreeNode {
		return TreeNode{Name: u.Name, Order: u.Order, Children: children(chapters, u.ID, func(ch course.Node) TreeNode {
			return TreeNode{Name: ch.Name, Order: ch.Order, Children: children(topics, ch.ID, func(t course.Node) TreeNode {
				return TreeNode{Name: t.Name, Order: t.Order, Lessons: lessonsOf[t.ID]}
			})}
		})}
	})
	return tree, nil
}
