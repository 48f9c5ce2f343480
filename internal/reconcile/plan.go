package reconcile

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/hierarchy"
)

type ActionKind int

const (
	ActionNoOp ActionKind = iota
	ActionUpdate
	ActionCreate
)

func (k ActionKind) String() string {
	switch k {
	case ActionNoOp:
		return "noop"
	case ActionUpdate:
		return "update"
	case ActionCreate:
		return "create"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Action is one reconciliation step for a candidate.
type Action struct {
	Kind     ActionKind
	Level    course.Level
	Key      course.Key
	ParentID string
	NodeID   string // empty for creates
	Order    int    // desired order
	// FromOrder is the persisted order an update corrects.
	FromOrder int
}

func (a Action) String() string {
	switch a.Kind {
	case ActionUpdate:
		return fmt.Sprintf("update %s %q order %d->%d", a.Level, a.Key.Name(), a.FromOrder, a.Order)
	case ActionCreate:
		return fmt.Sprintf("create %s %q order %d", a.Level, a.Key.Name(), a.Order)
	default:
		return fmt.Sprintf("noop %s %q", a.Level, a.Key.Name())
	}
}

// IDMap maps natural keys to persisted IDs. The unit level's parent map
// holds the course ID under the zero Key.
type IDMap map[course.Key]string

// ParentIDs returns the distinct IDs in m, sorted.
func (m IDMap) ParentIDs() []string {
	seen := make(map[string]bool, len(m))
	ids := make([]string, 0, len(m))
	for _, id := range m {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// CourseParents is the parent map for the unit level.
func CourseParents(courseID string) IDMap {
	return IDMap{{}: courseID}
}

// Duplicate notes a natural key held by more than one persisted node.
type Duplicate struct {
	Key     course.Key
	Matched string
	Others  []string
}

// Plan is the outcome of diffing one level.
type Plan struct {
	Level   course.Level
	Actions []Action
	// Orphans are persisted nodes no candidate matched, in list order.
	Orphans []course.Node
	// Unresolved candidates have no parent ID and were left out of Actions.
	Unresolved []hierarchy.Candidate
	Duplicates []Duplicate
}

// Count returns how many actions of kind the plan holds.
func (p Plan) Count(kind ActionKind) int {
	n := 0
	for _, a := range p.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

type naturalKey struct {
	parentID string
	name     string
}

// Diff computes the plan for level. parents maps each candidate's parent
// key to its persisted ID. persisted should hold the nodes at level under
// those parents; nodes under other parents are ignored.
func Diff(level course.Level, candidates []hierarchy.Candidate, parents IDMap, persisted []course.Node) Plan {
	plan := Plan{Level: level}

	inScope := make(map[string]bool, len(parents))
	for _, id := range parents {
		inScope[id] = true
	}

	groups := make(map[naturalKey][]course.Node)
	for _, n := range persisted {
		if !inScope[n.ParentID] {
			continue
		}
		k := naturalKey{n.ParentID, n.Name}
		groups[k] = append(groups[k], n)
	}
	for _, g := range groups {
		slices.SortFunc(g, earliestFirst)
	}

	matched := make(map[naturalKey]bool)
	for _, c := range candidates {
		parentID, ok := parents[c.Key.Parent()]
		if !ok || parentID == "" {
			plan.Unresolved = append(plan.Unresolved, c)
			continue
		}
		k := naturalKey{parentID, c.Key.Name()}
		if matched[k] {
			// Two candidates with one key cannot come out of the builder;
			// treat a repeat as already handled.
			continue
		}
		matched[k] = true

		action := Action{Level: level, Key: c.Key, ParentID: parentID, Order: c.Order}
		group := groups[k]
		switch {
		case len(group) == 0:
			action.Kind = ActionCreate
		case group[0].Order != c.Order:
			action.Kind = ActionUpdate
			action.NodeID = group[0].ID
			action.FromOrder = group[0].Order
		default:
			action.Kind = ActionNoOp
			action.NodeID = group[0].ID
			action.FromOrder = group[0].Order
		}
		if len(group) > 1 {
			dup := Duplicate{Key: c.Key, Matched: group[0].ID}
			for _, n := range group[1:] {
				dup.Others = append(dup.Others, n.ID)
			}
			plan.Duplicates = append(plan.Duplicates, dup)
		}
		plan.Actions = append(plan.Actions, action)
	}

	for _, n := range persisted {
		if inScope[n.ParentID] && !matched[naturalKey{n.ParentID, n.Name}] {
			plan.Orphans = append(plan.Orphans, n)
		}
	}
	return plan
}

// earliestFirst orders nodes by creation time, then ID.
func earliestFirst(a, b course.Node) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
