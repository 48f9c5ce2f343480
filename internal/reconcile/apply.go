package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/logger"
)

// Failure is a single gateway call that failed and was skipped.
type Failure struct {
	Op    string // "create", "update", "delete"
	Level course.Level
	Key   course.Key // zero for orphans
	Name  string
	ID    string
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s %q: %v", f.Op, f.Level, f.Name, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Result summarizes Apply.
type Result struct {
	Level course.Level
	// IDs maps every resolved candidate key to its node ID. Candidates
	// whose create failed are absent.
	IDs       IDMap
	Created   int
	Updated   int
	Unchanged int
	// Adopted counts creates that found the node already present when
	// re-checked, typically written by a concurrent run.
	Adopted  int
	Deleted  int
	Retained int
	// Removed counts descendants deleted along with orphans.
	Removed  gateway.Removed
	Failures []Failure
}

// Load lists the persisted nodes at level under the parents in parents.
func Load(ctx context.Context, g gateway.Gateway, level course.Level, parents IDMap) ([]course.Node, error) {
	ids := parents.ParentIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	nodes, err := gateway.Nodes(g, level).ListByParent(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", level, err)
	}
	return nodes, nil
}

// Apply executes plan against g. Failed calls are recorded in the result
// and skipped. Apply returns an error only when the gateway is unavailable
// or ctx is done; the partial result is returned alongside it.
func Apply(ctx context.Context, g gateway.Gateway, plan Plan, policy OrphanPolicy, courseID string, log *logger.Logger) (*Result, error) {
	repo := gateway.Nodes(g, plan.Level)
	if repo == nil {
		return nil, fmt.Errorf("apply: %s is not a node level", plan.Level)
	}
	log = log.With("level", plan.Level.String())
	res := &Result{Level: plan.Level, IDs: make(IDMap, len(plan.Actions))}

	for _, dup := range plan.Duplicates {
		log.Warn("duplicate natural key, matched earliest", "key", dup.Key.String(), "matched", dup.Matched, "others", dup.Others)
	}

	for _, a := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch a.Kind {
		case ActionNoOp:
			res.IDs[a.Key] = a.NodeID
			res.Unchanged++

		case ActionUpdate:
			// The node exists either way, so children can still resolve.
			res.IDs[a.Key] = a.NodeID
			if err := repo.UpdateOrder(ctx, a.NodeID, a.Order); err != nil {
				if fatal(err) {
					return res, err
				}
				res.fail("update", a, err, log)
				continue
			}
			log.Debug("updated order", "key", a.Key.String(), "from", a.FromOrder, "to", a.Order)
			res.Updated++

		case ActionCreate:
			if err := res.create(ctx, repo, a, courseID, log); err != nil {
				return res, err
			}
		}
	}

	if err := res.handleOrphans(ctx, g, plan, policy, log); err != nil {
		return res, err
	}

	log.Info("level reconciled",
		"created", res.Created, "updated", res.Updated, "unchanged", res.Unchanged,
		"deleted", res.Deleted, "retained", res.Retained, "failed", len(res.Failures))
	return res, nil
}

// create re-checks the natural key before inserting so that a node written
// since Diff is adopted instead of duplicated.
func (res *Result) create(ctx context.Context, repo gateway.NodeRepo, a Action, courseID string, log *logger.Logger) error {
	existing, err := repo.FindByNaturalKey(ctx, a.ParentID, a.Key.Name())
	if err != nil {
		if fatal(err) {
			return err
		}
		res.fail("create", a, err, log)
		return nil
	}
	if len(existing) > 0 {
		n := existing[0]
		res.IDs[a.Key] = n.ID
		res.Adopted++
		log.Warn("node appeared before create, adopting", "key", a.Key.String(), "id", n.ID)
		if n.Order != a.Order {
			if err := repo.UpdateOrder(ctx, n.ID, a.Order); err != nil {
				if fatal(err) {
					return err
				}
				res.fail("update", a, err, log)
				return nil
			}
			res.Updated++
		} else {
			res.Unchanged++
		}
		return nil
	}

	n, err := repo.Create(ctx, course.Node{
		Level:    a.Level,
		CourseID: courseID,
		ParentID: a.ParentID,
		Name:     a.Key.Name(),
		Order:    a.Order,
	})
	if err != nil {
		if fatal(err) {
			return err
		}
		res.fail("create", a, err, log)
		return nil
	}
	res.IDs[a.Key] = n.ID
	res.Created++
	log.Debug("created", "key", a.Key.String(), "id", n.ID, "order", a.Order)
	return nil
}

func (res *Result) handleOrphans(ctx context.Context, g gateway.Gateway, plan Plan, policy OrphanPolicy, log *logger.Logger) error {
	if len(plan.Orphans) == 0 {
		return nil
	}
	if policy.For(plan.Level) != OrphanDelete {
		for _, n := range plan.Orphans {
			log.Info("orphan retained", "name", n.Name, "id", n.ID)
		}
		res.Retained = len(plan.Orphans)
		return nil
	}

	for _, n := range plan.Orphans {
		if err := ctx.Err(); err != nil {
			return err
		}
		removed, err := gateway.DeleteSubtree(ctx, g, plan.Level, n.ID)
		if err != nil {
			// Descendants removed before the failure still count.
			res.Removed.Add(descendants(removed, plan.Level))
			if fatal(err) {
				return err
			}
			res.Failures = append(res.Failures, Failure{Op: "delete", Level: plan.Level, Name: n.Name, ID: n.ID, Err: err})
			log.Warn("orphan delete failed", "name", n.Name, "id", n.ID, "error", err)
			continue
		}
		res.Deleted++
		res.Removed.Add(descendants(removed, plan.Level))
		log.Info("orphan deleted", "name", n.Name, "id", n.ID, "lessons", removed.Lessons)
	}
	return nil
}

func (res *Result) fail(op string, a Action, err error, log *logger.Logger) {
	res.Failures = append(res.Failures, Failure{Op: op, Level: a.Level, Key: a.Key, Name: a.Key.Name(), ID: a.NodeID, Err: err})
	log.Warn(op+" failed", "key", a.Key.String(), "error", err)
}

// descendants drops the level's own count from r.
func descendants(r gateway.Removed, level course.Level) gateway.Removed {
	switch level {
	case course.LevelUnit:
		r.Units = 0
	case course.LevelChapter:
		r.Chapters = 0
	case course.LevelTopic:
		r.Topics = 0
	}
	return r
}

func fatal(err error) bool {
	return gateway.IsUnavailable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
