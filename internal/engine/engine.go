package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/dedup"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/hierarchy"
	"github.com/roach88/syllabus/internal/lessons"
	"github.com/roach88/syllabus/internal/logger"
	"github.com/roach88/syllabus/internal/reconcile"
	"github.com/roach88/syllabus/internal/source"
)

const tracerName = "github.com/roach88/syllabus/internal/engine"

// Options tune a run.
type Options struct {
	Orphans      reconcile.OrphanPolicy `json:"orphans"`
	LessonMode   lessons.Mode           `json:"lesson_mode"`
	DedupFirst   bool                   `json:"dedup_first"`
	Transactions bool                   `json:"transactions"`
}

// DefaultOptions keeps unit and chapter orphans, deletes topic orphans,
// regenerates lessons and runs each level in a transaction.
func DefaultOptions() Options {
	return Options{
		Orphans:      reconcile.DefaultOrphanPolicy(),
		LessonMode:   lessons.ModeRegenerate,
		Transactions: true,
	}
}

// Validate checks the option values.
func (o Options) Validate() error {
	if err := o.Orphans.Validate(); err != nil {
		return err
	}
	if _, err := lessons.ParseMode(string(o.LessonMode)); err != nil {
		return err
	}
	return nil
}

// Engine runs syncs against one gateway. Runs are sequential and an Engine
// holds no per-run state, so one Engine may serve several runs in turn.
type Engine struct {
	g      gateway.Gateway
	log    *logger.Logger
	opts   Options
	tracer trace.Tracer
}

// New creates an Engine. A nil logger discards output.
func New(g gateway.Gateway, log *logger.Logger, opts Options) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.LessonMode == "" {
		opts.LessonMode = lessons.ModeRegenerate
	}
	return &Engine{g: g, log: log, opts: opts, tracer: otel.Tracer(tracerName)}
}

// SetTracerProvider replaces the global tracer provider for this engine.
func (e *Engine) SetTracerProvider(tp trace.TracerProvider) {
	e.tracer = tp.Tracer(tracerName)
}

// run carries the state of one invocation.
type run struct {
	*Engine
	m      *machine
	report *Report
	log    *logger.Logger
}

// Sync reconciles course ref (id or slug) against rows.
//
// The returned error is non-nil in two cases. When the options are invalid
// or the course cannot be found the report is nil. When the gateway became
// unreachable the report is in StateFailed and the error is a *SyncError
// with ErrCodeConnectivity.
func (e *Engine) Sync(ctx context.Context, ref string, rows []source.Row) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "sync", trace.WithAttributes(attribute.String("course.ref", ref)))
	defer span.End()

	r, err := e.begin(ctx, ref)
	if r == nil {
		return nil, endSpan(span, err)
	}
	if err != nil {
		return r.report, endSpan(span, err)
	}
	err = r.sync(ctx, rows)
	r.report.finish(r.m)
	span.SetAttributes(attribute.String("sync.status", string(r.report.Status)), attribute.Int("sync.issues", len(r.report.Issues)))
	r.log.Info("sync finished", "status", string(r.report.Status), "issues", len(r.report.Issues))
	return r.report, endSpan(span, err)
}

// Dedup runs only the duplicate resolution pass for course ref.
func (e *Engine) Dedup(ctx context.Context, ref string) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "dedup", trace.WithAttributes(attribute.String("course.ref", ref)))
	defer span.End()

	r, err := e.begin(ctx, ref)
	if r == nil {
		return nil, endSpan(span, err)
	}
	if err != nil {
		return r.report, endSpan(span, err)
	}
	err = r.dedup(ctx)
	if err == nil {
		err = r.transition(StateDone)
	}
	r.report.finish(r.m)
	r.log.Info("dedup finished", "status", string(r.report.Status))
	return r.report, endSpan(span, err)
}

// begin validates options, checks connectivity and resolves the course.
// A nil run means the error is a usage error rather than a failed run.
func (e *Engine) begin(ctx context.Context, ref string) (*run, error) {
	if err := e.opts.Validate(); err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	r := &run{
		Engine: e,
		m:      newMachine(),
		report: &Report{Options: e.opts, Issues: []*SyncError{}},
		log:    e.log.With("course", ref),
	}

	if err := e.g.Ping(ctx); err != nil {
		return r, r.abort(StateIdle, err)
	}
	c, err := e.g.Courses().Find(ctx, ref)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, fmt.Errorf("resolve course: %w", err)
		}
		return r, r.abort(StateIdle, err)
	}
	r.report.Course = c
	r.log = e.log.With("course", c.Slug)
	return r, nil
}

func (r *run) transition(next State) error {
	if err := r.m.to(next); err != nil {
		return err
	}
	r.log.Debug("state", "state", string(next))
	return nil
}

// abort records a connectivity failure and moves to Failed.
func (r *run) abort(stage State, err error) error {
	se := connectivityError(stage, err)
	r.report.addIssue(se)
	_ = r.m.to(StateFailed)
	r.report.finish(r.m)
	r.log.Error("run aborted", "stage", string(stage), "error", err)
	return se
}

func (r *run) sync(ctx context.Context, rows []source.Row) error {
	if r.opts.DedupFirst {
		if err := r.dedup(ctx); err != nil {
			return err
		}
	}

	if err := r.transition(StateNormalizing); err != nil {
		return err
	}
	norm := source.Normalize(rows)
	tree := hierarchy.Build(norm.Records)
	r.report.Source = &SourceReport{
		Rows:     len(rows),
		Records:  len(norm.Records),
		Rejected: len(norm.Rejected),
		Tree:     tree.Counts(),
	}
	rejected := make([]lessons.Skip, 0, len(norm.Rejected))
	for _, rej := range norm.Rejected {
		err := fmt.Errorf("missing %v", rej.Missing)
		r.report.addIssue(&SyncError{
			Code:    ErrCodeSourceFormat,
			Stage:   StateNormalizing,
			Row:     rej.RowIndex,
			Key:     rej.Key.String(),
			Message: err.Error(),
			Err:     err,
		})
		rejected = append(rejected, lessons.Skip{Row: rej.RowIndex, Key: rej.Key, Reason: lessons.ReasonSourceFormat, Err: err})
		r.log.Warn("row rejected", "row", rej.RowIndex, "missing", rej.Missing)
	}
	r.log.Info("source normalized", "rows", len(rows), "records", len(norm.Records), "rejected", len(norm.Rejected))

	ids := reconcile.CourseParents(r.report.Course.ID)
	idMaps := make(map[course.Level]reconcile.IDMap, 3)
	for _, step := range []struct {
		level course.Level
		state State
	}{
		{course.LevelUnit, StateReconcilingUnits},
		{course.LevelChapter, StateReconcilingChapters},
		{course.LevelTopic, StateReconcilingTopics},
	} {
		if err := r.transition(step.state); err != nil {
			return err
		}
		res, err := r.reconcileLevel(ctx, step.level, step.state, tree, ids)
		if err != nil {
			return err
		}
		ids = res.IDs
		idMaps[step.level] = res.IDs
	}

	if err := r.transition(StateRegeneratingLessons); err != nil {
		return err
	}
	if err := r.rebuildLessons(ctx, norm.Records, idMaps, rejected); err != nil {
		return err
	}
	return r.transition(StateDone)
}

func (r *run) reconcileLevel(ctx context.Context, level course.Level, state State, tree *hierarchy.Tree, parents reconcile.IDMap) (*reconcile.Result, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile."+level.String())
	defer span.End()

	var plan reconcile.Plan
	var res *reconcile.Result
	err := gateway.RunInTx(ctx, r.g, r.opts.Transactions, func(tx gateway.Gateway) error {
		persisted, err := reconcile.Load(ctx, tx, level, parents)
		if err != nil {
			return err
		}
		plan = reconcile.Diff(level, tree.Candidates(level), parents, persisted)
		res, err = reconcile.Apply(ctx, tx, plan, r.opts.Orphans, r.report.Course.ID, r.log)
		return err
	})
	if err != nil {
		if fatalErr(err) {
			return nil, endSpan(span, r.abort(state, err))
		}
		// A non-fatal error escaping the level means the level could not be
		// read at all; nothing below it can resolve.
		r.report.addIssue(&SyncError{Code: ErrCodePersistence, Stage: state, Level: level, Message: err.Error(), Err: err})
		res = &reconcile.Result{Level: level, IDs: reconcile.IDMap{}}
	}

	for _, c := range plan.Unresolved {
		r.report.addIssue(&SyncError{
			Code:    ErrCodeKeyResolution,
			Stage:   state,
			Level:   level,
			Key:     c.Key.String(),
			Message: fmt.Sprintf("%s %q has no persisted parent", level, c.Key.Name()),
		})
	}
	for _, f := range res.Failures {
		e := newError(ErrCodePersistence, state, f)
		e.Level = level
		if f.Key != (course.Key{}) {
			e.Key = f.Key.String()
		}
		r.report.addIssue(e)
	}

	sr := StageReport{
		Stage:     state,
		Level:     level,
		Created:   res.Created,
		Updated:   res.Updated,
		Unchanged: res.Unchanged,
		Deleted:   res.Deleted,
		Retained:  res.Retained,
		Skipped:   len(plan.Unresolved),
		Failed:    len(res.Failures),
		Removed:   res.Removed,
	}
	r.report.Stages = append(r.report.Stages, sr)
	span.SetAttributes(stageAttributes(sr)...)
	return res, nil
}

func (r *run) rebuildLessons(ctx context.Context, records []course.SourceRecord, ids map[course.Level]reconcile.IDMap, rejected []lessons.Skip) error {
	ctx, span := r.tracer.Start(ctx, "lessons")
	defer span.End()

	in := lessons.Input{
		CourseID: r.report.Course.ID,
		Records:  records,
		Chapters: ids[course.LevelChapter],
		Topics:   ids[course.LevelTopic],
		Rejected: rejected,
	}
	var res *lessons.Result
	err := gateway.RunInTx(ctx, r.g, r.opts.Transactions, func(tx gateway.Gateway) error {
		var err error
		res, err = lessons.Run(ctx, tx, r.opts.LessonMode, in, r.log)
		return err
	})
	if err != nil {
		return endSpan(span, r.abort(StateRegeneratingLessons, err))
	}

	for _, s := range res.Skips {
		if s.Reason == lessons.ReasonSourceFormat {
			continue // reported while normalizing
		}
		e := newError(lessonCode(s.Reason), StateRegeneratingLessons, s)
		e.Level = course.LevelLesson
		e.Row = s.Row
		if s.Key != (course.Key{}) {
			e.Key = s.Key.String()
		}
		r.report.addIssue(e)
	}

	sr := StageReport{
		Stage:     StateRegeneratingLessons,
		Level:     course.LevelLesson,
		Created:   res.Created,
		Updated:   res.Updated,
		Unchanged: res.Unchanged,
		Deleted:   res.Deleted,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
	}
	r.report.Stages = append(r.report.Stages, sr)
	span.SetAttributes(stageAttributes(sr)...)
	return nil
}

func (r *run) dedup(ctx context.Context) error {
	if err := r.transition(StateDeduplicating); err != nil {
		return err
	}
	ctx, span := r.tracer.Start(ctx, "dedup.resolve")
	defer span.End()

	var res *dedup.Result
	err := gateway.RunInTx(ctx, r.g, r.opts.Transactions, func(tx gateway.Gateway) error {
		var err error
		res, err = dedup.Resolve(ctx, tx, r.report.Course.ID, r.log)
		return err
	})
	if err != nil {
		return endSpan(span, r.abort(StateDeduplicating, err))
	}
	for _, f := range res.Failures {
		e := newError(ErrCodePersistence, StateDeduplicating, f)
		e.Level = f.Level
		r.report.addIssue(e)
	}
	r.report.Dedup = &DedupReport{Levels: res.Levels, Total: res.Total()}
	span.SetAttributes(attribute.Int("dedup.removed", res.Total().Total()))
	return nil
}

func lessonCode(reason lessons.Reason) ErrorCode {
	switch reason {
	case lessons.ReasonKeyResolution:
		return ErrCodeKeyResolution
	case lessons.ReasonSlugConflict:
		return ErrCodeSlugConflict
	case lessons.ReasonSourceFormat:
		return ErrCodeSourceFormat
	default:
		return ErrCodePersistence
	}
}

func fatalErr(err error) bool {
	return gateway.IsUnavailable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func stageAttributes(s StageReport) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("stage.level", s.Level.String()),
		attribute.Int("stage.created", s.Created),
		attribute.Int("stage.updated", s.Updated),
		attribute.Int("stage.deleted", s.Deleted),
		attribute.Int("stage.skipped", s.Skipped),
		attribute.Int("stage.failed", s.Failed),
	}
}

// endSpan records err on span and returns it unchanged.
func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
