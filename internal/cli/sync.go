package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/syllabus/internal/config"
	"github.com/roach88/syllabus/internal/engine"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/lessons"
	"github.com/roach88/syllabus/internal/source"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	CSV        string
	PolicyFile string
	LessonMode string
	DedupFirst bool
	NoTx       bool
	Strict     bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <course>",
		Short: "Reconcile a course with its authoring CSV",
		Long: `Reconcile the persisted hierarchy of a course (id or slug) with a CSV export
of its authoring sheet.

Units, chapters and topics are matched by name under their parent and kept;
lessons are rebuilt from the sheet. Problems with single rows or records are
reported and skipped; only losing the store aborts the run.

Exit codes:
  0 - Run finished (degraded runs too, unless --strict)
  1 - Store unreachable, or degraded with --strict
  2 - Command error (bad flags or policy, unknown course, unreadable CSV)

Examples:
  syllabus sync cbse-maths-10 --csv maths10.csv
  syllabus sync cbse-maths-10 --csv maths10.csv --lesson-mode upsert --strict
  syllabus sync 0190c3d2-... --csv maths10.csv --driver postgres --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(commandContext(cmd), opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.CSV, "csv", "", "path to the authoring CSV (required)")
	_ = cmd.MarkFlagRequired("csv")
	cmd.Flags().StringVar(&opts.PolicyFile, "policy", "", "YAML sync policy; default $"+config.EnvPolicyFile)
	cmd.Flags().StringVar(&opts.LessonMode, "lesson-mode", "", "lesson mode (regenerate|upsert); overrides the policy")
	cmd.Flags().BoolVar(&opts.DedupFirst, "dedup-first", false, "remove duplicates before reconciling")
	cmd.Flags().BoolVar(&opts.NoTx, "no-tx", false, "do not wrap levels in transactions")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when the run is degraded")

	return cmd
}

// engineOptions resolves defaults, then the policy file, then flags.
func (o *SyncOptions) engineOptions() (engine.Options, error) {
	opts := engine.DefaultOptions()
	path := o.PolicyFile
	if path == "" {
		path = o.Config.PolicyFile
	}
	if path != "" {
		p, err := config.LoadPolicy(path)
		if err != nil {
			return opts, err
		}
		opts = p.Apply(opts)
	}
	if o.LessonMode != "" {
		mode, err := lessons.ParseMode(o.LessonMode)
		if err != nil {
			return opts, err
		}
		opts.LessonMode = mode
	}
	if o.DedupFirst {
		opts.DedupFirst = true
	}
	if o.NoTx {
		opts.Transactions = false
	}
	return opts, opts.Validate()
}

func runSync(ctx context.Context, opts *SyncOptions, cmd *cobra.Command, ref string) error {
	engineOpts, err := opts.engineOptions()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid sync policy", err)
	}

	rows, err := source.ReadFile(opts.CSV)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read CSV", err)
	}
	f := &OutputFormatter{Format: opts.Format, ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
	f.VerboseLog("Read %d rows from %s", len(rows), opts.CSV)

	s, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	e := engine.New(s.g, s.log, engineOpts)
	if s.tracer != nil {
		e.SetTracerProvider(s.tracer)
	}
	report, err := e.Sync(ctx, ref, rows)
	return finishRun(opts.RootOptions, cmd, report, err, opts.Strict)
}

// finishRun prints report and maps the outcome of a run to an exit code.
func finishRun(opts *RootOptions, cmd *cobra.Command, report *engine.Report, runErr error, strict bool) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	if report == nil {
		if errors.Is(runErr, gateway.ErrNotFound) {
			_ = f.Error("NOT_FOUND", runErr.Error(), nil)
			return WrapExitError(ExitCommandError, "unknown course", runErr)
		}
		_ = f.Error("USAGE", runErr.Error(), nil)
		return WrapExitError(ExitCommandError, "run not started", runErr)
	}

	if err := f.Report(report); err != nil {
		return WrapExitError(ExitFailure, "failed to write report", err)
	}

	switch {
	case runErr != nil:
		return WrapExitError(ExitFailure, "run aborted", runErr)
	case report.Status == engine.StatusDegraded && strict:
		return NewExitError(ExitFailure, fmt.Sprintf("run degraded with %d issue(s)", len(report.Issues)))
	}
	return nil
}
