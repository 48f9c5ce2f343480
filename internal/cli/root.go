package cli

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/syllabus/internal/config"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/gormstore"
	"github.com/roach88/syllabus/internal/logger"
	"github.com/roach88/syllabus/internal/observability"
	"github.com/roach88/syllabus/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Driver  string // "sqlite" | "postgres" | "gorm-sqlite"
	DBPath  string
	DSN     string

	// Resolved from the environment by the root command.
	Config config.Config

	// Logger overrides the logger built from Config. Tests set it.
	Logger *logger.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the syllabus CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "syllabus",
		Short: "Reconcile course hierarchies with their authoring sheets",
		Long: `Reconcile a persisted Unit > Chapter > Topic > Lesson hierarchy with a
tabular authoring source. Higher levels are matched by name and kept stable;
lessons are regenerated (or upserted) from the source on every run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.apply(cfg, cmd)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "store driver (sqlite|postgres|gorm-sqlite); default $"+config.EnvDBDriver+" or sqlite")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path; default $"+config.EnvDBPath)
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "Postgres DSN; default $"+config.EnvPGDSN)

	// Add subcommands
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewDedupCommand(opts))
	cmd.AddCommand(NewCourseCommand(opts))

	return cmd
}

// apply fills flags the user did not set from cfg.
func (o *RootOptions) apply(cfg config.Config, cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Changed("driver") {
		o.Driver = cfg.DBDriver
	}
	if !flags.Changed("db") {
		o.DBPath = cfg.DBPath
	}
	if !flags.Changed("dsn") {
		o.DSN = cfg.PGDSN
	}
	cfg.DBDriver, cfg.DBPath, cfg.PGDSN = o.Driver, o.DBPath, o.DSN
	o.Config = cfg
}

// session is everything one command needs to talk to the store.
type session struct {
	g        gateway.Gateway
	log      *logger.Logger
	tracer   trace.TracerProvider
	closers  []func() error
	shutdown observability.Shutdown
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn("close failed", "error", err)
		}
	}
	if s.shutdown != nil {
		if err := s.shutdown(context.Background()); err != nil {
			s.log.Warn("tracer shutdown failed", "error", err)
		}
	}
	s.log.Sync()
}

// open builds the logger, tracer and gateway for the configured driver.
func (o *RootOptions) open(ctx context.Context) (*session, error) {
	cfg := o.Config
	if cfg.DBDriver == "" {
		cfg = config.Default()
		if o.Driver != "" {
			cfg.DBDriver = o.Driver
		}
		if o.DBPath != "" {
			cfg.DBPath = o.DBPath
		}
		cfg.PGDSN = o.DSN
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid store settings", err)
	}

	log := o.Logger
	if log == nil {
		var err error
		log, err = logger.New(cfg.LogMode, o.Verbose)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
		}
	}
	s := &session{log: log}

	tp, shutdown, err := observability.Init(ctx, log, observability.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "syllabus",
	})
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	} else {
		s.tracer, s.shutdown = tp, shutdown
	}

	switch cfg.DBDriver {
	case config.DriverSQLite:
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			s.Close()
			return nil, openError(err)
		}
		s.g = st
		s.closers = append(s.closers, st.Close)
	case config.DriverGormSQLite:
		st, err := gormstore.OpenSQLite(cfg.DBPath, gormstore.WithLogger(log))
		if err != nil {
			s.Close()
			return nil, openError(err)
		}
		s.g = st
		s.closers = append(s.closers, st.Close)
	case config.DriverPostgres:
		st, err := gormstore.OpenPostgres(cfg.PGDSN, gormstore.WithLogger(log))
		if err != nil {
			s.Close()
			return nil, openError(err)
		}
		s.g = st
		s.closers = append(s.closers, st.Close)
	}
	log.Debug("store opened", "driver", cfg.DBDriver, "target", storeTarget(cfg))
	return s, nil
}

// storeTarget names what a store points at without credentials: the file
// path for SQLite and the host for Postgres.
func storeTarget(cfg config.Config) string {
	if cfg.DBDriver != config.DriverPostgres {
		return cfg.DBPath
	}
	if u, err := url.Parse(cfg.PGDSN); err == nil && u.Scheme != "" {
		return u.Host
	}
	for _, f := range strings.Fields(cfg.PGDSN) {
		if host, ok := strings.CutPrefix(f, "host="); ok {
			return host
		}
	}
	return ""
}

func openError(err error) error {
	if gateway.IsUnavailable(err) {
		return WrapExitError(ExitFailure, "store unreachable", err)
	}
	return WrapExitError(ExitCommandError, "failed to open database", err)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
