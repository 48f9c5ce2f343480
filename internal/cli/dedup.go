package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/syllabus/internal/engine"
)

// NewDedupCommand creates the dedup command.
func NewDedupCommand(rootOpts *RootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "dedup <course>",
		Short: "Remove duplicate nodes and lessons from a course",
		Long: `Collapse nodes that share a name under the same parent, and lessons that
share a slug within the course. The earliest-created record survives; the
others are deleted together with everything beneath them.

Passes run bottom-up: lessons, topics, chapters, units.

Examples:
  syllabus dedup cbse-maths-10
  syllabus dedup cbse-maths-10 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			e := engine.New(s.g, s.log, engine.DefaultOptions())
			if s.tracer != nil {
				e.SetTracerProvider(s.tracer)
			}
			report, err := e.Dedup(ctx, args[0])
			return finishRun(rootOpts, cmd, report, err, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "exit 1 when a deletion failed")

	return cmd
}
