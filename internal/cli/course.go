package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/syllabus/internal/course"
	"github.com/roach88/syllabus/internal/gateway"
	"github.com/roach88/syllabus/internal/hierarchy"
)

// NewCourseCommand groups the course subcommands.
func NewCourseCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "course",
		Short: "Create and inspect courses",
	}
	cmd.AddCommand(newCourseAddCommand(rootOpts))
	cmd.AddCommand(newCourseShowCommand(rootOpts))
	return cmd
}

func newCourseAddCommand(rootOpts *RootOptions) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:           "add <slug>",
		Short:         "Create an empty course",
		Example:       `  syllabus course add cbse-maths-10 --title "CBSE Mathematics, Class 10"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			slug := course.Slugify(args[0])
			if slug == "" {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid course slug %q", args[0]))
			}
			s, err := rootOpts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.g.Courses().Find(ctx, slug); err == nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("course %q already exists", slug))
			} else if !errors.Is(err, gateway.ErrNotFound) {
				return storeError("failed to look up course", err)
			}
			c, err := s.g.Courses().Create(ctx, course.Course{Slug: slug, Title: strings.TrimSpace(title)})
			if err != nil {
				return storeError("failed to create course", err)
			}
			s.log.Info("course created", "course", c.Slug, "id", c.ID)

			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if f.Format == "json" {
				return f.Success(c)
			}
			return f.Success(fmt.Sprintf("Created course %s (%s)", c.Slug, c.ID))
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "course title")

	return cmd
}

func newCourseShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <course>",
		Short:         "Print the persisted hierarchy of a course",
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

			outline, err := LoadOutline(ctx, s.g, args[0])
			if errors.Is(err, gateway.ErrNotFound) {
				return WrapExitError(ExitCommandError, "unknown course", err)
			}
			if err != nil {
				return storeError("failed to load course", err)
			}

			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return f.Success(outline)
		},
	}
}

// OutlineNode is one unit, chapter or topic of an Outline.
type OutlineNode struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Order    int           `json:"order"`
	Lessons  int           `json:"lessons,omitempty"` // topics only
	Children []OutlineNode `json:"children,omitempty"`
}

// Outline is the persisted tree of one course.
type Outline struct {
	Course course.Course    `json:"course"`
	Counts hierarchy.Counts `json:"counts"`
	Units  []OutlineNode    `json:"units"`
}

// LoadOutline reads the whole hierarchy of course ref.
func LoadOutline(ctx context.Context, g gateway.Gateway, ref string) (*Outline, error) {
	c, err := g.Courses().Find(ctx, ref)
	if err != nil {
		return nil, err
	}
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
	lessonList, err := g.Lessons().ListByCourse(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	perTopic := make(map[string]int)
	for _, l := range lessonList {
		perTopic[l.TopicID]++
	}
	byParent := func(nodes []course.Node) map[string][]course.Node {
		m := make(map[string][]course.Node)
		for _, n := range nodes {
			m[n.ParentID] = append(m[n.ParentID], n)
		}
		return m
	}
	chaptersOf, topicsOf := byParent(chapters), byParent(topics)

	o := &Outline{
		Course: c,
		Counts: hierarchy.Counts{Units: len(units), Chapters: len(chapters), Topics: len(topics), Lessons: len(lessonList)},
		Units:  []OutlineNode{},
	}
	for _, u := range units {
		un := OutlineNode{ID: u.ID, Name: u.Name, Order: u.Order}
		for _, ch := range chaptersOf[u.ID] {
			cn := OutlineNode{ID: ch.ID, Name: ch.Name, Order: ch.Order}
			for _, t := range topicsOf[ch.ID] {
				cn.Children = append(cn.Children, OutlineNode{ID: t.ID, Name: t.Name, Order: t.Order, Lessons: perTopic[t.ID]})
			}
			un.Children = append(un.Children, cn)
		}
		o.Units = append(o.Units, un)
	}
	return o, nil
}

// WriteText renders the outline as an indented tree.
func (o *Outline) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Course %s (%s)", o.Course.Slug, o.Course.ID)
	if o.Course.Title != "" {
		fmt.Fprintf(&b, " %q", o.Course.Title)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Units: %d  Chapters: %d  Topics: %d  Lessons: %d\n",
		o.Counts.Units, o.Counts.Chapters, o.Counts.Topics, o.Counts.Lessons)

	var walk func(nodes []OutlineNode, depth int)
	walk = func(nodes []OutlineNode, depth int) {
		for _, n := range nodes {
			fmt.Fprintf(&b, "%s%d. %s", strings.Repeat("   ", depth), n.Order, n.Name)
			if depth == 2 {
				fmt.Fprintf(&b, " (%d lessons)", n.Lessons)
			}
			b.WriteString("\n")
			walk(n.Children, depth+1)
		}
	}
	if len(o.Units) > 0 {
		b.WriteString("\n")
	}
	walk(o.Units, 0)

	_, err := io.WriteString(w, b.String())
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func storeError(message string, err error) error {
	if gateway.IsUnavailable(err) {
		return WrapExitError(ExitFailure, message, err)
	}
	return WrapExitError(ExitCommandError, message, err)
}
