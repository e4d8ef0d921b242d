package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cardsync/internal/deck"
)

func newCourseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "course",
		Short: "Manage courses",
	}

	cmd.AddCommand(newCourseAddCmd())
	cmd.AddCommand(newCourseLsCmd())

	return cmd
}

func newCourseAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a course",
		Long: `Create a course. Its content is read from --file, or from standard input
when --file is "-".`,
		Args: cobra.ExactArgs(1),
		RunE: runCourseAdd,
	}

	cmd.Flags().StringP("subject", "s", "", "subject (default subject when empty)")
	cmd.Flags().StringP("file", "f", "", "content file, '-' for stdin")

	return cmd
}

func newCourseLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List courses grouped by subject",
		Args:  cobra.NoArgs,
		RunE:  runCourseLs,
	}
}

func runCourseAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	subject, _ := cmd.Flags().GetString("subject")
	file, _ := cmd.Flags().GetString("file")

	var content []byte

	switch file {
	case "":
	case "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading course content: %w", err)
		}

		content = data
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading course content: %w", err)
		}

		content = data
	}

	return withApp(ctx, func(a *app) error {
		course, err := a.deck.CreateCourse(ctx, deck.NewCourse{Title: args[0], Subject: subject, Content: string(content)})
		if err != nil {
			return err
		}

		cc.Statusf("Created course %s (%s).\n", course.Title, course.ID)

		return nil
	})
}

// courseGroupOutput is the JSON schema for `course ls --json`.
type courseGroupOutput struct {
	Subject string         `json:"subject"`
	Courses []courseOutput `json:"courses"`
}

type courseOutput struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Synced bool   `json:"synced"`
}

func runCourseLs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withApp(ctx, func(a *app) error {
		groups, err := a.deck.CoursesBySubject(ctx)
		if err != nil {
			return err
		}

		out := make([]courseGroupOutput, 0, len(groups))
		for _, g := range groups {
			og := courseGroupOutput{Subject: g.Subject}
			for _, c := range g.Courses {
				og.Courses = append(og.Courses, courseOutput{ID: c.ID, Title: c.Title, Synced: c.IsSynced})
			}

			out = append(out, og)
		}

		w := cmd.OutOrStdout()

		if cc.Flags.JSON {
			return printJSON(w, out)
		}

		if len(out) == 0 {
			cc.Statusf("No courses.\n")
			return nil
		}

		for _, g := range out {
			fmt.Fprintf(w, "%s\n", g.Subject)

			for _, c := range g.Courses {
				fmt.Fprintf(w, "  %s  %s\n", c.Title, c.ID)
			}
		}

		return nil
	})
}
