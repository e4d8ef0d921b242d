package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cardsync/internal/deck"
	"github.com/tonimelisma/cardsync/internal/model"
)

func newSubjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subject",
		Short: "Manage subjects",
	}

	cmd.AddCommand(newSubjectAddCmd())
	cmd.AddCommand(newSubjectRmCmd())
	cmd.AddCommand(newSubjectLsCmd())
	cmd.AddCommand(newSubjectReassignCmd())

	return cmd
}

func newSubjectAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Create a subject",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubjectAdd,
	}
}

func newSubjectRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a subject, deleting or reassigning its cards",
		Long: `Delete a subject. Its cards are either deleted with it (--cascade) or
moved to the default subject (--reassign); one of the two is required.`,
		Args: cobra.ExactArgs(1),
		RunE: runSubjectRm,
	}

	cmd.Flags().Bool("cascade", false, "delete the subject's cards")
	cmd.Flags().Bool("reassign", false, "move the subject's cards to the default subject")
	cmd.MarkFlagsMutuallyExclusive("cascade", "reassign")
	cmd.MarkFlagsOneRequired("cascade", "reassign")

	return cmd
}

func newSubjectLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List subjects with their card counts",
		Args:  cobra.NoArgs,
		RunE:  runSubjectLs,
	}
}

func newSubjectReassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reassign <name>",
		Short: "Move a subject's cards to the default subject, keeping the subject",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubjectReassign,
	}
}

func runSubjectAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withApp(ctx, func(a *app) error {
		subj, err := a.deck.CreateSubject(ctx, args[0])
		if errors.Is(err, deck.ErrDuplicateSubject) {
			return fmt.Errorf("subject %q already exists", model.NormalizeSubjectName(args[0]))
		}

		if err != nil {
			return err
		}

		cc.Statusf("Created subject %s.\n", subj.Name)

		return nil
	})
}

func runSubjectRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	policy := deck.DeleteReassign
	if cascade, _ := cmd.Flags().GetBool("cascade"); cascade {
		policy = deck.DeleteCascade
	}

	return withApp(ctx, func(a *app) error {
		n, err := a.deck.DeleteSubject(ctx, args[0], policy)
		if err != nil {
			return err
		}

		if policy == deck.DeleteCascade {
			cc.Statusf("Deleted subject %s and %d card(s).\n", args[0], n)
		} else {
			cc.Statusf("Deleted subject %s, moved %d card(s) to %s.\n", args[0], n, a.deck.DefaultSubject())
		}

		return nil
	})
}

// subjectRow is the JSON schema for `subject ls --json`. Subjects named only
// by cards have no id.
type subjectRow struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Cards  int    `json:"cards"`
	Synced bool   `json:"synced"`
}

func runSubjectLs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withApp(ctx, func(a *app) error {
		subjects, err := a.store.ListSubjects(ctx)
		if err != nil {
			return err
		}

		cards, err := a.store.ListCards(ctx)
		if err != nil {
			return err
		}

		rows := subjectRows(subjects, cards)

		w := cmd.OutOrStdout()

		if cc.Flags.JSON {
			return printJSON(w, rows)
		}

		if len(rows) == 0 {
			cc.Statusf("No subjects.\n")
			return nil
		}

		table := make([][]string, 0, len(rows))
		for _, r := range rows {
			mark := syncMark(r.Synced)
			if r.ID == "" {
				mark = "-"
			}

			table = append(table, []string{r.Name, fmt.Sprint(r.Cards), mark})
		}

		printTable(w, []string{"SUBJECT", "CARDS", "SYNC"}, table)

		return nil
	})
}

// subjectRows lists subject records first, then subjects that only appear
// on cards, with card counts matched case-insensitively.
func subjectRows(subjects []*model.Subject, cards []*model.Card) []subjectRow {
	counts := make(map[string]int)
	names := make(map[string]string)

	var cardOnly []string

	for _, c := range cards {
		key := model.FoldName(c.Subject)
		if _, seen := names[key]; !seen {
			names[key] = c.Subject
			cardOnly = append(cardOnly, key)
		}

		counts[key]++
	}

	rows := make([]subjectRow, 0, len(subjects)+len(cardOnly))
	recorded := make(map[string]bool, len(subjects))

	for _, s := range subjects {
		key := model.FoldName(s.Name)
		recorded[key] = true
		rows = append(rows, subjectRow{ID: s.ID, Name: s.Name, Cards: counts[key], Synced: s.IsSynced})
	}

	for _, key := range cardOnly {
		if !recorded[key] {
			rows = append(rows, subjectRow{Name: names[key], Cards: counts[key]})
		}
	}

	return rows
}

func runSubjectReassign(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withApp(ctx, func(a *app) error {
		n, err := a.deck.ReassignSubjectCards(ctx, args[0])
		if err != nil {
			return err
		}

		cc.Statusf("Moved %d card(s) from %s to %s.\n", n, args[0], a.deck.DefaultSubject())

		return nil
	})
}
