package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cardsync/internal/deck"
	"github.com/tonimelisma/cardsync/internal/model"
)

func newCardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Create, edit, delete and list flashcards",
	}

	cmd.AddCommand(newCardAddCmd())
	cmd.AddCommand(newCardEditCmd())
	cmd.AddCommand(newCardRmCmd())
	cmd.AddCommand(newCardLsCmd())
	cmd.AddCommand(newCardImportCmd())

	return cmd
}

func newCardAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <question> <answer>",
		Short: "Create a card, due for review immediately",
		Args:  cobra.ExactArgs(2),
		RunE:  runCardAdd,
	}

	cmd.Flags().StringP("subject", "s", "", "subject (default subject when empty)")

	return cmd
}

func newCardEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a card's question, answer or subject",
		Args:  cobra.ExactArgs(1),
		RunE:  runCardEdit,
	}

	cmd.Flags().String("question", "", "new question")
	cmd.Flags().String("answer", "", "new answer")
	cmd.Flags().StringP("subject", "s", "", "new subject")

	return cmd
}

func newCardRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a card",
		Args:  cobra.ExactArgs(1),
		RunE:  runCardRm,
	}
}

func newCardLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [search]",
		Short: "List cards, optionally matching a search term",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCardLs,
	}

	cmd.Flags().StringP("subject", "s", "", "only cards of this subject")

	return cmd
}

func newCardImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Bulk-create cards from 'question / answer / subject' lines",
		Long: `Read one card per line in the form "question / answer / subject" from
file, or from standard input when no file (or "-") is given. Lines with fewer
than three parts or a blank question or answer are skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCardImport,
	}
}

func runCardAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	subject, _ := cmd.Flags().GetString("subject")

	return withApp(ctx, func(a *app) error {
		card, err := a.deck.CreateCard(ctx, deck.NewCard{Question: args[0], Answer: args[1], Subject: subject})
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cmd.OutOrStdout(), card)
		}

		cc.Statusf("Created card %s in %s.\n", card.ID, card.Subject)

		return nil
	})
}

func runCardEdit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	var patch deck.CardPatch

	for name, dst := range map[string]**string{
		"question": &patch.Question,
		"answer":   &patch.Answer,
		"subject":  &patch.Subject,
	} {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			*dst = &v
		}
	}

	if patch.Question == nil && patch.Answer == nil && patch.Subject == nil {
		return fmt.Errorf("nothing to change: pass --question, --answer or --subject")
	}

	return withApp(ctx, func(a *app) error {
		id, err := resolveCardID(ctx, a, args[0])
		if err != nil {
			return err
		}

		card, err := a.deck.UpdateCard(ctx, id, patch)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cmd.OutOrStdout(), card)
		}

		cc.Statusf("Updated card %s.\n", card.ID)

		return nil
	})
}

func runCardRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withApp(ctx, func(a *app) error {
		id, err := resolveCardID(ctx, a, args[0])
		if err != nil {
			return err
		}

		if err := a.deck.DeleteCard(ctx, id); err != nil {
			return err
		}

		cc.Statusf("Deleted card %s.\n", id)

		return nil
	})
}

// cardRow is the JSON schema for `card ls --json`.
type cardRow struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Subject    string    `json:"subject"`
	NextReview time.Time `json:"next_review"`
	Interval   int       `json:"interval"`
	Synced     bool      `json:"synced"`
}

func runCardLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	subject, _ := cmd.Flags().GetString("subject")

	term := ""
	if len(args) == 1 {
		term = args[0]
	}

	return withApp(ctx, func(a *app) error {
		cards, err := a.deck.SearchCards(ctx, term, subject)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()

		if cc.Flags.JSON {
			rows := make([]cardRow, 0, len(cards))
			for _, c := range cards {
				rows = append(rows, cardRow{
					ID: c.ID, Question: c.Question, Answer: c.Answer, Subject: c.Subject,
					NextReview: c.NextReview, Interval: c.Interval, Synced: c.IsSynced,
				})
			}

			return printJSON(w, rows)
		}

		if len(cards) == 0 {
			cc.Statusf("No cards.\n")
			return nil
		}

		printCards(w, cards, time.Now())

		return nil
	})
}

// printCards writes cards as a table.
func printCards(w io.Writer, cards []*model.Card, now time.Time) {
	rows := make([][]string, 0, len(cards))

	for _, c := range cards {
		rows = append(rows, []string{
			c.ID,
			truncate(c.Question, cellWidth),
			truncate(c.Answer, cellWidth),
			c.Subject,
			formatDue(c.NextReview, now),
			syncMark(c.IsSynced),
		})
	}

	printTable(w, []string{"ID", "QUESTION", "ANSWER", "SUBJECT", "NEXT", "SYNC"}, rows)
}

func syncMark(synced bool) string {
	if synced {
		return "synced"
	}

	return "pending"
}

func runCardImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	var (
		data []byte
		err  error
	)

	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}

	if err != nil {
		return fmt.Errorf("reading cards: %w", err)
	}

	return withApp(ctx, func(a *app) error {
		n, err := a.deck.BulkCreateCards(ctx, string(data))
		if err != nil {
			return err
		}

		cc.Statusf("Imported %d card(s).\n", n)

		return nil
	})
}

// resolveCardID maps an id or unique id prefix to a card id.
func resolveCardID(ctx context.Context, a *app, ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	if _, err := a.store.GetCard(ctx, ref); err == nil {
		return ref, nil
	}

	cards, err := a.store.ListCards(ctx)
	if err != nil {
		return "", err
	}

	var matches []string

	for _, c := range cards {
		if strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %q", deck.ErrUnknownCard, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("card id %q is ambiguous (%d matches)", ref, len(matches))
	}
}
