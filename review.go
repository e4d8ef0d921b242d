package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List the cards due for review, in random order",
		Args:  cobra.NoArgs,
		RunE:  runReview,
	}

	cmd.Flags().StringP("subject", "s", "", "only cards of this subject ('all' for every subject)")
	cmd.AddCommand(newReviewRecordCmd())

	return cmd
}

func newReviewRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <id> <quality>",
		Short: "Record a review outcome (quality 0-5) and reschedule the card",
		Long: `Record how well a card was recalled, from 0 (blackout) to 5 (perfect).
Quality 3 or more counts as a pass and lengthens the interval; anything lower
starts the card over.`,
		Args: cobra.ExactArgs(2),
		RunE: runReviewRecord,
	}
}

func runReview(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	subject, _ := cmd.Flags().GetString("subject")

	return withApp(ctx, func(a *app) error {
		due, err := a.deck.StartReview(ctx, subject)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()

		if cc.Flags.JSON {
			return printJSON(w, due)
		}

		if len(due) == 0 {
			cc.Statusf("Nothing due. Well done.\n")
			return nil
		}

		for i, c := range due {
			fmt.Fprintf(w, "%d. [%s] %s\n   %s\n", i+1, c.Subject, c.Question, c.ID)
		}

		return nil
	})
}

func runReviewRecord(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	quality, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("quality must be a number from 0 to 5, got %q", args[1])
	}

	return withApp(ctx, func(a *app) error {
		id, err := resolveCardID(ctx, a, args[0])
		if err != nil {
			return err
		}

		card, err := a.deck.RecordReview(ctx, id, quality)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cmd.OutOrStdout(), card)
		}

		cc.Statusf("Next review %s (every %d day(s), easiness %.2f).\n",
			card.NextReview.Local().Format(time.DateOnly), card.Interval, card.Easiness)

		return nil
	})
}
