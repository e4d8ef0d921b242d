package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cardsync/internal/deck"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the review dashboard",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	return withApp(ctx, func(a *app) error {
		st, err := a.deck.Stats(ctx, time.Local)
		if err != nil {
			return err
		}

		if cc.Flags.JSON {
			return printJSON(cmd.OutOrStdout(), st)
		}

		printStats(cmd.OutOrStdout(), st)

		return nil
	})
}

func printStats(w io.Writer, st *deck.Stats) {
	fmt.Fprintf(w, "Cards:     %d in %d subject(s)\n", st.Total, st.Subjects)
	fmt.Fprintf(w, "Due now:   %d\n", st.DueNow)
	fmt.Fprintf(w, "Strength:  %.1f day(s) average interval\n", st.AverageStrength)

	if len(st.Forecast) > 0 {
		fmt.Fprintln(w, "\nNext 7 days")

		rows := make([][]string, 0, len(st.Forecast))
		for _, d := range st.Forecast {
			rows = append(rows, []string{d.Day.Format("Mon Jan _2"), fmt.Sprint(d.Count)})
		}

		printTable(w, []string{"DAY", "DUE"}, rows)
	}

	if len(st.Strength) > 0 {
		fmt.Fprintln(w, "\nBy subject")

		cards := make(map[string]float64, len(st.Distribution))
		for _, d := range st.Distribution {
			cards[d.Subject] = d.Value
		}

		rows := make([][]string, 0, len(st.Strength))
		for _, s := range st.Strength {
			rows = append(rows, []string{s.Subject, fmt.Sprintf("%.0f", cards[s.Subject]), fmt.Sprintf("%.1f", s.Value)})
		}

		printTable(w, []string{"SUBJECT", "CARDS", "STRENGTH"}, rows)
	}

	if len(st.Difficult) > 0 {
		fmt.Fprintln(w, "\nMost difficult")

		rows := make([][]string, 0, len(st.Difficult))
		for _, c := range st.Difficult {
			rows = append(rows, []string{truncate(c.Question, cellWidth), fmt.Sprint(c.ReviewCount), fmt.Sprint(c.Interval)})
		}

		printTable(w, []string{"QUESTION", "REVIEWS", "INTERVAL"}, rows)
	}
}
