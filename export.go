package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tonimelisma/cardsync/internal/store"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a YAML snapshot of the local store",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}

	cmd.Flags().StringP("output", "o", "", "output file (default stdout)")

	return cmd
}

// exportDoc is the YAML schema written by `export`.
type exportDoc struct {
	Workspace        string           `yaml:"workspace"`
	ExportedAt       time.Time        `yaml:"exported_at"`
	LastSync         *time.Time       `yaml:"last_sync,omitempty"`
	Subjects         []exportSubject  `yaml:"subjects"`
	Cards            []exportCard     `yaml:"cards"`
	Courses          []exportCourse   `yaml:"courses"`
	PendingDeletions []exportDeletion `yaml:"pending_deletions,omitempty"`
}

type exportSubject struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Synced    bool      `yaml:"synced"`
}

type exportCard struct {
	ID          string    `yaml:"id"`
	Question    string    `yaml:"question"`
	Answer      string    `yaml:"answer"`
	Subject     string    `yaml:"subject"`
	NextReview  time.Time `yaml:"next_review"`
	Interval    int       `yaml:"interval"`
	Easiness    float64   `yaml:"easiness"`
	ReviewCount int       `yaml:"review_count"`
	UpdatedAt   time.Time `yaml:"updated_at"`
	Synced      bool      `yaml:"synced"`
}

type exportCourse struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title"`
	Subject   string    `yaml:"subject"`
	Content   string    `yaml:"content,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Synced    bool      `yaml:"synced"`
}

type exportDeletion struct {
	Collection string    `yaml:"collection"`
	ID         string    `yaml:"id"`
	DeletedAt  time.Time `yaml:"deleted_at"`
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	output, _ := cmd.Flags().GetString("output")

	return withApp(ctx, func(a *app) error {
		doc, err := buildExport(ctx, a.store, time.Now().UTC())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()

		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}
			defer f.Close()

			w = f
		}

		if err := writeExport(w, doc); err != nil {
			return err
		}

		if output != "" {
			cc.Statusf("Exported %d card(s), %d subject(s), %d course(s) to %s.\n",
				len(doc.Cards), len(doc.Subjects), len(doc.Courses), output)
		}

		return nil
	})
}

// buildExport reads every collection of st into an exportDoc.
func buildExport(ctx context.Context, st *store.Store, now time.Time) (*exportDoc, error) {
	ws, err := st.Workspace(ctx)
	if err != nil {
		return nil, err
	}

	doc := &exportDoc{Workspace: ws, ExportedAt: now}

	last, err := st.LastSync(ctx)
	if err != nil {
		return nil, err
	}

	if !last.IsZero() {
		doc.LastSync = &last
	}

	subjects, err := st.ListSubjects(ctx)
	if err != nil {
		return nil, err
	}

	for _, s := range subjects {
		doc.Subjects = append(doc.Subjects, exportSubject{
			ID: s.ID, Name: s.Name, UpdatedAt: s.ModifiedAt(), Synced: s.IsSynced,
		})
	}

	cards, err := st.ListCards(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range cards {
		doc.Cards = append(doc.Cards, exportCard{
			ID: c.ID, Question: c.Question, Answer: c.Answer, Subject: c.Subject,
			NextReview: c.NextReview, Interval: c.Interval, Easiness: c.Easiness,
			ReviewCount: c.ReviewCount, UpdatedAt: c.ModifiedAt(), Synced: c.IsSynced,
		})
	}

	courses, err := st.ListCourses(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range courses {
		doc.Courses = append(doc.Courses, exportCourse{
			ID: c.ID, Title: c.Title, Subject: c.Subject, Content: c.Content,
			UpdatedAt: c.ModifiedAt(), Synced: c.IsSynced,
		})
	}

	deletions, err := st.ListPendingDeletions(ctx)
	if err != nil {
		return nil, err
	}

	for _, d := range deletions {
		doc.PendingDeletions = append(doc.PendingDeletions, exportDeletion{
			Collection: d.Collection.String(), ID: d.ID, DeletedAt: d.CreatedAt,
		})
	}

	return doc, nil
}

func writeExport(w io.Writer, doc *exportDoc) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}

	return nil
}
