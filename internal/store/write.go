package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/recordid"
)

const (
	sqlUpsertCard = `INSERT INTO cards
		(id, question, answer, subject, subject_fold, next_review, interval_days, easiness,
		 review_count, created_at, updated_at, is_synced, workspace_id, canonical_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 question = excluded.question,
		 answer = excluded.answer,
		 subject = excluded.subject,
		 subject_fold = excluded.subject_fold,
		 next_review = excluded.next_review,
		 interval_days = excluded.interval_days,
		 easiness = excluded.easiness,
		 review_count = excluded.review_count,
		 created_at = excluded.created_at,
		 updated_at = excluded.updated_at,
		 is_synced = excluded.is_synced,
		 workspace_id = excluded.workspace_id,
		 canonical_id = excluded.canonical_id`

	sqlUpsertSubject = `INSERT INTO subjects
		(id, name, name_fold, created_at, updated_at, is_synced, workspace_id, canonical_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 name = excluded.name,
		 name_fold = excluded.name_fold,
		 created_at = excluded.created_at,
		 updated_at = excluded.updated_at,
		 is_synced = excluded.is_synced,
		 workspace_id = excluded.workspace_id,
		 canonical_id = excluded.canonical_id`

	sqlUpsertCourse = `INSERT INTO courses
		(id, title, subject, subject_fold, content, created_at, updated_at, is_synced,
		 workspace_id, canonical_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 title = excluded.title,
		 subject = excluded.subject,
		 subject_fold = excluded.subject_fold,
		 content = excluded.content,
		 created_at = excluded.created_at,
		 updated_at = excluded.updated_at,
		 is_synced = excluded.is_synced,
		 workspace_id = excluded.workspace_id,
		 canonical_id = excluded.canonical_id`

	sqlReassignCards = `UPDATE cards
		SET subject = ?, subject_fold = ?, updated_at = ?, is_synced = 0
		WHERE subject_fold = ?`

	sqlAddPendingDeletion = `INSERT INTO pending_deletions (id, collection, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(collection, id) DO NOTHING`

	sqlRemovePendingDeletion = `DELETE FROM pending_deletions WHERE collection = ? AND id = ?`

	sqlSetMeta = `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

// PutCard inserts or replaces a card. Scheduling fields outside their valid
// range (interval < 1, easiness < 1.3, negative review count) are clamped so
// records from older clients can still be stored.
func (t *Tx) PutCard(ctx context.Context, c *model.Card) error {
	interval := c.Interval
	if interval < model.DefaultInterval {
		interval = model.DefaultInterval
	}

	easiness := c.Easiness

	switch {
	case easiness == 0:
		easiness = model.DefaultEasiness
	case easiness < minEasiness:
		easiness = minEasiness
	}

	reviews := max(c.ReviewCount, 0)

	_, err := t.tx.ExecContext(ctx, sqlUpsertCard,
		c.ID, c.Question, c.Answer, c.Subject, model.FoldName(c.Subject), toNanos(c.NextReview),
		interval, easiness, reviews, toNanos(c.CreatedAt), toNanos(c.UpdatedAt),
		boolToInt(c.IsSynced), c.WorkspaceID, c.CanonicalID,
	)
	if err != nil {
		return fmt.Errorf("store: writing card %s: %w", c.ID, err)
	}

	t.touch(model.CollectionCards)

	return nil
}

// minEasiness mirrors the scheduler's floor; kept local so the data layer
// does not depend on the scheduler.
const minEasiness = 1.3

// PutSubject inserts or replaces a subject.
func (t *Tx) PutSubject(ctx context.Context, s *model.Subject) error {
	_, err := t.tx.ExecContext(ctx, sqlUpsertSubject,
		s.ID, s.Name, model.FoldName(s.Name), toNanos(s.CreatedAt), toNanos(s.UpdatedAt),
		boolToInt(s.IsSynced), s.WorkspaceID, s.CanonicalID,
	)
	if err != nil {
		return fmt.Errorf("store: writing subject %s: %w", s.ID, err)
	}

	t.touch(model.CollectionSubjects)

	return nil
}

// PutCourse inserts or replaces a course.
func (t *Tx) PutCourse(ctx context.Context, c *model.Course) error {
	_, err := t.tx.ExecContext(ctx, sqlUpsertCourse,
		c.ID, c.Title, c.Subject, model.FoldName(c.Subject), c.Content,
		toNanos(c.CreatedAt), toNanos(c.UpdatedAt), boolToInt(c.IsSynced),
		c.WorkspaceID, c.CanonicalID,
	)
	if err != nil {
		return fmt.Errorf("store: writing course %s: %w", c.ID, err)
	}

	t.touch(model.CollectionCourses)

	return nil
}

// PutRecord dispatches to the typed Put for the record's collection.
func (t *Tx) PutRecord(ctx context.Context, rec model.Record) error {
	switch r := rec.(type) {
	case *model.Card:
		return t.PutCard(ctx, r)
	case *model.Subject:
		return t.PutSubject(ctx, r)
	case *model.Course:
		return t.PutCourse(ctx, r)
	default:
		return fmt.Errorf("store: unsupported record type %T", rec)
	}
}

// DeleteRecord hard-deletes a record by id and reports whether a row existed.
// Tombstones are the caller's business.
func (t *Tx) DeleteRecord(ctx context.Context, c model.Collection, id string) (bool, error) {
	tbl, err := tableFor(c)
	if err != nil {
		return false, err
	}

	res, err := t.tx.ExecContext(ctx, `DELETE FROM `+tbl.name+` WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: deleting %s %s: %w", c, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: deleting %s %s: %w", c, id, err)
	}

	if n > 0 {
		t.touch(c)
	}

	return n > 0, nil
}

// MarkSynced flags a pushed record as synced and records the canonical id the
// remote assigned to it. The update only applies if the record still carries
// the modification time that was pushed: an edit made while the push was in
// flight keeps the record dirty for the next run.
func (t *Tx) MarkSynced(ctx context.Context, c model.Collection, rec model.Record, canonicalID string) (bool, error) {
	tbl, err := tableFor(c)
	if err != nil {
		return false, err
	}

	if canonicalID == rec.RecordID() {
		canonicalID = ""
	}

	query := `UPDATE ` + tbl.name + ` SET is_synced = 1, canonical_id = ?
		WHERE id = ? AND (CASE WHEN updated_at = 0 THEN created_at ELSE updated_at END) = ?`

	res, err := t.tx.ExecContext(ctx, query, canonicalID, rec.RecordID(), toNanos(rec.ModifiedAt()))
	if err != nil {
		return false, fmt.Errorf("store: marking %s %s synced: %w", c, rec.RecordID(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: marking %s %s synced: %w", c, rec.RecordID(), err)
	}

	if n > 0 {
		t.touch(c)
	}

	return n > 0, nil
}

// RecordCanonical stores the canonical id a push learned for a temporary
// record without marking it synced. Used when the record changed while the
// push was in flight, so the next push updates the remote copy instead of
// creating another one.
func (t *Tx) RecordCanonical(ctx context.Context, c model.Collection, id, canonicalID string) error {
	tbl, err := tableFor(c)
	if err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE `+tbl.name+` SET canonical_id = ? WHERE id = ?`, canonicalID, id); err != nil {
		return fmt.Errorf("store: recording canonical id for %s %s: %w", c, id, err)
	}

	return nil
}

// DeleteTemporary removes temporary-id records that have already been pushed.
// Unpushed temporary records (created after the push step) are kept.
func (t *Tx) DeleteTemporary(ctx context.Context, c model.Collection) (int64, error) {
	tbl, err := tableFor(c)
	if err != nil {
		return 0, err
	}

	query := `DELETE FROM ` + tbl.name + ` WHERE is_synced = 1 AND substr(id, 1, ?) = ?`

	res, err := t.tx.ExecContext(ctx, query, len(recordid.TempPrefix), recordid.TempPrefix)
	if err != nil {
		return 0, fmt.Errorf("store: deleting temporary %s: %w", c, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: deleting temporary %s: %w", c, err)
	}

	if n > 0 {
		t.touch(c)
	}

	return n, nil
}

// ReassignSubject moves every card of subject from (case-insensitive) to
// subject to, marking them dirty. It returns the number of cards moved.
func (t *Tx) ReassignSubject(ctx context.Context, from, to string, updatedAt time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, sqlReassignCards,
		to, model.FoldName(to), toNanos(updatedAt), model.FoldName(from))
	if err != nil {
		return 0, fmt.Errorf("store: reassigning cards from %q: %w", from, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reassigning cards from %q: %w", from, err)
	}

	if n > 0 {
		t.touch(model.CollectionCards)
	}

	return n, nil
}

// AddPendingDeletion records a tombstone. Adding the same tombstone twice is
// a no-op.
func (t *Tx) AddPendingDeletion(ctx context.Context, pd model.PendingDeletion) error {
	if _, err := tableFor(pd.Collection); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, sqlAddPendingDeletion,
		pd.ID, string(pd.Collection), toNanos(pd.CreatedAt)); err != nil {
		return fmt.Errorf("store: adding pending deletion %s/%s: %w", pd.Collection, pd.ID, err)
	}

	return nil
}

// RemovePendingDeletion drops an acknowledged tombstone.
func (t *Tx) RemovePendingDeletion(ctx context.Context, c model.Collection, id string) error {
	if _, err := t.tx.ExecContext(ctx, sqlRemovePendingDeletion, string(c), id); err != nil {
		return fmt.Errorf("store: removing pending deletion %s/%s: %w", c, id, err)
	}

	return nil
}

// SetLastSync persists the last successful sync time.
func (t *Tx) SetLastSync(ctx context.Context, ts time.Time) error {
	return t.setMeta(ctx, metaLastSync, ts.UTC().Format(time.RFC3339Nano))
}

// SetWorkspace persists the active workspace id.
func (t *Tx) SetWorkspace(ctx context.Context, workspace string) error {
	return t.setMeta(ctx, metaWorkspace, workspace)
}

func (t *Tx) setMeta(ctx context.Context, key, value string) error {
	if _, err := t.tx.ExecContext(ctx, sqlSetMeta, key, value); err != nil {
		return fmt.Errorf("store: writing meta %s: %w", key, err)
	}

	return nil
}
