package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/recordid"
)

const (
	cardColumns = `id, question, answer, subject, next_review, interval_days, easiness,
		review_count, created_at, updated_at, is_synced, workspace_id, canonical_id`

	subjectColumns = `id, name, created_at, updated_at, is_synced, workspace_id, canonical_id`

	courseColumns = `id, title, subject, content, created_at, updated_at, is_synced,
		workspace_id, canonical_id`

	sqlGetCard = `SELECT ` + cardColumns + ` FROM cards WHERE id = ?`

	sqlListCards = `SELECT ` + cardColumns + ` FROM cards ORDER BY created_at, id`

	sqlListCardsBySubject = `SELECT ` + cardColumns + ` FROM cards
		WHERE subject_fold = ? ORDER BY created_at, id`

	sqlListDueCards = `SELECT ` + cardColumns + ` FROM cards
		WHERE next_review <= ? ORDER BY next_review, id`

	sqlListDueCardsBySubject = `SELECT ` + cardColumns + ` FROM cards
		WHERE next_review <= ? AND subject_fold = ? ORDER BY next_review, id`

	sqlGetSubject = `SELECT ` + subjectColumns + ` FROM subjects WHERE id = ?`

	sqlListSubjects = `SELECT ` + subjectColumns + ` FROM subjects ORDER BY name_fold, id`

	sqlFindSubjectByName = `SELECT ` + subjectColumns + ` FROM subjects
		WHERE name_fold = ? ORDER BY created_at, id LIMIT 1`

	sqlGetCourse = `SELECT ` + courseColumns + ` FROM courses WHERE id = ?`

	sqlListCourses = `SELECT ` + courseColumns + ` FROM courses ORDER BY subject_fold, created_at, id`

	sqlListPendingDeletions = `SELECT id, collection, created_at FROM pending_deletions
		ORDER BY created_at, collection, id`

	sqlCountPendingDeletion = `SELECT COUNT(*) FROM pending_deletions WHERE collection = ? AND id = ?`

	sqlGetMeta = `SELECT value FROM meta WHERE key = ?`
)

// Meta keys.
const (
	metaLastSync  = "last_sync"
	metaWorkspace = "workspace"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// table describes how the generic, collection-agnostic queries reach one
// collection's SQL table.
type table struct {
	name    string
	columns string
	scan    func(rowScanner) (model.Record, error)
}

var tables = map[model.Collection]table{
	model.CollectionCards: {
		name:    "cards",
		columns: cardColumns,
		scan:    func(r rowScanner) (model.Record, error) { return scanCard(r) },
	},
	model.CollectionSubjects: {
		name:    "subjects",
		columns: subjectColumns,
		scan:    func(r rowScanner) (model.Record, error) { return scanSubject(r) },
	},
	model.CollectionCourses: {
		name:    "courses",
		columns: courseColumns,
		scan:    func(r rowScanner) (model.Record, error) { return scanCourse(r) },
	},
}

func tableFor(c model.Collection) (table, error) {
	t, ok := tables[c]
	if !ok {
		return table{}, fmt.Errorf("store: unknown collection %q", c)
	}

	return t, nil
}

// reader holds the read queries shared by Store and Tx.
type reader struct {
	q querier
}

// GetCard returns the card with the given id or ErrNotFound.
func (r reader) GetCard(ctx context.Context, id string) (*model.Card, error) {
	card, err := scanCard(r.q.QueryRowContext(ctx, sqlGetCard, id))
	if err != nil {
		return nil, wrapGet(err, model.CollectionCards, id)
	}

	return card, nil
}

// ListCards returns every card, oldest first.
func (r reader) ListCards(ctx context.Context) ([]*model.Card, error) {
	return queryCards(ctx, r.q, sqlListCards)
}

// ListCardsBySubject returns the cards of a subject, matched case-insensitively.
func (r reader) ListCardsBySubject(ctx context.Context, subject string) ([]*model.Card, error) {
	return queryCards(ctx, r.q, sqlListCardsBySubject, model.FoldName(subject))
}

// ListDueCards returns cards whose next review is at or before now. An empty
// subject matches every subject.
func (r reader) ListDueCards(ctx context.Context, now time.Time, subject string) ([]*model.Card, error) {
	if subject == "" {
		return queryCards(ctx, r.q, sqlListDueCards, toNanos(now))
	}

	return queryCards(ctx, r.q, sqlListDueCardsBySubject, toNanos(now), model.FoldName(subject))
}

// GetSubject returns the subject with the given id or ErrNotFound.
func (r reader) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	subj, err := scanSubject(r.q.QueryRowContext(ctx, sqlGetSubject, id))
	if err != nil {
		return nil, wrapGet(err, model.CollectionSubjects, id)
	}

	return subj, nil
}

// ListSubjects returns every subject ordered by name.
func (r reader) ListSubjects(ctx context.Context) ([]*model.Subject, error) {
	rows, err := r.q.QueryContext(ctx, sqlListSubjects)
	if err != nil {
		return nil, fmt.Errorf("store: listing subjects: %w", err)
	}
	defer rows.Close()

	var out []*model.Subject

	for rows.Next() {
		subj, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, subj)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating subjects: %w", err)
	}

	return out, nil
}

// FindSubjectByName looks a subject up by case-insensitive name.
func (r reader) FindSubjectByName(ctx context.Context, name string) (*model.Subject, error) {
	subj, err := scanSubject(r.q.QueryRowContext(ctx, sqlFindSubjectByName, model.FoldName(name)))
	if err != nil {
		return nil, wrapGet(err, model.CollectionSubjects, name)
	}

	return subj, nil
}

// GetCourse returns the course with the given id or ErrNotFound.
func (r reader) GetCourse(ctx context.Context, id string) (*model.Course, error) {
	course, err := scanCourse(r.q.QueryRowContext(ctx, sqlGetCourse, id))
	if err != nil {
		return nil, wrapGet(err, model.CollectionCourses, id)
	}

	return course, nil
}

// ListCourses returns every course grouped by subject.
func (r reader) ListCourses(ctx context.Context) ([]*model.Course, error) {
	rows, err := r.q.QueryContext(ctx, sqlListCourses)
	if err != nil {
		return nil, fmt.Errorf("store: listing courses: %w", err)
	}
	defer rows.Close()

	var out []*model.Course

	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, course)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating courses: %w", err)
	}

	return out, nil
}

// GetRecord returns a record of any collection by id or ErrNotFound.
func (r reader) GetRecord(ctx context.Context, c model.Collection, id string) (model.Record, error) {
	t, err := tableFor(c)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + t.columns + ` FROM ` + t.name + ` WHERE id = ?`

	rec, err := t.scan(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrapGet(err, c, id)
	}

	return rec, nil
}

// FindByCanonical returns the temporary-id record whose push was answered
// with the given canonical id, or ErrNotFound.
func (r reader) FindByCanonical(ctx context.Context, c model.Collection, canonicalID string) (model.Record, error) {
	t, err := tableFor(c)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + t.columns + ` FROM ` + t.name +
		` WHERE canonical_id = ? AND substr(id, 1, ?) = ? LIMIT 1`

	rec, err := t.scan(r.q.QueryRowContext(ctx, query,
		canonicalID, len(recordid.TempPrefix), recordid.TempPrefix))
	if err != nil {
		return nil, wrapGet(err, c, canonicalID)
	}

	return rec, nil
}

// ListDirty returns the records of a collection not yet pushed
// (is_synced = 0), oldest first.
func (r reader) ListDirty(ctx context.Context, c model.Collection) ([]model.Record, error) {
	t, err := tableFor(c)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + t.columns + ` FROM ` + t.name + ` WHERE is_synced = 0 ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: listing dirty %s: %w", c, err)
	}
	defer rows.Close()

	var out []model.Record

	for rows.Next() {
		rec, err := t.scan(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating dirty %s: %w", c, err)
	}

	return out, nil
}

// ListSyncedTemporary returns the temporary-id records of a collection that
// a push has already delivered and that now wait for their canonical copy.
func (r reader) ListSyncedTemporary(ctx context.Context, c model.Collection) ([]model.Record, error) {
	t, err := tableFor(c)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + t.columns + ` FROM ` + t.name +
		` WHERE is_synced = 1 AND substr(id, 1, ?) = ? ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, query, len(recordid.TempPrefix), recordid.TempPrefix)
	if err != nil {
		return nil, fmt.Errorf("store: listing synced temporary %s: %w", c, err)
	}
	defer rows.Close()

	var out []model.Record

	for rows.Next() {
		rec, err := t.scan(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating synced temporary %s: %w", c, err)
	}

	return out, nil
}

// CountDirty returns the number of unpushed records per collection.
func (r reader) CountDirty(ctx context.Context) (map[model.Collection]int, error) {
	counts := make(map[model.Collection]int, len(tables))

	for _, c := range model.AllCollections() {
		t := tables[c]

		var n int
		if err := r.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+t.name+` WHERE is_synced = 0`).Scan(&n); err != nil {
			return nil, fmt.Errorf("store: counting dirty %s: %w", c, err)
		}

		counts[c] = n
	}

	return counts, nil
}

// ListPendingDeletions returns every tombstone, oldest first.
func (r reader) ListPendingDeletions(ctx context.Context) ([]model.PendingDeletion, error) {
	rows, err := r.q.QueryContext(ctx, sqlListPendingDeletions)
	if err != nil {
		return nil, fmt.Errorf("store: listing pending deletions: %w", err)
	}
	defer rows.Close()

	var out []model.PendingDeletion

	for rows.Next() {
		var (
			pd         model.PendingDeletion
			collection string
			createdAt  int64
		)

		if err := rows.Scan(&pd.ID, &collection, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scanning pending deletion: %w", err)
		}

		pd.Collection = model.Collection(collection)
		pd.CreatedAt = fromNanos(createdAt)
		out = append(out, pd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating pending deletions: %w", err)
	}

	return out, nil
}

// HasPendingDeletion reports whether a tombstone exists for id.
func (r reader) HasPendingDeletion(ctx context.Context, c model.Collection, id string) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, sqlCountPendingDeletion, string(c), id).Scan(&n); err != nil {
		return false, fmt.Errorf("store: checking pending deletion %s/%s: %w", c, id, err)
	}

	return n > 0, nil
}

// LastSync returns the persisted last-sync time, or the zero time before the
// first successful sync.
func (r reader) LastSync(ctx context.Context) (time.Time, error) {
	v, err := r.meta(ctx, metaLastSync)
	if err != nil || v == "" {
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parsing last sync %q: %w", v, err)
	}

	return t, nil
}

// Workspace returns the persisted active workspace id ("" if none).
func (r reader) Workspace(ctx context.Context) (string, error) {
	return r.meta(ctx, metaWorkspace)
}

func (r reader) meta(ctx context.Context, key string) (string, error) {
	var v string

	err := r.q.QueryRowContext(ctx, sqlGetMeta, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("store: reading meta %s: %w", key, err)
	}

	return v, nil
}

func queryCards(ctx context.Context, q querier, query string, args ...any) ([]*model.Card, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing cards: %w", err)
	}
	defer rows.Close()

	var out []*model.Card

	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating cards: %w", err)
	}

	return out, nil
}

func scanCard(r rowScanner) (*model.Card, error) {
	var (
		c                                 model.Card
		nextReview, createdAt, updatedAt int64
		synced                            int
	)

	err := r.Scan(&c.ID, &c.Question, &c.Answer, &c.Subject, &nextReview, &c.Interval,
		&c.Easiness, &c.ReviewCount, &createdAt, &updatedAt, &synced, &c.WorkspaceID, &c.CanonicalID)
	if err != nil {
		return nil, scanErr(err, "card")
	}

	c.NextReview = fromNanos(nextReview)
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	c.IsSynced = synced == 1

	return &c, nil
}

func scanSubject(r rowScanner) (*model.Subject, error) {
	var (
		s                    model.Subject
		createdAt, updatedAt int64
		synced               int
	)

	err := r.Scan(&s.ID, &s.Name, &createdAt, &updatedAt, &synced, &s.WorkspaceID, &s.CanonicalID)
	if err != nil {
		return nil, scanErr(err, "subject")
	}

	s.CreatedAt = fromNanos(createdAt)
	s.UpdatedAt = fromNanos(updatedAt)
	s.IsSynced = synced == 1

	return &s, nil
}

func scanCourse(r rowScanner) (*model.Course, error) {
	var (
		c                    model.Course
		createdAt, updatedAt int64
		synced               int
	)

	err := r.Scan(&c.ID, &c.Title, &c.Subject, &c.Content, &createdAt, &updatedAt, &synced,
		&c.WorkspaceID, &c.CanonicalID)
	if err != nil {
		return nil, scanErr(err, "course")
	}

	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	c.IsSynced = synced == 1

	return &c, nil
}

// scanErr passes sql.ErrNoRows through untouched so wrapGet can map it.
func scanErr(err error, kind string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}

	return fmt.Errorf("store: scanning %s row: %w", kind, err)
}

func wrapGet(err error, c model.Collection, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %q", ErrNotFound, c, key)
	}

	return err
}
