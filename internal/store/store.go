// Package store is the local embedded record store: a SQLite database holding
// the cards, subjects and courses collections, the pending-deletion tombstones
// and a small key/value meta table. It carries no business rules; callers
// decide what to write and the store makes multi-collection writes atomic and
// tells subscribers which collections changed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/cardsync/internal/model"
)

// ErrNotFound is returned by single-record lookups when no row matches.
var ErrNotFound = errors.New("store: record not found")

// querier is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the SQLite handle. All writes go through Update so that change
// notifications are published only after a commit.
type Store struct {
	reader

	db     *sql.DB
	logger *slog.Logger
	hub    *notifier
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. The database runs in WAL mode with synchronous=FULL.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: one connection, so transactions serialize.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("local store opened", slog.String("db_path", path))

	return &Store{
		reader: reader{q: db},
		db:     db,
		logger: logger,
		hub:    newNotifier(),
	}, nil
}

// Close stops all subscriptions and closes the database.
func (s *Store) Close() error {
	s.hub.closeAll()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: closing database: %w", err)
	}

	return nil
}

// Tx is a write transaction spanning every collection. It exposes the same
// read methods as Store, evaluated against the transaction's view.
type Tx struct {
	reader

	tx      *sql.Tx
	touched map[model.Collection]bool
}

func (t *Tx) touch(c model.Collection) {
	t.touched[c] = true
}

// Update runs fn inside a single SQL transaction. Either every write made by
// fn commits or none does. Subscribers of the touched collections are
// notified after the commit.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{
		reader:  reader{q: sqlTx},
		tx:      sqlTx,
		touched: make(map[model.Collection]bool),
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("store: committing transaction: %w", err)
	}

	for c := range tx.touched {
		s.hub.publish(c)
	}

	return nil
}

// PutRecord upserts a single record in its own transaction.
func (s *Store) PutRecord(ctx context.Context, rec model.Record) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.PutRecord(ctx, rec)
	})
}

// SetLastSync persists the last successful sync time.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.SetLastSync(ctx, t)
	})
}

// SetWorkspace persists the active workspace id.
func (s *Store) SetWorkspace(ctx context.Context, workspace string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.SetWorkspace(ctx, workspace)
	})
}

const (
	sqlResetCards     = `DELETE FROM cards`
	sqlResetSubjects  = `DELETE FROM subjects`
	sqlResetCourses   = `DELETE FROM courses`
	sqlResetDeletions = `DELETE FROM pending_deletions`
	sqlResetMeta      = `DELETE FROM meta`
)

// Reset wipes every collection, the tombstones and the meta scalars. Used on
// workspace switch and sign-out, where the dataset no longer applies.
func (s *Store) Reset(ctx context.Context) error {
	err := s.Update(ctx, func(tx *Tx) error {
		for _, stmt := range []string{
			sqlResetCards, sqlResetSubjects, sqlResetCourses, sqlResetDeletions, sqlResetMeta,
		} {
			if _, err := tx.tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: resetting: %w", err)
			}
		}

		for _, c := range model.AllCollections() {
			tx.touch(c)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("local store reset")

	return nil
}

// Subscribe registers for change notifications on the given collections (all
// collections when none are given). A notification means "re-read this
// collection"; bursts are coalesced so a slow consumer sees at most one
// pending notification per collection. cancel releases the subscription and
// closes the channel.
func (s *Store) Subscribe(collections ...model.Collection) (<-chan Change, func()) {
	if len(collections) == 0 {
		collections = model.AllCollections()
	}

	return s.hub.subscribe(collections)
}

// toNanos stores times as Unix nanoseconds; the zero time is stored as 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
