// Package sync keeps the local store and the remote record store converged.
//
// The Engine runs one sync cycle at a time: push dirty records, flush
// pending deletions, pull remote changes since the last sync, then reconcile
// temporary ids and merge the pulled records in a single transaction. The
// Listener applies realtime change events between cycles using the same
// last-write-wins rule, the Monitor tracks connectivity, the Trigger turns
// mutation notifications into coalesced sync runs, and the Coordinator owns
// workspace switches and sign-out.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/recordid"
	"github.com/tonimelisma/cardsync/internal/remote"
	"github.com/tonimelisma/cardsync/internal/store"
)

// ErrWorkspaceMismatch means the session belongs to a different workspace
// than the one the local store holds. Switching workspaces resolves it.
var ErrWorkspaceMismatch = errors.New("sync: session workspace differs from local workspace")

// RemoteStore is the slice of the remote client the engine needs. Satisfied
// by *remote.Client.
type RemoteStore interface {
	Select(ctx context.Context, collection model.Collection, f remote.Filter) ([]json.RawMessage, error)
	Upsert(ctx context.Context, collection model.Collection, records []json.RawMessage) ([]json.RawMessage, error)
	Delete(ctx context.Context, collection model.Collection, id string) error
}

// SessionSource reports the signed-in session. Satisfied by *remote.Sessions.
type SessionSource interface {
	Session() *remote.Session
}

// Connectivity reports whether the remote store is reachable. Satisfied by
// *Monitor.
type Connectivity interface {
	Online() bool
}

// SkipReason explains why a SyncToCloud call did nothing.
type SkipReason string

// Skip reasons.
const (
	SkipInFlight    SkipReason = "sync already in progress"
	SkipOffline     SkipReason = "offline"
	SkipSignedOut   SkipReason = "not signed in"
	SkipNoWorkspace SkipReason = "no active workspace"
)

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Store    *store.Store
	Remote   RemoteStore
	Sessions SessionSource
	Monitor  Connectivity // optional: nil means always online
	Notifier Notifier     // optional: receives one notification per failed run
	Logger   *slog.Logger
}

// Report summarizes one SyncToCloud call.
type Report struct {
	Skipped    bool
	SkipReason SkipReason
	Workspace  string
	Duration   time.Duration

	Pushed     int // records upserted
	Deleted    int // pending deletions acknowledged
	Pulled     int // records fetched
	Merged     int // pulled records written locally
	Reconciled int // temporary-id rows removed
}

// Engine runs sync cycles. It is safe for concurrent use; overlapping calls
// are skipped, not queued.
type Engine struct {
	store    *store.Store
	remote   RemoteStore
	sessions SessionSource
	monitor  Connectivity
	notifier Notifier
	logger   *slog.Logger

	running atomic.Bool

	statusMu stdsync.Mutex
	status   Status

	nowFunc func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(cfg *EngineConfig) *Engine {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}

	return &Engine{
		store:    cfg.Store,
		remote:   cfg.Remote,
		sessions: cfg.Sessions,
		monitor:  cfg.Monitor,
		notifier: notifier,
		logger:   cfg.Logger,
		status:   Status{State: StateIdle},
		nowFunc:  time.Now,
	}
}

// SyncToCloud runs one sync cycle. It is a no-op (Skipped report, nil error)
// while another cycle is running, while offline, without a session or
// without an active workspace. A failed cycle leaves every still-dirty
// record and unacknowledged tombstone in place for the next run.
func (e *Engine) SyncToCloud(ctx context.Context) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Debug("sync skipped", slog.String("reason", string(SkipInFlight)))
		return &Report{Skipped: true, SkipReason: SkipInFlight}, nil
	}
	defer e.running.Store(false)

	ws, reason, err := e.preflight(ctx)
	if err != nil {
		e.finish(nil, err)
		return &Report{Workspace: ws}, err
	}

	if reason != "" {
		e.logger.Debug("sync skipped", slog.String("reason", string(reason)))
		return &Report{Skipped: true, SkipReason: reason}, nil
	}

	e.setState(StateSyncing)

	start := e.nowFunc()
	report := &Report{Workspace: ws}

	e.logger.Info("sync started", slog.String("workspace", ws))

	syncedAt, err := e.runCycle(ctx, ws, report)
	report.Duration = time.Since(start)

	if err != nil {
		e.logger.Warn("sync failed",
			slog.String("workspace", ws),
			slog.String("error", err.Error()),
			slog.Duration("duration", report.Duration),
		)
		e.finish(nil, err)

		return report, err
	}

	e.finish(&syncedAt, nil)

	e.logger.Info("sync complete",
		slog.String("workspace", ws),
		slog.Int("pushed", report.Pushed),
		slog.Int("deleted", report.Deleted),
		slog.Int("pulled", report.Pulled),
		slog.Int("merged", report.Merged),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// preflight resolves the workspace to sync, or the reason to skip.
func (e *Engine) preflight(ctx context.Context) (string, SkipReason, error) {
	if e.monitor != nil && !e.monitor.Online() {
		return "", SkipOffline, nil
	}

	sess := e.sessions.Session()
	if sess == nil {
		return "", SkipSignedOut, nil
	}

	ws, err := e.store.Workspace(ctx)
	if err != nil {
		return "", "", fmt.Errorf("sync: reading workspace: %w", err)
	}

	if ws == "" {
		return "", SkipNoWorkspace, nil
	}

	if sess.Workspace != ws {
		return ws, "", fmt.Errorf("%w: signed in to %q, local store holds %q",
			ErrWorkspaceMismatch, sess.Workspace, ws)
	}

	return ws, "", nil
}

// runCycle executes the strictly ordered sync steps and returns the new
// last-sync time. The first failing step ends the cycle.
func (e *Engine) runCycle(ctx context.Context, ws string, report *Report) (time.Time, error) {
	if err := e.push(ctx, report); err != nil {
		return time.Time{}, err
	}

	if err := e.flushDeletions(ctx, report); err != nil {
		return time.Time{}, err
	}

	since, err := e.store.LastSync(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("sync: reading last sync: %w", err)
	}

	// Captured before the pull: anything written remotely while the pull is
	// running is picked up again by the next cycle.
	syncedAt := e.nowFunc().UTC()

	pulled, err := e.pull(ctx, ws, since)
	if err != nil {
		return time.Time{}, err
	}

	for _, recs := range pulled {
		report.Pulled += len(recs)
	}

	if err := e.mergePulled(ctx, pulled, syncedAt, report); err != nil {
		return time.Time{}, err
	}

	return syncedAt, nil
}

// push upserts every dirty record, collection by collection, and marks the
// acknowledged ones synced.
func (e *Engine) push(ctx context.Context, report *Report) error {
	for _, c := range model.AllCollections() {
		dirty, err := e.store.ListDirty(ctx, c)
		if err != nil {
			return fmt.Errorf("sync: listing dirty %s: %w", c, err)
		}

		if len(dirty) == 0 {
			continue
		}

		payloads := make([]json.RawMessage, 0, len(dirty))

		for _, rec := range dirty {
			p, err := model.WirePayload(rec)
			if err != nil {
				return fmt.Errorf("sync: encoding %s %s: %w", c, rec.RecordID(), err)
			}

			payloads = append(payloads, p)
		}

		stored, err := e.remote.Upsert(ctx, c, payloads)
		if err != nil {
			return fmt.Errorf("sync: pushing %s: %w", c, err)
		}

		canonical := make([]string, len(stored))

		for i, raw := range stored {
			rec, err := model.DecodeRecord(c, raw)
			if err != nil {
				return fmt.Errorf("sync: reading %s push response: %w", c, err)
			}

			canonical[i] = rec.RecordID()
		}

		now := e.nowFunc().UTC()

		if err := e.store.Update(ctx, func(tx *store.Tx) error {
			for i, rec := range dirty {
				if err := acknowledgePush(ctx, tx, c, rec, canonical[i], now); err != nil {
					return err
				}
			}

			return nil
		}); err != nil {
			return err
		}

		report.Pushed += len(dirty)

		e.logger.Debug("pushed records", slog.String("collection", c.String()), slog.Int("count", len(dirty)))
	}

	return nil
}

// acknowledgePush marks a pushed record synced. A record edited while the
// push was in flight stays dirty but keeps the canonical id it was given; a
// record deleted in the meantime gets a tombstone for that id, since the
// push just recreated it remotely.
func acknowledgePush(ctx context.Context, tx *store.Tx, c model.Collection, rec model.Record, canonicalID string, now time.Time) error {
	ok, err := tx.MarkSynced(ctx, c, rec, canonicalID)
	if err != nil || ok {
		return err
	}

	_, err = tx.GetRecord(ctx, c, rec.RecordID())

	switch {
	case err == nil:
		if recordid.IsTemporary(rec.RecordID()) {
			return tx.RecordCanonical(ctx, c, rec.RecordID(), canonicalID)
		}

		return nil
	case errors.Is(err, store.ErrNotFound):
		return tx.AddPendingDeletion(ctx, model.PendingDeletion{
			ID:         canonicalID,
			Collection: c,
			CreatedAt:  now,
		})
	default:
		return err
	}
}

// flushDeletions sends every tombstone to the remote store. Not-found counts
// as done. The first other failure ends the step with the remaining
// tombstones kept for the next cycle.
func (e *Engine) flushDeletions(ctx context.Context, report *Report) error {
	pending, err := e.store.ListPendingDeletions(ctx)
	if err != nil {
		return fmt.Errorf("sync: listing pending deletions: %w", err)
	}

	for _, pd := range pending {
		err := e.remote.Delete(ctx, pd.Collection, pd.ID)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			return fmt.Errorf("sync: deleting %s %s: %w", pd.Collection, pd.ID, err)
		}

		if err := e.store.Update(ctx, func(tx *store.Tx) error {
			return tx.RemovePendingDeletion(ctx, pd.Collection, pd.ID)
		}); err != nil {
			return err
		}

		report.Deleted++
	}

	return nil
}

// pull fetches every collection's changes since the given time concurrently.
func (e *Engine) pull(ctx context.Context, ws string, since time.Time) (map[model.Collection][]model.Record, error) {
	collections := model.AllCollections()
	results := make([][]model.Record, len(collections))

	g, gctx := errgroup.WithContext(ctx)

	for i, c := range collections {
		g.Go(func() error {
			raw, err := e.remote.Select(gctx, c, remote.Filter{Workspace: ws, Since: since})
			if err != nil {
				return fmt.Errorf("sync: pulling %s: %w", c, err)
			}

			recs := make([]model.Record, 0, len(raw))

			for _, r := range raw {
				rec, err := model.DecodeRecord(c, r)
				if err != nil {
					return fmt.Errorf("sync: pulling %s: %w", c, err)
				}

				recs = append(recs, rec)
			}

			results[i] = recs

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[model.Collection][]model.Record, len(collections))
	for i, c := range collections {
		out[c] = results[i]
	}

	return out, nil
}

// mergePulled reconciles temporary ids, merges the pulled records and
// advances the last-sync time in one transaction.
func (e *Engine) mergePulled(ctx context.Context, pulled map[model.Collection][]model.Record, syncedAt time.Time, report *Report) error {
	var merged, reconciled int

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		merged, reconciled = 0, 0

		for _, c := range model.AllCollections() {
			n, err := reconcileTemporary(ctx, tx, c, pulled[c])
			if err != nil {
				return err
			}

			reconciled += n

			for _, rec := range pulled[c] {
				ok, err := applyRemote(ctx, tx, c, rec)
				if err != nil {
					return err
				}

				if ok {
					merged++
				}
			}
		}

		return tx.SetLastSync(ctx, syncedAt)
	})
	if err != nil {
		return fmt.Errorf("sync: merging pulled records: %w", err)
	}

	report.Merged = merged
	report.Reconciled = reconciled

	return nil
}

// reconcileTemporary drops the temporary-id rows a push already delivered.
// A row whose canonical copy is not part of this pull is first re-keyed to
// its canonical id so the record survives locally.
func reconcileTemporary(ctx context.Context, tx *store.Tx, c model.Collection, pulled []model.Record) (int, error) {
	temps, err := tx.ListSyncedTemporary(ctx, c)
	if err != nil {
		return 0, err
	}

	if len(temps) == 0 {
		return 0, nil
	}

	incoming := make(map[string]bool, len(pulled))
	for _, rec := range pulled {
		incoming[rec.RecordID()] = true
	}

	for _, tmp := range temps {
		canonicalID := canonicalOf(tmp)
		if canonicalID == "" || incoming[canonicalID] {
			continue
		}

		if _, err := tx.GetRecord(ctx, c, canonicalID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return 0, err
		}

		if err := tx.PutRecord(ctx, rekeyed(tmp, canonicalID)); err != nil {
			return 0, err
		}
	}

	n, err := tx.DeleteTemporary(ctx, c)

	return int(n), err
}

// Status returns a snapshot of the engine's state.
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	return e.status
}

func (e *Engine) setState(s State) {
	e.statusMu.Lock()
	e.status.State = s
	e.statusMu.Unlock()
}

// finish records the outcome of a cycle. A failure publishes exactly one
// notification.
func (e *Engine) finish(syncedAt *time.Time, err error) {
	e.statusMu.Lock()

	if err != nil {
		e.status.State = StateError
		e.status.LastError = err.Error()
	} else {
		e.status.State = StateIdle
		e.status.LastError = ""

		if syncedAt != nil {
			e.status.LastSync = *syncedAt
		}
	}

	e.statusMu.Unlock()

	if err != nil {
		e.notifier.Notify(Notification{Time: e.nowFunc().UTC(), Err: err})
	}
}
