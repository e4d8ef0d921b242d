package sync

import (
	"context"
	"errors"
	"time"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/store"
)

// applyRemote writes an incoming remote record if it wins last-write-wins
// against the local copy. The local copy is the record with the same id or,
// failing that, the temporary-id row already pushed as that id. Records with
// a pending local deletion are never resurrected. It reports whether the
// record was written. Shared by the sync merge and the realtime listener.
func applyRemote(ctx context.Context, tx *store.Tx, c model.Collection, rec model.Record) (bool, error) {
	id := rec.RecordID()

	deleted, err := tx.HasPendingDeletion(ctx, c, id)
	if err != nil {
		return false, err
	}

	if deleted {
		return false, nil
	}

	local, temp, err := localCopy(ctx, tx, c, id)
	if err != nil {
		return false, err
	}

	var localTime time.Time
	if local != nil {
		localTime = local.ModifiedAt()
	}

	if !model.RemoteWins(local != nil, localTime, rec.ModifiedAt()) {
		return false, nil
	}

	if temp {
		if _, err := tx.DeleteRecord(ctx, c, local.RecordID()); err != nil {
			return false, err
		}
	}

	if err := tx.PutRecord(ctx, synced(rec)); err != nil {
		return false, err
	}

	return true, nil
}

// applyRemoteDelete removes the local copy of a record deleted remotely,
// including a temporary-id row pushed as it, and drops any tombstone for
// it. It reports whether a row was removed.
func applyRemoteDelete(ctx context.Context, tx *store.Tx, c model.Collection, id string) (bool, error) {
	removed, err := tx.DeleteRecord(ctx, c, id)
	if err != nil {
		return false, err
	}

	if !removed {
		tmp, err := tx.FindByCanonical(ctx, c, id)

		switch {
		case err == nil:
			if removed, err = tx.DeleteRecord(ctx, c, tmp.RecordID()); err != nil {
				return false, err
			}
		case !errors.Is(err, store.ErrNotFound):
			return false, err
		}
	}

	if err := tx.RemovePendingDeletion(ctx, c, id); err != nil {
		return false, err
	}

	return removed, nil
}

// localCopy finds the local record competing with remote id. temp is true
// when it is a temporary-id row carrying id as its canonical id.
func localCopy(ctx context.Context, tx *store.Tx, c model.Collection, id string) (model.Record, bool, error) {
	local, err := tx.GetRecord(ctx, c, id)
	if err == nil {
		return local, false, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	local, err = tx.FindByCanonical(ctx, c, id)
	if err == nil {
		return local, true, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	return nil, false, nil
}

// synced returns a copy of rec flagged as synced with no local canonical
// mapping.
func synced(rec model.Record) model.Record {
	switch r := rec.(type) {
	case *model.Card:
		cp := *r
		cp.IsSynced, cp.CanonicalID = true, ""

		return &cp
	case *model.Subject:
		cp := *r
		cp.IsSynced, cp.CanonicalID = true, ""

		return &cp
	case *model.Course:
		cp := *r
		cp.IsSynced, cp.CanonicalID = true, ""

		return &cp
	default:
		return rec
	}
}

// rekeyed returns a synced copy of a temporary-id record under its canonical
// id.
func rekeyed(rec model.Record, canonicalID string) model.Record {
	out := synced(rec)

	switch r := out.(type) {
	case *model.Card:
		r.ID = canonicalID
	case *model.Subject:
		r.ID = canonicalID
	case *model.Course:
		r.ID = canonicalID
	}

	return out
}

// canonicalOf returns the canonical id a temporary record was pushed as.
func canonicalOf(rec model.Record) string {
	switch r := rec.(type) {
	case *model.Card:
		return r.CanonicalID
	case *model.Subject:
		return r.CanonicalID
	case *model.Course:
		return r.CanonicalID
	default:
		return ""
	}
}
