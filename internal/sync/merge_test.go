package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/store"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "sync.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, st.Close()) })

	require.NoError(t, st.SetWorkspace(context.Background(), "ws"))

	return st
}

func card(id, answer string, updated time.Time) *model.Card {
	return &model.Card{
		ID: id, Question: "Q", Answer: answer, Subject: "Math",
		Interval: 1, Easiness: 2.5, NextReview: t0,
		CreatedAt: t0, UpdatedAt: updated, WorkspaceID: "ws",
	}
}

func applyInTx(t *testing.T, st *store.Store, rec model.Record) bool {
	t.Helper()

	var ok bool

	require.NoError(t, st.Update(context.Background(), func(tx *store.Tx) error {
		var err error
		ok, err = applyRemote(context.Background(), tx, model.CollectionCards, rec)

		return err
	}))

	return ok
}

func TestApplyRemote_LastWriteWins(t *testing.T) {
	tests := []struct {
		name       string
		local      time.Duration // offset of the local updated_at; negative disables the local copy
		remote     time.Duration
		wantRemote bool
	}{
		{"no local copy", -1, 0, true},
		{"remote newer", 0, time.Second, true},
		{"remote older", time.Second, 0, false},
		{"equal keeps local", time.Second, time.Second, false},
		{"remote newer by a nanosecond", time.Second, time.Second + time.Nanosecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := newTestStore(t)
			ctx := context.Background()

			if tt.local >= 0 {
				local := card("c1", "local", t0.Add(tt.local))
				require.NoError(t, st.PutRecord(ctx, local))
			}

			wrote := applyInTx(t, st, card("c1", "remote", t0.Add(tt.remote)))
			assert.Equal(t, tt.wantRemote, wrote)

			got, err := st.GetCard(ctx, "c1")
			require.NoError(t, err)

			if tt.wantRemote {
				assert.Equal(t, "remote", got.Answer)
				assert.True(t, got.IsSynced)
			} else {
				assert.Equal(t, "local", got.Answer)
			}
		})
	}
}

func TestApplyRemote_OrderIndependent(t *testing.T) {
	older := card("c1", "older", t0)
	newer := card("c1", "newer", t0.Add(time.Minute))

	for _, order := range [][]*model.Card{{older, newer}, {newer, older}} {
		st := newTestStore(t)

		for _, c := range order {
			applyInTx(t, st, c)
		}

		got, err := st.GetCard(context.Background(), "c1")
		require.NoError(t, err)
		assert.Equal(t, "newer", got.Answer)
	}
}

func TestApplyRemote_ReplacesPushedTemporaryRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tmp := card("local_1_aaaaaaaaaaaa", "mine", t0)
	tmp.IsSynced = true
	tmp.CanonicalID = "c1"
	require.NoError(t, st.PutRecord(ctx, tmp))

	assert.True(t, applyInTx(t, st, card("c1", "theirs", t0.Add(time.Second))))

	cards, err := st.ListCards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "c1", cards[0].ID)
	assert.Equal(t, "theirs", cards[0].Answer)
}

func TestApplyRemote_TemporaryRowNewerWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tmp := card("local_1_aaaaaaaaaaaa", "mine", t0.Add(time.Minute))
	tmp.CanonicalID = "c1"
	require.NoError(t, st.PutRecord(ctx, tmp))

	assert.False(t, applyInTx(t, st, card("c1", "theirs", t0)))

	cards, err := st.ListCards(ctx)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, tmp.ID, cards[0].ID)
}

func TestApplyRemote_PendingDeletionBlocksResurrection(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Update(ctx, func(tx *store.Tx) error {
		return tx.AddPendingDeletion(ctx, model.PendingDeletion{ID: "c1", Collection: model.CollectionCards, CreatedAt: t0})
	}))

	assert.False(t, applyInTx(t, st, card("c1", "theirs", t0)))

	_, err := st.GetCard(ctx, "c1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyRemoteDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutRecord(ctx, card("c1", "a", t0)))

	tmp := card("local_1_aaaaaaaaaaaa", "b", t0)
	tmp.CanonicalID = "c2"
	require.NoError(t, st.PutRecord(ctx, tmp))

	require.NoError(t, st.Update(ctx, func(tx *store.Tx) error {
		if err := tx.AddPendingDeletion(ctx, model.PendingDeletion{ID: "c1", Collection: model.CollectionCards, CreatedAt: t0}); err != nil {
			return err
		}

		removed, err := applyRemoteDelete(ctx, tx, model.CollectionCards, "c1")
		assert.True(t, removed)

		if err != nil {
			return err
		}

		removed, err = applyRemoteDelete(ctx, tx, model.CollectionCards, "c2")
		assert.True(t, removed)

		if err != nil {
			return err
		}

		removed, err = applyRemoteDelete(ctx, tx, model.CollectionCards, "missing")
		assert.False(t, removed)

		return err
	}))

	cards, err := st.ListCards(ctx)
	require.NoError(t, err)
	assert.Empty(t, cards)

	pending, err := st.ListPendingDeletions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
