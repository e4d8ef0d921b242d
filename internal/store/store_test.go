package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cardsync/internal/model"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// newTestStore opens a Store in a temp directory, registering cleanup with
// t.Cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})

	return s
}

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleCard(id string) *model.Card {
	return &model.Card{
		ID:          id,
		Question:    "What is 2+2?",
		Answer:      "4",
		Subject:     "Math",
		NextReview:  t0,
		Interval:    1,
		Easiness:    2.5,
		CreatedAt:   t0,
		UpdatedAt:   t0,
		WorkspaceID: "ws",
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(ctx, path, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.PutRecord(ctx, sampleCard("c1")))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, testLogger(t))
	require.NoError(t, err)
	defer s.Close()

	card, err := s.GetCard(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "What is 2+2?", card.Question)
}

func TestPutGetCard_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	in := sampleCard("local_1700000000000_abcdef012345")
	in.CanonicalID = "remote-1"
	in.ReviewCount = 3
	require.NoError(t, s.PutRecord(ctx, in))

	got, err := s.GetCard(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestPutCard_ClampsSchedulingFields(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	card := sampleCard("c1")
	card.Interval = 0
	card.Easiness = 0.9
	card.ReviewCount = -2
	require.NoError(t, s.PutRecord(ctx, card))

	got, err := s.GetCard(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Interval)
	assert.InDelta(t, 1.3, got.Easiness, 1e-9)
	assert.Equal(t, 0, got.ReviewCount)

	card.Easiness = 0
	require.NoError(t, s.PutRecord(ctx, card))

	got, err = s.GetCard(ctx, "c1")
	require.NoError(t, err)
	assert.InDelta(t, model.DefaultEasiness, got.Easiness, 1e-9)
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetCard(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.GetRecord(ctx, model.CollectionCourses, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.FindSubjectByName(ctx, "nothing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindSubjectByName_CaseInsensitive(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, &model.Subject{ID: "s1", Name: "History", CreatedAt: t0}))

	got, err := s.FindSubjectByName(ctx, "hIsToRy")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
}

func TestListDueCards(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	due := sampleCard("due")
	later := sampleCard("later")
	later.NextReview = t0.Add(48 * time.Hour)
	other := sampleCard("other")
	other.Subject = "History"

	for _, c := range []*model.Card{due, later, other} {
		require.NoError(t, s.PutRecord(ctx, c))
	}

	all, err := s.ListDueCards(ctx, t0, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	math, err := s.ListDueCards(ctx, t0, "MATH")
	require.NoError(t, err)
	require.Len(t, math, 1)
	assert.Equal(t, "due", math[0].ID)

	bySubject, err := s.ListCardsBySubject(ctx, "math")
	require.NoError(t, err)
	assert.Len(t, bySubject, 2)
}

func TestListDirtyAndMarkSynced(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	tmp := sampleCard("local_1700000000000_abcdef012345")
	clean := sampleCard("c-clean")
	clean.IsSynced = true

	require.NoError(t, s.PutRecord(ctx, tmp))
	require.NoError(t, s.PutRecord(ctx, clean))

	dirty, err := s.ListDirty(ctx, model.CollectionCards)
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, tmp.ID, dirty[0].RecordID())

	counts, err := s.CountDirty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.CollectionCards])

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		ok, err := tx.MarkSynced(ctx, model.CollectionCards, dirty[0], "remote-9")
		assert.True(t, ok)

		return err
	}))

	got, err := s.GetCard(ctx, tmp.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSynced)
	assert.Equal(t, "remote-9", got.CanonicalID)

	found, err := s.FindByCanonical(ctx, model.CollectionCards, "remote-9")
	require.NoError(t, err)
	assert.Equal(t, tmp.ID, found.RecordID())
}

func TestMarkSynced_SkipsRecordEditedDuringPush(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	card := sampleCard("c1")
	require.NoError(t, s.PutRecord(ctx, card))

	pushed := *card

	edited := *card
	edited.Answer = "four"
	edited.UpdatedAt = t0.Add(time.Second)
	require.NoError(t, s.PutRecord(ctx, &edited))

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		ok, err := tx.MarkSynced(ctx, model.CollectionCards, &pushed, "c1")
		assert.False(t, ok)

		return err
	}))

	got, err := s.GetCard(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, got.IsSynced)
	assert.Equal(t, "four", got.Answer)
}

func TestDeleteTemporary_KeepsUnpushed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	pushed := sampleCard("local_1700000000000_aaaaaaaaaaaa")
	pushed.IsSynced = true
	fresh := sampleCard("local_1700000000001_bbbbbbbbbbbb")
	canonical := sampleCard("c-1")
	canonical.IsSynced = true

	for _, c := range []*model.Card{pushed, fresh, canonical} {
		require.NoError(t, s.PutRecord(ctx, c))
	}

	var n int64

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.DeleteTemporary(ctx, model.CollectionCards)

		return err
	}))
	assert.EqualValues(t, 1, n)

	cards, err := s.ListCards(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(cards))
	for _, c := range cards {
		ids = append(ids, c.ID)
	}

	assert.ElementsMatch(t, []string{fresh.ID, canonical.ID}, ids)
}

func TestReassignSubject(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	a := sampleCard("a")
	a.IsSynced = true
	b := sampleCard("b")
	b.Subject = "History"

	require.NoError(t, s.PutRecord(ctx, a))
	require.NoError(t, s.PutRecord(ctx, b))

	later := t0.Add(time.Hour)

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		n, err := tx.ReassignSubject(ctx, "math", "General", later)
		assert.EqualValues(t, 1, n)

		return err
	}))

	got, err := s.GetCard(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "General", got.Subject)
	assert.False(t, got.IsSynced)
	assert.Equal(t, later, got.UpdatedAt)
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")

	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.PutCard(ctx, sampleCard("c1")))
		require.NoError(t, tx.PutSubject(ctx, &model.Subject{ID: "s1", Name: "Math"}))

		return boom
	})
	require.ErrorIs(t, err, boom)

	cards, err := s.ListCards(ctx)
	require.NoError(t, err)
	assert.Empty(t, cards)

	subjects, err := s.ListSubjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, subjects)
}

func TestPendingDeletions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	pd := model.PendingDeletion{ID: "c-1", Collection: model.CollectionCards, CreatedAt: t0}

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.AddPendingDeletion(ctx, pd))

		return tx.AddPendingDeletion(ctx, pd)
	}))

	list, err := s.ListPendingDeletions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pd, list[0])

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.RemovePendingDeletion(ctx, model.CollectionCards, "c-1")
	}))

	list, err = s.ListPendingDeletions(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = s.Update(ctx, func(tx *Tx) error {
		return tx.AddPendingDeletion(ctx, model.PendingDeletion{ID: "x", Collection: "notes"})
	})
	assert.Error(t, err)
}

func TestMetaScalars(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	last, err := s.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	ts := time.Date(2025, 5, 2, 8, 0, 0, 123456789, time.UTC)
	require.NoError(t, s.SetLastSync(ctx, ts))
	require.NoError(t, s.SetWorkspace(ctx, "team-a"))

	last, err = s.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, ts.Equal(last))

	ws, err := s.Workspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, "team-a", ws)
}

func TestReset_WipesEverything(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, sampleCard("c1")))
	require.NoError(t, s.SetWorkspace(ctx, "team-a"))
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.AddPendingDeletion(ctx, model.PendingDeletion{ID: "x", Collection: model.CollectionCards})
	}))

	require.NoError(t, s.Reset(ctx))

	cards, err := s.ListCards(ctx)
	require.NoError(t, err)
	assert.Empty(t, cards)

	pending, err := s.ListPendingDeletions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	ws, err := s.Workspace(ctx)
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestSubscribe_NotifiesAfterCommit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Subscribe(model.CollectionSubjects)
	defer cancel()

	// Writes to other collections are filtered out.
	require.NoError(t, s.PutRecord(ctx, sampleCard("c1")))
	require.NoError(t, s.PutRecord(ctx, &model.Subject{ID: "s1", Name: "Math"}))

	select {
	case change := <-ch:
		assert.Equal(t, model.CollectionSubjects, change.Collection)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestSubscribe_CoalescesBursts(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Subscribe()

	for i := 0; i < 50; i++ {
		require.NoError(t, s.PutRecord(ctx, &model.Subject{ID: "s1", Name: "Math"}))
	}

	select {
	case change := <-ch:
		assert.Equal(t, model.CollectionSubjects, change.Collection)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	cancel()

	// The channel is closed once cancelled; at most one queued notification
	// may still be delivered before the close.
	drained := 0

	for range ch {
		drained++
	}

	assert.LessOrEqual(t, drained, 1)
}

func TestSubscribe_RollbackDoesNotNotify(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Subscribe(model.CollectionCards)
	defer cancel()

	_ = s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.PutCard(ctx, sampleCard("c1")))

		return errors.New("abort")
	})

	select {
	case change := <-ch:
		t.Fatalf("unexpected notification for %s", change.Collection)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListSyncedTemporaryAndRecordCanonical(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	pushed := sampleCard("local_1700000000000_aaaaaaaaaaaa")
	pushed.IsSynced = true
	pushed.CanonicalID = "c-9"
	dirty := sampleCard("local_1700000000001_bbbbbbbbbbbb")
	canonical := sampleCard("c-1")
	canonical.IsSynced = true

	for _, c := range []*model.Card{pushed, dirty, canonical} {
		require.NoError(t, s.PutRecord(ctx, c))
	}

	synced, err := s.ListSyncedTemporary(ctx, model.CollectionCards)
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, pushed.ID, synced[0].RecordID())
	assert.Equal(t, "c-9", synced[0].(*model.Card).CanonicalID)

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.RecordCanonical(ctx, model.CollectionCards, dirty.ID, "c-10")
	}))

	got, err := s.GetCard(ctx, dirty.ID)
	require.NoError(t, err)
	assert.Equal(t, "c-10", got.CanonicalID)
	assert.False(t, got.IsSynced)

	rec, err := s.FindByCanonical(ctx, model.CollectionCards, "c-10")
	require.NoError(t, err)
	assert.Equal(t, dirty.ID, rec.RecordID())
}

func TestHasPendingDeletion(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasPendingDeletion(ctx, model.CollectionCards, "c-1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.AddPendingDeletion(ctx, model.PendingDeletion{ID: "c-1", Collection: model.CollectionCards, CreatedAt: t0})
	}))

	has, err = s.HasPendingDeletion(ctx, model.CollectionCards, "c-1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasPendingDeletion(ctx, model.CollectionSubjects, "c-1")
	require.NoError(t, err)
	assert.False(t, has)
}
