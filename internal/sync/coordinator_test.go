package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cardsync/internal/remote"
	"github.com/tonimelisma/cardsync/internal/store"
)

type fakeSessions struct {
	mu       stdsync.Mutex
	session  *remote.Session
	handlers []func(*remote.Session)
	signOuts int
}

func (f *fakeSessions) Session() *remote.Session {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.session
}

func (f *fakeSessions) OnSessionChange(fn func(*remote.Session)) {
	f.mu.Lock()
	f.handlers = append(f.handlers, fn)
	f.mu.Unlock()
}

func (f *fakeSessions) set(s *remote.Session) {
	f.mu.Lock()
	f.session = s
	handlers := append([]func(*remote.Session){}, f.handlers...)
	f.mu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
}

func (f *fakeSessions) SignOut() error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()

	f.set(nil)

	return nil
}

type failingSyncer struct{ calls int }

func (s *failingSyncer) SyncToCloud(context.Context) (*Report, error) {
	s.calls++
	return nil, errors.New("hub unreachable")
}

func listening(l *Listener) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.cancel != nil
}

func newTestCoordinator(t *testing.T, sess *remote.Session) (*Coordinator, *store.Store, *Listener, *fakeSessions) {
	t.Helper()

	st := newTestStore(t)
	l := NewListener(st, &scriptedFeed{}, testLogger(t))
	t.Cleanup(l.Stop)

	sessions := &fakeSessions{session: sess}

	c := NewCoordinator(&CoordinatorConfig{
		Store:    st,
		Engine:   &countingSyncer{},
		Listener: l,
		Sessions: sessions,
		Logger:   testLogger(t),
	})

	return c, st, l, sessions
}

func TestSwitchWorkspace_SameKeepsData(t *testing.T) {
	c, st, l, _ := newTestCoordinator(t, &remote.Session{Workspace: "ws", User: "alice"})
	ctx := context.Background()

	require.NoError(t, st.PutRecord(ctx, card("c1", "A", t0)))
	require.NoError(t, c.SwitchWorkspace(ctx, "ws"))

	cards, err := st.ListCards(ctx)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
	assert.True(t, listening(l))
}

func TestSwitchWorkspace_DifferentResetsStore(t *testing.T) {
	c, st, l, _ := newTestCoordinator(t, &remote.Session{Workspace: "ws", User: "alice"})
	ctx := context.Background()

	require.NoError(t, st.PutRecord(ctx, card("c1", "A", t0)))
	require.NoError(t, st.SetLastSync(ctx, t0))
	require.NoError(t, c.SwitchWorkspace(ctx, "other"))

	cards, err := st.ListCards(ctx)
	require.NoError(t, err)
	assert.Empty(t, cards)

	ws, err := st.Workspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, "other", ws)

	last, err := st.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	// The session belongs to another workspace, so nothing is attached.
	assert.False(t, listening(l))
}

func TestCoordinatorSignOut_WipesEvenWhenFinalSyncFails(t *testing.T) {
	st := newTestStore(t)
	sessions := &fakeSessions{session: &remote.Session{Workspace: "ws"}}
	engine := &failingSyncer{}
	ctx := context.Background()

	c := NewCoordinator(&CoordinatorConfig{
		Store:    st,
		Engine:   engine,
		Sessions: sessions,
		Logger:   testLogger(t),
	})

	require.NoError(t, st.PutRecord(ctx, card("c1", "A", t0)))
	require.NoError(t, c.SignOut(ctx))

	assert.Equal(t, 1, engine.calls)
	assert.Equal(t, 1, sessions.signOuts)
	assert.Nil(t, sessions.Session())

	cards, err := st.ListCards(ctx)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestCoordinatorWatch_FollowsSession(t *testing.T) {
	c, st, l, sessions := newTestCoordinator(t, &remote.Session{Workspace: "ws", User: "alice"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- c.Watch(ctx) }()

	require.Eventually(t, func() bool { return listening(l) }, 5*time.Second, 10*time.Millisecond)

	sessions.set(&remote.Session{Workspace: "other", User: "alice"})

	require.Eventually(t, func() bool {
		ws, err := st.Workspace(context.Background())
		return err == nil && ws == "other" && listening(l)
	}, 5*time.Second, 10*time.Millisecond)

	sessions.set(nil)
	require.Eventually(t, func() bool { return !listening(l) }, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
