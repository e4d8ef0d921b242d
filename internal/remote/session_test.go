package remote

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cardsync/internal/tokenfile"
)

func TestLogin_PersistsSession(t *testing.T) {
	_, srv := newTestHub(t, map[string]string{"alice": "pw"}, time.Hour)
	path := filepath.Join(t.TempDir(), "session.json")

	sessions, err := NewSessions(srv.URL, path, srv.Client(), testLogger(t))
	require.NoError(t, err)
	assert.Nil(t, sessions.Session())

	_, err = sessions.Token()
	assert.True(t, errors.Is(err, ErrNotLoggedIn))

	sess, err := sessions.Login(context.Background(), "team-a", "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "team-a", sess.Workspace)
	assert.Equal(t, "alice", sess.User)

	f, err := tokenfile.Load(path)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "team-a", f.Workspace)

	// A fresh provider picks the saved session up.
	again, err := NewSessions(srv.URL, path, srv.Client(), testLogger(t))
	require.NoError(t, err)
	require.NotNil(t, again.Session())
	assert.Equal(t, "alice", again.Session().User)

	tok, err := again.Token()
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
}

func TestLogin_BadCredentials(t *testing.T) {
	_, srv := newTestHub(t, map[string]string{"alice": "pw"}, time.Hour)
	path := filepath.Join(t.TempDir(), "session.json")

	sessions, err := NewSessions(srv.URL, path, srv.Client(), testLogger(t))
	require.NoError(t, err)

	_, err = sessions.Login(context.Background(), "team-a", "alice", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Nil(t, sessions.Session())

	f, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestSignOut_NotifiesAndRemovesFile(t *testing.T) {
	_, srv := newTestHub(t, nil, time.Hour)
	path := filepath.Join(t.TempDir(), "session.json")

	sessions, err := NewSessions(srv.URL, path, srv.Client(), testLogger(t))
	require.NoError(t, err)

	var seen []*Session

	sessions.OnSessionChange(func(s *Session) { seen = append(seen, s) })

	_, err = sessions.Login(context.Background(), "team-a", "alice", "pw")
	require.NoError(t, err)
	require.NoError(t, sessions.SignOut())

	require.Len(t, seen, 2)
	assert.Equal(t, "team-a", seen[0].Workspace)
	assert.Nil(t, seen[1])
	assert.Nil(t, sessions.Session())

	f, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Nil(t, f)

	// Signing out twice is harmless and does not notify again.
	require.NoError(t, sessions.SignOut())
	assert.Len(t, seen, 2)
}

func TestToken_RefreshesAndPersists(t *testing.T) {
	// Tokens this short-lived are already inside the oauth2 expiry margin,
	// so every Token call goes through the refresh grant.
	_, srv := newTestHub(t, nil, 2*time.Second)
	path := filepath.Join(t.TempDir(), "session.json")

	sessions, err := NewSessions(srv.URL, path, srv.Client(), testLogger(t))
	require.NoError(t, err)

	_, err = sessions.Login(context.Background(), "team-a", "alice", "pw")
	require.NoError(t, err)

	before, err := tokenfile.Load(path)
	require.NoError(t, err)

	tok, err := sessions.Token()
	require.NoError(t, err)
	assert.NotEqual(t, before.Token.AccessToken, tok)

	after, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, tok, after.Token.AccessToken)
	assert.Equal(t, "team-a", after.Workspace)
}

func TestWatch_SeesLoginFromAnotherProcess(t *testing.T) {
	_, srv := newTestHub(t, nil, time.Hour)
	path := filepath.Join(t.TempDir(), "session.json")

	watched, err := NewSessions(srv.URL, path, srv.Client(), testLogger(t))
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []*Session
	)

	watched.OnSessionChange(func(s *Session) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- watched.Watch(ctx) }()

	other, err := NewSessions(srv.URL, path, srv.Client(), testLogger(t))
	require.NoError(t, err)

	// Repeat the login until the watcher is up and has seen it.
	require.Eventually(t, func() bool {
		_, err := other.Login(context.Background(), "team-a", "bob", "pw")
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()

		return len(seen) > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.NotNil(t, watched.Session())
	assert.Equal(t, "bob", watched.Session().User)

	require.NoError(t, other.SignOut())

	require.Eventually(t, func() bool {
		return watched.Session() == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
