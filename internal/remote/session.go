package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/cardsync/internal/tokenfile"
)

// clientID identifies the CLI to the token endpoint.
const clientID = "cardsync-cli"

// Watcher backoff after fsnotify errors.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
)

// Session describes the signed-in identity. It never carries token values.
type Session struct {
	Workspace string
	User      string
	Expiry    time.Time
}

// Sessions is the session provider: it signs in against the remote token
// endpoint, persists the session file, hands out refreshed access tokens and
// tells listeners when the session changes (including changes made by another
// process, observed through the session file).
type Sessions struct {
	baseURL    string
	path       string
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	file     *tokenfile.File
	src      oauth2.TokenSource
	handlers []func(*Session)
}

// NewSessions creates a provider backed by the session file at path and
// loads any existing session from it.
func NewSessions(baseURL, path string, httpClient *http.Client, logger *slog.Logger) (*Sessions, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	s := &Sessions{
		baseURL:    baseURL,
		path:       path,
		httpClient: httpClient,
		logger:     logger,
	}

	f, err := tokenfile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("remote: loading session: %w", err)
	}

	if f != nil {
		s.install(f)
		logger.Info("loaded saved session",
			slog.String("path", path),
			slog.String("workspace", f.Workspace),
			slog.Time("expiry", f.Token.Expiry),
		)
	}

	return s, nil
}

func (s *Sessions) oauthConfig(workspace string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.baseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{workspace},
	}
}

// oauthContext makes the oauth2 library use our HTTP client.
func (s *Sessions) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// Login exchanges user credentials for a token scoped to workspace (OAuth2
// password grant), persists the session and notifies listeners.
func (s *Sessions) Login(ctx context.Context, workspace, user, password string) (*Session, error) {
	if workspace == "" {
		return nil, errors.New("remote: login requires a workspace")
	}

	s.logger.Info("signing in",
		slog.String("workspace", workspace),
		slog.String("user", user),
	)

	tok, err := s.oauthConfig(workspace).PasswordCredentialsToken(s.oauthContext(ctx), user, password)
	if err != nil {
		return nil, fmt.Errorf("remote: login failed: %w", classifyTokenError(err))
	}

	f := &tokenfile.File{Token: tok, Workspace: workspace, User: user}
	if err := tokenfile.Save(s.path, f); err != nil {
		return nil, fmt.Errorf("remote: saving session: %w", err)
	}

	s.install(f)

	sess := sessionOf(f)
	s.logger.Info("login successful",
		slog.String("workspace", workspace),
		slog.Time("expiry", tok.Expiry),
	)
	s.notify(sess)

	return sess, nil
}

// Session returns the current session, or nil when signed out.
func (s *Sessions) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	return sessionOf(s.file)
}

// OnSessionChange registers fn to run after every sign-in, sign-out or
// identity change. fn receives nil on sign-out.
func (s *Sessions) OnSessionChange(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = append(s.handlers, fn)
}

// SignOut removes the session file and notifies listeners.
func (s *Sessions) SignOut() error {
	if err := tokenfile.Remove(s.path); err != nil {
		return fmt.Errorf("remote: signing out: %w", err)
	}

	s.mu.Lock()
	hadSession := s.file != nil
	s.file = nil
	s.src = nil
	s.mu.Unlock()

	s.logger.Info("signed out", slog.String("path", s.path))

	if hadSession {
		s.notify(nil)
	}

	return nil
}

// Token returns a valid access token, refreshing it through the token
// endpoint when expired. Refreshed tokens are written back to the session
// file. Implements TokenSource.
func (s *Sessions) Token() (string, error) {
	s.mu.Lock()
	src, current := s.src, s.file
	s.mu.Unlock()

	if src == nil {
		return "", ErrNotLoggedIn
	}

	tok, err := src.Token()
	if err != nil {
		s.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("remote: obtaining token: %w", classifyTokenError(err))
	}

	if tok.AccessToken != current.Token.AccessToken {
		s.persistRefreshed(current, tok)
	}

	return tok.AccessToken, nil
}

func (s *Sessions) persistRefreshed(current *tokenfile.File, tok *oauth2.Token) {
	s.mu.Lock()
	if s.file == current {
		updated := *current
		updated.Token = tok
		s.file = &updated
	}
	s.mu.Unlock()

	if err := tokenfile.UpdateToken(s.path, tok); err != nil {
		s.logger.Warn("failed to persist refreshed token",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Info("persisted refreshed token", slog.Time("new_expiry", tok.Expiry))
}

// Watch follows the session file until ctx is canceled so that a login or
// logout performed by another process reaches this one.
func (s *Sessions) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, tokenfile.DirPerms); err != nil {
		return fmt.Errorf("remote: creating session directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("remote: creating session watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("remote: watching %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) ||
				ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				s.reload()
			}

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			s.logger.Warn("session watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := timeSleep(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*2, watchErrMaxBackoff)
		}
	}
}

// reload re-reads the session file and notifies listeners when the identity
// (signed in or not, workspace, user) changed. Token-only changes are
// absorbed silently.
func (s *Sessions) reload() {
	f, err := tokenfile.Load(s.path)
	if err != nil {
		s.logger.Warn("ignoring unreadable session file",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return
	}

	s.mu.Lock()
	prev := s.file
	s.mu.Unlock()

	if sameIdentity(prev, f) {
		if f != nil && prev != nil && f.Token.AccessToken != prev.Token.AccessToken {
			s.install(f)
		}

		return
	}

	if f == nil {
		s.mu.Lock()
		s.file = nil
		s.src = nil
		s.mu.Unlock()

		s.logger.Info("session removed externally")
		s.notify(nil)

		return
	}

	s.install(f)
	s.logger.Info("session changed externally", slog.String("workspace", f.Workspace))
	s.notify(sessionOf(f))
}

func (s *Sessions) install(f *tokenfile.File) {
	src := s.oauthConfig(f.Workspace).TokenSource(s.oauthContext(context.Background()), f.Token)

	s.mu.Lock()
	s.file = f
	s.src = src
	s.mu.Unlock()
}

func (s *Sessions) notify(sess *Session) {
	s.mu.Lock()
	handlers := append([]func(*Session){}, s.handlers...)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(sess)
	}
}

func sameIdentity(a, b *tokenfile.File) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.Workspace == b.Workspace && a.User == b.User
}

func sessionOf(f *tokenfile.File) *Session {
	return &Session{Workspace: f.Workspace, User: f.User, Expiry: f.Token.Expiry}
}

// classifyTokenError maps token endpoint rejections onto the package
// sentinels so callers can test for ErrUnauthorized.
func classifyTokenError(err error) error {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) || rerr.Response == nil {
		return err
	}

	sentinel := classifyStatus(rerr.Response.StatusCode)
	if rerr.ErrorCode == "invalid_grant" || rerr.ErrorCode == "invalid_client" {
		sentinel = ErrUnauthorized
	}

	if sentinel == nil {
		return err
	}

	return &Error{
		StatusCode: rerr.Response.StatusCode,
		Message:    rerr.Error(),
		Err:        sentinel,
	}
}
