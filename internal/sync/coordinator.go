package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/tonimelisma/cardsync/internal/remote"
	"github.com/tonimelisma/cardsync/internal/store"
)

// SessionManager is the session provider as seen by the Coordinator.
// Satisfied by *remote.Sessions.
type SessionManager interface {
	Session() *remote.Session
	OnSessionChange(fn func(*remote.Session))
	SignOut() error
}

// CoordinatorConfig holds the options for NewCoordinator.
type CoordinatorConfig struct {
	Store    *store.Store
	Engine   Syncer
	Listener *Listener // optional: nil disables realtime updates
	Sessions SessionManager
	Logger   *slog.Logger
}

// Coordinator owns process-wide workspace state: switching workspaces,
// signing out, and keeping the realtime listener attached to the current
// session.
type Coordinator struct {
	store    *store.Store
	engine   Syncer
	listener *Listener
	sessions SessionManager
	logger   *slog.Logger

	mu stdsync.Mutex
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg *CoordinatorConfig) *Coordinator {
	return &Coordinator{
		store:    cfg.Store,
		engine:   cfg.Engine,
		listener: cfg.Listener,
		sessions: cfg.Sessions,
		logger:   cfg.Logger,
	}
}

// SwitchWorkspace makes ws the active workspace. A different workspace has
// an independent dataset: the listener is torn down and the local store
// (records, tombstones, last-sync time) is wiped before ws is persisted.
// Switching to the current workspace only re-attaches the listener.
func (c *Coordinator) SwitchWorkspace(ctx context.Context, ws string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.switchLocked(ctx, ws)
}

func (c *Coordinator) switchLocked(ctx context.Context, ws string) error {
	current, err := c.store.Workspace(ctx)
	if err != nil {
		return fmt.Errorf("sync: reading workspace: %w", err)
	}

	if current != ws {
		c.stopListener()

		if err := c.store.Reset(ctx); err != nil {
			return fmt.Errorf("sync: resetting local store: %w", err)
		}

		if err := c.store.SetWorkspace(ctx, ws); err != nil {
			return fmt.Errorf("sync: switching workspace: %w", err)
		}

		c.logger.Info("workspace switched",
			slog.String("from", current),
			slog.String("to", ws),
		)
	}

	c.attachLocked(ctx, ws)

	return nil
}

// SignOut makes a last attempt to push local changes, wipes the local store
// and ends the session. A failed final sync is logged, not returned: the
// user asked to leave.
func (c *Coordinator) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.engine.SyncToCloud(ctx); err != nil {
		c.logger.Warn("final sync before sign-out failed, unsynced changes are discarded",
			slog.String("error", err.Error()),
		)
	}

	c.stopListener()

	if err := c.store.Reset(ctx); err != nil {
		return fmt.Errorf("sync: resetting local store: %w", err)
	}

	if err := c.sessions.SignOut(); err != nil {
		return fmt.Errorf("sync: signing out: %w", err)
	}

	c.logger.Info("signed out")

	return nil
}

// Watch keeps the listener in step with the session until ctx is canceled:
// it attaches to the current session, re-attaches (switching workspace if
// needed) on every session change and detaches on sign-out.
func (c *Coordinator) Watch(ctx context.Context) error {
	changes := make(chan *remote.Session, 1)

	c.sessions.OnSessionChange(func(s *remote.Session) {
		// Keep only the latest session.
		select {
		case <-changes:
		default:
		}

		select {
		case changes <- s:
		default:
		}
	})

	c.handleSession(ctx, c.sessions.Session())

	defer func() {
		c.mu.Lock()
		c.stopListener()
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-changes:
			c.handleSession(ctx, s)
		}
	}
}

func (c *Coordinator) handleSession(ctx context.Context, s *remote.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s == nil {
		c.logger.Info("session ended, detaching realtime listener")
		c.stopListener()

		return
	}

	if err := c.switchLocked(ctx, s.Workspace); err != nil {
		c.logger.Error("following session change failed",
			slog.String("workspace", s.Workspace),
			slog.String("error", err.Error()),
		)
	}
}

// attachLocked (re)starts the listener for ws when a matching session exists.
func (c *Coordinator) attachLocked(ctx context.Context, ws string) {
	if c.listener == nil {
		return
	}

	s := c.sessions.Session()
	if s == nil || s.Workspace != ws || ws == "" {
		c.listener.Stop()
		return
	}

	c.listener.Start(ctx, ws)
}

func (c *Coordinator) stopListener() {
	if c.listener != nil {
		c.listener.Stop()
	}
}
