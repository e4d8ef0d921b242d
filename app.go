package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/tonimelisma/cardsync/internal/deck"
	"github.com/tonimelisma/cardsync/internal/remote"
	"github.com/tonimelisma/cardsync/internal/store"
	"github.com/tonimelisma/cardsync/internal/sync"
)

// dataDirPermissions keeps the local store and session private to the user.
const dataDirPermissions = 0o700

// app is the object graph a command works with, built from the resolved
// configuration.
type app struct {
	cc *CLIContext

	store    *store.Store
	sessions *remote.Sessions
	client   *remote.Client
	feed     *remote.Client
	monitor  *sync.Monitor
	engine   *sync.Engine
	deck     *deck.Service
	coord    *sync.Coordinator
	pending  *pendingSync
}

// pendingSync is the deck's trigger for one-shot commands: it remembers that
// a mutation asked for a sync so the command can push before exiting.
type pendingSync struct {
	requested atomic.Bool
}

func (p *pendingSync) Request() { p.requested.Store(true) }

// openApp opens the local store and wires the remote client, session
// provider, sync engine and mutation layer.
func openApp(ctx context.Context, cc *CLIContext) (*app, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	if err := os.MkdirAll(cfg.DataDir, dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	st, err := store.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	httpClient := newHTTPClient(cfg.ConnectTimeout, cfg.RequestTimeout)

	sessions, err := remote.NewSessions(cfg.Remote.URL, cfg.SessionPath, httpClient, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	opts := remote.Options{
		HTTPClient:        httpClient,
		MaxRetries:        cfg.Remote.MaxRetries,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
	}
	client := remote.NewClient(cfg.Remote.URL, sessions, logger, opts)

	// Change feeds are long-lived; only the dial is bounded.
	opts.HTTPClient = newHTTPClient(cfg.ConnectTimeout, 0)
	feed := remote.NewClient(cfg.Remote.URL, sessions, logger, opts)

	monitor := sync.NewMonitor(client, cfg.ProbeInterval, cfg.ConnectTimeout, logger)

	engine := sync.NewEngine(&sync.EngineConfig{
		Store:    st,
		Remote:   client,
		Sessions: sessions,
		Monitor:  monitor,
		Notifier: sync.NotifierFunc(func(n sync.Notification) {
			statusf(cc.Flags.Quiet, "Sync failed: %v\n", n.Err)
		}),
		Logger: logger,
	})

	pending := &pendingSync{}

	a := &app{
		cc:       cc,
		store:    st,
		sessions: sessions,
		client:   client,
		feed:     feed,
		monitor:  monitor,
		engine:   engine,
		deck:     deck.NewService(st, pending, cfg.Sync.DefaultSubject, logger),
		pending:  pending,
	}

	if err := a.adoptWorkspace(ctx); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// adoptWorkspace gives a fresh store its workspace: the signed-in session's,
// or else the configured one so cards can be written before the first login.
func (a *app) adoptWorkspace(ctx context.Context) error {
	ws, err := a.store.Workspace(ctx)
	if err != nil || ws != "" {
		return err
	}

	switch {
	case a.sessions.Session() != nil:
		ws = a.sessions.Session().Workspace
	case a.cc.Cfg.Sync.Workspace != "":
		ws = a.cc.Cfg.Sync.Workspace
	default:
		return nil
	}

	a.cc.Logger.Debug("adopting workspace", slog.String("workspace", ws))

	return a.store.SetWorkspace(ctx, ws)
}

// coordinator returns the workspace coordinator, creating it on first use.
// realtime attaches a change-feed listener; one-shot commands go without.
func (a *app) coordinator(realtime bool) *sync.Coordinator {
	if a.coord != nil {
		return a.coord
	}

	var listener *sync.Listener
	if realtime {
		listener = sync.NewListener(a.store, a.feed, a.cc.Logger)
	}

	a.coord = sync.NewCoordinator(&sync.CoordinatorConfig{
		Store:    a.store,
		Engine:   a.engine,
		Listener: listener,
		Sessions: a.sessions,
		Logger:   a.cc.Logger,
	})

	return a.coord
}

// syncNow probes connectivity and runs one sync cycle.
func (a *app) syncNow(ctx context.Context) (*sync.Report, error) {
	if !a.monitor.Probe(ctx) {
		return &sync.Report{Skipped: true, SkipReason: sync.SkipOffline}, nil
	}

	return a.engine.SyncToCloud(ctx)
}

// flush pushes the changes a one-shot command made. Failures leave the
// records dirty for the next sync and are not the command's error. When a
// `sync --watch` holds the sync lock it is nudged to push instead.
func (a *app) flush(ctx context.Context) {
	if a.cc.Flags.Offline || !a.pending.requested.Swap(false) || a.sessions.Session() == nil {
		return
	}

	release, err := a.lockSync()
	if errors.Is(err, errSyncLocked) {
		if nudgeErr := nudgeSyncHolder(a.cc.Cfg.DataDir); nudgeErr != nil {
			a.cc.Logger.Debug("nudging running sync failed", slog.String("error", nudgeErr.Error()))
		}

		a.cc.Statusf("Saved locally; the running sync will push it.\n")

		return
	}

	if err != nil {
		a.cc.Logger.Warn("changes saved locally, not synced", slog.String("error", err.Error()))
		return
	}
	defer release()

	a.syncQuietly(ctx)
}

// syncQuietly runs one cycle for a command whose real work is already done.
// The outcome is logged; the engine's notifier reports failures.
func (a *app) syncQuietly(ctx context.Context) {
	report, err := a.syncNow(ctx)

	switch {
	case err != nil:
		a.cc.Logger.Debug("sync after change failed, will retry on next sync", slog.String("error", err.Error()))
	case report.Skipped:
		a.cc.Logger.Info("changes saved locally", slog.String("reason", string(report.SkipReason)))
	}
}

// lockSync takes the cross-process sync lock of the data directory.
func (a *app) lockSync() (func(), error) {
	return acquireSyncLock(a.cc.Cfg.DataDir)
}

// Close releases the local store.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.cc.Logger.Warn("closing local store", slog.String("error", err.Error()))
	}
}

// withApp opens the app, runs fn, flushes pending changes and closes.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx, mustCLIContext(ctx))
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(a); err != nil {
		return err
	}

	a.flush(ctx)

	return nil
}

// newHTTPClient returns a client with a bounded dial and, when timeout > 0,
// a bounded request.
func newHTTPClient(connectTimeout, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout

	return &http.Client{Transport: transport, Timeout: timeout}
}
