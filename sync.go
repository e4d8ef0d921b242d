package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/cardsync/internal/store"
	"github.com/tonimelisma/cardsync/internal/sync"
)

// defaultWatchInterval is how often `sync --watch` runs a cycle on its own,
// on top of realtime events and change requests.
const defaultWatchInterval = 5 * time.Minute

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the local store with the workspace",
		Long: `Run one sync cycle: push local changes, flush queued deletions and pull
remote changes since the last sync.

With --watch, keep running: apply realtime changes as they happen, sync when
connectivity returns and on every --interval, until interrupted. Other
cardsync commands hand their changes to the running watcher.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	cmd.Flags().Bool("watch", false, "keep syncing until interrupted")
	cmd.Flags().Duration("interval", defaultWatchInterval, "periodic sync interval in watch mode")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	watch, _ := cmd.Flags().GetBool("watch")
	interval, _ := cmd.Flags().GetDuration("interval")

	a, err := openApp(ctx, mustCLIContext(ctx))
	if err != nil {
		return err
	}
	defer a.Close()

	if a.sessions.Session() == nil {
		return errors.New("not signed in: run 'cardsync login' first")
	}

	if watch {
		return runSyncWatch(ctx, a, interval)
	}

	return runSyncOnce(ctx, a, cmd.OutOrStdout())
}

func runSyncOnce(ctx context.Context, a *app, w io.Writer) error {
	release, err := a.lockSync()
	if errors.Is(err, errSyncLocked) {
		if nudgeErr := nudgeSyncHolder(a.cc.Cfg.DataDir); nudgeErr != nil {
			return fmt.Errorf("%w: %w", err, nudgeErr)
		}

		a.cc.Statusf("A sync is already running; asked it to sync now.\n")

		return nil
	}

	if err != nil {
		return err
	}
	defer release()

	report, err := a.syncNow(ctx)
	if err != nil {
		return err
	}

	if a.cc.Flags.JSON {
		return printJSON(w, report)
	}

	if report.Skipped {
		a.cc.Statusf("Sync skipped: %s.\n", report.SkipReason)
		return nil
	}

	a.cc.Statusf("Synced %s in %s: pushed %d, deleted %d, pulled %d (%d applied).\n",
		report.Workspace, report.Duration.Round(time.Millisecond),
		report.Pushed, report.Deleted, report.Pulled, report.Merged)

	return nil
}

// runSyncWatch runs the long-lived sync loop: connectivity probing, the
// coalescing trigger, session-file watching and the realtime listener, all
// stopped by SIGINT/SIGTERM.
func runSyncWatch(ctx context.Context, a *app, interval time.Duration) error {
	logger := a.cc.Logger
	cfg := a.cc.Cfg

	release, err := a.lockSync()
	if err != nil {
		return fmt.Errorf("cannot start watch: %w", err)
	}
	defer release()

	ctx = shutdownContext(ctx, logger)

	trigger := sync.NewTrigger(a.engine, a.monitor, cfg.Debounce, logger)
	a.monitor.OnOnline(trigger.Request)
	onHangup(ctx, trigger.Request)

	coord := a.coordinator(cfg.Sync.Realtime)

	changes, stopChanges := a.store.Subscribe()
	defer stopChanges()

	a.cc.Statusf("Watching workspace %s (Ctrl-C to stop).\n", a.sessions.Session().Workspace)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.monitor.Run(gctx) })
	g.Go(func() error { return trigger.Run(gctx) })
	g.Go(func() error { return a.sessions.Watch(gctx) })
	g.Go(func() error { return coord.Watch(gctx) })
	g.Go(func() error {
		logChanges(gctx, changes, logger)
		return nil
	})
	g.Go(func() error {
		periodic(gctx, interval, trigger.Request)
		return nil
	})

	trigger.Request()

	err = g.Wait()

	status := a.engine.Status()
	logger.Info("watch stopped",
		slog.String("state", string(status.State)),
		slog.Time("last_sync", status.LastSync),
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// periodic calls fn every interval until ctx is canceled.
func periodic(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// logChanges reports local store changes (sync merges, realtime events)
// until ctx is canceled.
func logChanges(ctx context.Context, changes <-chan store.Change, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}

			logger.Debug("local collection changed", slog.String("collection", ch.Collection.String()))
		}
	}
}
