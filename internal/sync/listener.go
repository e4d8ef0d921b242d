package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/cardsync/internal/model"
	"github.com/tonimelisma/cardsync/internal/remote"
	"github.com/tonimelisma/cardsync/internal/store"
)

// Reconnect backoff for a dropped change feed.
const (
	initialFeedBackoff = 1 * time.Second
	maxFeedBackoff     = 30 * time.Second
	feedBackoffFactor  = 2
)

// errStaleGeneration marks an event delivered by a subscription that has
// since been torn down.
var errStaleGeneration = errors.New("sync: stale listener generation")

// ChangeFeed opens a realtime change feed. Satisfied by *remote.Client.
type ChangeFeed interface {
	Subscribe(ctx context.Context, collection model.Collection, workspace string, handler remote.ChangeHandler) error
}

// Listener applies realtime change events to the local store. Each Start
// begins a new generation; events from an older generation are discarded
// inside the write transaction, so a torn-down subscription can never write
// into the next workspace's data.
type Listener struct {
	store  *store.Store
	feed   ChangeFeed
	logger *slog.Logger

	generation atomic.Uint64

	mu     stdsync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewListener creates a stopped Listener.
func NewListener(st *store.Store, feed ChangeFeed, logger *slog.Logger) *Listener {
	return &Listener{
		store:     st,
		feed:      feed,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// Start subscribes to every collection of workspace, replacing any running
// subscriptions. It returns immediately.
func (l *Listener) Start(ctx context.Context, workspace string) {
	l.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	gen := l.generation.Add(1)
	lctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	l.cancel = cancel
	l.done = done

	l.logger.Info("realtime listener starting",
		slog.String("workspace", workspace),
		slog.Uint64("generation", gen),
	)

	go func() {
		defer close(done)

		g, gctx := errgroup.WithContext(lctx)

		for _, c := range model.AllCollections() {
			g.Go(func() error {
				return l.follow(gctx, gen, c, workspace)
			})
		}

		if err := g.Wait(); err != nil {
			l.logger.Warn("realtime listener stopped",
				slog.String("workspace", workspace),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Stop tears the subscriptions down and waits for them to exit. Events still
// in flight are discarded. Stopping a stopped Listener is a no-op.
func (l *Listener) Stop() {
	l.generation.Add(1)

	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	l.logger.Debug("realtime listener stopped")
}

// Generation returns the current generation.
func (l *Listener) Generation() uint64 {
	return l.generation.Load()
}

// follow keeps one collection's feed open, reconnecting with backoff. An
// authentication failure ends it: the session coordinator restarts the
// listener once the session changes.
func (l *Listener) follow(ctx context.Context, gen uint64, c model.Collection, workspace string) error {
	backoff := initialFeedBackoff

	for {
		started := time.Now()

		err := l.feed.Subscribe(ctx, c, workspace, func(ctx context.Context, ev model.ChangeEvent) {
			if _, err := l.apply(ctx, gen, workspace, ev); err != nil && !errors.Is(err, errStaleGeneration) {
				l.logger.Warn("applying change event failed",
					slog.String("collection", c.String()),
					slog.String("type", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
		})
		if ctx.Err() != nil {
			return nil
		}

		if remote.IsAuthError(err) {
			return fmt.Errorf("sync: %s change feed: %w", c, err)
		}

		if time.Since(started) > maxFeedBackoff {
			backoff = initialFeedBackoff
		}

		l.logger.Warn("change feed dropped, reconnecting",
			slog.String("collection", c.String()),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)

		if sleepErr := l.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil
		}

		backoff = min(backoff*feedBackoffFactor, maxFeedBackoff)
	}
}

// apply writes one event to the local store under the last-write-wins rule.
// It reports whether the store changed.
func (l *Listener) apply(ctx context.Context, gen uint64, workspace string, ev model.ChangeEvent) (bool, error) {
	if ev.Workspace != "" && ev.Workspace != workspace {
		return false, nil
	}

	var changed bool

	err := l.store.Update(ctx, func(tx *store.Tx) error {
		if l.generation.Load() != gen {
			return errStaleGeneration
		}

		if ws, err := tx.Workspace(ctx); err != nil || ws != workspace {
			return err
		}

		var err error

		switch ev.Type {
		case model.ChangeInsert, model.ChangeUpdate:
			var rec model.Record

			rec, err = model.DecodeRecord(ev.Collection, ev.Record)
			if err != nil {
				return err
			}

			changed, err = applyRemote(ctx, tx, ev.Collection, rec)
		case model.ChangeDelete:
			var id string

			id, err = ev.RecordID()
			if err != nil {
				return err
			}

			changed, err = applyRemoteDelete(ctx, tx, ev.Collection, id)
		default:
			return fmt.Errorf("sync: unknown change type %q", ev.Type)
		}

		return err
	})
	if err != nil {
		return false, err
	}

	if changed {
		l.logger.Debug("change event applied",
			slog.String("collection", ev.Collection.String()),
			slog.String("type", string(ev.Type)),
		)
	}

	return changed, nil
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
