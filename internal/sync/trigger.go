package sync

import (
	"context"
	"log/slog"
	"time"
)

// Syncer runs one sync cycle. Satisfied by *Engine.
type Syncer interface {
	SyncToCloud(ctx context.Context) (*Report, error)
}

// Trigger is the sync request queue. Mutations call Request; a single Run
// loop coalesces requests that arrive within the debounce window into one
// SyncToCloud call. Requests made while offline are dropped: the records stay
// dirty and the next online transition syncs them.
type Trigger struct {
	syncer   Syncer
	monitor  Connectivity
	debounce time.Duration
	logger   *slog.Logger

	requests chan struct{}
}

// NewTrigger creates a Trigger. A nil monitor means always online.
func NewTrigger(syncer Syncer, monitor Connectivity, debounce time.Duration, logger *slog.Logger) *Trigger {
	return &Trigger{
		syncer:   syncer,
		monitor:  monitor,
		debounce: debounce,
		logger:   logger,
		requests: make(chan struct{}, 1),
	}
}

// Request asks for a sync. It never blocks; a request already pending
// absorbs this one.
func (t *Trigger) Request() {
	select {
	case t.requests <- struct{}{}:
	default:
	}
}

// Run consumes requests until ctx is canceled. Sync errors are reported by
// the engine, not returned.
func (t *Trigger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.requests:
		}

		if !t.settle(ctx) {
			return nil
		}

		if t.monitor != nil && !t.monitor.Online() {
			t.logger.Debug("sync request dropped while offline")
			continue
		}

		if _, err := t.syncer.SyncToCloud(ctx); err != nil && ctx.Err() == nil {
			t.logger.Debug("triggered sync failed", slog.String("error", err.Error()))
		}
	}
}

// settle waits until no request has arrived for the debounce window. It
// returns false if ctx is canceled first.
func (t *Trigger) settle(ctx context.Context) bool {
	if t.debounce <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(t.debounce)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.requests:
			timer.Reset(t.debounce)
		case <-timer.C:
			return true
		}
	}
}
