package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"
)

// Pinger checks reachability of the remote store. Satisfied by
// *remote.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// minProbeInterval keeps a misconfigured probe from hammering the remote.
const minProbeInterval = time.Second

// Monitor tracks whether the remote store is reachable. The state starts
// offline; Set is the host's signal and Run probes periodically. Every
// offline-to-online transition fires the OnOnline callbacks exactly once.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	online atomic.Bool

	mu       stdsync.Mutex
	handlers []func()
}

// NewMonitor creates a Monitor probing pinger every interval, each probe
// bounded by timeout.
func NewMonitor(pinger Pinger, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		pinger:   pinger,
		interval: max(interval, minProbeInterval),
		timeout:  timeout,
		logger:   logger,
	}
}

// Online reports the last known connectivity.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// OnOnline registers fn to run on each offline-to-online transition. fn runs
// on the goroutine that observed the transition and must not block.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	m.mu.Unlock()
}

// Set records the connectivity state.
func (m *Monitor) Set(online bool) {
	was := m.online.Swap(online)
	if was == online {
		return
	}

	if !online {
		m.logger.Warn("remote store unreachable, working offline")
		return
	}

	m.logger.Info("remote store reachable, back online")

	m.mu.Lock()
	handlers := make([]func(), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// Probe pings the remote store once and records the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	pctx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	err := m.pinger.Ping(pctx)
	if err != nil && ctx.Err() != nil {
		return m.Online()
	}

	if err != nil {
		m.logger.Debug("connectivity probe failed", slog.String("error", err.Error()))
	}

	m.Set(err == nil)

	return err == nil
}

// Run probes immediately and then every interval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
