package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultMaintainInterval is the maintenance tick.
	DefaultMaintainInterval = 10 * time.Second

	// windowTicks is the length of one maintenance window.
	windowTicks = 8

	// resyncFromTick is the first tick of a window that resyncs time.
	resyncFromTick = 6
)

// Syncer corrects the clock.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Maintainer runs the link maintenance loop.
type Maintainer struct {
	link   Link
	syncer Syncer
	log    *slog.Logger

	// Interval is the tick duration.
	Interval time.Duration

	count    int
	failures int
}

// NewMaintainer creates a maintainer with the default tick.
func NewMaintainer(link Link, syncer Syncer, log *slog.Logger) *Maintainer {
	return &Maintainer{
		link:     link,
		syncer:   syncer,
		log:      log,
		Interval: DefaultMaintainInterval,
	}
}

// Failures returns the number of failures pending recovery.
func (m *Maintainer) Failures() int {
	return m.failures
}

// Tick runs one maintenance step. It returns an error only when a
// reconnect fails.
func (m *Maintainer) Tick(ctx context.Context) error {
	m.count++

	if err := m.link.Check(ctx); err != nil {
		m.failures++
		m.log.Warn("Link check failed", slog.Int("failures", m.failures), "err", err)
	}

	if m.count == windowTicks {
		m.count = 0
		if m.failures > 0 {
			m.log.Info("Network failure detected, reconnecting")
			if err := m.link.Reconnect(ctx); err != nil {
				return fmt.Errorf("reconnect failed: %w", err)
			}
			if err := m.syncer.Sync(ctx); err != nil {
				m.log.Error("Time sync after reconnect failed", "err", err)
			}
		}
	}

	if m.count >= resyncFromTick && m.failures > 0 {
		if err := m.syncer.Sync(ctx); err != nil {
			m.failures++
			m.log.Error("Time sync failed", "err", err)
		} else {
			m.failures = 0
		}
	}

	return nil
}

// Run syncs time once, then ticks until ctx ends or a reconnect fails.
func (m *Maintainer) Run(ctx context.Context) error {
	if err := m.syncer.Sync(ctx); err != nil {
		m.failures++
		m.log.Error("Initial time sync failed", "err", err)
	}

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := m.Tick(ctx); err != nil {
			return err
		}
	}
}
