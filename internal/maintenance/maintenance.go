// Package maintenance runs the always-on background sweeps that keep the
// job store bounded and self-healing: purging aged terminal jobs and
// reaping jobs that have stayed running past the stall timeout.
//
// Each sweep is a ticker loop with exponential backoff-on-error and an
// initial scan before entering the loop. Cleanup and stalled-job detection
// run on independent timers since their schedules are unrelated.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
)

const backoffMax = 30 * time.Second

// Maintenance owns the cleanup-sweep and stalled-reaper loops. It never
// references the pool or queue packages directly, only the JobStore and
// TenantDirectory interfaces it needs.
type Maintenance struct {
	store     interfaces.JobStore
	directory interfaces.TenantDirectory
	logger    *common.Logger
	cfg       *common.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Maintenance runner. Call Start to launch its loops and Stop
// to shut them down.
func New(store interfaces.JobStore, directory interfaces.TenantDirectory, logger *common.Logger, cfg *common.Config) *Maintenance {
	return &Maintenance{store: store, directory: directory, logger: logger, cfg: cfg}
}

// Start launches the cleanup-sweep and stalled-reaper loops as independent
// goroutines. Safe to call once; call Stop before a second Start.
func (m *Maintenance) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.runLoop(runCtx, "cleanup", time.Duration(m.cfg.Cleanup.IntervalMs)*time.Millisecond, m.sweepCleanup)
	}()
	go func() {
		defer m.wg.Done()
		m.runLoop(runCtx, "stalled-reaper", time.Duration(m.cfg.Health.StalledIntervalMs)*time.Millisecond, m.sweepStalled)
	}()

	m.logger.Info().Msg("maintenance: started")
}

// Stop cancels both loops and waits for them to exit.
func (m *Maintenance) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.wg.Wait()
	m.logger.Info().Msg("maintenance: stopped")
}

// runLoop runs scan on a ticker, backing off exponentially (capped at
// backoffMax) after a failed scan and resetting on the next success.
func (m *Maintenance) runLoop(ctx context.Context, name string, interval time.Duration, scan func(ctx context.Context) bool) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	backoff := time.Duration(0)
	run := func() {
		if scan(ctx) {
			backoff = 0
			return
		}
		if backoff == 0 {
			backoff = 2 * time.Second
		} else {
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
		m.logger.Warn().Str("loop", name).Dur("backoff", backoff).Msg("maintenance: scan failed, backing off")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

// sweepCleanup purges completed/failed jobs older than the configured age
// for every registered tenant. Tenants are always enumerated from the
// directory, never derived from any caller-supplied input.
func (m *Maintenance) sweepCleanup(ctx context.Context) bool {
	tenants, err := m.directory.Tenants(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("maintenance: failed to list tenants for cleanup sweep")
		return false
	}

	completedAge := time.Duration(m.cfg.Cleanup.CompletedJobAgeMs) * time.Millisecond
	failedAge := time.Duration(m.cfg.Cleanup.FailedJobAgeMs) * time.Millisecond

	ok := true
	purged := 0
	for _, tenant := range tenants {
		if !tenant.Enabled {
			continue
		}
		n, err := m.store.PurgeCompleted(ctx, tenant.ID, completedAge, failedAge)
		if err != nil {
			m.logger.Warn().Str("tenant", tenant.ID).Err(err).Msg("maintenance: purge failed")
			ok = false
			continue
		}
		purged += n
	}
	if purged > 0 {
		m.logger.Info().Int("purged", purged).Int("tenants", len(tenants)).Msg("maintenance: cleanup sweep complete")
	} else {
		m.logger.Debug().Int("tenants", len(tenants)).Msg("maintenance: cleanup sweep complete, nothing to purge")
	}
	return ok
}

// sweepStalled reaps jobs stuck in running past the configured stalled
// timeout, across every tenant (MarkStalled is a store-wide operation).
func (m *Maintenance) sweepStalled(ctx context.Context) bool {
	timeout := time.Duration(m.cfg.Health.StalledTimeoutMs) * time.Millisecond
	n, err := m.store.MarkStalled(ctx, timeout)
	if err != nil {
		m.logger.Warn().Err(err).Msg("maintenance: stalled reap failed")
		return false
	}
	if n > 0 {
		m.logger.Info().Int("stalled", n).Msg("maintenance: reaped stalled jobs")
	}
	return true
}
