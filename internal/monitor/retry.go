package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/casevault/internal/models"
)

// retryTracker counts auto-retry attempts per job within a trailing window.
// No persisted per-job retry history exists anywhere in the store, so this
// is process-local and resets on restart, acceptable since it only throttles
// an optional convenience policy, never a correctness guarantee.
type retryTracker struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newRetryTracker() retryTracker {
	return retryTracker{attempts: make(map[string][]time.Time)}
}

// allow reports whether jobID has been auto-retried fewer than max times in
// the last hour, and records this attempt if so.
func (t *retryTracker) allow(jobID string, max int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)
	recent := t.attempts[jobID][:0]
	for _, at := range t.attempts[jobID] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= max {
		t.attempts[jobID] = recent
		return false
	}
	t.attempts[jobID] = append(recent, now)
	return true
}

// autoRetryTypeSet builds a lookup set from the configured type name list.
func autoRetryTypeSet(types []string) map[models.JobType]bool {
	set := make(map[models.JobType]bool, len(types))
	for _, t := range types {
		set[models.JobType(t)] = true
	}
	return set
}

// autoRetrySweep scans every tenant's recently-failed jobs and retries any
// that are retryable, of an auto-retry-eligible type, and under the
// per-job-per-hour cap.
func (m *Monitor) autoRetrySweep(ctx context.Context) error {
	types := autoRetryTypeSet(m.cfg.Monitor.AutoRetryTypes)
	if len(types) == 0 {
		return nil
	}

	tenants, err := m.directory.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, tenant := range tenants {
		jobs, err := m.stats.Query(ctx, models.JobFilter{
			Tenant: tenant.ID,
			Status: []models.JobStatus{models.JobStatusFailed},
		}, models.Pagination{Limit: queueWaitSampleSize, Sort: models.SortByCompleted, Desc: true})
		if err != nil {
			m.logger.Warn().Str("tenant", tenant.ID).Err(err).Msg("monitor: failed to query failed jobs for auto-retry")
			continue
		}

		for _, job := range jobs {
			if !types[job.Type] {
				continue
			}
			if job.Error == nil || !job.Error.Retryable {
				continue
			}
			if !m.retries.allow(job.ID, m.cfg.Monitor.AutoRetryPerJobPerHour) {
				continue
			}
			if err := m.retryStore.Retry(ctx, tenant.ID, job.ID); err != nil {
				m.logger.Warn().Str("job_id", job.ID).Err(err).Msg("monitor: auto-retry failed")
				continue
			}
			m.logger.Info().Str("job_id", job.ID).Str("tenant", tenant.ID).Msg("monitor: auto-retried failed job")
		}
	}
	return nil
}
