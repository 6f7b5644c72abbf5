package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

// NewMaintenanceHandler builds the handler for JobTypeMaintenance: an
// operator-triggered, off-cycle run of the same reap-then-purge sweep the
// always-on Maintenance timers perform on their own schedule.
// An empty payload.Tenant sweeps every registered tenant.
func NewMaintenanceHandler(deps Dependencies) interfaces.Handler {
	return func(ctx context.Context, job *models.Job, progress interfaces.ProgressSink, cancelled <-chan struct{}) (*models.JobResult, error) {
		payload, err := decodePayload[models.MaintenancePayload](job)
		if err != nil {
			return nil, err
		}
		merged := ctxCancelled(ctx, cancelled)

		if err := checkCancelled(merged); err != nil {
			return nil, err
		}
		reportProgress(ctx, progress, deps.Logger, 10, 0, 2, "reap-stalled")

		// A dry run previews purge counts without reaping or deleting
		// anything, so the stalled sweep is skipped entirely.
		var stalledCount int
		if !payload.DryRun {
			stalledTimeout := time.Duration(deps.Config.Health.StalledTimeoutMs) * time.Millisecond
			stalledCount, err = deps.JobStore.MarkStalled(ctx, stalledTimeout)
			if err != nil {
				return nil, fmt.Errorf("failed to reap stalled jobs: %w", err)
			}
		}

		if err := checkCancelled(merged); err != nil {
			return nil, err
		}
		reportProgress(ctx, progress, deps.Logger, 50, 1, 2, "purge-completed")

		tenants, err := maintenanceTargetTenants(ctx, deps, payload.Tenant)
		if err != nil {
			return nil, err
		}

		completedAge := time.Duration(deps.Config.Cleanup.CompletedJobAgeMs) * time.Millisecond
		failedAge := time.Duration(deps.Config.Cleanup.FailedJobAgeMs) * time.Millisecond

		var purged int64
		for i, tenant := range tenants {
			if !tenant.Enabled {
				continue
			}
			if err := checkCancelled(merged); err != nil {
				return nil, err
			}
			var n int
			if payload.DryRun {
				n, err = deps.JobStore.CountPurgeable(ctx, tenant.ID, completedAge, failedAge)
			} else {
				n, err = deps.JobStore.PurgeCompleted(ctx, tenant.ID, completedAge, failedAge)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to purge completed jobs for tenant %s: %w", tenant.ID, err)
			}
			purged += int64(n)
			reportProgress(ctx, progress, deps.Logger, percentOf(i+1, len(tenants)), i+1, len(tenants), fmt.Sprintf("tenant %s", tenant.ID))
		}

		reportProgress(ctx, progress, deps.Logger, 100, 2, 2, "done")

		metrics := map[string]int64{
			"stalledReaped": int64(stalledCount),
			"purgedJobs":    purged,
			"tenants":       int64(len(tenants)),
		}
		if payload.DryRun {
			metrics["dryRun"] = 1
		}
		return &models.JobResult{Success: true, Metrics: metrics}, nil
	}
}

func maintenanceTargetTenants(ctx context.Context, deps Dependencies, tenant string) ([]models.Tenant, error) {
	if tenant != "" {
		return []models.Tenant{{ID: tenant, Enabled: true}}, nil
	}
	tenants, err := deps.TenantDirectory.Tenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}
