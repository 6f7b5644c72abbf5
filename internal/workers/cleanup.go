package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

const allTenantsScope = "all"

// NewStorageCleanupHandler builds the handler for JobTypeStorageCleanup: a
// single case scope deletes archived messages older than
// cleanupAge directly; the "all" scope walks every case the Archiver knows
// about and applies the identical per-case sweep.
func NewStorageCleanupHandler(deps Dependencies) interfaces.Handler {
	return func(ctx context.Context, job *models.Job, progress interfaces.ProgressSink, cancelled <-chan struct{}) (*models.JobResult, error) {
		payload, err := decodePayload[models.StorageCleanupPayload](job)
		if err != nil {
			return nil, err
		}
		merged := ctxCancelled(ctx, cancelled)

		if payload.TargetScope != allTenantsScope {
			return cleanupCase(ctx, merged, deps, progress, payload.Tenant, payload.TargetScope, payload.CleanupAge, payload.DryRun)
		}
		return cleanupAllTenants(ctx, merged, deps, progress, payload.Tenant, payload.CleanupAge, payload.DryRun)
	}
}

func cleanupCase(ctx context.Context, cancelled <-chan struct{}, deps Dependencies, progress interfaces.ProgressSink, tenant, caseID string, cleanupAgeMs int64, dryRun bool) (*models.JobResult, error) {
	if err := checkCancelled(cancelled); err != nil {
		return nil, err
	}

	ids, err := deps.Archiver.ListMessageIDs(ctx, caseID)
	if err != nil {
		return nil, err
	}

	cutoff := cleanupCutoff(cleanupAgeMs)
	var deleted, inspected int64

	for i, messageID := range ids {
		if err := checkCancelled(cancelled); err != nil {
			return nil, err
		}

		result, err := deps.Archiver.Get(ctx, messageID, caseID)
		if err != nil {
			continue
		}
		inspected++
		if result.Email != nil && cutoff != nil && result.Email.StoredAt.After(*cutoff) {
			continue
		}

		if !dryRun {
			if err := deps.Archiver.Delete(ctx, messageID, caseID); err != nil {
				return nil, err
			}
			if deps.ArchiveStore != nil {
				_ = deps.ArchiveStore.DeleteIndexed(ctx, tenant, caseID, messageID)
			}
		}
		deleted++

		reportProgress(ctx, progress, deps.Logger, percentOf(i+1, len(ids)), i+1, len(ids), "scanning case")
	}

	return &models.JobResult{
		Success: true,
		Metrics: map[string]int64{"inspected": inspected, "deleted": deleted},
	}, nil
}

// cleanupAllTenants walks every case with an archived email (C5's own
// domain, via the Archiver) and applies the same age-based object sweep
// cleanupCase runs for a single case. This is deliberately distinct from
// Maintenance's sweepCleanup (C7), which purges aged Job rows, not archived
// email objects; the two components age out different things.
func cleanupAllTenants(ctx context.Context, cancelled <-chan struct{}, deps Dependencies, progress interfaces.ProgressSink, tenant string, cleanupAgeMs int64, dryRun bool) (*models.JobResult, error) {
	if err := checkCancelled(cancelled); err != nil {
		return nil, err
	}

	caseIDs, err := deps.Archiver.ListCaseIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}

	var inspected, deleted int64
	for i, caseID := range caseIDs {
		if err := checkCancelled(cancelled); err != nil {
			return nil, err
		}

		result, err := cleanupCase(ctx, cancelled, deps, nil, tenant, caseID, cleanupAgeMs, dryRun)
		if err != nil {
			return nil, err
		}
		inspected += result.Metrics["inspected"]
		deleted += result.Metrics["deleted"]

		reportProgress(ctx, progress, deps.Logger, percentOf(i+1, len(caseIDs)), i+1, len(caseIDs), fmt.Sprintf("case %s", caseID))
	}

	return &models.JobResult{
		Success: true,
		Metrics: map[string]int64{"inspected": inspected, "deleted": deleted, "cases": int64(len(caseIDs))},
	}, nil
}

func cleanupCutoff(cleanupAgeMs int64) *time.Time {
	if cleanupAgeMs <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-time.Duration(cleanupAgeMs) * time.Millisecond)
	return &cutoff
}
