package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

const (
	defaultBulkAssignBatchSize = 10
	maxTopErrors               = 10
	batchSpacing               = time.Second
)

// NewBulkAssignHandler builds the handler for JobTypeBulkAssign: partition
// emailIds into batches, record each assignment, enqueue a sibling archival
// job per email, and report aggregate results.
func NewBulkAssignHandler(deps Dependencies) interfaces.Handler {
	return func(ctx context.Context, job *models.Job, progress interfaces.ProgressSink, cancelled <-chan struct{}) (*models.JobResult, error) {
		payload, err := decodePayload[models.BulkAssignPayload](job)
		if err != nil {
			return nil, err
		}
		merged := ctxCancelled(ctx, cancelled)

		batchSize := payload.BatchSize
		if batchSize <= 0 {
			batchSize = defaultBulkAssignBatchSize
		}

		total := len(payload.EmailIDs)
		batches := (total + batchSize - 1) / batchSize

		var successCount, errorCount int
		var topErrors []string

		for b := 0; b < batches; b++ {
			if err := checkCancelled(merged); err != nil {
				return nil, err
			}

			start := b * batchSize
			end := start + batchSize
			if end > total {
				end = total
			}
			batch := payload.EmailIDs[start:end]

			for _, emailID := range batch {
				if payload.SkipExisting {
					exists, err := deps.AssignmentStore.Exists(ctx, payload.Tenant, payload.CaseID, emailID)
					if err != nil {
						errorCount++
						topErrors = appendTopError(topErrors, fmt.Sprintf("%s: %v", emailID, err))
						continue
					}
					if exists {
						successCount++
						continue
					}
				}

				if err := deps.AssignmentStore.Assign(ctx, payload.Tenant, payload.CaseID, emailID); err != nil {
					errorCount++
					topErrors = appendTopError(topErrors, fmt.Sprintf("%s: %v", emailID, err))
					continue
				}

				if deps.Enqueue != nil {
					archivalPayload := models.EmailArchivalPayload{
						Tenant:    payload.Tenant,
						User:      payload.User,
						MessageID: emailID,
						CaseID:    payload.CaseID,
					}
					if err := deps.Enqueue(ctx, payload.Tenant, models.JobTypeEmailArchival, archivalPayload); err != nil {
						errorCount++
						topErrors = appendTopError(topErrors, fmt.Sprintf("%s: enqueue failed: %v", emailID, err))
						continue
					}
				}

				successCount++
			}

			reportProgress(ctx, progress, deps.Logger, percentOf(end, total), end, total, fmt.Sprintf("batch %d/%d", b+1, batches))

			if b < batches-1 {
				if err := sleepOrCancel(merged, batchSpacing); err != nil {
					return nil, err
				}
			}
		}

		result := &models.JobResult{
			Success: true,
			Metrics: map[string]int64{
				"total":   int64(total),
				"success": int64(successCount),
				"error":   int64(errorCount),
			},
		}
		if len(topErrors) > 0 {
			result.Warnings = topErrors
		}
		return result, nil
	}
}

func appendTopError(errs []string, msg string) []string {
	if len(errs) >= maxTopErrors {
		return errs
	}
	return append(errs, msg)
}

func percentOf(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return processed * 100 / total
}

// sleepOrCancel sleeps for d, returning early with a cancellation error if
// cancelled fires first.
func sleepOrCancel(cancelled <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-cancelled:
		return checkCancelled(cancelled)
	}
}
