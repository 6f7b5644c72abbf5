package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

// NewEmailArchivalHandler builds the handler for JobTypeEmailArchival:
// verify the upstream account, obtain a credential, fetch the message, and
// archive it. Each step is a progress checkpoint out of 4.
func NewEmailArchivalHandler(deps Dependencies) interfaces.Handler {
	return func(ctx context.Context, job *models.Job, progress interfaces.ProgressSink, cancelled <-chan struct{}) (*models.JobResult, error) {
		payload, err := decodePayload[models.EmailArchivalPayload](job)
		if err != nil {
			return nil, err
		}
		merged := ctxCancelled(ctx, cancelled)
		const totalSteps = 4

		if err := checkCancelled(merged); err != nil {
			return nil, err
		}
		reportProgress(ctx, progress, deps.Logger, 25, 1, totalSteps, "verify-account")

		// Idempotent checkpoint: skip the round-trip if already archived and
		// the caller didn't ask for a forced re-fetch.
		if !payload.ForceRestore {
			exists, err := deps.Archiver.Exists(ctx, payload.MessageID, payload.CaseID)
			if err != nil {
				return nil, errs.Storage("failed to check existing archive", err)
			}
			if exists {
				reportProgress(ctx, progress, deps.Logger, 100, totalSteps, totalSteps, "already-archived")
				return &models.JobResult{Success: true, Metrics: map[string]int64{"skipped": 1}}, nil
			}
		}

		if err := checkCancelled(merged); err != nil {
			return nil, err
		}
		reportProgress(ctx, progress, deps.Logger, 50, 2, totalSteps, "obtain-credential")

		cred, err := deps.Credentials.GetAccessToken(ctx, payload.Tenant, payload.User)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain mail credential: %w", err)
		}
		if cred == nil {
			return nil, errs.Precondition(fmt.Sprintf("no connected mail account for user %s in tenant %s", payload.User, payload.Tenant))
		}

		if err := checkCancelled(merged); err != nil {
			return nil, err
		}
		reportProgress(ctx, progress, deps.Logger, 75, 3, totalSteps, "fetch-message")

		fetched, err := deps.MailClient.FetchMessage(ctx, cred.Token, payload.Tenant, payload.User, payload.MessageID)
		if err != nil {
			return nil, err
		}

		attachments := fetched.Attachments
		if payload.SkipAttachments {
			attachments = nil
		}

		email := &models.ArchivedEmail{
			MessageID:      payload.MessageID,
			CaseID:         payload.CaseID,
			Metadata:       fetched.Metadata,
			Bodies:         fetched.Bodies,
			Headers:        fetched.Headers,
			Attachments:    attachments,
			StoredAt:       time.Now(),
			StorageVersion: 1,
		}

		if err := checkCancelled(merged); err != nil {
			return nil, err
		}
		reportProgress(ctx, progress, deps.Logger, 90, totalSteps, totalSteps, "store")

		stored, err := deps.Archiver.Store(ctx, payload.MessageID, payload.CaseID, email)
		if err != nil {
			return nil, err
		}

		if deps.ArchiveStore != nil {
			if err := deps.ArchiveStore.IndexEmail(ctx, payload.Tenant, email); err != nil {
				deps.Logger.Warn().Err(err).Str("message_id", payload.MessageID).Msg("failed to index archived email")
			}
		}

		reportProgress(ctx, progress, deps.Logger, 100, totalSteps, totalSteps, "done")

		return &models.JobResult{
			Success: true,
			Metrics: map[string]int64{
				"bodies":         int64(bodyCount(email)),
				"attachments":    int64(stored.AttachmentCount),
				"bytesProcessed": stored.BytesProcessed,
			},
			Data: map[string]string{"storagePath": stored.StoragePath},
		}, nil
	}
}

func bodyCount(email *models.ArchivedEmail) int {
	n := 0
	if email.Bodies.HTML != "" {
		n++
	}
	if email.Bodies.Text != "" {
		n++
	}
	if email.Bodies.RTF != "" {
		n++
	}
	return n
}
