package workers

import (
	"context"

	"github.com/bobmcallan/casevault/internal/archiver"
	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

// EnqueueFunc lets a handler enqueue a sibling job (e.g. bulk-assign
// enqueuing a per-email archival job) without workers importing the queue
// package directly.
type EnqueueFunc func(ctx context.Context, tenant string, jobType models.JobType, payload any) error

// Dependencies bundles every collaborator a handler may need. Individual
// handlers use only the subset relevant to their job type; optional fields
// (Gemini) are nil-checked before use.
type Dependencies struct {
	Archiver        *archiver.Archiver
	ArchiveStore    interfaces.ArchiveStore
	AssignmentStore interfaces.AssignmentStore
	BlobStore       interfaces.BlobStore
	JobStore        interfaces.JobStore
	TenantDirectory interfaces.TenantDirectory
	MailClient      interfaces.MailClient
	Credentials     interfaces.CredentialProvider
	Gemini          interfaces.GeminiClient
	Enqueue         EnqueueFunc
	Logger          *common.Logger
	Config          *common.Config
}

// reportProgress writes a progress checkpoint, logging (not failing the
// job) if the sink returns an error; progress reporting is best-effort
// telemetry, not a correctness requirement.
func reportProgress(ctx context.Context, sink interfaces.ProgressSink, logger *common.Logger, pct, processed, total int, step string) {
	if sink == nil {
		return
	}
	if err := sink.Report(ctx, models.Progress{
		Percentage:     pct,
		ProcessedItems: processed,
		TotalItems:     total,
		CurrentStep:    step,
	}); err != nil {
		logger.Warn().Err(err).Str("step", step).Msg("failed to report job progress")
	}
}
