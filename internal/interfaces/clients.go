package interfaces

import (
	"context"

	"github.com/bobmcallan/casevault/internal/models"
)

// MailClient is the Mail-Fetcher's contract: fetch one message by id plus
// its attachments in canonical form.
type MailClient interface {
	FetchMessage(ctx context.Context, token, tenant, user, messageID string) (*models.FetchResult, error)
}

// CredentialProvider is an external collaborator: it owns token refresh and
// revocation; the core only consumes the returned token and never stores
// credentials.
type CredentialProvider interface {
	GetAccessToken(ctx context.Context, tenant, user string) (*Credential, error)
}

// Credential is the opaque bearer token handed back by CredentialProvider.
type Credential struct {
	Token     string
	ExpiresAt int64 // unix seconds
}

// GeminiClient provides optional AI summarization for the content-analysis
// worker. The worker degrades gracefully (omits the summary) when no client
// is configured.
type GeminiClient interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// ProgressSink is how a handler reports progress; implemented by the pool's
// dispatcher (writes through to the Store and broadcasts a JobEvent).
type ProgressSink interface {
	Report(ctx context.Context, progress models.Progress) error
}

// Handler is the contract every worker implements. cancelled is closed
// by the dispatcher on Cancel or timeout; the handler must observe it at
// every checkpoint and before any blocking external call.
type Handler func(ctx context.Context, job *models.Job, progress ProgressSink, cancelled <-chan struct{}) (*models.JobResult, error)
