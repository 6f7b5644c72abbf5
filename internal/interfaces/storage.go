// Package interfaces defines the contracts between the job subsystem's
// components: the persistent Store, the object-storage BlobStore, the
// upstream MailClient, the external CredentialProvider, and the Handler
// contract implemented by every worker.
package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/bobmcallan/casevault/internal/models"
)

// JobStore is the persistent, tenant-isolated table of job records. Every
// method except the global sweep methods takes a tenant and every generated
// query enforces it.
type JobStore interface {
	// Enqueue writes a new job record. Status is queued if ScheduledFor is
	// zero or already due, else pending.
	Enqueue(ctx context.Context, job *models.Job) error

	// Get retrieves one job by id, scoped to tenant.
	Get(ctx context.Context, tenant, id string) (*models.Job, error)

	// UpdateProgress updates progress on a running job. No-op status change.
	UpdateProgress(ctx context.Context, tenant, id string, progress models.Progress) error

	// Claim atomically selects and claims one eligible queued job for a
	// worker supporting one of supportedTypes. Returns
	// (nil, nil) when no row matches.
	Claim(ctx context.Context, workerID string, supportedTypes []models.JobType) (*models.Job, error)

	// Complete transitions a running job to completed.
	Complete(ctx context.Context, tenant, id string, result *models.JobResult) error

	// Fail transitions a running job to failed or back to queued with a
	// scheduled retry, depending on attempts/maxRetries and jobErr.Retryable.
	Fail(ctx context.Context, tenant, id string, jobErr error) error

	// Cancel transitions any non-terminal job to cancelled.
	Cancel(ctx context.Context, tenant, id string) error

	// Retry explicitly transitions a failed|stalled job back to queued,
	// clearing workerId, error, and progress.
	Retry(ctx context.Context, tenant, id string) error

	// Delete removes a job record permanently.
	Delete(ctx context.Context, tenant, id string) error

	// Query lists jobs matching filter with pagination.
	Query(ctx context.Context, filter models.JobFilter, page models.Pagination) ([]*models.Job, error)

	// BulkOp applies op to every id in ids, scoped to tenant.
	BulkOp(ctx context.Context, tenant string, ids []string, op models.BulkOpKind) (int, error)

	// Stats aggregates counts by status/type/priority. Empty tenant means
	// all tenants (used only by Monitor's global sweep).
	Stats(ctx context.Context, tenant string) (*models.StatsByStatus, error)

	// MarkStalled transitions running rows with no progress past the stall
	// timeout to stalled.
	MarkStalled(ctx context.Context, stalledTimeout time.Duration) (int, error)

	// PurgeCompleted deletes completed rows older than completedAge and
	// failed rows older than failedAge, scoped to one tenant.
	PurgeCompleted(ctx context.Context, tenant string, completedAge, failedAge time.Duration) (int, error)

	// CountPurgeable reports how many rows PurgeCompleted would delete,
	// without deleting them. This is the dry-run preview path for the maintenance
	// job.
	CountPurgeable(ctx context.Context, tenant string, completedAge, failedAge time.Duration) (int, error)

	// ResetRunningJobs re-queues every running row on process start, as a
	// crash-recovery measure before the stalled-reaper would otherwise catch
	// them.
	ResetRunningJobs(ctx context.Context) (int, error)

	Close() error
}

// ArchiveStore indexes archived emails so Query/Stats can answer without a
// full object-storage listing; the canonical content lives in BlobStore.
type ArchiveStore interface {
	IndexEmail(ctx context.Context, tenant string, email *models.ArchivedEmail) error
	GetIndexed(ctx context.Context, tenant, caseID, messageID string) (*models.ArchivedEmail, error)
	ExistsIndexed(ctx context.Context, tenant, caseID, messageID string) (bool, error)
	DeleteIndexed(ctx context.Context, tenant, caseID, messageID string) error
	StatsForCase(ctx context.Context, tenant, caseID string) (totalEmails, totalAttachments int, totalSize int64, err error)
}

// AlertStore is implemented by monitor.RingBuffer; declared here so other
// packages can depend on the contract without importing monitor directly.
type AlertStore interface {
	Push(alert models.Alert)
	List(limit int) []models.Alert
	Acknowledge(id string) bool
	Len() int
}

// AssignmentStore records which emails have been assigned to which case,
// the checkpoint the bulk-assignment worker consults for its skipExisting
// option.
type AssignmentStore interface {
	Exists(ctx context.Context, tenant, caseID, emailID string) (bool, error)
	Assign(ctx context.Context, tenant, caseID, emailID string) error
}

// TenantDirectory is the whitelist of registered tenant ids consulted by
// global sweeps instead of deriving identifiers from request input.
type TenantDirectory interface {
	Tenants(ctx context.Context) ([]models.Tenant, error)
	IsRegistered(ctx context.Context, tenant string) (bool, error)
}

// BlobStore is the object-storage contract the archiver requires:
// Get/GetReader/Put/PutReader/Delete/Exists/Metadata/List/Close. Prefix
// listing goes through List with ListOptions.Prefix. The contract has no
// create-container operation: the file backend creates its base directory
// when constructed, and the S3 backend only checks that the bucket exists.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetReader(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PutReader(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Metadata(ctx context.Context, key string) (*BlobMetadata, error)
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	Close() error
}

// BlobMetadata describes a stored object.
type BlobMetadata struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// ListOptions configures BlobStore.List.
type ListOptions struct {
	Prefix    string
	Delimiter string
	MaxKeys   int
	Cursor    string
}

// ListResult is the result of a List call.
type ListResult struct {
	Blobs      []BlobMetadata
	NextCursor string
	Truncated  bool
}
