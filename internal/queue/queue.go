package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

// Options configures one Enqueue call. Zero values are replaced
// by the Queue's configured defaults.
type Options struct {
	Priority     models.Priority
	TimeoutMs    int
	MaxRetries   int
	ScheduledFor *time.Time
	Metadata     map[string]string
}

// Queue is the thin validating policy layer over the Store: it
// fills defaults, enforces per-tenant queue-depth quota, assigns no id
// itself (Store.Enqueue does), delegates Claim, and publishes a JobEvent for
// Subscribe after each transition it delegates (enqueue, claim, progress,
// complete, fail, cancel). Transitions made on the Store directly (Retry,
// BulkOp, MarkStalled, ResetRunningJobs) publish no event.
type Queue struct {
	store             interfaces.JobStore
	hub               *JobEventHub
	logger            *common.Logger
	maxQueueDepth     int
	defaultTimeoutMs  int
	defaultMaxRetries int
}

// New creates a Queue backed by store, publishing events on hub.
func New(store interfaces.JobStore, hub *JobEventHub, logger *common.Logger, cfg common.JobQueueConfig) *Queue {
	return &Queue{
		store:             store,
		hub:               hub,
		logger:            logger,
		maxQueueDepth:     cfg.MaxQueueDepth,
		defaultTimeoutMs:  cfg.DefaultTimeoutMs,
		defaultMaxRetries: cfg.DefaultMaxRetries,
	}
}

// Enqueue validates payload's shape for jobType, fills priority/timeout/
// maxRetries defaults, checks the tenant's queue-depth quota, and writes the
// job via Store.Enqueue.
func (q *Queue) Enqueue(ctx context.Context, tenant string, jobType models.JobType, payload any, opts Options) (*models.Job, error) {
	normalized, err := validateAndNormalize(jobType, payload)
	if err != nil {
		return nil, err
	}

	if q.maxQueueDepth > 0 {
		depth, err := q.pendingDepth(ctx, tenant)
		if err != nil {
			return nil, fmt.Errorf("failed to check queue depth for tenant %s: %w", tenant, err)
		}
		if depth >= q.maxQueueDepth {
			return nil, errs.Validation(fmt.Sprintf("queue depth quota exceeded for tenant %s (%d/%d)", tenant, depth, q.maxQueueDepth))
		}
	}

	priority := opts.Priority
	if priority == "" {
		priority = models.DefaultPriority(jobType)
	}
	timeoutMs := opts.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = q.defaultTimeoutMs
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.defaultMaxRetries
	}

	job := &models.Job{
		Tenant:       tenant,
		Type:         jobType,
		Priority:     priority,
		Payload:      normalized,
		TimeoutMs:    timeoutMs,
		MaxRetries:   maxRetries,
		ScheduledFor: opts.ScheduledFor,
		Metadata:     opts.Metadata,
	}

	if err := q.store.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	eventType := "queued"
	if job.Status == models.JobStatusPending {
		eventType = "created"
	}
	q.publish(eventType, job)
	return job, nil
}

// pendingDepth counts queued+pending jobs for tenant, used for the quota
// check in Enqueue.
func (q *Queue) pendingDepth(ctx context.Context, tenant string) (int, error) {
	stats, err := q.store.Stats(ctx, tenant)
	if err != nil {
		return 0, err
	}
	return stats.CountByStatus[models.JobStatusQueued] + stats.CountByStatus[models.JobStatusPending], nil
}

// Claim delegates to Store.Claim and publishes "started" on success.
func (q *Queue) Claim(ctx context.Context, workerID string, supportedTypes []models.JobType) (*models.Job, error) {
	job, err := q.store.Claim(ctx, workerID, supportedTypes)
	if err != nil || job == nil {
		return job, err
	}
	q.publish("started", job)
	return job, nil
}

// UpdateProgress delegates to Store.UpdateProgress and publishes "progress".
func (q *Queue) UpdateProgress(ctx context.Context, tenant, id string, progress models.Progress) error {
	if err := q.store.UpdateProgress(ctx, tenant, id, progress); err != nil {
		return err
	}
	q.publishFetched(ctx, tenant, id, "progress")
	return nil
}

// Complete delegates to Store.Complete and publishes "completed".
func (q *Queue) Complete(ctx context.Context, tenant, id string, result *models.JobResult) error {
	if err := q.store.Complete(ctx, tenant, id, result); err != nil {
		return err
	}
	q.publishFetched(ctx, tenant, id, "completed")
	return nil
}

// Fail delegates to Store.Fail and publishes "retry" or "failed" depending
// on the resulting status.
func (q *Queue) Fail(ctx context.Context, tenant, id string, jobErr error) error {
	if err := q.store.Fail(ctx, tenant, id, jobErr); err != nil {
		return err
	}
	job, err := q.store.Get(ctx, tenant, id)
	if err != nil {
		q.logger.Warn().Str("job_id", id).Err(err).Msg("failed to fetch job for event publish")
		return nil
	}
	eventType := "failed"
	if job.Status == models.JobStatusRetry {
		eventType = "retry"
	}
	q.publish(eventType, job)
	return nil
}

// Cancel delegates to Store.Cancel and publishes "cancelled".
func (q *Queue) Cancel(ctx context.Context, tenant, id string) error {
	if err := q.store.Cancel(ctx, tenant, id); err != nil {
		return err
	}
	q.publishFetched(ctx, tenant, id, "cancelled")
	return nil
}

// Subscribe registers callback for every event published against jobID
// until the returned unsubscribe func runs.
func (q *Queue) Subscribe(jobID string, callback func(models.JobEvent)) (unsubscribe func()) {
	return q.hub.Subscribe(jobID, callback)
}

func (q *Queue) publish(eventType string, job *models.Job) {
	q.hub.Publish(models.JobEvent{Type: eventType, Job: job, Timestamp: time.Now()})
}

// publishFetched re-reads the job (the operations above only return an
// error, not the updated row) and publishes eventType for it. Lookup errors
// are logged, not returned; the triggering operation already succeeded.
func (q *Queue) publishFetched(ctx context.Context, tenant, id, eventType string) {
	job, err := q.store.Get(ctx, tenant, id)
	if err != nil {
		q.logger.Warn().Str("job_id", id).Err(err).Msg("failed to fetch job for event publish")
		return
	}
	q.publish(eventType, job)
}
