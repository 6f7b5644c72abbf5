package surrealdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const jobTable = "job"

// jobSelectFields aliases the internal jobId column to id, since SurrealDB's
// native id is a RecordID rather than the plain string models.Job expects
const jobSelectFields = "jobId AS id, tenant, type, status, priority, payload, progress, error, result, " +
	"attempts, maxRetries, timeoutMs, timestamps, scheduledFor, workerId, metadata"

// JobStore implements interfaces.JobStore using SurrealDB, enforcing tenant
// isolation via an explicit tenant column and filter on every tenant-scoped
// query (never a dynamic per-tenant namespace or schema).
type JobStore struct {
	db       *surrealdb.DB
	logger   *common.Logger
	retryCfg errs.BackoffConfig
}

// NewJobStore creates a new JobStore. The retry backoff law defaults to
// errs.Backoff's own built-in constants; call SetRetryConfig to source it
// from the process configuration instead.
func NewJobStore(db *surrealdb.DB, logger *common.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

// SetRetryConfig overrides the backoff law Fail uses to schedule a retry.
func (s *JobStore) SetRetryConfig(cfg errs.BackoffConfig) {
	s.retryCfg = cfg
}

func jobRecordID(id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(jobTable, id)
}

// Enqueue writes a new job record. Status is queued if ScheduledFor is zero
// or already due, else pending.
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Priority == "" {
		job.Priority = models.PriorityNormal
	}
	if job.Timestamps.Created.IsZero() {
		job.Timestamps.Created = time.Now()
	}

	now := time.Now()
	if job.ScheduledFor != nil && job.ScheduledFor.After(now) {
		job.Status = models.JobStatusPending
	} else {
		job.Status = models.JobStatusQueued
		queuedAt := now
		job.Timestamps.Queued = &queuedAt
	}

	sql := `UPSERT $rid SET
		jobId = $jobId, tenant = $tenant, type = $type, status = $status, priority = $priority,
		priorityRank = $priorityRank, payload = $payload, attempts = $attempts,
		maxRetries = $maxRetries, timeoutMs = $timeoutMs, timestamps = $timestamps,
		scheduledFor = $scheduledFor, metadata = $metadata`
	vars := map[string]any{
		"rid":          jobRecordID(job.ID),
		"jobId":        job.ID,
		"tenant":       job.Tenant,
		"type":         job.Type,
		"status":       job.Status,
		"priority":     job.Priority,
		"priorityRank": models.PriorityRank(job.Priority),
		"payload":      job.Payload,
		"attempts":     job.Attempts,
		"maxRetries":   job.MaxRetries,
		"timeoutMs":    job.TimeoutMs,
		"timestamps":   job.Timestamps,
		"scheduledFor": job.ScheduledFor,
		"metadata":     job.Metadata,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves one job by id, scoped to tenant.
func (s *JobStore) Get(ctx context.Context, tenant, id string) (*models.Job, error) {
	sql := "SELECT " + jobSelectFields + " FROM $rid WHERE tenant = $tenant"
	vars := map[string]any{"rid": jobRecordID(id), "tenant": tenant}

	job, err := s.queryOneFrom(ctx, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	if job == nil {
		return nil, errs.NotFound(fmt.Sprintf("job %s not found", id))
	}
	return job, nil
}

// UpdateProgress updates progress on a running job, enforcing that progress
// is monotonic non-decreasing within a single attempt: the write is a no-op conditional on the row having no progress
// yet or its current percentage being no greater than the new one.
func (s *JobStore) UpdateProgress(ctx context.Context, tenant, id string, progress models.Progress) error {
	sql := `UPDATE $rid SET progress = $progress
		WHERE tenant = $tenant AND status = $running
		AND (progress IS NONE OR progress.percentage <= $percentage)`
	vars := map[string]any{
		"rid":        jobRecordID(id),
		"tenant":     tenant,
		"progress":   progress,
		"running":    models.JobStatusRunning,
		"percentage": progress.Percentage,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to update progress for job %s: %w", id, err)
	}
	return nil
}

// Claim atomically selects and claims one eligible job for a worker
// supporting one of supportedTypes: status queued, retry or pending, worker
// unset, type in supportedTypes, scheduledFor due, ordered priority desc
// then created asc. A pending or retry job whose scheduledFor has passed is
// claimable here directly; there is no separate promotion step to queued.
func (s *JobStore) Claim(ctx context.Context, workerID string, supportedTypes []models.JobType) (*models.Job, error) {
	now := time.Now()
	selectSQL := "SELECT " + jobSelectFields + ` FROM job
		WHERE status IN [$queued, $retry, $pending] AND workerId IS NONE AND type IN $types
		AND (scheduledFor IS NONE OR scheduledFor <= $now)
		ORDER BY priorityRank DESC, timestamps.created ASC LIMIT 1`
	selectVars := map[string]any{
		"queued":  models.JobStatusQueued,
		"retry":   models.JobStatusRetry,
		"pending": models.JobStatusPending,
		"types":   supportedTypes,
		"now":     now,
	}

	candidate, err := s.queryOneFrom(ctx, selectSQL, selectVars)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}
	if candidate == nil {
		return nil, nil
	}

	updateSQL := `UPDATE $rid SET status = $running, workerId = $workerId,
		timestamps.started = $now, timestamps.lastAttempt = $now, attempts = attempts + 1
		WHERE status IN [$queued, $retry, $pending] AND workerId IS NONE`
	updateVars := map[string]any{
		"rid":      jobRecordID(candidate.ID),
		"running":  models.JobStatusRunning,
		"queued":   models.JobStatusQueued,
		"retry":    models.JobStatusRetry,
		"pending":  models.JobStatusPending,
		"workerId": workerID,
		"now":      now,
	}

	updated, err := surrealdb.Query[[]models.Job](ctx, s.db, updateSQL, updateVars)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job %s: %w", candidate.ID, err)
	}
	if updated == nil || len(*updated) == 0 || len((*updated)[0].Result) == 0 {
		// Lost the race to another worker between select and claim.
		return nil, nil
	}

	candidate.Status = models.JobStatusRunning
	candidate.WorkerID = workerID
	candidate.Timestamps.Started = &now
	candidate.Timestamps.LastAttempt = &now
	candidate.Attempts++
	return candidate, nil
}

// Complete transitions a running job to completed.
func (s *JobStore) Complete(ctx context.Context, tenant, id string, result *models.JobResult) error {
	now := time.Now()
	sql := `UPDATE $rid SET status = $completed, workerId = NONE, result = $result,
		timestamps.completed = $now WHERE tenant = $tenant AND status = $running`
	vars := map[string]any{
		"rid":       jobRecordID(id),
		"tenant":    tenant,
		"completed": models.JobStatusCompleted,
		"running":   models.JobStatusRunning,
		"result":    result,
		"now":       now,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return nil
}

// Fail transitions a running job to failed, or back to retry with a
// backoff-scheduled scheduledFor, depending on attempts/maxRetries and
// jobErr's retryability.
func (s *JobStore) Fail(ctx context.Context, tenant, id string, jobErr error) error {
	job, err := s.Get(ctx, tenant, id)
	if err != nil {
		return err
	}

	now := time.Now()
	stored := toStoredJobError(jobErr)

	if stored.Retryable && job.Attempts <= job.MaxRetries {
		delay := errs.Backoff(job.Attempts, s.retryCfg)
		scheduledFor := now.Add(delay)
		sql := `UPDATE $rid SET status = $retry, scheduledFor = $scheduledFor, workerId = NONE,
			error = $error, timestamps.lastAttempt = $now
			WHERE tenant = $tenant AND status = $running`
		vars := map[string]any{
			"rid":          jobRecordID(id),
			"tenant":       tenant,
			"retry":        models.JobStatusRetry,
			"running":      models.JobStatusRunning,
			"scheduledFor": scheduledFor,
			"error":        stored,
			"now":          now,
		}
		if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
			return fmt.Errorf("failed to schedule retry for job %s: %w", id, err)
		}
		return nil
	}

	sql := `UPDATE $rid SET status = $failed, workerId = NONE, error = $error,
		timestamps.failed = $now, timestamps.lastAttempt = $now
		WHERE tenant = $tenant AND status = $running`
	vars := map[string]any{
		"rid":     jobRecordID(id),
		"tenant":  tenant,
		"failed":  models.JobStatusFailed,
		"running": models.JobStatusRunning,
		"error":   stored,
		"now":     now,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to fail job %s: %w", id, err)
	}
	return nil
}

// toStoredJobError normalizes any error into the closed *errs.JobError shape
// persisted on the job record.
func toStoredJobError(jobErr error) *errs.JobError {
	var je *errs.JobError
	if errors.As(jobErr, &je) {
		return je
	}
	return errs.Processing(jobErr.Error(), jobErr)
}

// Cancel transitions any non-terminal job to cancelled.
func (s *JobStore) Cancel(ctx context.Context, tenant, id string) error {
	now := time.Now()
	sql := `UPDATE $rid SET status = $cancelled, workerId = NONE, timestamps.cancelled = $now
		WHERE tenant = $tenant AND status NOT IN [$completed, $failed, $cancelled]`
	vars := map[string]any{
		"rid":       jobRecordID(id),
		"tenant":    tenant,
		"cancelled": models.JobStatusCancelled,
		"completed": models.JobStatusCompleted,
		"failed":    models.JobStatusFailed,
		"now":       now,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	return nil
}

// Retry explicitly transitions a failed|stalled job back to queued,
// clearing workerId, error, and progress.
func (s *JobStore) Retry(ctx context.Context, tenant, id string) error {
	now := time.Now()
	sql := `UPDATE $rid SET status = $queued, workerId = NONE, error = NONE, progress = NONE,
		scheduledFor = NONE, timestamps.queued = $now
		WHERE tenant = $tenant AND status IN [$failed, $stalled]`
	vars := map[string]any{
		"rid":     jobRecordID(id),
		"tenant":  tenant,
		"queued":  models.JobStatusQueued,
		"failed":  models.JobStatusFailed,
		"stalled": models.JobStatusStalled,
		"now":     now,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to retry job %s: %w", id, err)
	}
	return nil
}

// Delete removes a job record permanently.
func (s *JobStore) Delete(ctx context.Context, tenant, id string) error {
	sql := "DELETE $rid WHERE tenant = $tenant"
	vars := map[string]any{"rid": jobRecordID(id), "tenant": tenant}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// Query lists jobs matching filter with pagination.
func (s *JobStore) Query(ctx context.Context, filter models.JobFilter, page models.Pagination) ([]*models.Job, error) {
	conditions := []string{"tenant = $tenant"}
	vars := map[string]any{"tenant": filter.Tenant}

	if len(filter.Status) > 0 {
		conditions = append(conditions, "status IN $status")
		vars["status"] = filter.Status
	}
	if len(filter.Type) > 0 {
		conditions = append(conditions, "type IN $type")
		vars["type"] = filter.Type
	}
	if len(filter.Priority) > 0 {
		conditions = append(conditions, "priority IN $priority")
		vars["priority"] = filter.Priority
	}
	if filter.User != "" {
		conditions = append(conditions, "payload.user = $user")
		vars["user"] = filter.User
	}
	if filter.CaseID != "" {
		conditions = append(conditions, "payload.caseId = $caseId")
		vars["caseId"] = filter.CaseID
	}
	if filter.CreatedAfter != nil {
		conditions = append(conditions, "timestamps.created >= $createdAfter")
		vars["createdAfter"] = *filter.CreatedAfter
	}
	if filter.CreatedBefore != nil {
		conditions = append(conditions, "timestamps.created <= $createdBefore")
		vars["createdBefore"] = *filter.CreatedBefore
	}
	if filter.FreeText != "" {
		conditions = append(conditions, "(string::contains(type, $freeText) OR string::contains(payload.messageId, $freeText))")
		vars["freeText"] = filter.FreeText
	}

	sortColumn := sortColumnFor(page.Sort)
	direction := "ASC"
	if page.Desc {
		direction = "DESC"
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}

	sql := "SELECT " + jobSelectFields + " FROM job WHERE " + strings.Join(conditions, " AND ") +
		fmt.Sprintf(" ORDER BY %s %s LIMIT $limit START $offset", sortColumn, direction)
	vars["limit"] = limit
	vars["offset"] = page.Offset

	return s.queryJobs(ctx, sql, vars)
}

func sortColumnFor(field models.SortField) string {
	switch field {
	case models.SortByStarted:
		return "timestamps.started"
	case models.SortByCompleted:
		return "timestamps.completed"
	case models.SortByPriority:
		return "priorityRank"
	case models.SortByStatus:
		return "status"
	default:
		return "timestamps.created"
	}
}

// BulkOp applies op to every id in ids, scoped to tenant, and returns the
// number of jobs actually affected.
func (s *JobStore) BulkOp(ctx context.Context, tenant string, ids []string, op models.BulkOpKind) (int, error) {
	affected := 0
	for _, id := range ids {
		var err error
		switch op {
		case models.BulkOpCancel:
			err = s.Cancel(ctx, tenant, id)
		case models.BulkOpRetry:
			err = s.Retry(ctx, tenant, id)
		case models.BulkOpDelete:
			err = s.Delete(ctx, tenant, id)
		case models.BulkOpRestart:
			err = s.restart(ctx, tenant, id)
		default:
			return affected, fmt.Errorf("unknown bulk op: %s", op)
		}
		if err != nil {
			s.logger.Warn().Str("job_id", id).Str("op", string(op)).Err(err).Msg("bulk op failed for job")
			continue
		}
		affected++
	}
	return affected, nil
}

// restart re-queues a job from scratch, resetting attempts. Used by
// BulkOpRestart, distinct from Retry in that it clears the attempt counter.
func (s *JobStore) restart(ctx context.Context, tenant, id string) error {
	now := time.Now()
	sql := `UPDATE $rid SET status = $queued, workerId = NONE, error = NONE, progress = NONE,
		result = NONE, attempts = 0, scheduledFor = NONE, timestamps.queued = $now
		WHERE tenant = $tenant AND status NOT IN [$running]`
	vars := map[string]any{
		"rid":     jobRecordID(id),
		"tenant":  tenant,
		"queued":  models.JobStatusQueued,
		"running": models.JobStatusRunning,
		"now":     now,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to restart job %s: %w", id, err)
	}
	return nil
}

// Stats aggregates counts by status/type/priority. Empty tenant means all
// tenants (used only by Monitor's global sweep).
func (s *JobStore) Stats(ctx context.Context, tenant string) (*models.StatsByStatus, error) {
	where := ""
	vars := map[string]any{}
	if tenant != "" {
		where = "WHERE tenant = $tenant"
		vars["tenant"] = tenant
	}

	stats := &models.StatsByStatus{
		Tenant:          tenant,
		CountByStatus:   map[models.JobStatus]int{},
		CountByType:     map[models.JobType]int{},
		CountByPriority: map[models.Priority]int{},
	}

	type statusCount struct {
		Status models.JobStatus `json:"status"`
		Cnt    int              `json:"cnt"`
	}
	byStatus, err := surrealdb.Query[[]statusCount](ctx, s.db,
		"SELECT status, count() AS cnt FROM job "+where+" GROUP BY status", vars)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats by status: %w", err)
	}
	if byStatus != nil && len(*byStatus) > 0 {
		for _, row := range (*byStatus)[0].Result {
			stats.CountByStatus[row.Status] = row.Cnt
		}
	}

	type typeCount struct {
		Type models.JobType `json:"type"`
		Cnt  int            `json:"cnt"`
	}
	byType, err := surrealdb.Query[[]typeCount](ctx, s.db,
		"SELECT type, count() AS cnt FROM job "+where+" GROUP BY type", vars)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats by type: %w", err)
	}
	if byType != nil && len(*byType) > 0 {
		for _, row := range (*byType)[0].Result {
			stats.CountByType[row.Type] = row.Cnt
		}
	}

	type priorityCount struct {
		Priority models.Priority `json:"priority"`
		Cnt      int             `json:"cnt"`
	}
	byPriority, err := surrealdb.Query[[]priorityCount](ctx, s.db,
		"SELECT priority, count() AS cnt FROM job "+where+" GROUP BY priority", vars)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats by priority: %w", err)
	}
	if byPriority != nil && len(*byPriority) > 0 {
		for _, row := range (*byPriority)[0].Result {
			stats.CountByPriority[row.Priority] = row.Cnt
		}
	}

	return stats, nil
}

// MarkStalled transitions running rows whose last attempt predates the
// stall timeout to stalled.
func (s *JobStore) MarkStalled(ctx context.Context, stalledTimeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-stalledTimeout)
	sql := `UPDATE job SET status = $stalled, error = $error
		WHERE status = $running AND timestamps.lastAttempt < $cutoff`
	vars := map[string]any{
		"stalled": models.JobStatusStalled,
		"running": models.JobStatusRunning,
		"cutoff":  cutoff,
		"error":   toStoredJobError(errs.Stalled("no progress")),
	}

	result, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stalled jobs: %w", err)
	}
	if result == nil || len(*result) == 0 {
		return 0, nil
	}
	return len((*result)[0].Result), nil
}

// PurgeCompleted deletes completed rows older than completedAge and failed
// rows older than failedAge, scoped to one tenant.
func (s *JobStore) PurgeCompleted(ctx context.Context, tenant string, completedAge, failedAge time.Duration) (int, error) {
	now := time.Now()
	completedCutoff := now.Add(-completedAge)
	failedCutoff := now.Add(-failedAge)

	sql := `DELETE FROM job WHERE tenant = $tenant AND (
		(status = $completed AND timestamps.completed < $completedCutoff) OR
		(status = $failed AND timestamps.failed < $failedCutoff)
	) RETURN BEFORE`
	vars := map[string]any{
		"tenant":          tenant,
		"completed":       models.JobStatusCompleted,
		"failed":          models.JobStatusFailed,
		"completedCutoff": completedCutoff,
		"failedCutoff":    failedCutoff,
	}

	result, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed jobs for tenant %s: %w", tenant, err)
	}
	if result == nil || len(*result) == 0 {
		return 0, nil
	}
	return len((*result)[0].Result), nil
}

// CountPurgeable reports how many rows PurgeCompleted would delete for
// tenant without deleting them, via the same predicate as a SELECT COUNT.
func (s *JobStore) CountPurgeable(ctx context.Context, tenant string, completedAge, failedAge time.Duration) (int, error) {
	now := time.Now()
	completedCutoff := now.Add(-completedAge)
	failedCutoff := now.Add(-failedAge)

	sql := `SELECT count() FROM job WHERE tenant = $tenant AND (
		(status = $completed AND timestamps.completed < $completedCutoff) OR
		(status = $failed AND timestamps.failed < $failedCutoff)
	) GROUP ALL`
	vars := map[string]any{
		"tenant":          tenant,
		"completed":       models.JobStatusCompleted,
		"failed":          models.JobStatusFailed,
		"completedCutoff": completedCutoff,
		"failedCutoff":    failedCutoff,
	}

	result, err := surrealdb.Query[[]struct {
		Count int `json:"count"`
	}](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to count purgeable jobs for tenant %s: %w", tenant, err)
	}
	if result == nil || len(*result) == 0 || len((*result)[0].Result) == 0 {
		return 0, nil
	}
	return (*result)[0].Result[0].Count, nil
}

// ResetRunningJobs re-queues every running row on process start, as a
// crash-recovery measure before the stalled-reaper would otherwise catch
// them.
func (s *JobStore) ResetRunningJobs(ctx context.Context) (int, error) {
	sql := `UPDATE job SET status = $queued, workerId = NONE WHERE status = $running RETURN BEFORE`
	vars := map[string]any{
		"queued":  models.JobStatusQueued,
		"running": models.JobStatusRunning,
	}

	result, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to reset running jobs: %w", err)
	}
	if result == nil || len(*result) == 0 {
		return 0, nil
	}
	return len((*result)[0].Result), nil
}

// Close is a no-op: the underlying connection is owned and closed by
// Manager, which may be shared across stores.
func (s *JobStore) Close() error {
	return nil
}

// queryOneFrom runs sql expected to return at most one Job.
func (s *JobStore) queryOneFrom(ctx context.Context, sql string, vars map[string]any) (*models.Job, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, err
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	job := (*results)[0].Result[0]
	return &job, nil
}

// queryJobs runs sql expected to return a list of jobs.
func (s *JobStore) queryJobs(ctx context.Context, sql string, vars map[string]any) ([]*models.Job, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	var jobs []*models.Job
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			jobs = append(jobs, &(*results)[0].Result[i])
		}
	}
	return jobs, nil
}

// Compile-time check.
var _ interfaces.JobStore = (*JobStore)(nil)
