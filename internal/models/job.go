// Package models defines the persisted entities of the job subsystem: Job,
// ArchivedEmail, Attachment, Alert, and the worker/tenant descriptors.
package models

import (
	"time"

	"github.com/bobmcallan/casevault/internal/errs"
)

// JobType is a closed tag identifying the per-type payload shape. New job
// kinds require an explicit addition here plus a validator and handler;
// there is no dynamic/open type registration.
type JobType string

const (
	JobTypeEmailArchival   JobType = "email-archival"
	JobTypeBulkAssign      JobType = "bulk-assignment"
	JobTypeStorageCleanup  JobType = "storage-cleanup"
	JobTypeExport          JobType = "export"
	JobTypeContentAnalysis JobType = "content-analysis"
	JobTypeMaintenance     JobType = "maintenance"
)

// JobStatus is the closed set of job state-machine statuses.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusRetry     JobStatus = "retry"
	JobStatusStalled   JobStatus = "stalled"
)

// Priority is an ordinal urgency band: urgent > high > normal > low.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// PriorityRank returns a numeric ordering for SQL ORDER BY and in-memory
// comparisons: higher rank is claimed first.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Progress is the monotonic progress record updated by UpdateProgress.
type Progress struct {
	Percentage     int    `json:"percentage"`
	ProcessedItems int    `json:"processedItems"`
	TotalItems     int    `json:"totalItems"`
	CurrentStep    string `json:"currentStep"`
}

// JobTimestamps tracks the lifecycle instants of one job.
type JobTimestamps struct {
	Created     time.Time  `json:"created"`
	Queued      *time.Time `json:"queued,omitempty"`
	Started     *time.Time `json:"started,omitempty"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
	Completed   *time.Time `json:"completed,omitempty"`
	Failed      *time.Time `json:"failed,omitempty"`
	Cancelled   *time.Time `json:"cancelled,omitempty"`
}

// JobResult is the type-specific outcome + metrics recorded by Complete.
type JobResult struct {
	Success  bool              `json:"success"`
	Warnings []string          `json:"warnings,omitempty"`
	Metrics  map[string]int64  `json:"metrics,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// Job is a unit of work owned by exactly one tenant.
type Job struct {
	ID           string            `json:"id"`
	Tenant       string            `json:"tenant"`
	Type         JobType           `json:"type"`
	Status       JobStatus         `json:"status"`
	Priority     Priority          `json:"priority"`
	Payload      map[string]any    `json:"payload"`
	Progress     *Progress         `json:"progress,omitempty"`
	Error        *errs.JobError    `json:"error,omitempty"`
	Result       *JobResult        `json:"result,omitempty"`
	Attempts     int               `json:"attempts"`
	MaxRetries   int               `json:"maxRetries"`
	TimeoutMs    int               `json:"timeoutMs"`
	Timestamps   JobTimestamps     `json:"timestamps"`
	ScheduledFor *time.Time        `json:"scheduledFor,omitempty"`
	WorkerID     string            `json:"workerId,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// IsTerminal reports whether status is one of the three terminal states.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobEvent is broadcast to subscribers when a job's state changes
// (created|queued|started|progress|completed|failed|cancelled|retry).
type JobEvent struct {
	Type      string    `json:"type"`
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

// JobFilter configures Query's filter predicate.
type JobFilter struct {
	Tenant     string
	Status     []JobStatus
	Type       []JobType
	Priority   []Priority
	User       string
	CaseID     string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	FreeText   string
}

// SortField is the closed set of Query sort keys.
type SortField string

const (
	SortByCreated   SortField = "created"
	SortByStarted   SortField = "started"
	SortByCompleted SortField = "completed"
	SortByPriority  SortField = "priority"
	SortByStatus    SortField = "status"
)

// Pagination configures Query's page window.
type Pagination struct {
	Limit  int
	Offset int
	Sort   SortField
	Desc   bool
}

// BulkOpKind is the closed set of BulkOp operations.
type BulkOpKind string

const (
	BulkOpCancel  BulkOpKind = "cancel"
	BulkOpRetry   BulkOpKind = "retry"
	BulkOpDelete  BulkOpKind = "delete"
	BulkOpRestart BulkOpKind = "restart"
)

// StatsByStatus summarizes job counts by status for one tenant (or all
// tenants, when produced by Monitor's global sweep).
type StatsByStatus struct {
	Tenant       string           `json:"tenant,omitempty"`
	CountByStatus map[JobStatus]int `json:"countByStatus"`
	CountByType   map[JobType]int   `json:"countByType"`
	CountByPriority map[Priority]int `json:"countByPriority"`
}
