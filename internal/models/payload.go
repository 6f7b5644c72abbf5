package models

// Typed payload views, one per job type, validated and
// constructed by internal/queue; the Job.Payload map is the wire/storage
// form (opaque to Queue beyond shape validation).

// EmailArchivalPayload is the input for JobTypeEmailArchival.
type EmailArchivalPayload struct {
	Tenant          string `json:"tenant"`
	User            string `json:"user"`
	MessageID       string `json:"messageId"`
	CaseID          string `json:"caseId"`
	ForceRestore    bool   `json:"forceRestore,omitempty"`
	SkipAttachments bool   `json:"skipAttachments,omitempty"`
}

// BulkAssignPayload is the input for JobTypeBulkAssign.
type BulkAssignPayload struct {
	Tenant       string   `json:"tenant"`
	User         string   `json:"user"`
	EmailIDs     []string `json:"emailIds"`
	CaseID       string   `json:"caseId"`
	BatchSize    int      `json:"batchSize,omitempty"`
	SkipExisting bool     `json:"skipExisting"`
}

// StorageCleanupPayload is the input for JobTypeStorageCleanup.
type StorageCleanupPayload struct {
	Tenant      string `json:"tenant"`
	User        string `json:"user"`
	TargetScope string `json:"targetScope"` // case id, or "all"
	CleanupAge  int64  `json:"cleanupAge,omitempty"` // ms
	DryRun      bool   `json:"dryRun,omitempty"`
}

// ExportFormat is the closed set of export artifact formats.
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
)

// ExportPayload is the input for JobTypeExport.
type ExportPayload struct {
	Tenant             string       `json:"tenant"`
	User               string       `json:"user"`
	CaseIDs            []string     `json:"caseIds"`
	Format             ExportFormat `json:"format"`
	IncludeEmails      bool         `json:"includeEmails,omitempty"`
	IncludeAttachments bool         `json:"includeAttachments,omitempty"`
}

// ContentAnalysisPayload is the input for JobTypeContentAnalysis: PDF text
// extraction plus optional AI summarization (never required for success).
type ContentAnalysisPayload struct {
	Tenant      string `json:"tenant"`
	CaseID      string `json:"caseId"`
	MessageID   string `json:"messageId"`
	AttachmentID string `json:"attachmentId"`
	Summarize   bool   `json:"summarize,omitempty"`
}

// MaintenancePayload is the input for JobTypeMaintenance: an operator-
// triggered off-cycle sweep, independent of the two always-on Maintenance
// timers.
type MaintenancePayload struct {
	Tenant string `json:"tenant,omitempty"` // empty = all tenants in TenantDirectory
	DryRun bool   `json:"dryRun,omitempty"` // preview counts without reaping or purging
}

// DefaultPriority returns the default priority for a job type when the
// caller does not supply one.
func DefaultPriority(t JobType) Priority {
	return PriorityNormal
}
