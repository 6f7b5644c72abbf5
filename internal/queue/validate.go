package queue

import (
	"encoding/json"
	"fmt"

	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/models"
)

// validateAndNormalize checks payload's shape for jobType and converts it
// to the map[string]any wire/storage form.
// payload must be the typed struct for jobType (e.g. models.EmailArchivalPayload
// for JobTypeEmailArchival): callers get type safety at the call site, Store
// still gets the opaque map it expects.
func validateAndNormalize(jobType models.JobType, payload any) (map[string]any, error) {
	switch jobType {
	case models.JobTypeEmailArchival:
		p, ok := payload.(models.EmailArchivalPayload)
		if !ok {
			return nil, errs.Validation("email-archival payload must be models.EmailArchivalPayload")
		}
		if p.Tenant == "" || p.User == "" || p.MessageID == "" || p.CaseID == "" {
			return nil, errs.Validation("email-archival payload requires tenant, user, messageId, caseId")
		}
		return toMap(p)

	case models.JobTypeBulkAssign:
		p, ok := payload.(models.BulkAssignPayload)
		if !ok {
			return nil, errs.Validation("bulk-assignment payload must be models.BulkAssignPayload")
		}
		if p.Tenant == "" || p.User == "" || p.CaseID == "" || len(p.EmailIDs) == 0 {
			return nil, errs.Validation("bulk-assignment payload requires tenant, user, caseId, and at least one emailId")
		}
		if p.BatchSize <= 0 {
			p.BatchSize = 10
		}
		return toMap(p)

	case models.JobTypeStorageCleanup:
		p, ok := payload.(models.StorageCleanupPayload)
		if !ok {
			return nil, errs.Validation("storage-cleanup payload must be models.StorageCleanupPayload")
		}
		if p.Tenant == "" || p.TargetScope == "" {
			return nil, errs.Validation("storage-cleanup payload requires tenant and targetScope")
		}
		return toMap(p)

	case models.JobTypeExport:
		p, ok := payload.(models.ExportPayload)
		if !ok {
			return nil, errs.Validation("export payload must be models.ExportPayload")
		}
		if p.Tenant == "" || len(p.CaseIDs) == 0 {
			return nil, errs.Validation("export payload requires tenant and at least one caseId")
		}
		switch p.Format {
		case models.ExportFormatJSON, models.ExportFormatCSV, models.ExportFormatPDF:
		default:
			return nil, errs.Validation(fmt.Sprintf("export payload has unknown format %q", p.Format))
		}
		return toMap(p)

	case models.JobTypeContentAnalysis:
		p, ok := payload.(models.ContentAnalysisPayload)
		if !ok {
			return nil, errs.Validation("content-analysis payload must be models.ContentAnalysisPayload")
		}
		if p.Tenant == "" || p.CaseID == "" || p.MessageID == "" || p.AttachmentID == "" {
			return nil, errs.Validation("content-analysis payload requires tenant, caseId, messageId, attachmentId")
		}
		return toMap(p)

	case models.JobTypeMaintenance:
		p, ok := payload.(models.MaintenancePayload)
		if !ok {
			return nil, errs.Validation("maintenance payload must be models.MaintenancePayload")
		}
		return toMap(p)

	default:
		return nil, errs.Validation(fmt.Sprintf("unknown job type %q", jobType))
	}
}

// toMap round-trips v through JSON to produce the map[string]any form Store
// persists, the same shape jobstore's query layer reads payload.* paths from.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to normalize payload: %w", err)
	}
	return m, nil
}
