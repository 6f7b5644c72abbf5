package workers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

const exportArtifactTTL = 24 * time.Hour

// exportRecord is the flattened row written into every export format.
type exportRecord struct {
	CaseID      string `json:"caseId"`
	MessageID   string `json:"messageId"`
	Subject     string `json:"subject"`
	From        string `json:"from"`
	StoredAt    string `json:"storedAt"`
	Attachments int    `json:"attachments"`
}

// NewExportHandler builds the handler for JobTypeExport:
// gather the requested cases' archived emails into one artifact in the
// requested format and write it to object storage under
// exports/{tenant}/{jobID}.{format}. The result reports an expiresAt
// exportArtifactTTL from now; nothing deletes the artifact when it passes.
// Rendering stays a straightforward encoding of the gathered rows; true
// PDF/EML layout is an external collaborator's concern, not this worker's.
func NewExportHandler(deps Dependencies) interfaces.Handler {
	return func(ctx context.Context, job *models.Job, progress interfaces.ProgressSink, cancelled <-chan struct{}) (*models.JobResult, error) {
		payload, err := decodePayload[models.ExportPayload](job)
		if err != nil {
			return nil, err
		}
		merged := ctxCancelled(ctx, cancelled)

		if !payload.IncludeEmails {
			return nil, errs.Validation("export requires includeEmails for at least one artifact row")
		}

		var records []exportRecord
		for i, caseID := range payload.CaseIDs {
			if err := checkCancelled(merged); err != nil {
				return nil, err
			}

			ids, err := deps.Archiver.ListMessageIDs(ctx, caseID)
			if err != nil {
				return nil, fmt.Errorf("failed to list messages for case %s: %w", caseID, err)
			}

			for _, messageID := range ids {
				if err := checkCancelled(merged); err != nil {
					return nil, err
				}
				result, err := deps.Archiver.Get(ctx, messageID, caseID)
				if err != nil {
					continue
				}
				records = append(records, toExportRecord(result.Email, payload.IncludeAttachments))
			}

			reportProgress(ctx, progress, deps.Logger, percentOf(i+1, len(payload.CaseIDs)), i+1, len(payload.CaseIDs), fmt.Sprintf("case %s", caseID))
		}

		data, contentType, err := encodeExport(payload.Format, records)
		if err != nil {
			return nil, err
		}

		key := fmt.Sprintf("exports/%s/%s.%s", payload.Tenant, job.ID, payload.Format)
		if err := deps.BlobStore.Put(ctx, key, data, contentType); err != nil {
			return nil, errs.Storage("failed to write export artifact", err)
		}

		expiresAt := time.Now().Add(exportArtifactTTL)

		return &models.JobResult{
			Success: true,
			Metrics: map[string]int64{
				"records":  int64(len(records)),
				"byteSize": int64(len(data)),
			},
			Data: map[string]string{
				"objectKey": key,
				"expiresAt": expiresAt.UTC().Format(time.RFC3339),
			},
		}, nil
	}
}

func toExportRecord(email *models.ArchivedEmail, includeAttachments bool) exportRecord {
	rec := exportRecord{
		CaseID:    email.CaseID,
		MessageID: email.MessageID,
		Subject:   email.Metadata.Subject,
		From:      email.Metadata.From,
		StoredAt:  email.StoredAt.UTC().Format(time.RFC3339),
	}
	if includeAttachments {
		rec.Attachments = len(email.Attachments)
	}
	return rec
}

func encodeExport(format models.ExportFormat, records []exportRecord) ([]byte, string, error) {
	switch format {
	case models.ExportFormatJSON, "":
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode json export: %w", err)
		}
		return data, "application/json", nil
	case models.ExportFormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"caseId", "messageId", "subject", "from", "storedAt", "attachments"})
		for _, r := range records {
			_ = w.Write([]string{r.CaseID, r.MessageID, r.Subject, r.From, r.StoredAt, fmt.Sprintf("%d", r.Attachments)})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, "", fmt.Errorf("failed to encode csv export: %w", err)
		}
		return buf.Bytes(), "text/csv", nil
	case models.ExportFormatPDF:
		// Plain-text payload under a .pdf key: true PDF layout belongs to
		// the presentation layer.
		var buf bytes.Buffer
		fmt.Fprintf(&buf, "Case export - %d records\n\n", len(records))
		for _, r := range records {
			fmt.Fprintf(&buf, "%s | %s | %s | %s | %s | attachments=%d\n", r.CaseID, r.MessageID, r.Subject, r.From, r.StoredAt, r.Attachments)
		}
		return buf.Bytes(), "application/pdf", nil
	default:
		return nil, "", errs.Validation(fmt.Sprintf("unsupported export format %q", format))
	}
}
