package workers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

const maxExtractedChars = 50000

// NewContentAnalysisHandler builds the handler for JobTypeContentAnalysis:
// extract plain text from a PDF attachment and, when a Gemini client is
// configured and summarization was requested, attach a short AI summary. The
// summarization step is enrichment: failures there are logged and
// swallowed rather than failing the job.
func NewContentAnalysisHandler(deps Dependencies) interfaces.Handler {
	return func(ctx context.Context, job *models.Job, progress interfaces.ProgressSink, cancelled <-chan struct{}) (*models.JobResult, error) {
		payload, err := decodePayload[models.ContentAnalysisPayload](job)
		if err != nil {
			return nil, err
		}
		merged := ctxCancelled(ctx, cancelled)

		if err := checkCancelled(merged); err != nil {
			return nil, err
		}
		reportProgress(ctx, progress, deps.Logger, 25, 1, 4, "load-email")

		retrieved, err := deps.Archiver.Get(ctx, payload.MessageID, payload.CaseID)
		if err != nil {
			return nil, errs.Storage("failed to load archived email", err)
		}

		att := findAttachment(retrieved.Email.Attachments, payload.AttachmentID)
		if att == nil {
			return nil, errs.NotFound(fmt.Sprintf("attachment %s not found on message %s", payload.AttachmentID, payload.MessageID))
		}

		if err := checkCancelled(merged); err != nil {
			return nil, err
		}
		reportProgress(ctx, progress, deps.Logger, 50, 2, 4, "extract-text")

		pageCount, extracted, err := extractPDFText(att.Content)
		if err != nil {
			return nil, errs.Processing(fmt.Sprintf("failed to extract text from attachment %s", att.ID), err)
		}

		result := map[string]string{
			"pageCount":      fmt.Sprintf("%d", pageCount),
			"extractedChars": fmt.Sprintf("%d", len(extracted)),
		}

		if payload.Summarize && deps.Gemini != nil && strings.TrimSpace(extracted) != "" {
			if err := checkCancelled(merged); err != nil {
				return nil, err
			}
			reportProgress(ctx, progress, deps.Logger, 75, 3, 4, "summarize")

			summary, err := deps.Gemini.GenerateContent(ctx, buildAttachmentSummaryPrompt(retrieved.Email.Metadata.Subject, extracted))
			if err != nil {
				deps.Logger.Warn().Err(err).Str("message_id", payload.MessageID).Msg("gemini summarization failed, continuing without summary")
			} else {
				result["summary"] = summary
			}
		}

		reportProgress(ctx, progress, deps.Logger, 100, 4, 4, "done")

		return &models.JobResult{
			Success: true,
			Metrics: map[string]int64{
				"pageCount":      int64(pageCount),
				"extractedChars": int64(len(extracted)),
			},
			Data: result,
		}, nil
	}
}

func findAttachment(attachments []models.Attachment, id string) *models.Attachment {
	for i := range attachments {
		if attachments[i].ID == id {
			return &attachments[i]
		}
	}
	return nil
}

func buildAttachmentSummaryPrompt(subject, text string) string {
	const maxPromptChars = 20000
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	return fmt.Sprintf("Summarize the following attachment text from the email %q in 2-3 sentences.\n\n%s", subject, text)
}

// extractPDFText extracts plain text across every page of a PDF attachment,
// truncated to maxExtractedChars. The library only reads from a path, so
// the in-memory attachment content is staged to a temp file first. Recovers
// from panics raised by malformed PDFs.
func extractPDFText(content []byte) (pageCount int, text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("panic during pdf extraction: %v", r)
		}
	}()

	tmp, err := os.CreateTemp("", "casevault-attachment-*.pdf")
	if err != nil {
		return 0, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(content); err != nil {
		return 0, "", fmt.Errorf("failed to write temp file: %w", err)
	}

	f, r, err := pdf.Open(tmp.Name())
	if err != nil {
		return 0, "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	pageCount = r.NumPage()
	for i := 1; i <= pageCount; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, pageErr := page.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
		if sb.Len() > maxExtractedChars {
			break
		}
	}

	result := sb.String()
	if len(result) > maxExtractedChars {
		result = result[:maxExtractedChars]
	}
	return pageCount, result, nil
}
