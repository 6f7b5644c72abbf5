// Package archiver implements the Blob-Archiver component: it
// writes an ArchivedEmail to object storage under a deterministic key
// layout rooted at cases/{caseId}/emails/{messageId}/, and reads it back.
package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

const storageVersion = 1

// StorageResult is returned by Store: the root key and a manifest of what
// was written.
type StorageResult struct {
	StoragePath       string
	BodyCount         int
	AttachmentCount   int
	BytesProcessed    int64
	Checksum          string
}

// RetrievalResult is returned by Get.
type RetrievalResult struct {
	Email *models.ArchivedEmail
}

// CaseStats is returned by StatsForCase.
type CaseStats struct {
	TotalEmails      int
	TotalSize        int64
	TotalAttachments int
}

// Archiver assembles the canonical key layout on top of a backend-agnostic
// BlobStore; backend selection happens in the blob factory, never here.
type Archiver struct {
	store  interfaces.BlobStore
	logger *common.Logger
}

// New creates an Archiver over the given blob store.
func New(store interfaces.BlobStore, logger *common.Logger) *Archiver {
	return &Archiver{store: store, logger: logger}
}

// emailRoot returns the deterministic key root for one message.
func emailRoot(caseID, messageID string) string {
	return fmt.Sprintf("cases/%s/emails/%s", sanitizeSegment(caseID), sanitizeSegment(messageID))
}

// Store writes an ArchivedEmail under its deterministic key layout. Writes
// are safe to replay: overwrites are acceptable, which is also what makes
// the bulk-assign worker's sibling-archival-enqueue idempotent without
// extra bookkeeping.
func (a *Archiver) Store(ctx context.Context, messageID, caseID string, email *models.ArchivedEmail) (*StorageResult, error) {
	root := emailRoot(caseID, messageID)

	email.CaseID = caseID
	email.MessageID = messageID
	email.StorageVersion = storageVersion

	var bytesProcessed int64
	bodyCount := 0

	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize checksum: %w", err)
	}

	if email.Bodies.HTML != "" {
		if err := a.store.Put(ctx, root+"/content.html", []byte(email.Bodies.HTML), "text/html"); err != nil {
			return nil, fmt.Errorf("failed to store html body: %w", err)
		}
		bytesProcessed += int64(len(email.Bodies.HTML))
		hash.Write([]byte(email.Bodies.HTML))
		bodyCount++
	}
	if email.Bodies.Text != "" {
		if err := a.store.Put(ctx, root+"/content.txt", []byte(email.Bodies.Text), "text/plain"); err != nil {
			return nil, fmt.Errorf("failed to store text body: %w", err)
		}
		bytesProcessed += int64(len(email.Bodies.Text))
		hash.Write([]byte(email.Bodies.Text))
		bodyCount++
	}
	if email.Bodies.RTF != "" {
		if err := a.store.Put(ctx, root+"/content.rtf", []byte(email.Bodies.RTF), "application/rtf"); err != nil {
			return nil, fmt.Errorf("failed to store rtf body: %w", err)
		}
		bytesProcessed += int64(len(email.Bodies.RTF))
		hash.Write([]byte(email.Bodies.RTF))
		bodyCount++
	}

	if len(email.Headers) > 0 {
		headerBytes, err := json.Marshal(email.Headers)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal headers: %w", err)
		}
		if err := a.store.Put(ctx, root+"/headers.json", headerBytes, "application/json"); err != nil {
			return nil, fmt.Errorf("failed to store headers: %w", err)
		}
	}

	for i := range email.Attachments {
		att := &email.Attachments[i]
		if att.ID == "" {
			return nil, fmt.Errorf("attachment at index %d missing id", i)
		}
		sanitizedName := sanitizeSegment(att.Name)
		attRoot := fmt.Sprintf("%s/attachments/%s", root, sanitizeSegment(att.ID))

		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := a.store.Put(ctx, attRoot+"/"+sanitizedName, att.Content, contentType); err != nil {
			return nil, fmt.Errorf("failed to store attachment %s: %w", att.ID, err)
		}
		bytesProcessed += int64(len(att.Content))
		hash.Write(att.Content)

		attMetaBytes, err := json.Marshal(att)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attachment metadata %s: %w", att.ID, err)
		}
		if err := a.store.Put(ctx, attRoot+"/metadata.json", attMetaBytes, "application/json"); err != nil {
			return nil, fmt.Errorf("failed to store attachment metadata %s: %w", att.ID, err)
		}
	}

	email.Metadata.AttachmentCount = len(email.Attachments)
	email.Checksum = fmt.Sprintf("%x", hash.Sum(nil))

	metaBytes, err := json.Marshal(email)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email metadata: %w", err)
	}
	if err := a.store.Put(ctx, root+"/metadata.json", metaBytes, "application/json"); err != nil {
		return nil, fmt.Errorf("failed to store email metadata: %w", err)
	}

	a.logger.Debug().
		Str("case_id", caseID).
		Str("message_id", messageID).
		Int("bodies", bodyCount).
		Int("attachments", len(email.Attachments)).
		Msg("archived email stored")

	return &StorageResult{
		StoragePath:     root,
		BodyCount:       bodyCount,
		AttachmentCount: len(email.Attachments),
		BytesProcessed:  bytesProcessed,
		Checksum:        email.Checksum,
	}, nil
}

// Get reads back an ArchivedEmail's metadata document. Attachment and body
// content are fetched on demand via the underlying BlobStore by callers
// that need the raw bytes (e.g. export worker), keeping Get itself cheap.
func (a *Archiver) Get(ctx context.Context, messageID, caseID string) (*RetrievalResult, error) {
	root := emailRoot(caseID, messageID)

	data, err := a.store.Get(ctx, root+"/metadata.json")
	if err != nil {
		return nil, fmt.Errorf("failed to get email metadata for %s/%s: %w", caseID, messageID, err)
	}

	var email models.ArchivedEmail
	if err := json.Unmarshal(data, &email); err != nil {
		return nil, fmt.Errorf("failed to unmarshal email metadata for %s/%s: %w", caseID, messageID, err)
	}

	return &RetrievalResult{Email: &email}, nil
}

// Exists reports whether an email has already been fully archived, used by
// the archival worker to skip re-archiving a message it has already
// stored.
func (a *Archiver) Exists(ctx context.Context, messageID, caseID string) (bool, error) {
	root := emailRoot(caseID, messageID)
	return a.store.Exists(ctx, root+"/metadata.json")
}

// Delete removes every object under an email's root.
func (a *Archiver) Delete(ctx context.Context, messageID, caseID string) error {
	root := emailRoot(caseID, messageID)
	result, err := a.store.List(ctx, interfaces.ListOptions{Prefix: root})
	if err != nil {
		return fmt.Errorf("failed to list objects for delete %s/%s: %w", caseID, messageID, err)
	}
	for _, obj := range result.Blobs {
		if err := a.store.Delete(ctx, obj.Key); err != nil {
			return fmt.Errorf("failed to delete object %s: %w", obj.Key, err)
		}
	}
	return nil
}

// ListMessageIDs returns the message ids archived under caseID, used by the
// storage-cleanup worker to drive a scoped delete.
func (a *Archiver) ListMessageIDs(ctx context.Context, caseID string) ([]string, error) {
	prefix := fmt.Sprintf("cases/%s/emails", sanitizeSegment(caseID))
	result, err := a.store.List(ctx, interfaces.ListOptions{Prefix: prefix, MaxKeys: 100000})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for case %s: %w", caseID, err)
	}

	ids := make([]string, 0, len(result.Blobs))
	for _, obj := range result.Blobs {
		if !isEmailMetadataKey(obj.Key) {
			continue
		}
		parts := strings.Split(obj.Key, "/")
		ids = append(ids, parts[3])
	}
	return ids, nil
}

// ListCaseIDs returns every case id with at least one archived email,
// discovered by walking the "cases/" root rather than any caller-supplied
// list, used by the storage-cleanup worker's "all" scope to iterate cases
// the same way the single-case scope iterates messages.
func (a *Archiver) ListCaseIDs(ctx context.Context) ([]string, error) {
	result, err := a.store.List(ctx, interfaces.ListOptions{Prefix: "cases/", MaxKeys: 100000})
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, obj := range result.Blobs {
		parts := strings.Split(obj.Key, "/")
		if len(parts) < 2 {
			continue
		}
		caseID := parts[1]
		if _, ok := seen[caseID]; ok {
			continue
		}
		seen[caseID] = struct{}{}
		ids = append(ids, caseID)
	}
	return ids, nil
}

// StatsForCase aggregates totals by walking the case's key prefix.
func (a *Archiver) StatsForCase(ctx context.Context, caseID string) (*CaseStats, error) {
	prefix := fmt.Sprintf("cases/%s/emails", sanitizeSegment(caseID))
	result, err := a.store.List(ctx, interfaces.ListOptions{Prefix: prefix, MaxKeys: 100000})
	if err != nil {
		return nil, fmt.Errorf("failed to list case objects for %s: %w", caseID, err)
	}

	stats := &CaseStats{}
	for _, obj := range result.Blobs {
		stats.TotalSize += obj.Size
		if isEmailMetadataKey(obj.Key) {
			stats.TotalEmails++
		}
		if isAttachmentMetadataKey(obj.Key) {
			stats.TotalAttachments++
		}
	}
	return stats, nil
}
