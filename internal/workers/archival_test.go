package workers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bobmcallan/casevault/internal/archiver"
	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
	"github.com/bobmcallan/casevault/internal/storage/blob"
)

type fakeCredentials struct {
	cred *interfaces.Credential
	err  error
}

func (f *fakeCredentials) GetAccessToken(ctx context.Context, tenant, user string) (*interfaces.Credential, error) {
	return f.cred, f.err
}

type fakeMailClient struct {
	result *models.FetchResult
	err    error
	calls  int
}

func (f *fakeMailClient) FetchMessage(ctx context.Context, token, tenant, user, messageID string) (*models.FetchResult, error) {
	f.calls++
	return f.result, f.err
}

// recordingSink captures every progress checkpoint a handler reports.
type recordingSink struct {
	mu       sync.Mutex
	percents []int
}

func (s *recordingSink) Report(ctx context.Context, p models.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.percents = append(s.percents, p.Percentage)
	return nil
}

func newArchivalArchiver(t *testing.T) *archiver.Archiver {
	t.Helper()
	store, err := blob.NewFileBlobStore(common.NewSilentLogger(), blob.FileConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFileBlobStore() error = %v", err)
	}
	return archiver.New(store, common.NewSilentLogger())
}

func archivalJob(payload models.EmailArchivalPayload) *models.Job {
	return &models.Job{
		Tenant: payload.Tenant,
		Type:   models.JobTypeEmailArchival,
		Payload: map[string]any{
			"tenant":          payload.Tenant,
			"user":            payload.User,
			"messageId":       payload.MessageID,
			"caseId":          payload.CaseID,
			"forceRestore":    payload.ForceRestore,
			"skipAttachments": payload.SkipAttachments,
		},
	}
}

func fetchedMessage() *models.FetchResult {
	return &models.FetchResult{
		Bodies: models.EmailBodies{HTML: "<p>hello</p>", Text: "hello"},
		Metadata: models.EmailMetadata{
			Subject:         "Quarterly review",
			From:            "sender@example.com",
			AttachmentCount: 2,
		},
		Attachments: []models.Attachment{
			{ID: "att-1", Name: "a.txt", ContentType: "text/plain", Size: 100, Content: make([]byte, 100)},
			{ID: "att-2", Name: "b.txt", ContentType: "text/plain", Size: 200, Content: make([]byte, 200)},
		},
	}
}

func TestEmailArchival_HappyPath(t *testing.T) {
	a := newArchivalArchiver(t)
	mail := &fakeMailClient{result: fetchedMessage()}
	deps := Dependencies{
		Archiver:    a,
		MailClient:  mail,
		Credentials: &fakeCredentials{cred: &interfaces.Credential{Token: "tok"}},
		Logger:      common.NewSilentLogger(),
	}
	handler := NewEmailArchivalHandler(deps)
	sink := &recordingSink{}

	job := archivalJob(models.EmailArchivalPayload{
		Tenant: "acme", User: "user-1", MessageID: "m1", CaseID: "c1",
	})
	result, err := handler(context.Background(), job, sink, make(chan struct{}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if !result.Success {
		t.Error("expected Success true")
	}
	if result.Metrics["bodies"] != 2 {
		t.Errorf("expected 2 bodies stored, got %d", result.Metrics["bodies"])
	}
	if result.Metrics["attachments"] != 2 {
		t.Errorf("expected 2 attachments stored, got %d", result.Metrics["attachments"])
	}
	wantBytes := int64(len("<p>hello</p>") + len("hello") + 100 + 200)
	if result.Metrics["bytesProcessed"] != wantBytes {
		t.Errorf("expected bytesProcessed %d, got %d", wantBytes, result.Metrics["bytesProcessed"])
	}
	if result.Data["storagePath"] == "" {
		t.Error("expected a storage path in the result data")
	}

	// Progress must be monotonic and terminate at 100.
	if len(sink.percents) == 0 {
		t.Fatal("expected progress checkpoints")
	}
	for i := 1; i < len(sink.percents); i++ {
		if sink.percents[i] < sink.percents[i-1] {
			t.Errorf("progress regressed: %v", sink.percents)
		}
	}
	if sink.percents[len(sink.percents)-1] != 100 {
		t.Errorf("expected final progress 100, got %d", sink.percents[len(sink.percents)-1])
	}

	stored, err := a.Get(context.Background(), "m1", "c1")
	if err != nil {
		t.Fatalf("Get after archive failed: %v", err)
	}
	if len(stored.Email.Attachments) != 2 {
		t.Errorf("expected 2 attachments retrievable, got %d", len(stored.Email.Attachments))
	}
}

func TestEmailArchival_SkipsAlreadyArchived(t *testing.T) {
	a := newArchivalArchiver(t)
	mail := &fakeMailClient{result: fetchedMessage()}
	deps := Dependencies{
		Archiver:    a,
		MailClient:  mail,
		Credentials: &fakeCredentials{cred: &interfaces.Credential{Token: "tok"}},
		Logger:      common.NewSilentLogger(),
	}
	handler := NewEmailArchivalHandler(deps)

	job := archivalJob(models.EmailArchivalPayload{Tenant: "acme", User: "u", MessageID: "m1", CaseID: "c1"})
	if _, err := handler(context.Background(), job, nil, make(chan struct{})); err != nil {
		t.Fatalf("first archival failed: %v", err)
	}

	result, err := handler(context.Background(), job, nil, make(chan struct{}))
	if err != nil {
		t.Fatalf("second archival failed: %v", err)
	}
	if result.Metrics["skipped"] != 1 {
		t.Error("expected the second run to skip the already-archived message")
	}
	if mail.calls != 1 {
		t.Errorf("expected exactly one upstream fetch across both runs, got %d", mail.calls)
	}
}

func TestEmailArchival_ForceRestoreRefetches(t *testing.T) {
	a := newArchivalArchiver(t)
	mail := &fakeMailClient{result: fetchedMessage()}
	deps := Dependencies{
		Archiver:    a,
		MailClient:  mail,
		Credentials: &fakeCredentials{cred: &interfaces.Credential{Token: "tok"}},
		Logger:      common.NewSilentLogger(),
	}
	handler := NewEmailArchivalHandler(deps)

	job := archivalJob(models.EmailArchivalPayload{Tenant: "acme", User: "u", MessageID: "m1", CaseID: "c1"})
	if _, err := handler(context.Background(), job, nil, make(chan struct{})); err != nil {
		t.Fatalf("first archival failed: %v", err)
	}

	forced := archivalJob(models.EmailArchivalPayload{
		Tenant: "acme", User: "u", MessageID: "m1", CaseID: "c1", ForceRestore: true,
	})
	if _, err := handler(context.Background(), forced, nil, make(chan struct{})); err != nil {
		t.Fatalf("forced archival failed: %v", err)
	}
	if mail.calls != 2 {
		t.Errorf("expected forceRestore to fetch again, got %d fetches", mail.calls)
	}
}

func TestEmailArchival_NoAccountFailsPrecondition(t *testing.T) {
	deps := Dependencies{
		Archiver:    newArchivalArchiver(t),
		MailClient:  &fakeMailClient{},
		Credentials: &fakeCredentials{cred: nil},
		Logger:      common.NewSilentLogger(),
	}
	handler := NewEmailArchivalHandler(deps)

	job := archivalJob(models.EmailArchivalPayload{Tenant: "acme", User: "nobody", MessageID: "m1", CaseID: "c1"})
	_, err := handler(context.Background(), job, nil, make(chan struct{}))
	if err == nil {
		t.Fatal("expected an error when no mail account is connected")
	}
	var jobErr *errs.JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected a *errs.JobError, got %T", err)
	}
	if jobErr.Kind != errs.KindPrecondition {
		t.Errorf("expected kind PRECONDITION, got %s", jobErr.Kind)
	}
	if jobErr.Retryable {
		t.Error("a missing mail account must not be retryable")
	}
}

func TestEmailArchival_UpstreamErrorSurfaces(t *testing.T) {
	notFound := errs.NotFound("message m1 gone upstream")
	deps := Dependencies{
		Archiver:    newArchivalArchiver(t),
		MailClient:  &fakeMailClient{err: notFound},
		Credentials: &fakeCredentials{cred: &interfaces.Credential{Token: "tok"}},
		Logger:      common.NewSilentLogger(),
	}
	handler := NewEmailArchivalHandler(deps)

	job := archivalJob(models.EmailArchivalPayload{Tenant: "acme", User: "u", MessageID: "m1", CaseID: "c1"})
	_, err := handler(context.Background(), job, nil, make(chan struct{}))
	var jobErr *errs.JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected a *errs.JobError, got %T", err)
	}
	if jobErr.Kind != errs.KindNotFound || jobErr.Retryable {
		t.Errorf("expected non-retryable NOT_FOUND to pass through, got %s retryable=%v", jobErr.Kind, jobErr.Retryable)
	}
}

func TestEmailArchival_RespectsCancellation(t *testing.T) {
	deps := Dependencies{
		Archiver:    newArchivalArchiver(t),
		MailClient:  &fakeMailClient{result: fetchedMessage()},
		Credentials: &fakeCredentials{cred: &interfaces.Credential{Token: "tok"}},
		Logger:      common.NewSilentLogger(),
	}
	handler := NewEmailArchivalHandler(deps)

	cancelled := make(chan struct{})
	close(cancelled)

	job := archivalJob(models.EmailArchivalPayload{Tenant: "acme", User: "u", MessageID: "m1", CaseID: "c1"})
	_, err := handler(context.Background(), job, nil, cancelled)
	var jobErr *errs.JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected a *errs.JobError, got %T", err)
	}
	if jobErr.Kind != errs.KindCancelled {
		t.Errorf("expected kind CANCELLED, got %s", jobErr.Kind)
	}
}

func TestEmailArchival_SkipAttachmentsStoresNone(t *testing.T) {
	a := newArchivalArchiver(t)
	deps := Dependencies{
		Archiver:    a,
		MailClient:  &fakeMailClient{result: fetchedMessage()},
		Credentials: &fakeCredentials{cred: &interfaces.Credential{Token: "tok"}},
		Logger:      common.NewSilentLogger(),
	}
	handler := NewEmailArchivalHandler(deps)

	job := archivalJob(models.EmailArchivalPayload{
		Tenant: "acme", User: "u", MessageID: "m1", CaseID: "c1", SkipAttachments: true,
	})
	result, err := handler(context.Background(), job, nil, make(chan struct{}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.Metrics["attachments"] != 0 {
		t.Errorf("expected no attachments stored, got %d", result.Metrics["attachments"])
	}
}
