package workers

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/casevault/internal/archiver"
	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/models"
	"github.com/bobmcallan/casevault/internal/storage/blob"
)

func newCleanupArchiver(t *testing.T) *archiver.Archiver {
	t.Helper()
	store, err := blob.NewFileBlobStore(common.NewSilentLogger(), blob.FileConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFileBlobStore() error = %v", err)
	}
	return archiver.New(store, common.NewSilentLogger())
}

func storeAgedEmail(t *testing.T, a *archiver.Archiver, caseID, messageID string, storedAt time.Time) {
	t.Helper()
	email := &models.ArchivedEmail{
		Bodies:   models.EmailBodies{Text: "hello"},
		StoredAt: storedAt,
	}
	if _, err := a.Store(context.Background(), messageID, caseID, email); err != nil {
		t.Fatalf("Store(%s/%s) failed: %v", caseID, messageID, err)
	}
}

func cleanupJob(payload models.StorageCleanupPayload) *models.Job {
	return &models.Job{
		Tenant: payload.Tenant,
		Type:   models.JobTypeStorageCleanup,
		Payload: map[string]any{
			"tenant":      payload.Tenant,
			"user":        payload.User,
			"targetScope": payload.TargetScope,
			"cleanupAge":  payload.CleanupAge,
			"dryRun":      payload.DryRun,
		},
	}
}

func TestStorageCleanup_SingleCase_DeletesOnlyAgedEmails(t *testing.T) {
	a := newCleanupArchiver(t)
	storeAgedEmail(t, a, "case-1", "old-msg", time.Now().Add(-48*time.Hour))
	storeAgedEmail(t, a, "case-1", "fresh-msg", time.Now())

	deps := Dependencies{Archiver: a, Logger: common.NewSilentLogger()}
	handler := NewStorageCleanupHandler(deps)

	job := cleanupJob(models.StorageCleanupPayload{
		Tenant:      "acme",
		TargetScope: "case-1",
		CleanupAge:  int64(24 * time.Hour / time.Millisecond),
	})

	result, err := handler(context.Background(), job, nil, make(chan struct{}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.Metrics["inspected"] != 2 {
		t.Errorf("expected 2 inspected, got %d", result.Metrics["inspected"])
	}
	if result.Metrics["deleted"] != 1 {
		t.Errorf("expected 1 deleted, got %d", result.Metrics["deleted"])
	}

	if exists, _ := a.Exists(context.Background(), "old-msg", "case-1"); exists {
		t.Error("expected the aged message to have been deleted")
	}
	if exists, _ := a.Exists(context.Background(), "fresh-msg", "case-1"); !exists {
		t.Error("expected the fresh message to still exist")
	}
}

func TestStorageCleanup_SingleCase_DryRunDeletesNothing(t *testing.T) {
	a := newCleanupArchiver(t)
	storeAgedEmail(t, a, "case-1", "old-msg", time.Now().Add(-48*time.Hour))

	deps := Dependencies{Archiver: a, Logger: common.NewSilentLogger()}
	handler := NewStorageCleanupHandler(deps)

	job := cleanupJob(models.StorageCleanupPayload{
		Tenant:      "acme",
		TargetScope: "case-1",
		CleanupAge:  int64(24 * time.Hour / time.Millisecond),
		DryRun:      true,
	})

	result, err := handler(context.Background(), job, nil, make(chan struct{}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.Metrics["deleted"] != 1 {
		t.Errorf("expected deleted count to still report 1 in dry-run, got %d", result.Metrics["deleted"])
	}
	if exists, _ := a.Exists(context.Background(), "old-msg", "case-1"); !exists {
		t.Error("dry run must not actually delete the aged message")
	}
}

// TestStorageCleanup_AllScope_IteratesCasesViaArchiver is the regression
// test for the "all" scope previously purging Job store rows (Maintenance's
// job) instead of walking archived-email cases (this component's own job).
// deps.JobStore is left nil: if the "all" scope ever again reaches for it,
// this test panics with a nil pointer dereference instead of silently
// passing.
func TestStorageCleanup_AllScope_IteratesCasesViaArchiver(t *testing.T) {
	a := newCleanupArchiver(t)
	storeAgedEmail(t, a, "case-1", "old-msg", time.Now().Add(-48*time.Hour))
	storeAgedEmail(t, a, "case-1", "fresh-msg", time.Now())
	storeAgedEmail(t, a, "case-2", "old-msg-2", time.Now().Add(-48*time.Hour))

	deps := Dependencies{Archiver: a, Logger: common.NewSilentLogger()}
	handler := NewStorageCleanupHandler(deps)

	job := cleanupJob(models.StorageCleanupPayload{
		Tenant:      "acme",
		TargetScope: allTenantsScope,
		CleanupAge:  int64(24 * time.Hour / time.Millisecond),
	})

	result, err := handler(context.Background(), job, nil, make(chan struct{}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.Metrics["cases"] != 2 {
		t.Errorf("expected 2 cases walked, got %d", result.Metrics["cases"])
	}
	if result.Metrics["inspected"] != 3 {
		t.Errorf("expected 3 emails inspected across both cases, got %d", result.Metrics["inspected"])
	}
	if result.Metrics["deleted"] != 2 {
		t.Errorf("expected 2 aged emails deleted across both cases, got %d", result.Metrics["deleted"])
	}

	if exists, _ := a.Exists(context.Background(), "fresh-msg", "case-1"); !exists {
		t.Error("expected the fresh message in case-1 to survive the all-tenants sweep")
	}
}

func TestStorageCleanup_RespectsCancellation(t *testing.T) {
	a := newCleanupArchiver(t)
	storeAgedEmail(t, a, "case-1", "old-msg", time.Now().Add(-48*time.Hour))

	deps := Dependencies{Archiver: a, Logger: common.NewSilentLogger()}
	handler := NewStorageCleanupHandler(deps)

	job := cleanupJob(models.StorageCleanupPayload{Tenant: "acme", TargetScope: "case-1"})

	cancelled := make(chan struct{})
	close(cancelled)

	if _, err := handler(context.Background(), job, nil, cancelled); err == nil {
		t.Error("expected a cancellation error when cancelled is already closed")
	}
}
