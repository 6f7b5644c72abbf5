package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/casevault/internal/archiver"
	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
	"github.com/bobmcallan/casevault/internal/queue"
	"github.com/bobmcallan/casevault/internal/storage/blob"
	"github.com/bobmcallan/casevault/internal/workers"
)

// fakeJobStore is a minimal in-memory interfaces.JobStore with a failed
// channel so dispatcher tests can observe exactly which *errs.JobError
// reached Store.Fail without polling.
type fakeJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	failed chan *errs.JobError
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*models.Job), failed: make(chan *errs.JobError, 4)}
}

func (s *fakeJobStore) Enqueue(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", len(s.jobs)+1)
	}
	job.Status = models.JobStatusQueued
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeJobStore) Get(ctx context.Context, tenant, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) UpdateProgress(ctx context.Context, tenant, id string, progress models.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Progress = &progress
	}
	return nil
}

func (s *fakeJobStore) Claim(ctx context.Context, workerID string, supportedTypes []models.JobType) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Status != models.JobStatusQueued {
			continue
		}
		if !supportsType(supportedTypes, j.Type) {
			continue
		}
		j.Status = models.JobStatusRunning
		j.WorkerID = workerID
		j.Attempts++
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func supportsType(types []models.JobType, t models.JobType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func (s *fakeJobStore) Complete(ctx context.Context, tenant, id string, result *models.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = models.JobStatusCompleted
		j.Result = result
	}
	return nil
}

// Fail normalizes jobErr the same way the real Store does and publishes it
// on failed, so a test can assert the exact Kind/Retryable the dispatcher
// decided on without racing a status poll.
func (s *fakeJobStore) Fail(ctx context.Context, tenant, id string, jobErr error) error {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.Status = models.JobStatusFailed
	}
	s.mu.Unlock()

	var je *errs.JobError
	if !errors.As(jobErr, &je) {
		je = errs.Processing(jobErr.Error(), jobErr)
	}
	s.failed <- je
	return nil
}

func (s *fakeJobStore) Cancel(ctx context.Context, tenant, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = models.JobStatusCancelled
	}
	return nil
}

func (s *fakeJobStore) Retry(ctx context.Context, tenant, id string) error  { return nil }
func (s *fakeJobStore) Delete(ctx context.Context, tenant, id string) error { return nil }

func (s *fakeJobStore) Query(ctx context.Context, filter models.JobFilter, page models.Pagination) ([]*models.Job, error) {
	return nil, nil
}

func (s *fakeJobStore) BulkOp(ctx context.Context, tenant string, ids []string, op models.BulkOpKind) (int, error) {
	return 0, nil
}

func (s *fakeJobStore) Stats(ctx context.Context, tenant string) (*models.StatsByStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.StatsByStatus{CountByStatus: map[models.JobStatus]int{}}
	for _, j := range s.jobs {
		if j.Tenant == tenant {
			stats.CountByStatus[j.Status]++
		}
	}
	return stats, nil
}

func (s *fakeJobStore) MarkStalled(ctx context.Context, stalledTimeout time.Duration) (int, error) {
	return 0, nil
}

func (s *fakeJobStore) PurgeCompleted(ctx context.Context, tenant string, completedAge, failedAge time.Duration) (int, error) {
	return 0, nil
}

func (s *fakeJobStore) CountPurgeable(ctx context.Context, tenant string, completedAge, failedAge time.Duration) (int, error) {
	return 0, nil
}

func (s *fakeJobStore) ResetRunningJobs(ctx context.Context) (int, error) { return 0, nil }
func (s *fakeJobStore) Close() error                                     { return nil }

var _ interfaces.JobStore = (*fakeJobStore)(nil)

// blockingMailClient lets each test control exactly how FetchMessage behaves
// without a real upstream mail provider.
type blockingMailClient struct {
	fetch func(ctx context.Context) (*models.FetchResult, error)
}

func (c *blockingMailClient) FetchMessage(ctx context.Context, token, tenant, user, messageID string) (*models.FetchResult, error) {
	return c.fetch(ctx)
}

type stubCredentials struct{}

func (stubCredentials) GetAccessToken(ctx context.Context, tenant, user string) (*interfaces.Credential, error) {
	return &interfaces.Credential{Token: "test-token"}, nil
}

func newTestDeps(t *testing.T, mail interfaces.MailClient, store interfaces.JobStore) workers.Dependencies {
	t.Helper()
	blobStore, err := blob.NewFileBlobStore(common.NewSilentLogger(), blob.FileConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFileBlobStore() error = %v", err)
	}
	return workers.Dependencies{
		Archiver:    archiver.New(blobStore, common.NewSilentLogger()),
		JobStore:    store,
		MailClient:  mail,
		Credentials: stubCredentials{},
		Logger:      common.NewSilentLogger(),
	}
}

func newTestPool(q *queue.Queue, store interfaces.JobStore, deps workers.Dependencies) *Pool {
	registry := workers.NewRegistry(deps)
	descriptors := []models.WorkerDescriptor{{
		WorkerID:       "worker-1",
		SupportedTypes: []models.JobType{models.JobTypeEmailArchival},
		MaxConcurrency: 1,
		Enabled:        true,
	}}
	return New(q, store, registry, common.NewSilentLogger(), descriptors, 1)
}

func archivalPayload() models.EmailArchivalPayload {
	return models.EmailArchivalPayload{Tenant: "acme", User: "user-1", MessageID: "msg-1", CaseID: "case-1"}
}

// TestDispatcher_TimeoutRecordsRetryableTimeout proves the fix for the
// TIMEOUT/CANCELLED conflation: a job that overruns its own TimeoutMs must
// be recorded failed{kind: TIMEOUT, retryable: true}, not CANCELLED.
func TestDispatcher_TimeoutRecordsRetryableTimeout(t *testing.T) {
	store := newFakeJobStore()
	mail := &blockingMailClient{fetch: func(ctx context.Context) (*models.FetchResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	deps := newTestDeps(t, mail, store)
	hub := queue.NewJobEventHub(common.NewSilentLogger())
	q := queue.New(store, hub, common.NewSilentLogger(), common.JobQueueConfig{
		MaxConcurrency: 10, DefaultTimeoutMs: 5000, DefaultMaxRetries: 3, MaxQueueDepth: 10,
	})
	p := newTestPool(q, store, deps)

	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "acme", models.JobTypeEmailArchival, archivalPayload(), queue.Options{TimeoutMs: 50}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	p.Start(ctx)
	defer p.Stop()

	select {
	case je := <-store.failed:
		if je.Kind != errs.KindTimeout {
			t.Errorf("expected kind TIMEOUT, got %s", je.Kind)
		}
		if !je.Retryable {
			t.Error("expected a dispatcher timeout to be retryable")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Store.Fail to be called")
	}
}

// TestDispatcher_ExternalCancelRecordsNonRetryableCancelled proves the
// timeout fix didn't regress the separate external-Cancel path: a job
// cancelled out from under the dispatcher via a direct Store.Cancel must
// still be recorded failed{kind: CANCELLED, retryable: false}.
func TestDispatcher_ExternalCancelRecordsNonRetryableCancelled(t *testing.T) {
	store := newFakeJobStore()
	started := make(chan struct{})
	mail := &blockingMailClient{fetch: func(ctx context.Context) (*models.FetchResult, error) {
		close(started)
		time.Sleep(3 * time.Second)
		return &models.FetchResult{}, nil
	}}
	deps := newTestDeps(t, mail, store)
	hub := queue.NewJobEventHub(common.NewSilentLogger())
	q := queue.New(store, hub, common.NewSilentLogger(), common.JobQueueConfig{
		MaxConcurrency: 10, DefaultTimeoutMs: 30_000, DefaultMaxRetries: 3, MaxQueueDepth: 10,
	})
	p := newTestPool(q, store, deps)

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "acme", models.JobTypeEmailArchival, archivalPayload(), queue.Options{TimeoutMs: 30_000})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	p.Start(ctx)
	defer p.Stop()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the handler to start fetching")
	}

	if err := store.Cancel(ctx, "acme", job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	select {
	case je := <-store.failed:
		if je.Kind != errs.KindCancelled {
			t.Errorf("expected kind CANCELLED, got %s", je.Kind)
		}
		if je.Retryable {
			t.Error("expected an external cancel to be non-retryable")
		}
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for Store.Fail to be called")
	}
}
