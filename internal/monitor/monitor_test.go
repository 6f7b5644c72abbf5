package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/models"
)

type fakeStats struct {
	stats  *models.StatsByStatus
	queued []*models.Job
	failed []*models.Job
}

func (f *fakeStats) Stats(ctx context.Context, tenant string) (*models.StatsByStatus, error) {
	return f.stats, nil
}

func (f *fakeStats) Query(ctx context.Context, filter models.JobFilter, page models.Pagination) ([]*models.Job, error) {
	if len(filter.Status) == 1 && filter.Status[0] == models.JobStatusFailed {
		return f.failed, nil
	}
	return f.queued, nil
}

type fakePool struct {
	workers []models.WorkerHealth
}

func (f *fakePool) Health() []models.WorkerHealth { return f.workers }

type fakeRetryStore struct {
	mu      sync.Mutex
	retried []string
}

func (f *fakeRetryStore) Retry(ctx context.Context, tenant, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, id)
	return nil
}

type fakeDirectory struct {
	tenants []models.Tenant
}

func (f *fakeDirectory) Tenants(ctx context.Context) ([]models.Tenant, error) {
	return f.tenants, nil
}

func (f *fakeDirectory) IsRegistered(ctx context.Context, tenant string) (bool, error) {
	for _, t := range f.tenants {
		if t.ID == tenant {
			return true, nil
		}
	}
	return false, nil
}

func emptyStats() *models.StatsByStatus {
	return &models.StatsByStatus{
		CountByStatus:   map[models.JobStatus]int{},
		CountByType:     map[models.JobType]int{},
		CountByPriority: map[models.Priority]int{},
	}
}

func newTestMonitor(stats *fakeStats, pool *fakePool, retryStore *fakeRetryStore, cfg *common.Config) *Monitor {
	dir := &fakeDirectory{tenants: []models.Tenant{{ID: "acme", Enabled: true}}}
	return New(stats, pool, retryStore, dir, nil, common.NewSilentLogger(), cfg)
}

func healthyWorker(id string) models.WorkerHealth {
	return models.WorkerHealth{
		WorkerID:      id,
		Status:        models.WorkerStatusIdle,
		LastHeartbeat: time.Now(),
	}
}

func TestScoreWorkers_AllHealthy(t *testing.T) {
	workers := []models.WorkerHealth{healthyWorker("w1"), healthyWorker("w2")}
	if got := scoreWorkers(workers); got != 100 {
		t.Errorf("expected score 100 for all-healthy workers, got %.0f", got)
	}
}

func TestScoreWorkers_NoWorkersIsHealthy(t *testing.T) {
	if got := scoreWorkers(nil); got != 100 {
		t.Errorf("expected score 100 for an empty worker set, got %.0f", got)
	}
}

func TestScoreWorkers_PenalizesStoppedAndError(t *testing.T) {
	workers := []models.WorkerHealth{
		healthyWorker("w1"),
		{WorkerID: "w2", Status: models.WorkerStatusStopped, LastHeartbeat: time.Now()},
		{WorkerID: "w3", Status: models.WorkerStatusError, LastHeartbeat: time.Now()},
	}
	// 1 of 3 healthy = 33.3, minus 10 (stopped) minus 20 (error).
	got := scoreWorkers(workers)
	if got > 4 || got < 3 {
		t.Errorf("expected score near 3.3, got %.1f", got)
	}
}

func TestScoreWorkers_StaleHeartbeatUnhealthy(t *testing.T) {
	workers := []models.WorkerHealth{
		{WorkerID: "w1", Status: models.WorkerStatusIdle, LastHeartbeat: time.Now().Add(-2 * time.Minute)},
	}
	if got := scoreWorkers(workers); got != 0 {
		t.Errorf("expected score 0 when the only worker's heartbeat is stale, got %.0f", got)
	}
}

func TestScoreProcessing_ErrorRateBreach(t *testing.T) {
	stats := emptyStats()
	stats.CountByStatus[models.JobStatusCompleted] = 5
	stats.CountByStatus[models.JobStatusFailed] = 5
	if got := scoreProcessing(stats, 10); got != 60 {
		t.Errorf("expected score 60 at 50%% error rate, got %.0f", got)
	}
}

func TestScoreProcessing_ZeroThroughputWithBacklog(t *testing.T) {
	stats := emptyStats()
	stats.CountByStatus[models.JobStatusQueued] = 4
	if got := scoreProcessing(stats, 10); got != 70 {
		t.Errorf("expected score 70 for zero throughput with a backlog, got %.0f", got)
	}
}

func TestScoreProcessing_CleanHistory(t *testing.T) {
	stats := emptyStats()
	stats.CountByStatus[models.JobStatusCompleted] = 20
	if got := scoreProcessing(stats, 10); got != 100 {
		t.Errorf("expected score 100 for a clean history, got %.0f", got)
	}
}

func TestScoreQueue_BacklogWithNothingRunning(t *testing.T) {
	cfg := common.NewDefaultConfig()
	stats := emptyStats()
	stats.CountByStatus[models.JobStatusQueued] = 5

	m := newTestMonitor(&fakeStats{stats: stats}, &fakePool{}, &fakeRetryStore{}, cfg)
	got, err := m.scoreQueue(context.Background(), stats)
	if err != nil {
		t.Fatalf("scoreQueue failed: %v", err)
	}
	if got != 60 {
		t.Errorf("expected score 60 for a backlog with nothing running, got %.0f", got)
	}
}

func TestScoreQueue_DepthThresholdBreach(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Monitor.QueueSizeThreshold = 10
	stats := emptyStats()
	stats.CountByStatus[models.JobStatusQueued] = 50
	stats.CountByStatus[models.JobStatusRunning] = 1

	m := newTestMonitor(&fakeStats{stats: stats}, &fakePool{}, &fakeRetryStore{}, cfg)
	got, err := m.scoreQueue(context.Background(), stats)
	if err != nil {
		t.Fatalf("scoreQueue failed: %v", err)
	}
	if got != 70 {
		t.Errorf("expected score 70 when queue depth breaches the threshold, got %.0f", got)
	}
}

func TestScoreQueue_SlowWaitPenalty(t *testing.T) {
	cfg := common.NewDefaultConfig()
	stats := emptyStats()
	stats.CountByStatus[models.JobStatusQueued] = 1
	stats.CountByStatus[models.JobStatusRunning] = 1

	created := time.Now().Add(-10 * time.Minute)
	queued := []*models.Job{{
		ID:         "j1",
		Status:     models.JobStatusQueued,
		Timestamps: models.JobTimestamps{Created: created},
	}}

	m := newTestMonitor(&fakeStats{stats: stats, queued: queued}, &fakePool{}, &fakeRetryStore{}, cfg)
	got, err := m.scoreQueue(context.Background(), stats)
	if err != nil {
		t.Fatalf("scoreQueue failed: %v", err)
	}
	if got != 80 {
		t.Errorf("expected score 80 when average wait exceeds five minutes, got %.0f", got)
	}
}

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		score float64
		want  models.AlertSeverity
	}{
		{score: 10, want: models.SeverityCritical},
		{score: 29.9, want: models.SeverityCritical},
		{score: 35, want: models.SeverityError},
		{score: 55, want: models.SeverityWarning},
		{score: 69, want: models.SeverityWarning},
	}
	for _, tc := range cases {
		if got := severityFor(tc.score); got != tc.want {
			t.Errorf("severityFor(%.1f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestEmitAlerts_PushesOnBreach(t *testing.T) {
	cfg := common.NewDefaultConfig()
	m := newTestMonitor(&fakeStats{stats: emptyStats()}, &fakePool{}, &fakeRetryStore{}, cfg)

	m.emitAlerts(&HealthReport{
		At:         time.Now(),
		Workers:    20,
		Queue:      90,
		Processing: 90,
		Overall:    66,
		Healthy:    false,
	})

	alerts := m.alerts.List(0)
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts (workers breach + overall), got %d", len(alerts))
	}
	if alerts[0].Severity != models.SeverityCritical {
		t.Errorf("expected critical severity for workers score 20, got %s", alerts[0].Severity)
	}
}

func TestEmitAlerts_QuietWhenHealthy(t *testing.T) {
	cfg := common.NewDefaultConfig()
	m := newTestMonitor(&fakeStats{stats: emptyStats()}, &fakePool{}, &fakeRetryStore{}, cfg)

	m.emitAlerts(&HealthReport{
		At: time.Now(), Workers: 100, Queue: 95, Processing: 100, Overall: 98.3, Healthy: true,
	})

	if m.alerts.Len() != 0 {
		t.Errorf("expected no alerts for a healthy report, got %d", m.alerts.Len())
	}
}

func failedRetryableJob(id string, jobType models.JobType) *models.Job {
	return &models.Job{
		ID:     id,
		Tenant: "acme",
		Type:   jobType,
		Status: models.JobStatusFailed,
		Error:  errs.UpstreamTransient("upstream 503", nil),
	}
}

func TestAutoRetrySweep_RetriesEligibleJobs(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Monitor.AutoRetryTypes = []string{string(models.JobTypeEmailArchival)}
	cfg.Monitor.AutoRetryPerJobPerHour = 3

	retryStore := &fakeRetryStore{}
	stats := &fakeStats{
		stats:  emptyStats(),
		failed: []*models.Job{failedRetryableJob("j1", models.JobTypeEmailArchival)},
	}
	m := newTestMonitor(stats, &fakePool{}, retryStore, cfg)

	if err := m.autoRetrySweep(context.Background()); err != nil {
		t.Fatalf("autoRetrySweep failed: %v", err)
	}
	if len(retryStore.retried) != 1 || retryStore.retried[0] != "j1" {
		t.Errorf("expected exactly job j1 retried, got %v", retryStore.retried)
	}
}

func TestAutoRetrySweep_SkipsNonRetryableAndUnlistedTypes(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Monitor.AutoRetryTypes = []string{string(models.JobTypeEmailArchival)}
	cfg.Monitor.AutoRetryPerJobPerHour = 3

	nonRetryable := &models.Job{
		ID: "j-auth", Tenant: "acme", Type: models.JobTypeEmailArchival,
		Status: models.JobStatusFailed, Error: errs.Auth("credential refused"),
	}
	wrongType := failedRetryableJob("j-export", models.JobTypeExport)

	retryStore := &fakeRetryStore{}
	stats := &fakeStats{stats: emptyStats(), failed: []*models.Job{nonRetryable, wrongType}}
	m := newTestMonitor(stats, &fakePool{}, retryStore, cfg)

	if err := m.autoRetrySweep(context.Background()); err != nil {
		t.Fatalf("autoRetrySweep failed: %v", err)
	}
	if len(retryStore.retried) != 0 {
		t.Errorf("expected no retries, got %v", retryStore.retried)
	}
}

func TestAutoRetrySweep_ThrottlesPerJobPerHour(t *testing.T) {
	cfg := common.NewDefaultConfig()
	cfg.Monitor.AutoRetryTypes = []string{string(models.JobTypeEmailArchival)}
	cfg.Monitor.AutoRetryPerJobPerHour = 2

	retryStore := &fakeRetryStore{}
	stats := &fakeStats{
		stats:  emptyStats(),
		failed: []*models.Job{failedRetryableJob("j1", models.JobTypeEmailArchival)},
	}
	m := newTestMonitor(stats, &fakePool{}, retryStore, cfg)

	for i := 0; i < 5; i++ {
		if err := m.autoRetrySweep(context.Background()); err != nil {
			t.Fatalf("autoRetrySweep failed: %v", err)
		}
	}
	if len(retryStore.retried) != 2 {
		t.Errorf("expected the per-hour cap of 2 retries, got %d", len(retryStore.retried))
	}
}

func TestRetryTracker_AllowRespectsCap(t *testing.T) {
	tr := newRetryTracker()
	if !tr.allow("j1", 2) || !tr.allow("j1", 2) {
		t.Fatal("expected the first two attempts to be allowed")
	}
	if tr.allow("j1", 2) {
		t.Error("expected the third attempt within the window to be throttled")
	}
	if !tr.allow("j2", 2) {
		t.Error("expected a different job's attempts to be tracked independently")
	}
}

func TestScore_OverallIsMeanOfSubsystems(t *testing.T) {
	cfg := common.NewDefaultConfig()
	stats := emptyStats()
	stats.CountByStatus[models.JobStatusCompleted] = 10

	m := newTestMonitor(&fakeStats{stats: stats}, &fakePool{workers: []models.WorkerHealth{healthyWorker("w1")}}, &fakeRetryStore{}, cfg)
	report, err := m.score(context.Background())
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if report.Workers != 100 || report.Queue != 100 || report.Processing != 100 {
		t.Fatalf("expected all subsystems at 100, got %.0f/%.0f/%.0f", report.Workers, report.Queue, report.Processing)
	}
	if report.Overall != 100 || !report.Healthy {
		t.Errorf("expected overall 100 and healthy, got %.0f healthy=%v", report.Overall, report.Healthy)
	}
}
