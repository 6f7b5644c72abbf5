// Package monitor implements the health-scoring and alerting component: a
// ticker-driven loop that aggregates store counters and pool health into a
// 0-100 score, a mutex-protected alert ring buffer, and an optional
// auto-retry policy. It is written against narrow locally-defined
// interfaces so it never imports pool, queue, or the storage packages
// directly; Monitor consumes a read-only view of Pool and Store, and Pool
// and Monitor never reference each other.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

// StatsReader is the read-only slice of JobStore Monitor needs: aggregate
// counters and a bounded scan of the queue for wait-time estimation.
type StatsReader interface {
	Stats(ctx context.Context, tenant string) (*models.StatsByStatus, error)
	Query(ctx context.Context, filter models.JobFilter, page models.Pagination) ([]*models.Job, error)
}

// PoolHealth is the read-only worker view Monitor scores.
type PoolHealth interface {
	Health() []models.WorkerHealth
}

// RetryStore is the single write Monitor's optional auto-retry policy needs.
type RetryStore interface {
	Retry(ctx context.Context, tenant, id string) error
}

// HealthReport is one health-check snapshot: per-subsystem 0-100 scores,
// the overall mean, and whether it clears the healthy threshold.
type HealthReport struct {
	At         time.Time
	Workers    float64
	Queue      float64
	Processing float64
	Overall    float64
	Healthy    bool
}

const healthyThreshold = 70.0

// Monitor runs the periodic health-check loop, scores the three subsystems,
// emits alerts on threshold breach, and optionally auto-retries eligible
// failed jobs.
type Monitor struct {
	stats      StatsReader
	pool       PoolHealth
	retryStore RetryStore
	directory  interfaces.TenantDirectory
	blob       interfaces.BlobStore
	alerts     *RingBuffer
	logger     *common.Logger
	cfg        *common.Config

	retries retryTracker

	mu      sync.RWMutex
	last    *HealthReport
	history []HealthReport
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// maxTrendHistory bounds the in-memory score history kept for trend-chart
// rendering; older points are dropped.
const maxTrendHistory = 500

// New creates a Monitor. blob may be nil; trend-chart rendering is then
// skipped entirely.
func New(stats StatsReader, pool PoolHealth, retryStore RetryStore, directory interfaces.TenantDirectory, blob interfaces.BlobStore, logger *common.Logger, cfg *common.Config) *Monitor {
	return &Monitor{
		stats:      stats,
		pool:       pool,
		retryStore: retryStore,
		directory:  directory,
		blob:       blob,
		alerts:     NewRingBuffer(cfg.Monitor.MaxAlertsHistory),
		logger:     logger,
		cfg:        cfg,
		retries:    newRetryTracker(),
	}
}

// Alerts exposes the ring buffer, e.g. for a status endpoint.
func (m *Monitor) Alerts() interfaces.AlertStore {
	return m.alerts
}

// LastReport returns the most recent health-check result, or nil before the
// first tick has run.
func (m *Monitor) LastReport() *HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Start launches the health-check loop. Safe to call once; call Stop before
// a second Start.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	interval := time.Duration(m.cfg.Monitor.HealthCheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		m.tick(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.tick(runCtx)
			}
		}
	}()

	m.logger.Info().Dur("interval", interval).Msg("monitor: started")
}

// Stop cancels the health-check loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.wg.Wait()
	m.logger.Info().Msg("monitor: stopped")
}

// tick runs one health-check cycle: score, alert on breach, then run the
// optional auto-retry sweep.
func (m *Monitor) tick(ctx context.Context) {
	report, err := m.score(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("monitor: health check failed")
		return
	}

	m.mu.Lock()
	m.last = report
	m.history = append(m.history, *report)
	if len(m.history) > maxTrendHistory {
		m.history = m.history[len(m.history)-maxTrendHistory:]
	}
	history := make([]HealthReport, len(m.history))
	copy(history, m.history)
	m.mu.Unlock()

	m.emitAlerts(report)

	if err := m.renderTrendChart(ctx, history); err != nil {
		m.logger.Warn().Err(err).Msg("monitor: trend chart render failed")
	}

	if m.cfg.Monitor.AutoRetryEnabled {
		if err := m.autoRetrySweep(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("monitor: auto-retry sweep failed")
		}
	}
}

// score gathers Store and Pool state and computes the three subsystem
// scores plus the overall mean.
func (m *Monitor) score(ctx context.Context) (*HealthReport, error) {
	stats, err := m.stats.Stats(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to gather store stats: %w", err)
	}
	workers := m.pool.Health()

	report := &HealthReport{At: time.Now()}
	report.Workers = scoreWorkers(workers)
	queueScore, err := m.scoreQueue(ctx, stats)
	if err != nil {
		return nil, err
	}
	report.Queue = queueScore
	report.Processing = scoreProcessing(stats, m.cfg.Monitor.ErrorRatePct)
	report.Overall = (report.Workers + report.Queue + report.Processing) / 3
	report.Healthy = report.Overall >= healthyThreshold
	return report, nil
}

func scoreWorkers(workers []models.WorkerHealth) float64 {
	if len(workers) == 0 {
		return 100
	}
	now := time.Now()
	healthy := 0
	penalty := 0.0
	for _, w := range workers {
		if w.IsHealthy(now) {
			healthy++
		}
		switch w.Status {
		case models.WorkerStatusStopped:
			penalty += 10
		case models.WorkerStatusError:
			penalty += 20
		}
	}
	score := float64(healthy) / float64(len(workers)) * 100
	score -= penalty
	return clampScore(score)
}

// scoreQueue implements the queue scoring rule. StatsByStatus carries no
// wait-time field, so average wait is approximated from a bounded scan of
// the oldest queued jobs.
func (m *Monitor) scoreQueue(ctx context.Context, stats *models.StatsByStatus) (float64, error) {
	queued := stats.CountByStatus[models.JobStatusQueued]
	running := stats.CountByStatus[models.JobStatusRunning]

	score := 100.0
	if queued > m.cfg.Monitor.QueueSizeThreshold {
		score -= 30
	}

	avgWait, err := m.estimateAvgQueueWait(ctx)
	if err != nil {
		return 0, err
	}
	if avgWait > 5*time.Minute {
		score -= 20
	}

	if queued > 0 && running == 0 {
		score -= 40
	}

	return clampScore(score), nil
}

const queueWaitSampleSize = 50

// estimateAvgQueueWait samples the oldest queued jobs across every tenant
// and averages time-since-created as a proxy for queue wait time.
func (m *Monitor) estimateAvgQueueWait(ctx context.Context) (time.Duration, error) {
	tenants, err := m.directory.Tenants(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tenants: %w", err)
	}

	now := time.Now()
	var total time.Duration
	var count int
	for _, tenant := range tenants {
		jobs, err := m.stats.Query(ctx, models.JobFilter{
			Tenant: tenant.ID,
			Status: []models.JobStatus{models.JobStatusQueued},
		}, models.Pagination{Limit: queueWaitSampleSize, Sort: models.SortByCreated, Desc: false})
		if err != nil {
			continue
		}
		for _, job := range jobs {
			if job.Timestamps.Created.IsZero() {
				continue
			}
			total += now.Sub(job.Timestamps.Created)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return total / time.Duration(count), nil
}

func scoreProcessing(stats *models.StatsByStatus, errorRatePct float64) float64 {
	completed := stats.CountByStatus[models.JobStatusCompleted]
	failed := stats.CountByStatus[models.JobStatusFailed]
	queued := stats.CountByStatus[models.JobStatusQueued]
	running := stats.CountByStatus[models.JobStatusRunning]

	score := 100.0
	total := completed + failed
	if total > 0 {
		errorRate := float64(failed) / float64(total) * 100
		if errorRate > errorRatePct {
			score -= 40
		}
	}
	throughput := completed + running
	if throughput == 0 && queued > 0 {
		score -= 30
	}
	return clampScore(score)
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// emitAlerts pushes one alert per breached subsystem threshold, severity
// chosen by how far below the overall threshold the subsystem fell.
func (m *Monitor) emitAlerts(report *HealthReport) {
	m.emitIfBreached("workers", report.Workers, report.At)
	m.emitIfBreached("queue", report.Queue, report.At)
	m.emitIfBreached("processing", report.Processing, report.At)

	if !report.Healthy {
		m.alerts.Push(models.Alert{
			Severity:  severityFor(report.Overall),
			Title:     "subsystem health degraded",
			Message:   fmt.Sprintf("overall health score %.0f below healthy threshold %.0f", report.Overall, healthyThreshold),
			Timestamp: report.At,
			Metadata: map[string]string{
				"workers":    fmt.Sprintf("%.0f", report.Workers),
				"queue":      fmt.Sprintf("%.0f", report.Queue),
				"processing": fmt.Sprintf("%.0f", report.Processing),
			},
		})
	}
}

func (m *Monitor) emitIfBreached(subsystem string, score float64, at time.Time) {
	if score >= healthyThreshold {
		return
	}
	m.alerts.Push(models.Alert{
		Severity:  severityFor(score),
		Title:     fmt.Sprintf("%s score below threshold", subsystem),
		Message:   fmt.Sprintf("%s scored %.0f (threshold %.0f)", subsystem, score, healthyThreshold),
		Timestamp: at,
	})
}

// severityFor maps a 0-100 score to the closed alert severity taxonomy.
func severityFor(score float64) models.AlertSeverity {
	switch {
	case score < 30:
		return models.SeverityCritical
	case score < 50:
		return models.SeverityError
	default:
		return models.SeverityWarning
	}
}
