package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

// dispatchLoop is one descriptor's claim/execute cycle: acquire a
// concurrency slot, claim one eligible job, run it in its own goroutine,
// and release the slot when it finishes. Claim misses (queue empty or lost
// the CAS race) back off briefly rather than busy-spinning.
func (p *Pool) dispatchLoop(ctx context.Context, d models.WorkerDescriptor) {
	maxConcurrency := d.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	sem := make(chan struct{}, maxConcurrency)
	var inflight sync.WaitGroup

	defer func() {
		inflight.Wait()
		p.setStatus(d.WorkerID, models.WorkerStatusStopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}

		job, err := p.queue.Claim(ctx, d.WorkerID, d.SupportedTypes)
		if err != nil {
			<-sem
			p.logger.Warn().Str("worker_id", d.WorkerID).Err(err).Msg("pool: claim failed")
			if !sleepOrDone(ctx, defaultClaimIdle) {
				return
			}
			continue
		}
		if job == nil {
			<-sem
			p.setStatus(d.WorkerID, models.WorkerStatusIdle)
			if !sleepOrDone(ctx, defaultClaimIdle) {
				return
			}
			continue
		}

		p.setStatus(d.WorkerID, models.WorkerStatusBusy)
		inflight.Add(1)
		go func(job *models.Job) {
			defer inflight.Done()
			defer func() { <-sem }()
			p.execute(ctx, d, job)
		}(job)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// handlerOutcome carries a handler's terminal result across the goroutine
// boundary so execute can select on it alongside timeout/cancellation.
type handlerOutcome struct {
	result *models.JobResult
	err    error
}

// execute runs one claimed job to a terminal Complete/Fail write. The
// handler runs on its own goroutine with a merged cancellation channel: the
// pool's own shutdown context, a per-job timeout, and a poll loop that
// detects an external Cancel() written directly to the Store while the job
// is in flight (Cancel is a Store-side state change the dispatcher doesn't
// otherwise observe). The final Complete/Fail write uses a background
// context so a timed-out or cancelled parent never aborts it.
func (p *Pool) execute(ctx context.Context, d models.WorkerDescriptor, job *models.Job) {
	started := time.Now()

	handler, ok := p.registry.Lookup(job.Type)
	if !ok {
		_ = p.queue.Fail(context.Background(), job.Tenant, job.ID, errs.Validation(fmt.Sprintf("no handler registered for job type %s", job.Type)))
		p.recordOutcome(d.WorkerID, false, time.Since(started))
		return
	}

	timeout := time.Duration(job.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	jobCtx, jobCancel := context.WithTimeout(ctx, timeout)
	defer jobCancel()

	cancelled := make(chan struct{})
	var closeOnce sync.Once
	closeCancelled := func() { closeOnce.Do(func() { close(cancelled) }) }

	pollCtx, stopPoll := context.WithCancel(jobCtx)
	defer stopPoll()
	go p.pollForExternalCancel(pollCtx, job.Tenant, job.ID, closeCancelled)

	sink := &progressSink{pool: p, tenant: job.Tenant, jobID: job.ID}

	resultCh := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- handlerOutcome{err: errs.Processing(fmt.Sprintf("handler panicked: %v", r), nil)}
			}
		}()
		result, err := handler(jobCtx, job, sink, cancelled)
		resultCh <- handlerOutcome{result: result, err: err}
	}()

	var outcome handlerOutcome
	select {
	case outcome = <-resultCh:
	case <-jobCtx.Done():
		closeCancelled()
		outcome = <-resultCh
		// A dispatcher-armed deadline is a TIMEOUT (retryable), never the
		// CANCELLED (non-retryable) checkCancelled reports by default. The two
		// must be recorded distinctly regardless of which error the handler's
		// own checkCancelled happened to return when it observed the merged
		// signal close.
		if jobCtx.Err() == context.DeadlineExceeded {
			outcome.err = errs.Timeout(fmt.Sprintf("job exceeded timeout of %s", timeout))
		}
	}

	writeCtx := context.Background()
	if outcome.err != nil {
		if err := p.queue.Fail(writeCtx, job.Tenant, job.ID, outcome.err); err != nil {
			p.logger.Error().Str("job_id", job.ID).Err(err).Msg("pool: failed to record job failure")
		}
		p.recordOutcome(d.WorkerID, false, time.Since(started))
		return
	}
	if err := p.queue.Complete(writeCtx, job.Tenant, job.ID, outcome.result); err != nil {
		p.logger.Error().Str("job_id", job.ID).Err(err).Msg("pool: failed to record job completion")
	}
	p.recordOutcome(d.WorkerID, true, time.Since(started))
}

const externalCancelPollInterval = 2 * time.Second

// pollForExternalCancel periodically re-reads the job row and fires onCancel
// once its status has moved to cancelled out from under the dispatcher.
func (p *Pool) pollForExternalCancel(ctx context.Context, tenant, jobID string, onCancel func()) {
	ticker := time.NewTicker(externalCancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := p.store.Get(ctx, tenant, jobID)
			if err != nil {
				continue
			}
			if job.Status == models.JobStatusCancelled {
				onCancel()
				return
			}
		}
	}
}

// heartbeatLoop refreshes a worker's LastHeartbeat on its configured
// interval so Monitor's WorkerHealth.IsHealthy check stays current even
// while the worker is idle between claims.
func (p *Pool) heartbeatLoop(ctx context.Context, d models.WorkerDescriptor) {
	interval := d.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.touchHeartbeat(d.WorkerID)
		}
	}
}

func (p *Pool) setStatus(workerID string, status models.WorkerStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.health[workerID]
	h.WorkerID = workerID
	h.Status = status
	h.LastHeartbeat = time.Now()
	p.health[workerID] = h
}

func (p *Pool) touchHeartbeat(workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.health[workerID]
	h.WorkerID = workerID
	h.LastHeartbeat = time.Now()
	p.health[workerID] = h
}

// recordOutcome updates a worker's throughput/error metrics after one job
// finishes, using an exponential moving average for AvgProcessingMs so the
// metric tracks recent behavior without retaining per-job history.
func (p *Pool) recordOutcome(workerID string, success bool, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.health[workerID]
	h.WorkerID = workerID
	h.Status = models.WorkerStatusIdle
	h.LastHeartbeat = time.Now()

	const emaWeight = 0.2
	durMs := float64(duration.Milliseconds())
	if h.Metrics.Processed == 0 {
		h.Metrics.AvgProcessingMs = durMs
	} else {
		h.Metrics.AvgProcessingMs = emaWeight*durMs + (1-emaWeight)*h.Metrics.AvgProcessingMs
	}

	prevErrors := h.Metrics.ErrorRate * float64(h.Metrics.Processed)
	h.Metrics.Processed++
	if !success {
		prevErrors++
	}
	h.Metrics.ErrorRate = prevErrors / float64(h.Metrics.Processed)

	p.health[workerID] = h
}

// progressSink adapts the pool's Queue.UpdateProgress call into the
// interfaces.ProgressSink the handler contract expects.
type progressSink struct {
	pool   *Pool
	tenant string
	jobID  string
}

func (s *progressSink) Report(ctx context.Context, progress models.Progress) error {
	return s.pool.queue.UpdateProgress(ctx, s.tenant, s.jobID, progress)
}

var _ interfaces.ProgressSink = (*progressSink)(nil)
