// Package pool implements the Worker Pool component: N named
// worker slots, each claiming jobs from the Queue, executing them through a
// workers.Registry handler, and reporting health for Monitor to read.
//
// Each worker slot runs its own dispatcher loop
// (claim/sleep/execute/complete-or-requeue) under panic recovery, with one
// independently-configured concurrency cap per WorkerDescriptor rather than
// one shared processor pool.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
	"github.com/bobmcallan/casevault/internal/queue"
	"github.com/bobmcallan/casevault/internal/workers"
)

const (
	defaultMaxConcurrency    = 1
	defaultHeartbeatInterval = 15 * time.Second
	defaultClaimIdle         = time.Second
	defaultJobTimeout        = 5 * time.Minute
	defaultMaxRestarts       = 3
)

// Pool runs one dispatcher goroutine group per WorkerDescriptor. It holds a
// write-capable JobStore handle directly (for the external-cancellation
// poll Queue doesn't expose) alongside the Queue it claims/completes/fails
// through, so job-event publication stays centralized in Queue. Pool and
// Monitor never reference each other.
type Pool struct {
	queue       *queue.Queue
	store       interfaces.JobStore
	registry    *workers.Registry
	logger      *common.Logger
	descriptors []models.WorkerDescriptor
	maxRestarts int

	mu     sync.RWMutex
	health map[string]models.WorkerHealth

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Pool. descriptors with Enabled=false are recorded (stopped
// status) but never dispatch.
func New(q *queue.Queue, store interfaces.JobStore, registry *workers.Registry, logger *common.Logger, descriptors []models.WorkerDescriptor, maxRestarts int) *Pool {
	if maxRestarts <= 0 {
		maxRestarts = defaultMaxRestarts
	}
	p := &Pool{
		queue:       q,
		store:       store,
		registry:    registry,
		logger:      logger,
		descriptors: descriptors,
		maxRestarts: maxRestarts,
		health:      make(map[string]models.WorkerHealth, len(descriptors)),
	}
	for _, d := range descriptors {
		status := models.WorkerStatusIdle
		if !d.Enabled {
			status = models.WorkerStatusStopped
		}
		p.health[d.WorkerID] = models.WorkerHealth{WorkerID: d.WorkerID, Status: status, LastHeartbeat: time.Now()}
	}
	return p
}

// Start resets orphaned running jobs (crash recovery) and launches one
// dispatcher per enabled descriptor. Safe to call once; call Stop before a
// second Start.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if n, err := p.store.ResetRunningJobs(runCtx); err != nil {
		p.logger.Warn().Err(err).Msg("pool: failed to reset orphaned running jobs")
	} else if n > 0 {
		p.logger.Info().Int("count", n).Msg("pool: reset orphaned running jobs to queued")
	}

	for _, d := range p.descriptors {
		if !d.Enabled {
			continue
		}
		p.safeGoWithRestart(runCtx, d)
	}

	p.logger.Info().Int("workers", len(p.descriptors)).Msg("pool: started")
}

// Stop cancels every dispatcher and waits for in-flight jobs to observe
// cancellation and return.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.wg.Wait()
	p.logger.Info().Msg("pool: stopped")
}

// Health returns a snapshot of every worker's current health, the read-only
// view Monitor consumes through its own narrow interface.
func (p *Pool) Health() []models.WorkerHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.WorkerHealth, 0, len(p.health))
	for _, h := range p.health {
		out = append(out, h)
	}
	return out
}

// safeGoWithRestart launches a dispatcher goroutine with panic recovery; on
// panic it restarts the same descriptor up to maxRestarts times, then
// leaves the worker in WorkerStatusError permanently.
func (p *Pool) safeGoWithRestart(ctx context.Context, d models.WorkerDescriptor) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		attempts := 0
		for {
			if p.runDispatcherOnce(ctx, d) {
				return // clean exit: context cancelled
			}
			attempts++
			if attempts > p.maxRestarts {
				p.setStatus(d.WorkerID, models.WorkerStatusError)
				p.logger.Error().Str("worker_id", d.WorkerID).Int("attempts", attempts).
					Msg("pool: worker exceeded max restart attempts, giving up")
				return
			}
			p.logger.Warn().Str("worker_id", d.WorkerID).Int("attempt", attempts).
				Msg("pool: restarting worker dispatcher after panic")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempts) * time.Second):
			}
		}
	}()

	if d.HeartbeatInterval <= 0 {
		d = withDefaultHeartbeat(d)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.heartbeatLoop(ctx, d)
	}()
}

func withDefaultHeartbeat(d models.WorkerDescriptor) models.WorkerDescriptor {
	d.HeartbeatInterval = defaultHeartbeatInterval
	return d
}

// runDispatcherOnce runs dispatchLoop under panic recovery. Returns true
// when it exited because ctx was cancelled
// (a clean shutdown, not a crash warranting restart).
func (p *Pool) runDispatcherOnce(ctx context.Context, d models.WorkerDescriptor) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			clean = false
			p.logger.Error().
				Str("worker_id", d.WorkerID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("pool: recovered from panic in dispatcher goroutine")
		}
	}()
	p.dispatchLoop(ctx, d)
	return ctx.Err() != nil
}
