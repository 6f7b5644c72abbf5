// Package app explicitly constructs and wires every component of the job
// subsystem from a loaded Config: no package-level singletons, no
// self-initializing globals. cmd/casevault-worker
// is the only caller.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/casevault/internal/archiver"
	"github.com/bobmcallan/casevault/internal/clients/gemini"
	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/credential"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/mailclient"
	"github.com/bobmcallan/casevault/internal/maintenance"
	"github.com/bobmcallan/casevault/internal/models"
	"github.com/bobmcallan/casevault/internal/monitor"
	"github.com/bobmcallan/casevault/internal/pool"
	"github.com/bobmcallan/casevault/internal/queue"
	"github.com/bobmcallan/casevault/internal/storage/blob"
	"github.com/bobmcallan/casevault/internal/storage/surrealdb"
	"github.com/bobmcallan/casevault/internal/workers"
)

// App holds every initialized component and owns their lifecycle. Pool,
// Maintenance, and Monitor never reference each other directly; each
// consumes only the narrow interface it needs off Store/Pool.
type App struct {
	Config *common.Config
	Logger *common.Logger

	storageManager *surrealdb.Manager
	BlobStore      interfaces.BlobStore
	Archiver       *archiver.Archiver
	MailClient     interfaces.MailClient
	Credentials    interfaces.CredentialProvider
	Gemini         interfaces.GeminiClient

	Hub      *queue.JobEventHub
	Queue    *queue.Queue
	Registry *workers.Registry
	Pool     *pool.Pool

	Maintenance *maintenance.Maintenance
	Monitor     *monitor.Monitor
}

// New wires every component of the job subsystem from cfg. It connects to
// SurrealDB and builds the blob backend but does not start any background
// loop; call Start for that.
func New(ctx context.Context, cfg *common.Config, logger *common.Logger) (*App, error) {
	storageManager, err := surrealdb.NewManager(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	blobStore, err := blob.NewBlobStore(ctx, logger, blob.Config{
		Backend: cfg.Blob.Backend,
		File:    blob.FileConfig{BasePath: cfg.Blob.File.BasePath},
		S3: blob.S3Config{
			Bucket:    cfg.Blob.S3.Bucket,
			Prefix:    cfg.Blob.S3.Prefix,
			Region:    cfg.Blob.S3.Region,
			Endpoint:  cfg.Blob.S3.Endpoint,
			AccessKey: cfg.Blob.S3.AccessKey,
			SecretKey: cfg.Blob.S3.SecretKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	arch := archiver.New(blobStore, logger)

	mailClient := mailclient.NewClient(cfg.Mail.BaseURL,
		mailclient.WithLogger(logger),
		mailclient.WithTimeout(cfg.Mail.GetTimeout()),
		mailclient.WithRateLimit(cfg.RateLimit.MaxRequests, millis(cfg.RateLimit.WindowMs, time.Minute)),
		mailclient.WithMinSpacing(millis(cfg.RateLimit.MinSpacingMs, time.Second)),
		mailclient.WithMaxAttempts(cfg.RateLimit.MaxAttempts),
	)

	credClient := credential.New(cfg.Credential, logger)

	var geminiClient interfaces.GeminiClient
	if cfg.Gemini.APIKey != "" {
		gc, err := gemini.NewClient(ctx, cfg.Gemini.APIKey,
			gemini.WithModel(cfg.Gemini.Model),
			gemini.WithLogger(logger),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("app: failed to initialize Gemini client, content-analysis summarization disabled")
		} else {
			geminiClient = gc
		}
	}

	hub := queue.NewJobEventHub(logger)
	jobQueue := queue.New(storageManager.JobStore(), hub, logger, cfg.JobQueue)

	deps := workers.Dependencies{
		Archiver:        arch,
		ArchiveStore:    storageManager.ArchiveStore(),
		AssignmentStore: storageManager.AssignmentStore(),
		BlobStore:       blobStore,
		JobStore:        storageManager.JobStore(),
		TenantDirectory: storageManager.TenantDirectory(),
		MailClient:      mailClient,
		Credentials:     credClient,
		Gemini:          geminiClient,
		Logger:          logger,
		Config:          cfg,
		Enqueue: func(ctx context.Context, tenant string, jobType models.JobType, payload any) error {
			_, err := jobQueue.Enqueue(ctx, tenant, jobType, payload, queue.Options{})
			return err
		},
	}
	registry := workers.NewRegistry(deps)

	descriptors := workerDescriptors(cfg.Workers, registry)
	workerPool := pool.New(jobQueue, storageManager.JobStore(), registry, logger, descriptors, cfg.Health.MaxRestartAttempts)

	maint := maintenance.New(storageManager.JobStore(), storageManager.TenantDirectory(), logger, cfg)

	mon := monitor.New(storageManager.JobStore(), workerPool, storageManager.JobStore(), storageManager.TenantDirectory(), blobStore, logger, cfg)

	return &App{
		Config:         cfg,
		Logger:         logger,
		storageManager: storageManager,
		BlobStore:      blobStore,
		Archiver:       arch,
		MailClient:     mailClient,
		Credentials:    credClient,
		Gemini:         geminiClient,
		Hub:            hub,
		Queue:          jobQueue,
		Registry:       registry,
		Pool:           workerPool,
		Maintenance:    maint,
		Monitor:        mon,
	}, nil
}

// Start launches the Worker Pool, Maintenance, and Monitor background
// loops. Safe to call once; call Stop before a second Start.
func (a *App) Start(ctx context.Context) {
	a.Pool.Start(ctx)
	a.Maintenance.Start(ctx)
	a.Monitor.Start(ctx)
}

// Stop shuts down every background loop in reverse start order, then
// closes the storage connection.
func (a *App) Stop() {
	a.Monitor.Stop()
	a.Maintenance.Stop()
	a.Pool.Stop()
	if a.storageManager != nil {
		if err := a.storageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("app: failed to close storage cleanly")
		}
	}
}

// workerDescriptors builds the pool's WorkerDescriptor set from config,
// falling back to one descriptor supporting every registered job type when
// no workers are configured (useful for local/dev runs against a bare
// config).
func workerDescriptors(cfgWorkers []common.WorkerConfig, registry *workers.Registry) []models.WorkerDescriptor {
	if len(cfgWorkers) == 0 {
		return []models.WorkerDescriptor{
			{
				WorkerID:       "worker-default",
				SupportedTypes: registry.SupportedTypes(),
				MaxConcurrency: 5,
				Enabled:        true,
			},
		}
	}

	out := make([]models.WorkerDescriptor, 0, len(cfgWorkers))
	for _, w := range cfgWorkers {
		types := make([]models.JobType, 0, len(w.SupportedTypes))
		for _, t := range w.SupportedTypes {
			types = append(types, models.JobType(t))
		}
		out = append(out, models.WorkerDescriptor{
			WorkerID:          w.WorkerID,
			SupportedTypes:    types,
			MaxConcurrency:    w.MaxConcurrency,
			HeartbeatInterval: time.Duration(w.HeartbeatIntervalMs) * time.Millisecond,
			IdleTimeout:       time.Duration(w.IdleTimeoutMs) * time.Millisecond,
			Enabled:           w.Enabled,
		})
	}
	return out
}

// millis converts a millisecond config value to a Duration, substituting
// fallback when ms is unset.
func millis(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
