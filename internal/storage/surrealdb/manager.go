// Package surrealdb implements the job subsystem's persistent stores
// (JobStore, ArchiveStore, TenantDirectory) against SurrealDB, with an
// explicit tenant column enforced on every tenant-scoped query.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/surrealdb/surrealdb.go"
)

// Manager owns the SurrealDB connection and constructs the stores that
// share it. Construction is explicit: callers wire JobStore/ArchiveStore/
// TenantDirectory into the rest of the app themselves; Manager does not
// implement any of those interfaces itself.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	jobStore        *JobStore
	archiveStore    *ArchiveStore
	tenantDirectory *TenantDirectory
	assignmentStore *AssignmentStore
}

// NewManager connects to SurrealDB, selects the configured namespace and
// database, defines the job subsystem's tables, and seeds the tenant
// directory from config.Tenants.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	tables := []string{"job", "email_index", "tenant", "assignment"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	m := &Manager{db: db, logger: logger}
	m.jobStore = NewJobStore(db, logger)
	m.jobStore.SetRetryConfig(errs.BackoffConfig{
		InitialMs:  config.Retry.InitialMs,
		Multiplier: config.Retry.Multiplier,
		MaxMs:      config.Retry.MaxMs,
	})
	m.archiveStore = NewArchiveStore(db, logger)
	m.tenantDirectory = NewTenantDirectory(db, logger)
	m.assignmentStore = NewAssignmentStore(db, logger)

	if len(config.Tenants) > 0 {
		if err := m.tenantDirectory.Seed(ctx, config.Tenants); err != nil {
			return nil, fmt.Errorf("failed to seed tenant directory: %w", err)
		}
	}

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Int("tenants", len(config.Tenants)).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

// JobStore returns the shared JobStore.
func (m *Manager) JobStore() *JobStore {
	return m.jobStore
}

// ArchiveStore returns the shared ArchiveStore.
func (m *Manager) ArchiveStore() *ArchiveStore {
	return m.archiveStore
}

// TenantDirectory returns the shared TenantDirectory.
func (m *Manager) TenantDirectory() *TenantDirectory {
	return m.tenantDirectory
}

// AssignmentStore returns the shared AssignmentStore.
func (m *Manager) AssignmentStore() *AssignmentStore {
	return m.assignmentStore
}

// Close closes the underlying SurrealDB connection.
func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}
