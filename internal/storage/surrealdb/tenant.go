package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

const tenantTable = "tenant"

// TenantDirectory implements interfaces.TenantDirectory: the whitelist of
// registered tenant ids consulted by global sweeps instead of deriving
// identifiers from request input. Tenant identifiers are never used to
// build dynamic schema or namespace names.
type TenantDirectory struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewTenantDirectory creates a new TenantDirectory.
func NewTenantDirectory(db *surrealdb.DB, logger *common.Logger) *TenantDirectory {
	return &TenantDirectory{db: db, logger: logger}
}

// Seed ensures every tenant in ids is present and enabled. Called once at
// startup from the configured Tenants list.
func (d *TenantDirectory) Seed(ctx context.Context, ids []string) error {
	for _, id := range ids {
		sql := "UPSERT type::thing($table, $id) SET name = $id, enabled = true"
		vars := map[string]any{"table": tenantTable, "id": id}
		if _, err := surrealdb.Query[any](ctx, d.db, sql, vars); err != nil {
			return fmt.Errorf("failed to seed tenant %s: %w", id, err)
		}
	}
	return nil
}

// Tenants lists every registered tenant.
func (d *TenantDirectory) Tenants(ctx context.Context) ([]models.Tenant, error) {
	sql := "SELECT id, name, enabled FROM " + tenantTable

	type row struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}

	results, err := surrealdb.Query[[]row](ctx, d.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	tenants := make([]models.Tenant, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		tenants = append(tenants, models.Tenant{ID: r.ID, Name: r.Name, Enabled: r.Enabled})
	}
	return tenants, nil
}

// IsRegistered reports whether tenant is a known, enabled tenant id.
func (d *TenantDirectory) IsRegistered(ctx context.Context, tenant string) (bool, error) {
	sql := "SELECT enabled FROM type::thing($table, $id)"
	vars := map[string]any{"table": tenantTable, "id": tenant}

	type row struct {
		Enabled bool `json:"enabled"`
	}

	results, err := surrealdb.Query[[]row](ctx, d.db, sql, vars)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant %s: %w", tenant, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return false, nil
	}
	return (*results)[0].Result[0].Enabled, nil
}

// Compile-time check.
var _ interfaces.TenantDirectory = (*TenantDirectory)(nil)
