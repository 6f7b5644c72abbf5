package surrealdb

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
)

const assignmentTable = "assignment"

// AssignmentStore implements interfaces.AssignmentStore: the case/email
// assignment record the bulk-assignment worker checks before re-inserting.
type AssignmentStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewAssignmentStore creates a new AssignmentStore.
func NewAssignmentStore(db *surrealdb.DB, logger *common.Logger) *AssignmentStore {
	return &AssignmentStore{db: db, logger: logger}
}

// assignmentRecordID derives a deterministic id from (tenant, caseId,
// emailId), the same idempotent-UPSERT trick as archivestore's indexRecordID.
func assignmentRecordID(tenant, caseID, emailID string) string {
	sum := sha1.Sum([]byte(tenant + "::" + caseID + "::" + emailID))
	return hex.EncodeToString(sum[:])
}

// Exists reports whether emailID is already assigned to caseID.
func (s *AssignmentStore) Exists(ctx context.Context, tenant, caseID, emailID string) (bool, error) {
	sql := "SELECT id FROM type::thing($table, $id) WHERE tenant = $tenant"
	vars := map[string]any{
		"table":  assignmentTable,
		"id":     assignmentRecordID(tenant, caseID, emailID),
		"tenant": tenant,
	}

	type row struct {
		ID string `json:"id"`
	}
	results, err := surrealdb.Query[[]row](ctx, s.db, sql, vars)
	if err != nil {
		return false, fmt.Errorf("failed to check assignment for email %s/case %s: %w", emailID, caseID, err)
	}
	return results != nil && len(*results) > 0 && len((*results)[0].Result) > 0, nil
}

// Assign records emailID as assigned to caseID. Idempotent: assigning an
// already-assigned pair is a no-op via UPSERT on the deterministic id.
func (s *AssignmentStore) Assign(ctx context.Context, tenant, caseID, emailID string) error {
	sql := "UPSERT type::thing($table, $id) SET tenant = $tenant, caseId = $caseId, emailId = $emailId"
	vars := map[string]any{
		"table":   assignmentTable,
		"id":      assignmentRecordID(tenant, caseID, emailID),
		"tenant":  tenant,
		"caseId":  caseID,
		"emailId": emailID,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to assign email %s to case %s: %w", emailID, caseID, err)
	}
	return nil
}

// Compile-time check.
var _ interfaces.AssignmentStore = (*AssignmentStore)(nil)
