// Package workers implements one handler per JobType, each
// satisfying interfaces.Handler: run a claimed Job to a terminal outcome,
// honoring cancellation and timeout at every checkpoint.
package workers

import (
	"context"

	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

// checkCancelled returns a CANCELLED error if cancelled has fired, else nil.
// Handlers call this at every progress checkpoint and before any blocking
// external call.
func checkCancelled(cancelled <-chan struct{}) error {
	select {
	case <-cancelled:
		return errs.Cancelled("job was cancelled")
	default:
		return nil
	}
}

// decodePayload re-decodes job.Payload (the opaque map Store persists) into
// the typed struct a handler expects.
func decodePayload[T any](job *models.Job) (T, error) {
	var out T
	if err := mapToStruct(job.Payload, &out); err != nil {
		var zero T
		return zero, errs.Validation("job payload does not match expected shape").WithDetails(err.Error())
	}
	return out, nil
}

// Registry looks up the Handler for a JobType. The JobType enum is closed
// and handlers are looked up by tag; there is no dynamic registration.
type Registry struct {
	handlers map[models.JobType]interfaces.Handler
}

// NewRegistry builds the fixed handler table for every job type this
// process supports.
func NewRegistry(deps Dependencies) *Registry {
	return &Registry{
		handlers: map[models.JobType]interfaces.Handler{
			models.JobTypeEmailArchival:   NewEmailArchivalHandler(deps),
			models.JobTypeBulkAssign:      NewBulkAssignHandler(deps),
			models.JobTypeStorageCleanup:  NewStorageCleanupHandler(deps),
			models.JobTypeExport:          NewExportHandler(deps),
			models.JobTypeContentAnalysis: NewContentAnalysisHandler(deps),
			models.JobTypeMaintenance:     NewMaintenanceHandler(deps),
		},
	}
}

// Lookup returns the handler registered for t, or (nil, false) if none.
func (r *Registry) Lookup(t models.JobType) (interfaces.Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// SupportedTypes returns every job type this registry has a handler for, in
// a stable order, for use as a WorkerDescriptor's supportedTypes default.
func (r *Registry) SupportedTypes() []models.JobType {
	all := []models.JobType{
		models.JobTypeEmailArchival,
		models.JobTypeBulkAssign,
		models.JobTypeStorageCleanup,
		models.JobTypeExport,
		models.JobTypeContentAnalysis,
		models.JobTypeMaintenance,
	}
	out := make([]models.JobType, 0, len(all))
	for _, t := range all {
		if _, ok := r.handlers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ctxCancelled builds a cancelled channel that closes when either the
// dispatcher's cancelled signal fires or ctx is done, so handlers only need
// to select on the one channel they were given.
func ctxCancelled(ctx context.Context, cancelled <-chan struct{}) <-chan struct{} {
	merged := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-cancelled:
		}
		close(merged)
	}()
	return merged
}
