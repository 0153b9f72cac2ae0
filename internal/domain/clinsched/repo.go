package clinsched

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

type Repository interface {
	CreateBatch(ctx context.Context, appts []*Appointment) error
	// ListByAssignment returns the appointments of ref, restricted to the
	// given statuses when any are passed.
	ListByAssignment(ctx context.Context, ref clinref.Ref, statuses ...ExecutionStatus) ([]*Appointment, error)
	// SetExecution moves one appointment from one status to another. It
	// reports false when the row was no longer in from.
	SetExecution(ctx context.Context, id uuid.UUID, from, to ExecutionStatus, executedAt *time.Time) (bool, error)
	DeleteByAssignment(ctx context.Context, ref clinref.Ref) (int64, error)
	List(ctx context.Context, f Filter) ([]*Appointment, error)
}
