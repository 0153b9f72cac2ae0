package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

// ErrConflict means the row changed between read and write.
var ErrConflict = errors.New("assignment was modified concurrently")

// Repository stores every assignment kind. Each kind lives in its own
// table; the repository routes by Kind().
type Repository interface {
	Create(ctx context.Context, a Assignment) error
	Get(ctx context.Context, ref clinref.Ref) (Assignment, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, ref clinref.Ref) (Assignment, error)
	// UpdateLifecycle writes the lifecycle fields and end of a, guarded by
	// a.VersionID. It returns ErrConflict if the stored version differs.
	UpdateLifecycle(ctx context.Context, a Assignment) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, kind clinref.Kind, limit, offset int) ([]Assignment, int, error)
	// ListStartingBefore returns the patient's assignments of every kind
	// whose start is before the given instant.
	ListStartingBefore(ctx context.Context, patientID uuid.UUID, before time.Time) ([]Assignment, error)
}
