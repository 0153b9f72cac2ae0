package results

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

var ErrNotFound = errors.New("result not found")

type Repository interface {
	Create(ctx context.Context, r *Result) error
	Get(ctx context.Context, kind Kind, id uuid.UUID) (*Result, error)
	Delete(ctx context.Context, kind Kind, id uuid.UUID) error
	ListByAssignment(ctx context.Context, ref clinref.Ref) ([]*Result, error)
}
