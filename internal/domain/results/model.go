// Package results records lab and instrumental results. Writes notify the
// schedule synchronizer inside the same transaction.
package results

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

type Kind string

const (
	KindLab          Kind = "lab"
	KindInstrumental Kind = "instrumental"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindLab, KindInstrumental:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown result kind %q", s)
}

// AssignmentKind is the order kind a result of k fulfils.
func (k Kind) AssignmentKind() clinref.Kind {
	if k == KindInstrumental {
		return clinref.KindInstrumentalOrder
	}
	return clinref.KindLabOrder
}

type Result struct {
	ID           uuid.UUID              `json:"id"`
	Kind         Kind                   `json:"kind"`
	AssignmentID uuid.UUID              `json:"assignment_id"`
	PatientID    uuid.UUID              `json:"patient_id"`
	Completed    bool                   `json:"completed"`
	Summary      string                 `json:"summary,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	RecordedBy   string                 `json:"recorded_by"`
	RecordedAt   time.Time              `json:"recorded_at"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Assignment is the back reference to the order this result belongs to.
func (r *Result) Assignment() clinref.Ref {
	return clinref.Ref{Kind: r.Kind.AssignmentKind(), ID: r.AssignmentID}
}
