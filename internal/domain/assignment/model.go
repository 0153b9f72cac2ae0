package assignment

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

// Target is the clinical context that triggered an assignment: an
// encounter, a department stay, and so on. Only its identity is stored.
type Target struct {
	Type string    `db:"target_type" json:"type"`
	ID   uuid.UUID `db:"target_id" json:"id"`
}

// Lifecycle holds the status and the audit trail of every transition.
// Audit fields of a transition that has not happened stay nil.
type Lifecycle struct {
	Status             clinref.Status `db:"status" json:"status"`
	PausedAt           *time.Time     `db:"paused_at" json:"paused_at,omitempty"`
	PausedBy           *string        `db:"paused_by" json:"paused_by,omitempty"`
	PauseReason        *string        `db:"pause_reason" json:"pause_reason,omitempty"`
	CompletedAt        *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CompletedBy        *string        `db:"completed_by" json:"completed_by,omitempty"`
	CompletionNotes    *string        `db:"completion_notes" json:"completion_notes,omitempty"`
	CancelledAt        *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy        *string        `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancellationReason *string        `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	RejectedAt         *time.Time     `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectedBy         *string        `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectionReason    *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
}

// Base carries the fields shared by every assignment kind.
type Base struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	OrderedBy string     `db:"ordered_by" json:"ordered_by"`
	Target    Target     `json:"target"`
	Start     time.Time  `db:"start_at" json:"start"`
	End       *time.Time `db:"end_at" json:"end,omitempty"`
	Lifecycle
	VersionID int       `db:"version_id" json:"version_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Assignment is implemented by every kind.
type Assignment interface {
	Kind() clinref.Kind
	Header() *Base
}

// Ref returns the tagged reference of a.
func Ref(a Assignment) clinref.Ref {
	return clinref.Ref{Kind: a.Kind(), ID: a.Header().ID}
}

type Medication struct {
	Base
	MedicationCode  string   `db:"medication_code" json:"medication_code"`
	MedicationName  string   `db:"medication_name" json:"medication_name"`
	Dosing          string   `db:"dosing" json:"dosing"`
	Route           *string  `db:"route" json:"route,omitempty"`
	TimesPerDay     int      `db:"times_per_day" json:"times_per_day"`
	PatientWeightKg *float64 `db:"patient_weight_kg" json:"patient_weight_kg,omitempty"`
	DurationDays    *int     `db:"duration_days" json:"duration_days,omitempty"`
}

func (m *Medication) Kind() clinref.Kind { return clinref.KindMedication }
func (m *Medication) Header() *Base      { return &m.Base }

type GeneralTreatment struct {
	Base
	Description  string  `db:"description" json:"description"`
	Instructions *string `db:"instructions" json:"instructions,omitempty"`
}

func (g *GeneralTreatment) Kind() clinref.Kind { return clinref.KindGeneralTreatment }
func (g *GeneralTreatment) Header() *Base      { return &g.Base }

type LabOrder struct {
	Base
	LabTestCode  string  `db:"lab_test_code" json:"lab_test_code"`
	LabTestName  string  `db:"lab_test_name" json:"lab_test_name"`
	Instructions *string `db:"instructions" json:"instructions,omitempty"`
}

func (l *LabOrder) Kind() clinref.Kind { return clinref.KindLabOrder }
func (l *LabOrder) Header() *Base      { return &l.Base }

type InstrumentalOrder struct {
	Base
	ProcedureCode string  `db:"procedure_code" json:"procedure_code"`
	ProcedureName string  `db:"procedure_name" json:"procedure_name"`
	Instructions  *string `db:"instructions" json:"instructions,omitempty"`
}

func (i *InstrumentalOrder) Kind() clinref.Kind { return clinref.KindInstrumentalOrder }
func (i *InstrumentalOrder) Header() *Base      { return &i.Base }

// New returns an empty assignment of the given kind.
func New(kind clinref.Kind) (Assignment, error) {
	switch kind {
	case clinref.KindMedication:
		return &Medication{}, nil
	case clinref.KindGeneralTreatment:
		return &GeneralTreatment{}, nil
	case clinref.KindLabOrder:
		return &LabOrder{}, nil
	case clinref.KindInstrumentalOrder:
		return &InstrumentalOrder{}, nil
	}
	return nil, clinref.ErrUnknownAssignment
}

// HistoryEntry is one step of an assignment's status history, derived
// from the lifecycle audit fields.
type HistoryEntry struct {
	Status clinref.Status `json:"status"`
	At     time.Time      `json:"at"`
	Actor  string         `json:"actor,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// History lists the recorded transitions in chronological order. Resume
// and every terminal transition clear the pause fields, so a pause shows
// only while the assignment is still paused.
func History(a Assignment) []HistoryEntry {
	b := a.Header()
	out := []HistoryEntry{{Status: clinref.StatusActive, At: b.CreatedAt, Actor: b.OrderedBy}}
	add := func(s clinref.Status, at *time.Time, by, reason *string) {
		if at == nil {
			return
		}
		out = append(out, HistoryEntry{Status: s, At: *at, Actor: deref(by), Reason: deref(reason)})
	}
	add(clinref.StatusPaused, b.PausedAt, b.PausedBy, b.PauseReason)
	add(clinref.StatusCompleted, b.CompletedAt, b.CompletedBy, b.CompletionNotes)
	add(clinref.StatusCancelled, b.CancelledAt, b.CancelledBy, b.CancellationReason)
	add(clinref.StatusRejected, b.RejectedAt, b.RejectedBy, b.RejectionReason)
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
