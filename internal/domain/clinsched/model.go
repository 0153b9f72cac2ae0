// Package clinsched holds scheduled appointments for clinical assignments
// and the synchronizer that keeps their execution status in line with
// results and assignment lifecycle changes.
package clinsched

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

type ExecutionStatus string

const (
	ExecutionScheduled ExecutionStatus = "scheduled"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Appointment is one planned execution of an assignment. It references the
// assignment only by (kind, id). ScheduledMinute counts minutes after
// facility midnight; ScheduledTime is its HH:MM rendering.
type Appointment struct {
	ID              uuid.UUID       `json:"id"`
	AssignmentKind  clinref.Kind    `json:"assignment_kind"`
	AssignmentID    uuid.UUID       `json:"assignment_id"`
	PatientID       uuid.UUID       `json:"patient_id"`
	ScheduledDate   civil.Date      `json:"scheduled_date"`
	ScheduledMinute *int            `json:"scheduled_minute,omitempty"`
	ScheduledTime   string          `json:"scheduled_time,omitempty"`
	ExecutionStatus ExecutionStatus `json:"execution_status"`
	ExecutedAt      *time.Time      `json:"executed_at,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (a *Appointment) Ref() clinref.Ref {
	return clinref.Ref{Kind: a.AssignmentKind, ID: a.AssignmentID}
}

// fillTime derives ScheduledTime from ScheduledMinute for output.
func (a *Appointment) fillTime() {
	a.ScheduledTime = ""
	if a.ScheduledMinute != nil {
		a.ScheduledTime = civil.FormatMinute(*a.ScheduledMinute)
	}
}

// Filter selects appointments for listing. Zero dates leave that side of
// the range open; an empty Statuses matches every status.
type Filter struct {
	PatientID *uuid.UUID
	From      civil.Date
	To        civil.Date
	Statuses  []ExecutionStatus
	// NewestFirst orders by date descending; time of day stays ascending.
	NewestFirst bool
}

func (f Filter) matches(a *Appointment) bool {
	if f.PatientID != nil && a.PatientID != *f.PatientID {
		return false
	}
	if !f.From.IsZero() && a.ScheduledDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.ScheduledDate.After(f.To) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.ExecutionStatus == s {
			return true
		}
	}
	return false
}

// Plan is the input to ScheduleAssignment.
type Plan struct {
	StartDate    civil.Date `json:"start_date"`
	FirstTime    string     `json:"first_time"`
	TimesPerDay  int        `json:"times_per_day"`
	DurationDays int        `json:"duration_days"`
}

const (
	defaultFirstMinute  = 9 * 60
	defaultTimesPerDay  = 1
	defaultDurationDays = 7
)
