// Package dailyplan renders a patient's assignments as a per-day calendar.
package dailyplan

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinical-engine/internal/domain/clinsched"
	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

// Marker tells how an entry came to be on a day.
type Marker string

const (
	// MarkerSpan is a medication or general treatment running that day.
	MarkerSpan Marker = "span"
	// MarkerOrder is a lab or instrumental order placed that day.
	MarkerOrder Marker = "order"
	// MarkerResult is the completion of an order placed on an earlier day.
	MarkerResult Marker = "result"
)

// Entry is a copy of an assignment's display fields tagged with its marker.
type Entry struct {
	Marker       Marker         `json:"marker"`
	Kind         clinref.Kind   `json:"kind"`
	ID           uuid.UUID      `json:"id"`
	Status       clinref.Status `json:"status"`
	Title        string         `json:"title"`
	Detail       string         `json:"detail,omitempty"`
	OrderedBy    string         `json:"ordered_by"`
	Start        time.Time      `json:"start"`
	End          *time.Time     `json:"end,omitempty"`
	DurationDays *int           `json:"duration_days,omitempty"`
	Appointments []Appointment  `json:"appointments,omitempty"`
}

// Appointment is a scheduled execution shown under its entry.
type Appointment struct {
	Time   string                    `json:"time,omitempty"`
	Status clinsched.ExecutionStatus `json:"status"`
}

// Day is one calendar bucket of the plan.
type Day struct {
	Date               civil.Date `json:"date"`
	Medications        []Entry    `json:"medications"`
	GeneralTreatments  []Entry    `json:"general_treatments"`
	LabOrders          []Entry    `json:"lab_orders"`
	InstrumentalOrders []Entry    `json:"instrumental_orders"`
}

func (d *Day) bucket(kind clinref.Kind) *[]Entry {
	switch kind {
	case clinref.KindMedication:
		return &d.Medications
	case clinref.KindGeneralTreatment:
		return &d.GeneralTreatments
	case clinref.KindLabOrder:
		return &d.LabOrders
	default:
		return &d.InstrumentalOrders
	}
}

// Empty reports whether nothing is planned that day.
func (d *Day) Empty() bool {
	return len(d.Medications)+len(d.GeneralTreatments)+len(d.LabOrders)+len(d.InstrumentalOrders) == 0
}

// Plan holds one Day per date of the window, in date order.
type Plan struct {
	PatientID uuid.UUID  `json:"patient_id"`
	From      civil.Date `json:"start"`
	To        civil.Date `json:"end"`
	Days      []Day      `json:"days"`
}

// Day returns the bucket for d, or nil when d is outside the window.
func (p *Plan) Day(d civil.Date) *Day {
	if d.Before(p.From) || d.After(p.To) {
		return nil
	}
	return &p.Days[d.DaysSince(p.From)]
}

// Window is an inclusive range of facility dates.
type Window struct {
	From civil.Date
	To   civil.Date
}

// MaxWindowDays bounds a single projection.
const MaxWindowDays = 92

// Options tune a projection.
type Options struct {
	// HideTerminated drops cancelled and rejected assignments.
	HideTerminated bool
}
