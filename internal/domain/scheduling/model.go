package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinical-engine/internal/platform/civil"
)

// Schedule is a doctor's recurring availability. StartTime and EndTime are
// facility-local "HH:MM" values; Weekdays uses ISO numbering (1=Monday,
// 7=Sunday).
type Schedule struct {
	ID          uuid.UUID   `json:"id"`
	DoctorID    uuid.UUID   `json:"doctor_id"`
	DoctorLabel string      `json:"doctor_label"`
	Weekdays    []int       `json:"weekdays"`
	StartTime   string      `json:"start_time"`
	EndTime     string      `json:"end_time"`
	SlotMinutes int         `json:"slot_minutes"`
	ValidFrom   civil.Date  `json:"valid_from"`
	ValidUntil  *civil.Date `json:"valid_until,omitempty"`
	Active      bool        `json:"active"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

const DefaultSlotMinutes = 30

func isoWeekday(d civil.Date) int {
	wd := int(d.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// OnDate reports whether the recurrence rule produces an occurrence on d.
func (s *Schedule) OnDate(d civil.Date) bool {
	if d.Before(s.ValidFrom) {
		return false
	}
	if s.ValidUntil != nil && d.After(*s.ValidUntil) {
		return false
	}
	wd := isoWeekday(d)
	for _, w := range s.Weekdays {
		if w == wd {
			return true
		}
	}
	return false
}

// minutes returns the parsed shift bounds.
func (s *Schedule) minutes() (start, end int, err error) {
	if start, err = civil.ParseMinute(s.StartTime); err != nil {
		return 0, 0, err
	}
	if end, err = civil.ParseMinute(s.EndTime); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

type BookingStatus string

const (
	BookingScheduled BookingStatus = "scheduled"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is a patient appointment placed on a generated slot.
type Booking struct {
	ID         uuid.UUID     `json:"id"`
	ScheduleID *uuid.UUID    `json:"schedule_id,omitempty"`
	DoctorID   uuid.UUID     `json:"doctor_id"`
	PatientID  uuid.UUID     `json:"patient_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Status     BookingStatus `json:"status"`
	Notes      string        `json:"notes,omitempty"`
	CreatedBy  string        `json:"created_by"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Slot is a free appointment window produced by the generator. Start and End
// carry the facility offset when rendered.
type Slot struct {
	DoctorID         uuid.UUID `json:"doctor_id"`
	DoctorLabel      string    `json:"doctor_label"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	SourceScheduleID uuid.UUID `json:"source_schedule_id"`
}

// Window is an inclusive range of facility dates.
type Window struct {
	From civil.Date
	To   civil.Date
}

// MaxWindowDays bounds a single slot query.
const MaxWindowDays = 92

// BookingFilter selects bookings by doctor and start instant.
type BookingFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	From      time.Time
	To        time.Time
	// IncludeCancelled returns cancelled bookings too.
	IncludeCancelled bool
}
