package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/db"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrSlotUnavailable means the requested start is not a free slot of the
	// schedule.
	ErrSlotUnavailable = errors.New("requested start is not a free slot")
)

type Service struct {
	schedules ScheduleRepository
	bookings  BookingRepository
	gen       *Generator
	tx        db.TxRunner
	zone      civil.Zone
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(schedules ScheduleRepository, bookings BookingRepository, gen *Generator, tx db.TxRunner, zone civil.Zone, logger zerolog.Logger) *Service {
	return &Service{
		schedules: schedules,
		bookings:  bookings,
		gen:       gen,
		tx:        tx,
		zone:      zone,
		logger:    logger.With().Str("component", "scheduling").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchedule, fmt.Sprintf(format, args...))
}

func validateSchedule(s *Schedule) error {
	if s.DoctorID == uuid.Nil {
		return invalid("doctor_id is required")
	}
	if s.DoctorLabel == "" {
		return invalid("doctor_label is required")
	}
	if len(s.Weekdays) == 0 {
		return invalid("at least one weekday is required")
	}
	for _, w := range s.Weekdays {
		if w < 1 || w > 7 {
			return invalid("weekday %d out of range 1-7", w)
		}
	}
	start, end, err := s.minutes()
	if err != nil {
		return invalid("%v", err)
	}
	if start >= end {
		return invalid("start_time %s must be before end_time %s", s.StartTime, s.EndTime)
	}
	if s.SlotMinutes < 5 || s.SlotMinutes > end-start {
		return invalid("slot_minutes must be between 5 and the shift length")
	}
	if s.ValidUntil != nil && s.ValidUntil.Before(s.ValidFrom) {
		return invalid("valid_until is before valid_from")
	}
	return nil
}

func (s *Service) CreateSchedule(ctx context.Context, sched *Schedule, actor string) error {
	if sched.SlotMinutes == 0 {
		sched.SlotMinutes = DefaultSlotMinutes
	}
	if sched.ValidFrom.IsZero() {
		sched.ValidFrom = s.zone.Today(s.now())
	}
	if err := validateSchedule(sched); err != nil {
		return err
	}
	sched.Active = true
	sched.CreatedBy = actor
	if err := s.schedules.Create(ctx, sched); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	s.logger.Info().
		Str("schedule_id", sched.ID.String()).
		Str("doctor_id", sched.DoctorID.String()).
		Ints("weekdays", sched.Weekdays).
		Msg("recurring schedule created")
	return nil
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.schedules.GetByID(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, doctorID *uuid.UUID, limit, offset int) ([]*Schedule, int, error) {
	return s.schedules.List(ctx, doctorID, limit, offset)
}

// DeleteSchedule removes the rule. Existing bookings stay and lose their
// schedule reference.
func (s *Service) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return s.schedules.Delete(ctx, id)
}

// FreeSlots exposes the generator for callers that only hold the service.
func (s *Service) FreeSlots(ctx context.Context, w Window, doctorID *uuid.UUID) ([]Slot, error) {
	seq, err := s.gen.Generate(ctx, w, doctorID)
	if err != nil {
		return nil, err
	}
	var out []Slot
	for slot := range seq {
		out = append(out, slot)
	}
	return out, nil
}

// Book places a patient on the slot of scheduleID starting at start. The
// start must match a slot the generator would currently offer.
func (s *Service) Book(ctx context.Context, scheduleID, patientID uuid.UUID, start time.Time, notes, actor string) (*Booking, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}

	var booking *Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		sched, err := s.schedules.GetByID(ctx, scheduleID)
		if err != nil {
			return err
		}
		if !sched.Active {
			return fmt.Errorf("%w: schedule %s is inactive", ErrSlotUnavailable, sched.ID)
		}

		day := s.zone.DateOf(start)
		w := Window{From: day, To: day}
		booked, err := s.gen.loadBooked(ctx, w, &sched.DoctorID)
		if err != nil {
			return err
		}
		var slot *Slot
		for cand := range s.gen.expand([]*Schedule{sched}, booked, w) {
			if cand.Start.Equal(start) {
				slot = &cand
				break
			}
		}
		if slot == nil {
			return fmt.Errorf("%w: %s", ErrSlotUnavailable, s.zone.Local(start).Format(time.RFC3339))
		}

		b := &Booking{
			ScheduleID: &sched.ID,
			DoctorID:   sched.DoctorID,
			PatientID:  patientID,
			Start:      slot.Start,
			End:        slot.End,
			Status:     BookingScheduled,
			Notes:      notes,
			CreatedBy:  actor,
		}
		if err := s.bookings.Create(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", booking.ID.String()).
		Str("doctor_id", booking.DoctorID.String()).
		Time("start", booking.Start).
		Msg("slot booked")
	return booking, nil
}

// CancelBooking frees the slot again. Only scheduled bookings can be
// cancelled.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID, actor string) (*Booking, error) {
	var out *Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		ok, err := s.bookings.SetStatus(ctx, id, BookingScheduled, BookingCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: booking %s is %s", ErrSlotUnavailable, id, b.Status)
		}
		b.Status = BookingCancelled
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("booking_id", id.String()).Str("actor", actor).Msg("booking cancelled")
	return out, nil
}

// ListBookings returns live bookings whose start falls on a facility date in
// the window.
func (s *Service) ListBookings(ctx context.Context, doctorID, patientID *uuid.UUID, w Window) ([]*Booking, error) {
	f := BookingFilter{DoctorID: doctorID, PatientID: patientID}
	if !w.From.IsZero() {
		f.From = s.dayStart(w.From)
	}
	if !w.To.IsZero() {
		f.To = s.dayStart(w.To.AddDays(1))
	}
	return s.bookings.List(ctx, f)
}

// dayStart is the first instant of d in the facility zone. Midnight can fall
// into a DST gap in a few zones, so the first valid minute is used.
func (s *Service) dayStart(d civil.Date) time.Time {
	for m := 0; m < 24*60; m += 15 {
		if at, err := s.zone.At(d, m); err == nil {
			return at
		}
	}
	return d.Time()
}
