package clinsched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
	"github.com/ehr/clinical-engine/internal/platform/db"
)

var ErrAssignmentClosed = errors.New("assignment is no longer active")

// Service creates and lists scheduled appointments. It never changes an
// execution status; that is the Synchronizer's job.
type Service struct {
	repo     Repository
	registry *clinref.Registry
	tx       db.TxRunner
	zone     civil.Zone
	logger   zerolog.Logger
	onChange []ChangeFunc
	now      func() time.Time
}

func NewService(repo Repository, registry *clinref.Registry, tx db.TxRunner, zone civil.Zone, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		registry: registry,
		tx:       tx,
		zone:     zone,
		logger:   logger.With().Str("component", "clinsched").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) OnChange(fn ChangeFunc) {
	s.onChange = append(s.onChange, fn)
}

func (s *Service) today() civil.Date {
	return s.zone.Today(s.now())
}

// ScheduleAssignment lays out appointments for ref. Medications get
// TimesPerDay doses per day for DurationDays days, spread evenly over 24
// hours from FirstTime; every other kind gets a single appointment.
func (s *Service) ScheduleAssignment(ctx context.Context, ref clinref.Ref, plan Plan, actor string) ([]*Appointment, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	if plan.StartDate.IsZero() {
		plan.StartDate = s.today()
	}

	var out []*Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		subj, err := s.registry.ResolveForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if subj.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrAssignmentClosed, ref, subj.Status)
		}

		appts, err := Expand(ref, subj.PatientID, plan, actor)
		if err != nil {
			return err
		}
		if err := s.repo.CreateBatch(ctx, appts); err != nil {
			return fmt.Errorf("create appointments for %s: %w", ref, err)
		}
		out = appts
		for _, fn := range s.onChange {
			fn(ctx, subj.PatientID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("assignment", ref.String()).
		Int("appointments", len(out)).
		Str("start_date", plan.StartDate.String()).
		Str("actor", actor).
		Msg("assignment scheduled")
	return out, nil
}

// Expand turns a plan into unsaved appointments. Doses that roll past
// midnight land on the following date.
func Expand(ref clinref.Ref, patientID uuid.UUID, plan Plan, actor string) ([]*Appointment, error) {
	first := defaultFirstMinute
	if plan.FirstTime != "" {
		m, err := civil.ParseMinute(plan.FirstTime)
		if err != nil {
			return nil, err
		}
		first = m
	}
	times := plan.TimesPerDay
	if times == 0 {
		times = defaultTimesPerDay
	}
	days := plan.DurationDays
	if days == 0 {
		days = defaultDurationDays
	}
	if times < 1 || times > 24 {
		return nil, fmt.Errorf("times_per_day must be between 1 and 24")
	}
	if days < 1 || days > 366 {
		return nil, fmt.Errorf("duration_days must be between 1 and 366")
	}

	newAppt := func(date civil.Date, minute int) *Appointment {
		m := minute
		return &Appointment{
			AssignmentKind:  ref.Kind,
			AssignmentID:    ref.ID,
			PatientID:       patientID,
			ScheduledDate:   date,
			ScheduledMinute: &m,
			ExecutionStatus: ExecutionScheduled,
			CreatedBy:       actor,
		}
	}

	if ref.Kind != clinref.KindMedication {
		return []*Appointment{newAppt(plan.StartDate, first)}, nil
	}

	interval := 24 / times
	firstHour, firstMin := first/60, first%60
	out := make([]*Appointment, 0, days*times)
	for day := 0; day < days; day++ {
		date := plan.StartDate.AddDays(day)
		for i := 0; i < times; i++ {
			h := firstHour + i*interval
			out = append(out, newAppt(date.AddDays(h/24), (h%24)*60+firstMin))
		}
	}
	return out, nil
}

func (s *Service) ForAssignment(ctx context.Context, ref clinref.Ref) ([]*Appointment, error) {
	return s.repo.ListByAssignment(ctx, ref)
}

// TodaySchedule lists appointments on the facility's current date.
func (s *Service) TodaySchedule(ctx context.Context, patientID *uuid.UUID) ([]*Appointment, error) {
	today := s.today()
	return s.repo.List(ctx, Filter{PatientID: patientID, From: today, To: today})
}

// OverdueAppointments lists still-scheduled appointments dated before today.
func (s *Service) OverdueAppointments(ctx context.Context, patientID *uuid.UUID) ([]*Appointment, error) {
	return s.repo.List(ctx, Filter{
		PatientID:   patientID,
		To:          s.today().AddDays(-1),
		Statuses:    []ExecutionStatus{ExecutionScheduled},
		NewestFirst: true,
	})
}

// PatientSchedule lists a patient's non-cancelled appointments in the
// inclusive date range. Zero dates leave the range open.
func (s *Service) PatientSchedule(ctx context.Context, patientID uuid.UUID, from, to civil.Date) ([]*Appointment, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("end date %s is before start date %s", to, from)
	}
	return s.repo.List(ctx, Filter{
		PatientID:   &patientID,
		From:        from,
		To:          to,
		Statuses:    []ExecutionStatus{ExecutionScheduled, ExecutionCompleted},
		NewestFirst: true,
	})
}
