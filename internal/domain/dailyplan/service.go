package dailyplan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinical-engine/internal/domain/assignment"
	"github.com/ehr/clinical-engine/internal/domain/clinsched"
	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
	"github.com/ehr/clinical-engine/internal/platform/db"
	"github.com/ehr/clinical-engine/internal/platform/metrics"
)

// AssignmentSource lists a patient's assignments.
type AssignmentSource interface {
	ListStartingBefore(ctx context.Context, patientID uuid.UUID, before time.Time) ([]assignment.Assignment, error)
}

// AppointmentSource lists a patient's scheduled appointments by date.
type AppointmentSource interface {
	PatientSchedule(ctx context.Context, patientID uuid.UUID, from, to civil.Date) ([]*clinsched.Appointment, error)
}

// Cache stores rendered plans per patient. cache.PlanStore implements it.
type Cache interface {
	Get(ctx context.Context, patientID uuid.UUID, window string, dst any) (gen int64, hit bool, err error)
	Put(ctx context.Context, patientID uuid.UUID, gen int64, window string, v any) error
	Invalidate(ctx context.Context, patientID uuid.UUID) error
}

type Service struct {
	assignments  AssignmentSource
	appointments AppointmentSource
	cache        Cache
	zone         civil.Zone
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

// NewService builds the projector service. cache may be nil.
func NewService(assignments AssignmentSource, appointments AppointmentSource, cache Cache, zone civil.Zone, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		assignments:  assignments,
		appointments: appointments,
		cache:        cache,
		zone:         zone,
		logger:       logger.With().Str("component", "dailyplan").Logger(),
		metrics:      m,
	}
}

func cacheKey(w Window, opts Options) string {
	return fmt.Sprintf("%s..%s:%t", w.From, w.To, opts.HideTerminated)
}

// Project returns the patient's plan for the window. Cache failures are
// logged and fall through to a fresh projection.
func (s *Service) Project(ctx context.Context, patientID uuid.UUID, w Window, opts Options) (*Plan, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	key := cacheKey(w, opts)

	// gen is read before the load so an invalidation racing the load
	// orphans the entry instead of hiding the change.
	var gen int64
	cacheable := false
	if s.cache != nil {
		var cached Plan
		g, hit, err := s.cache.Get(ctx, patientID, key, &cached)
		switch {
		case err != nil:
			s.metrics.PlanCache("error")
			s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("plan cache read failed")
		case hit:
			s.metrics.PlanCache("hit")
			return &cached, nil
		default:
			s.metrics.PlanCache("miss")
			gen, cacheable = g, true
		}
	}

	// Anything starting after the window cannot be visible in it; the
	// extra day covers facility offsets ahead of UTC.
	items, err := s.assignments.ListStartingBefore(ctx, patientID, w.To.AddDays(2).Time())
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	var appts []*clinsched.Appointment
	if s.appointments != nil {
		if appts, err = s.appointments.PatientSchedule(ctx, patientID, w.From, w.To); err != nil {
			return nil, fmt.Errorf("load scheduled appointments: %w", err)
		}
	}

	plan := Project(items, appts, w, s.zone, opts)
	plan.PatientID = patientID

	if cacheable {
		if err := s.cache.Put(ctx, patientID, gen, key, plan); err != nil {
			s.metrics.PlanCache("error")
			s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("plan cache write failed")
		}
	}
	return plan, nil
}

// Invalidate drops every cached plan of the patient once the current
// transaction commits.
func (s *Service) Invalidate(ctx context.Context, patientID uuid.UUID) {
	if s.cache == nil {
		return
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if err := s.cache.Invalidate(ctx, patientID); err != nil {
			s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("plan cache invalidation failed")
		}
	})
}

// LifecycleListener invalidates on every status change.
func (s *Service) LifecycleListener() clinref.LifecycleListener {
	return clinref.ListenerFunc(func(ctx context.Context, ev clinref.LifecycleChanged) error {
		s.Invalidate(ctx, ev.PatientID)
		return nil
	})
}

// CreatedHook invalidates when an assignment is added.
func (s *Service) CreatedHook() assignment.CreatedHook {
	return func(ctx context.Context, a assignment.Assignment) error {
		s.Invalidate(ctx, a.Header().PatientID)
		return nil
	}
}
