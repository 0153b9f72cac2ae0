package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinical-engine/internal/platform/clinref"
	"github.com/ehr/clinical-engine/internal/platform/db"
	"github.com/ehr/clinical-engine/internal/platform/metrics"
)

// ErrInvalidAssignment wraps every validation failure of CreateAssignment.
var ErrInvalidAssignment = errors.New("invalid assignment")

// CreatedHook runs inside the creating transaction.
type CreatedHook func(ctx context.Context, a Assignment) error

// Service is the assignment store front and the only writer of status.
type Service struct {
	repo      Repository
	tx        db.TxRunner
	listeners []clinref.LifecycleListener
	created   []CreatedHook
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(repo Repository, tx db.TxRunner, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		tx:      tx,
		logger:  logger.With().Str("component", "lifecycle").Logger(),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers l for LifecycleChanged events. Listeners run in
// registration order inside the transition's transaction.
func (s *Service) Subscribe(l clinref.LifecycleListener) {
	s.listeners = append(s.listeners, l)
}

func (s *Service) OnCreated(h CreatedHook) {
	s.created = append(s.created, h)
}

func (s *Service) CreateAssignment(ctx context.Context, a Assignment, actor string) error {
	b := a.Header()
	if actor == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidAssignment)
	}
	if b.OrderedBy == "" {
		b.OrderedBy = actor
	}
	b.Lifecycle = Lifecycle{Status: clinref.StatusActive}
	if err := validate(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAssignment, err)
	}

	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, a); err != nil {
			return fmt.Errorf("create %s assignment: %w", a.Kind(), err)
		}
		for _, h := range s.created {
			if err := h(ctx, a); err != nil {
				return err
			}
		}
		s.logger.Info().
			Str("kind", string(a.Kind())).
			Str("assignment_id", b.ID.String()).
			Str("patient_id", b.PatientID.String()).
			Str("actor", actor).
			Msg("assignment created")
		return nil
	})
}

func validate(a Assignment) error {
	b := a.Header()
	if b.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if b.Target.Type == "" || b.Target.ID == uuid.Nil {
		return fmt.Errorf("target type and id are required")
	}
	if b.Start.IsZero() {
		return fmt.Errorf("start is required")
	}
	if b.End != nil && b.End.Before(b.Start) {
		return fmt.Errorf("end must not be before start")
	}

	switch v := a.(type) {
	case *Medication:
		if v.MedicationCode == "" && v.MedicationName == "" {
			return fmt.Errorf("medication_code or medication_name is required")
		}
		if v.Dosing == "" {
			return fmt.Errorf("dosing is required")
		}
		if v.TimesPerDay == 0 {
			v.TimesPerDay = 1
		}
		if v.TimesPerDay < 1 || v.TimesPerDay > 24 {
			return fmt.Errorf("times_per_day must be between 1 and 24")
		}
		if v.DurationDays != nil && *v.DurationDays < 1 {
			return fmt.Errorf("duration_days must be positive")
		}
		if v.PatientWeightKg != nil && *v.PatientWeightKg <= 0 {
			return fmt.Errorf("patient_weight_kg must be positive")
		}
	case *GeneralTreatment:
		if v.Description == "" {
			return fmt.Errorf("description is required")
		}
	case *LabOrder:
		if v.LabTestCode == "" && v.LabTestName == "" {
			return fmt.Errorf("lab_test_code or lab_test_name is required")
		}
	case *InstrumentalOrder:
		if v.ProcedureCode == "" && v.ProcedureName == "" {
			return fmt.Errorf("procedure_code or procedure_name is required")
		}
	default:
		return fmt.Errorf("unsupported assignment type %T", a)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, ref clinref.Ref) (Assignment, error) {
	return s.repo.Get(ctx, ref)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, kind clinref.Kind, limit, offset int) ([]Assignment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, kind, limit, offset)
}

func (s *Service) ListStartingBefore(ctx context.Context, patientID uuid.UUID, before time.Time) ([]Assignment, error) {
	return s.repo.ListStartingBefore(ctx, patientID, before)
}

// Transition applies action to the referenced assignment in one
// transaction: lock, check, write, notify. Any listener error rolls the
// whole transition back.
func (s *Service) Transition(ctx context.Context, ref clinref.Ref, action Action, actor, reason string) (Assignment, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	var out Assignment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		now := s.now()
		from, err := Apply(a, action, actor, reason, now)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateLifecycle(ctx, a); err != nil {
			return err
		}

		ev := clinref.LifecycleChanged{
			Ref:       ref,
			PatientID: a.Header().PatientID,
			From:      from,
			To:        a.Header().Status,
			Actor:     actor,
			At:        now,
		}
		for _, l := range s.listeners {
			if err := l.OnLifecycleChanged(ctx, ev); err != nil {
				return fmt.Errorf("propagate %s -> %s: %w", ev.From, ev.To, err)
			}
		}
		out = a
		return nil
	})

	s.metrics.Transition(string(ref.Kind), string(action), outcome(err))
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("kind", string(ref.Kind)).
		Str("assignment_id", ref.ID.String()).
		Str("action", string(action)).
		Str("status", string(out.Header().Status)).
		Str("actor", actor).
		Msg("assignment transitioned")
	return out, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, clinref.ErrUnknownAssignment):
		return "unknown"
	}
	return "error"
}

// Lookup returns a registry resolver for kind.
func (s *Service) Lookup(kind clinref.Kind) clinref.LookupFunc {
	return s.lookup(kind, s.repo.Get)
}

// LookupForUpdate is Lookup with the row locked until the caller's
// transaction ends. Transitions on the same assignment wait behind it.
func (s *Service) LookupForUpdate(kind clinref.Kind) clinref.LookupFunc {
	return s.lookup(kind, s.repo.GetForUpdate)
}

func (s *Service) lookup(kind clinref.Kind, get func(context.Context, clinref.Ref) (Assignment, error)) clinref.LookupFunc {
	return func(ctx context.Context, id uuid.UUID) (*clinref.Subject, error) {
		a, err := get(ctx, clinref.Ref{Kind: kind, ID: id})
		if err != nil {
			return nil, err
		}
		return &clinref.Subject{Ref: Ref(a), PatientID: a.Header().PatientID, Status: a.Header().Status}, nil
	}
}

// RegisterResolvers wires every kind into reg, plain and locking.
func (s *Service) RegisterResolvers(reg *clinref.Registry) {
	for _, k := range clinref.Kinds {
		reg.Register(k, s.Lookup(k))
		reg.RegisterLocking(k, s.LookupForUpdate(k))
	}
}
