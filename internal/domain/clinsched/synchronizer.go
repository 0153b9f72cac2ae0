package clinsched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinical-engine/internal/platform/clinref"
	"github.com/ehr/clinical-engine/internal/platform/metrics"
)

// ErrSynchronizationConflict marks an appointment found in a newer state
// than the reconciliation step expected. It is logged and counted, never
// returned to callers.
var ErrSynchronizationConflict = errors.New("synchronization conflict")

const (
	triggerResultCreated = "result_created"
	triggerResultDeleted = "result_deleted"
	triggerLifecycle     = "lifecycle"
)

// ChangeFunc is told which patient's appointments changed. It runs inside
// the writing transaction.
type ChangeFunc func(ctx context.Context, patientID uuid.UUID)

// Synchronizer is the only writer of Appointment.ExecutionStatus. Every
// method must be called with the context of the triggering transaction so
// that a failure here rolls the trigger back.
type Synchronizer struct {
	repo     Repository
	registry *clinref.Registry
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	onChange []ChangeFunc
	now      func() time.Time
}

func NewSynchronizer(repo Repository, registry *clinref.Registry, logger zerolog.Logger, m *metrics.Metrics) *Synchronizer {
	return &Synchronizer{
		repo:     repo,
		registry: registry,
		logger:   logger.With().Str("component", "synchronizer").Logger(),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Synchronizer) OnChange(fn ChangeFunc) {
	s.onChange = append(s.onChange, fn)
}

func (s *Synchronizer) changed(ctx context.Context, patientID uuid.UUID) {
	for _, fn := range s.onChange {
		fn(ctx, patientID)
	}
}

// NotifyResultCreated completes every still-scheduled appointment of ref.
// Running it again for the same ref writes nothing.
func (s *Synchronizer) NotifyResultCreated(ctx context.Context, ref clinref.Ref) error {
	subj, err := s.registry.Resolve(ctx, ref)
	if err != nil {
		s.metrics.SyncEvent(triggerResultCreated, "unknown")
		return err
	}

	pending, err := s.repo.ListByAssignment(ctx, ref, ExecutionScheduled)
	if err != nil {
		s.metrics.SyncEvent(triggerResultCreated, "error")
		return fmt.Errorf("load scheduled appointments for %s: %w", ref, err)
	}

	now := s.now()
	completed := 0
	for _, a := range pending {
		ok, err := s.repo.SetExecution(ctx, a.ID, ExecutionScheduled, ExecutionCompleted, &now)
		if err != nil {
			s.metrics.SyncEvent(triggerResultCreated, "error")
			return fmt.Errorf("complete appointment %s: %w", a.ID, err)
		}
		if !ok {
			s.conflict(triggerResultCreated, a, ExecutionScheduled)
			continue
		}
		completed++
	}
	if completed > 0 {
		s.changed(ctx, subj.PatientID)
	}

	s.metrics.SyncEvent(triggerResultCreated, "ok")
	s.logger.Debug().
		Str("assignment", ref.String()).
		Int("completed", completed).
		Msg("result created")
	return nil
}

// NotifyResultDeleted removes every appointment of ref so none is left
// pointing at a result that no longer exists.
func (s *Synchronizer) NotifyResultDeleted(ctx context.Context, ref clinref.Ref) error {
	n, err := s.repo.DeleteByAssignment(ctx, ref)
	if err != nil {
		s.metrics.SyncEvent(triggerResultDeleted, "error")
		return fmt.Errorf("delete appointments for %s: %w", ref, err)
	}
	if n > 0 {
		if subj, err := s.registry.Resolve(ctx, ref); err == nil {
			s.changed(ctx, subj.PatientID)
		}
	}
	s.metrics.SyncEvent(triggerResultDeleted, "ok")
	s.logger.Warn().
		Str("assignment", ref.String()).
		Int64("deleted", n).
		Msg("result deleted; scheduled appointments removed")
	return nil
}

// OnLifecycleChanged reacts to an assignment reaching cancelled or
// rejected: pending appointments are cancelled, completed ones are kept
// and reported as an audit mismatch.
func (s *Synchronizer) OnLifecycleChanged(ctx context.Context, ev clinref.LifecycleChanged) error {
	if ev.To != clinref.StatusCancelled && ev.To != clinref.StatusRejected {
		return nil
	}

	appts, err := s.repo.ListByAssignment(ctx, ev.Ref)
	if err != nil {
		s.metrics.SyncEvent(triggerLifecycle, "error")
		return fmt.Errorf("load appointments for %s: %w", ev.Ref, err)
	}

	cancelled := 0
	for _, a := range appts {
		switch a.ExecutionStatus {
		case ExecutionScheduled:
			ok, err := s.repo.SetExecution(ctx, a.ID, ExecutionScheduled, ExecutionCancelled, nil)
			if err != nil {
				s.metrics.SyncEvent(triggerLifecycle, "error")
				return fmt.Errorf("cancel appointment %s: %w", a.ID, err)
			}
			if !ok {
				s.conflict(triggerLifecycle, a, ExecutionScheduled)
				continue
			}
			cancelled++
		case ExecutionCompleted:
			s.logger.Warn().
				Str("assignment", ev.Ref.String()).
				Str("appointment_id", a.ID.String()).
				Str("assignment_status", string(ev.To)).
				Str("actor", ev.Actor).
				Str("scheduled_date", a.ScheduledDate.String()).
				Msg("assignment terminated after execution; completed appointment kept")
		}
	}
	if cancelled > 0 {
		s.changed(ctx, ev.PatientID)
	}
	s.metrics.SyncEvent(triggerLifecycle, "ok")
	return nil
}

func (s *Synchronizer) conflict(trigger string, a *Appointment, expected ExecutionStatus) {
	s.metrics.SyncConflict(trigger)
	err := fmt.Errorf("%w: appointment %s no longer %s", ErrSynchronizationConflict, a.ID, expected)
	s.logger.Warn().
		Err(err).
		Str("trigger", trigger).
		Str("assignment", a.Ref().String()).
		Msg("appointment changed by another path; skipped")
}
