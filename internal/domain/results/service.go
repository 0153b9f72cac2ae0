package results

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinical-engine/internal/platform/clinref"
	"github.com/ehr/clinical-engine/internal/platform/db"
)

// Notifier is told about result writes inside the writing transaction.
// A returned error rolls the write back.
type Notifier interface {
	NotifyResultCreated(ctx context.Context, ref clinref.Ref) error
	NotifyResultDeleted(ctx context.Context, ref clinref.Ref) error
}

// CompleteFunc completes the order a finished result belongs to.
type CompleteFunc func(ctx context.Context, ref clinref.Ref, actor, notes string) error

type Service struct {
	repo     Repository
	registry *clinref.Registry
	tx       db.TxRunner
	notifier Notifier
	complete CompleteFunc
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, registry *clinref.Registry, tx db.TxRunner, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		registry: registry,
		tx:       tx,
		notifier: notifier,
		logger:   logger.With().Str("component", "results").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OnCompleted sets the hook used to complete an active order once a
// result marked completed arrives for it.
func (s *Service) OnCompleted(fn CompleteFunc) {
	s.complete = fn
}

func (s *Service) Create(ctx context.Context, res *Result, actor string) error {
	if actor == "" {
		return fmt.Errorf("actor is required")
	}
	if res.AssignmentID == uuid.Nil {
		return fmt.Errorf("assignment_id is required")
	}
	if _, err := ParseKind(string(res.Kind)); err != nil {
		return err
	}
	res.RecordedBy = actor
	if res.RecordedAt.IsZero() {
		res.RecordedAt = s.now()
	}
	ref := res.Assignment()

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		subj, err := s.registry.ResolveForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		res.PatientID = subj.PatientID

		if err := s.repo.Create(ctx, res); err != nil {
			return fmt.Errorf("create %s result: %w", res.Kind, err)
		}
		if err := s.notifier.NotifyResultCreated(ctx, ref); err != nil {
			return err
		}

		if res.Completed && s.complete != nil && !subj.Status.Terminal() {
			if err := s.complete(ctx, ref, actor, res.Summary); err != nil {
				return fmt.Errorf("complete %s: %w", ref, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("result_id", res.ID.String()).
		Str("assignment", ref.String()).
		Bool("completed", res.Completed).
		Str("actor", actor).
		Msg("result recorded")
	return nil
}

func (s *Service) Get(ctx context.Context, kind Kind, id uuid.UUID) (*Result, error) {
	return s.repo.Get(ctx, kind, id)
}

func (s *Service) ListByAssignment(ctx context.Context, ref clinref.Ref) ([]*Result, error) {
	return s.repo.ListByAssignment(ctx, ref)
}

// Delete physically removes a result. Its scheduled appointments go with
// it so none is left completed without a result.
func (s *Service) Delete(ctx context.Context, kind Kind, id uuid.UUID, actor string) error {
	var ref clinref.Ref
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		res, err := s.repo.Get(ctx, kind, id)
		if err != nil {
			return err
		}
		ref = res.Assignment()
		if err := s.repo.Delete(ctx, kind, id); err != nil {
			return err
		}
		return s.notifier.NotifyResultDeleted(ctx, ref)
	})
	if err != nil {
		return err
	}

	s.logger.Warn().
		Str("result_id", id.String()).
		Str("assignment", ref.String()).
		Str("actor", actor).
		Msg("result deleted")
	return nil
}
