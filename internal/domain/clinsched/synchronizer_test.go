package clinsched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
	"github.com/ehr/clinical-engine/internal/platform/metrics"
)

var syncNow = time.Date(2024, time.February, 3, 14, 30, 0, 0, time.UTC)

func newTestSynchronizer(subj subjects) (*Synchronizer, *mockRepo) {
	repo := newMockRepo()
	s := NewSynchronizer(repo, subj.registry(), zerolog.Nop(), metrics.New())
	s.now = func() time.Time { return syncNow }
	return s, repo
}

func TestNotifyResultCreated_CompletesScheduled(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindLabOrder, clinref.StatusActive)
	s, repo := newTestSynchronizer(subj)
	a := repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 2, Day: 1}, ExecutionScheduled)

	if err := s.NotifyResultCreated(context.Background(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := repo.items[a.ID]
	if got.ExecutionStatus != ExecutionCompleted {
		t.Errorf("expected completed, got %s", got.ExecutionStatus)
	}
	if got.ExecutedAt == nil || !got.ExecutedAt.Equal(syncNow) {
		t.Errorf("expected executed_at %v, got %v", syncNow, got.ExecutedAt)
	}
}

func TestNotifyResultCreated_Idempotent(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindInstrumentalOrder, clinref.StatusActive)
	s, repo := newTestSynchronizer(subj)
	a := repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 2, Day: 1}, ExecutionScheduled)

	if err := s.NotifyResultCreated(context.Background(), ref); err != nil {
		t.Fatalf("first call: %v", err)
	}
	first := *repo.items[a.ID].ExecutedAt

	writes := 0
	repo.beforeSet = func(*Appointment) { writes++ }
	s.now = func() time.Time { return syncNow.Add(time.Hour) }
	if err := s.NotifyResultCreated(context.Background(), ref); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if writes != 0 {
		t.Errorf("expected no writes on re-run, got %d", writes)
	}
	if !repo.items[a.ID].ExecutedAt.Equal(first) {
		t.Error("expected executed_at to be unchanged")
	}
}

func TestNotifyResultCreated_NoAppointmentsIsNoop(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindLabOrder, clinref.StatusActive)
	s, repo := newTestSynchronizer(subj)

	if err := s.NotifyResultCreated(context.Background(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.items) != 0 {
		t.Errorf("expected no appointments, got %d", len(repo.items))
	}
}

func TestNotifyResultCreated_UnknownAssignment(t *testing.T) {
	s, _ := newTestSynchronizer(subjects{})
	err := s.NotifyResultCreated(context.Background(), clinref.Ref{Kind: clinref.KindLabOrder, ID: uuid.New()})
	if !errors.Is(err, clinref.ErrUnknownAssignment) {
		t.Errorf("expected ErrUnknownAssignment, got %v", err)
	}
}

func TestNotifyResultCreated_ConflictIsNotSurfaced(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindLabOrder, clinref.StatusActive)
	s, repo := newTestSynchronizer(subj)
	repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 2, Day: 1}, ExecutionScheduled)
	other := repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 2, Day: 2}, ExecutionScheduled)

	// Another path completes the second appointment between read and write.
	repo.beforeSet = func(a *Appointment) {
		if a.ID == other.ID {
			a.ExecutionStatus = ExecutionCompleted
		}
	}
	if err := s.NotifyResultCreated(context.Background(), ref); err != nil {
		t.Fatalf("expected conflict to be swallowed, got %v", err)
	}
	if got := repo.byStatus(ref)[ExecutionCompleted]; got != 2 {
		t.Errorf("expected both appointments completed, got %d", got)
	}
}

func TestNotifyResultCreated_RepositoryErrorAborts(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindLabOrder, clinref.StatusActive)
	s, repo := newTestSynchronizer(subj)
	repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 2, Day: 1}, ExecutionScheduled)
	repo.failSet = errBoom

	if err := s.NotifyResultCreated(context.Background(), ref); !errors.Is(err, errBoom) {
		t.Errorf("expected repository error, got %v", err)
	}
}

func TestNotifyResultDeleted_RemovesAll(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindLabOrder, clinref.StatusActive)
	keep := subj.add(clinref.KindLabOrder, clinref.StatusActive)
	s, repo := newTestSynchronizer(subj)
	repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 2, Day: 1}, ExecutionCompleted)
	repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 2, Day: 2}, ExecutionScheduled)
	repo.seed(keep, subj[keep].PatientID, civil.Date{Year: 2024, Month: 2, Day: 1}, ExecutionScheduled)

	if err := s.NotifyResultDeleted(context.Background(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.byStatus(ref)) != 0 {
		t.Error("expected every appointment of the deleted result's assignment to be removed")
	}
	if repo.byStatus(keep)[ExecutionScheduled] != 1 {
		t.Error("expected other assignments untouched")
	}
}

func TestOnLifecycleChanged_CancelKeepsCompleted(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindMedication, clinref.StatusCancelled)
	s, repo := newTestSynchronizer(subj)
	done := repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 1, Day: 10}, ExecutionCompleted)
	executed := syncNow.Add(-48 * time.Hour)
	done.ExecutedAt = &executed
	pending := repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 1, Day: 11}, ExecutionScheduled)

	ev := clinref.LifecycleChanged{Ref: ref, From: clinref.StatusActive, To: clinref.StatusCancelled, Actor: "dr-house", At: syncNow}
	if err := s.OnLifecycleChanged(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.items[done.ID]; got.ExecutionStatus != ExecutionCompleted || !got.ExecutedAt.Equal(executed) {
		t.Error("expected completed appointment to stay untouched")
	}
	if got := repo.items[pending.ID].ExecutionStatus; got != ExecutionCancelled {
		t.Errorf("expected pending appointment cancelled, got %s", got)
	}
}

func TestOnLifecycleChanged_RejectCancelsPending(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindLabOrder, clinref.StatusRejected)
	s, repo := newTestSynchronizer(subj)
	a := repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 2, Day: 1}, ExecutionScheduled)

	ev := clinref.LifecycleChanged{Ref: ref, From: clinref.StatusActive, To: clinref.StatusRejected}
	if err := s.OnLifecycleChanged(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.items[a.ID].ExecutionStatus != ExecutionCancelled {
		t.Error("expected pending appointment cancelled after rejection")
	}
}

func TestOnLifecycleChanged_IgnoresOtherTransitions(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindMedication, clinref.StatusPaused)
	s, repo := newTestSynchronizer(subj)
	a := repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 1, Day: 11}, ExecutionScheduled)

	for _, to := range []clinref.Status{clinref.StatusPaused, clinref.StatusActive, clinref.StatusCompleted} {
		ev := clinref.LifecycleChanged{Ref: ref, To: to}
		if err := s.OnLifecycleChanged(context.Background(), ev); err != nil {
			t.Fatalf("%s: unexpected error: %v", to, err)
		}
	}
	if repo.items[a.ID].ExecutionStatus != ExecutionScheduled {
		t.Error("expected appointment untouched by non-terminating transitions")
	}
}

func TestOnLifecycleChanged_ErrorAborts(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindMedication, clinref.StatusCancelled)
	s, repo := newTestSynchronizer(subj)
	repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 1, Day: 11}, ExecutionScheduled)
	repo.failSet = errBoom

	err := s.OnLifecycleChanged(context.Background(), clinref.LifecycleChanged{Ref: ref, To: clinref.StatusCancelled})
	if !errors.Is(err, errBoom) {
		t.Errorf("expected error to propagate so the transition rolls back, got %v", err)
	}
}

func TestSynchronizer_OnChangeReportsPatient(t *testing.T) {
	subj := subjects{}
	ref := subj.add(clinref.KindLabOrder, clinref.StatusActive)
	s, repo := newTestSynchronizer(subj)
	repo.seed(ref, subj[ref].PatientID, civil.Date{Year: 2024, Month: 2, Day: 1}, ExecutionScheduled)

	var seen []uuid.UUID
	s.OnChange(func(_ context.Context, patientID uuid.UUID) { seen = append(seen, patientID) })

	if err := s.NotifyResultCreated(context.Background(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.NotifyResultCreated(context.Background(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != subj[ref].PatientID {
		t.Errorf("expected one change for the patient, got %v", seen)
	}

	if err := s.NotifyResultDeleted(context.Background(), ref); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("expected deletion to report a change, got %d", len(seen))
	}
}
