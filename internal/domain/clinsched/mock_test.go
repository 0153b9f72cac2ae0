package clinsched

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

// -- Mock Repository --

type mockRepo struct {
	items map[uuid.UUID]*Appointment
	// beforeSet runs inside SetExecution before the status check.
	beforeSet func(a *Appointment)
	failSet   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) CreateBatch(_ context.Context, appts []*Appointment) error {
	now := time.Now()
	for _, a := range appts {
		a.ID = uuid.New()
		a.CreatedAt, a.UpdatedAt = now, now
		a.fillTime()
		c := *a
		m.items[a.ID] = &c
	}
	return nil
}

func (m *mockRepo) sorted(keep func(*Appointment) bool, newestFirst bool) []*Appointment {
	var out []*Appointment
	for _, a := range m.items {
		if keep(a) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].ScheduledDate.Compare(out[j].ScheduledDate); cmp != 0 {
			if newestFirst {
				return cmp > 0
			}
			return cmp < 0
		}
		return minuteOf(out[i]) < minuteOf(out[j])
	})
	return out
}

func minuteOf(a *Appointment) int {
	if a.ScheduledMinute == nil {
		return -1
	}
	return *a.ScheduledMinute
}

func (m *mockRepo) ListByAssignment(_ context.Context, ref clinref.Ref, statuses ...ExecutionStatus) ([]*Appointment, error) {
	f := Filter{Statuses: statuses}
	return m.sorted(func(a *Appointment) bool { return a.Ref() == ref && f.matches(a) }, false), nil
}

func (m *mockRepo) SetExecution(_ context.Context, id uuid.UUID, from, to ExecutionStatus, executedAt *time.Time) (bool, error) {
	if m.failSet != nil {
		return false, m.failSet
	}
	a, ok := m.items[id]
	if !ok {
		return false, nil
	}
	if m.beforeSet != nil {
		m.beforeSet(a)
	}
	if a.ExecutionStatus != from {
		return false, nil
	}
	a.ExecutionStatus = to
	a.ExecutedAt = executedAt
	return true, nil
}

func (m *mockRepo) DeleteByAssignment(_ context.Context, ref clinref.Ref) (int64, error) {
	var n int64
	for id, a := range m.items {
		if a.Ref() == ref {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]*Appointment, error) {
	return m.sorted(f.matches, f.NewestFirst), nil
}

func (m *mockRepo) byStatus(ref clinref.Ref) map[ExecutionStatus]int {
	out := make(map[ExecutionStatus]int)
	for _, a := range m.items {
		if a.Ref() == ref {
			out[a.ExecutionStatus]++
		}
	}
	return out
}

// seed stores a scheduled appointment directly.
func (m *mockRepo) seed(ref clinref.Ref, patientID uuid.UUID, date civil.Date, status ExecutionStatus) *Appointment {
	minute := 9 * 60
	a := &Appointment{
		ID:              uuid.New(),
		AssignmentKind:  ref.Kind,
		AssignmentID:    ref.ID,
		PatientID:       patientID,
		ScheduledDate:   date,
		ScheduledMinute: &minute,
		ExecutionStatus: status,
		CreatedBy:       "nurse-joy",
	}
	m.items[a.ID] = a
	return a
}

// -- Registry stub --

type subjects map[clinref.Ref]*clinref.Subject

func (s subjects) registry() *clinref.Registry {
	reg := clinref.NewRegistry()
	for _, k := range clinref.Kinds {
		kind := k
		reg.Register(kind, func(_ context.Context, id uuid.UUID) (*clinref.Subject, error) {
			subj, ok := s[clinref.Ref{Kind: kind, ID: id}]
			if !ok {
				return nil, clinref.ErrUnknownAssignment
			}
			return subj, nil
		})
	}
	return reg
}

func (s subjects) add(kind clinref.Kind, status clinref.Status) clinref.Ref {
	ref := clinref.Ref{Kind: kind, ID: uuid.New()}
	s[ref] = &clinref.Subject{Ref: ref, PatientID: uuid.New(), Status: status}
	return ref
}

var errBoom = errors.New("boom")
