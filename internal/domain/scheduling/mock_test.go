package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repositories --

type mockScheduleRepo struct {
	scheds map[uuid.UUID]*Schedule
	order  []uuid.UUID
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{scheds: make(map[uuid.UUID]*Schedule)}
}

func (m *mockScheduleRepo) Create(_ context.Context, s *Schedule) error {
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	m.scheds[s.ID] = s
	m.order = append(m.order, s.ID)
	return nil
}

func (m *mockScheduleRepo) GetByID(_ context.Context, id uuid.UUID) (*Schedule, error) {
	s, ok := m.scheds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *mockScheduleRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.scheds[id]; !ok {
		return ErrNotFound
	}
	delete(m.scheds, id)
	return nil
}

func (m *mockScheduleRepo) ListActive(_ context.Context, doctorID *uuid.UUID) ([]*Schedule, error) {
	var out []*Schedule
	for _, id := range m.order {
		s, ok := m.scheds[id]
		if !ok || !s.Active {
			continue
		}
		if doctorID != nil && s.DoctorID != *doctorID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *mockScheduleRepo) List(_ context.Context, doctorID *uuid.UUID, limit, offset int) ([]*Schedule, int, error) {
	var all []*Schedule
	for _, id := range m.order {
		s, ok := m.scheds[id]
		if ok && (doctorID == nil || s.DoctorID == *doctorID) {
			all = append(all, s)
		}
	}
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type mockBookingRepo struct {
	items map[uuid.UUID]*Booking
}

func newMockBookingRepo() *mockBookingRepo {
	return &mockBookingRepo{items: make(map[uuid.UUID]*Booking)}
}

func (m *mockBookingRepo) Create(_ context.Context, b *Booking) error {
	for _, other := range m.items {
		if other.DoctorID == b.DoctorID && other.Status != BookingCancelled && other.Start.Equal(b.Start) {
			return ErrSlotTaken
		}
	}
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	c := *b
	m.items[b.ID] = &c
	return nil
}

func (m *mockBookingRepo) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	b, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *b
	return &c, nil
}

func (m *mockBookingRepo) SetStatus(_ context.Context, id uuid.UUID, from, to BookingStatus) (bool, error) {
	b, ok := m.items[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	return true, nil
}

func (m *mockBookingRepo) List(_ context.Context, f BookingFilter) ([]*Booking, error) {
	var out []*Booking
	for _, b := range m.items {
		switch {
		case f.DoctorID != nil && b.DoctorID != *f.DoctorID,
			f.PatientID != nil && b.PatientID != *f.PatientID,
			!f.From.IsZero() && b.Start.Before(f.From),
			!f.To.IsZero() && !b.Start.Before(f.To),
			!f.IncludeCancelled && b.Status == BookingCancelled:
			continue
		}
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *mockBookingRepo) BookedStarts(_ context.Context, doctorID *uuid.UUID, from, to time.Time) ([]BookedStart, error) {
	var out []BookedStart
	for _, b := range m.items {
		if b.Status == BookingCancelled || b.Start.Before(from) || !b.Start.Before(to) {
			continue
		}
		if doctorID != nil && b.DoctorID != *doctorID {
			continue
		}
		out = append(out, BookedStart{DoctorID: b.DoctorID, Start: b.Start})
	}
	return out, nil
}

// seedBooking stores a live booking without going through the service.
func (m *mockBookingRepo) seedBooking(doctor uuid.UUID, start time.Time) *Booking {
	b := &Booking{DoctorID: doctor, PatientID: uuid.New(), Start: start, End: start.Add(30 * time.Minute), Status: BookingScheduled}
	m.Create(context.Background(), b)
	return b
}
