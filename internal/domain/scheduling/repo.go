package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrSlotTaken is returned when a doctor already holds a live booking at
	// the requested start.
	ErrSlotTaken = errors.New("slot already booked")
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ListActive returns active schedules, optionally for a single doctor.
	ListActive(ctx context.Context, doctorID *uuid.UUID) ([]*Schedule, error)
	List(ctx context.Context, doctorID *uuid.UUID, limit, offset int) ([]*Schedule, int, error)
}

type BookingRepository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	SetStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (bool, error)
	List(ctx context.Context, f BookingFilter) ([]*Booking, error)
	// BookedStarts returns the start instants of live bookings per doctor
	// with from <= start < to.
	BookedStarts(ctx context.Context, doctorID *uuid.UUID, from, to time.Time) ([]BookedStart, error)
}

type BookedStart struct {
	DoctorID uuid.UUID
	Start    time.Time
}
