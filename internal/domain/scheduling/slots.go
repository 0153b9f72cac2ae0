package scheduling

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/metrics"
)

// Generator expands recurring schedules into free slots.
type Generator struct {
	schedules ScheduleRepository
	bookings  BookingRepository
	zone      civil.Zone
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func NewGenerator(schedules ScheduleRepository, bookings BookingRepository, zone civil.Zone, logger zerolog.Logger, m *metrics.Metrics) *Generator {
	return &Generator{
		schedules: schedules,
		bookings:  bookings,
		zone:      zone,
		logger:    logger.With().Str("component", "slot-generator").Logger(),
		metrics:   m,
	}
}

func (w Window) validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return fmt.Errorf("window start and end are required")
	}
	if w.To.Before(w.From) {
		return fmt.Errorf("window end %s is before start %s", w.To, w.From)
	}
	if w.To.DaysSince(w.From) >= MaxWindowDays {
		return fmt.Errorf("window may span at most %d days", MaxWindowDays)
	}
	return nil
}

// bookedKey identifies a doctor's slot by its normalized start.
type bookedKey struct {
	doctor uuid.UUID
	at     int64
}

type bookedSet map[bookedKey]struct{}

func (b bookedSet) has(doctor uuid.UUID, at time.Time) bool {
	_, ok := b[bookedKey{doctor: doctor, at: at.Unix()}]
	return ok
}

// Generate returns the free slots of every active schedule (or only the given
// doctor's) over the window. Schedules and bookings are loaded once up front;
// the sequence itself does no I/O.
func (g *Generator) Generate(ctx context.Context, w Window, doctorID *uuid.UUID) (iter.Seq[Slot], error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	scheds, err := g.schedules.ListActive(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	booked, err := g.loadBooked(ctx, w, doctorID)
	if err != nil {
		return nil, err
	}
	return g.expand(scheds, booked, w), nil
}

// loadBooked reads live bookings over a UTC range padded by a day on each
// side so every facility-local instant of the window is covered.
func (g *Generator) loadBooked(ctx context.Context, w Window, doctorID *uuid.UUID) (bookedSet, error) {
	from := w.From.AddDays(-1).Time()
	to := w.To.AddDays(2).Time()
	starts, err := g.bookings.BookedStarts(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load booked starts: %w", err)
	}
	set := make(bookedSet, len(starts))
	for _, bs := range starts {
		set[bookedKey{doctor: bs.DoctorID, at: bs.Start.Unix()}] = struct{}{}
	}
	return set, nil
}

func (g *Generator) expand(scheds []*Schedule, booked bookedSet, w Window) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		for _, s := range scheds {
			if !g.expandSchedule(s, booked, w, yield) {
				return
			}
		}
	}
}

// expandSchedule yields the schedule's free slots in chronological order and
// reports whether the consumer wants more.
func (g *Generator) expandSchedule(s *Schedule, booked bookedSet, w Window, yield func(Slot) bool) bool {
	startMin, endMin, err := s.minutes()
	if err != nil || s.SlotMinutes <= 0 {
		g.logger.Warn().Str("schedule_id", s.ID.String()).Msg("skipping schedule with invalid shift bounds")
		return true
	}
	step := time.Duration(s.SlotMinutes) * time.Minute

	for d := w.From; !d.After(w.To); d = d.AddDays(1) {
		if !s.OnDate(d) {
			continue
		}
		for m := startMin; m < endMin; m += s.SlotMinutes {
			at, err := g.zone.At(d, m)
			if err != nil {
				g.skip(s, err)
				continue
			}
			if booked.has(s.DoctorID, at) {
				continue
			}
			g.metrics.SlotEmitted()
			slot := Slot{
				DoctorID:         s.DoctorID,
				DoctorLabel:      s.DoctorLabel,
				Start:            g.zone.Local(at),
				End:              g.zone.Local(at.Add(step)),
				SourceScheduleID: s.ID,
			}
			if !yield(slot) {
				return false
			}
		}
	}
	return true
}

func (g *Generator) skip(s *Schedule, err error) {
	reason := "error"
	var ne *civil.NormalizationError
	if errors.As(err, &ne) {
		reason = ne.Reason
	}
	g.metrics.SlotSkipped(reason)
	g.logger.Warn().Err(err).
		Str("schedule_id", s.ID.String()).
		Str("reason", reason).
		Msg("skipping slot that cannot be normalized")
}
