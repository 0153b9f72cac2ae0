package dailyplan

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinical-engine/internal/domain/assignment"
	"github.com/ehr/clinical-engine/internal/domain/clinsched"
	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

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

type apptKey struct {
	ref  clinref.Ref
	date civil.Date
}

// Project lays assignments out over the window. Medications and general
// treatments appear on every day they run; lab and instrumental orders
// appear on their start day, plus a result marker on the completion day
// when that differs. Entries inside a bucket are ordered by (start, id).
// The output depends only on the arguments.
func Project(items []assignment.Assignment, appts []*clinsched.Appointment, w Window, zone civil.Zone, opts Options) *Plan {
	plan := &Plan{From: w.From, To: w.To}
	for d := w.From; !d.After(w.To); d = d.AddDays(1) {
		plan.Days = append(plan.Days, Day{
			Date:               d,
			Medications:        []Entry{},
			GeneralTreatments:  []Entry{},
			LabOrders:          []Entry{},
			InstrumentalOrders: []Entry{},
		})
	}

	byDay := make(map[apptKey][]Appointment)
	for _, a := range appts {
		if a.ExecutionStatus == clinsched.ExecutionCancelled {
			continue
		}
		k := apptKey{ref: a.Ref(), date: a.ScheduledDate}
		byDay[k] = append(byDay[k], Appointment{Time: a.ScheduledTime, Status: a.ExecutionStatus})
	}

	sorted := make([]assignment.Assignment, 0, len(items))
	for _, a := range items {
		if opts.HideTerminated && terminated(a) {
			continue
		}
		sorted = append(sorted, a)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		bi, bj := sorted[i].Header(), sorted[j].Header()
		if !bi.Start.Equal(bj.Start) {
			return bi.Start.Before(bj.Start)
		}
		return lessUUID(bi.ID, bj.ID)
	})

	place := func(d civil.Date, a assignment.Assignment, m Marker) {
		day := plan.Day(d)
		if day == nil {
			return
		}
		e := entryOf(a, m)
		if m != MarkerResult {
			e.Appointments = byDay[apptKey{ref: assignment.Ref(a), date: d}]
		}
		b := day.bucket(a.Kind())
		*b = append(*b, e)
	}

	for _, a := range sorted {
		b := a.Header()
		startDay := zone.DateOf(b.Start)

		if a.Kind().IsOrder() {
			place(startDay, a, MarkerOrder)
			if done := completedAt(b); b.Status == clinref.StatusCompleted && done != nil {
				if doneDay := zone.DateOf(*done); doneDay != startDay {
					place(doneDay, a, MarkerResult)
				}
			}
			continue
		}

		from := startDay
		if from.Before(w.From) {
			from = w.From
		}
		to := effectiveEnd(a, startDay, zone, w)
		if to.After(w.To) {
			to = w.To
		}
		for d := from; !d.After(to); d = d.AddDays(1) {
			place(d, a, MarkerSpan)
		}
	}
	return plan
}

// effectiveEnd is the last day a spanning assignment runs: start plus
// duration for medications with one, else the end date, else open through
// the window.
func effectiveEnd(a assignment.Assignment, startDay civil.Date, zone civil.Zone, w Window) civil.Date {
	if m, ok := a.(*assignment.Medication); ok && m.DurationDays != nil {
		return startDay.AddDays(*m.DurationDays - 1)
	}
	if end := a.Header().End; end != nil {
		return zone.DateOf(*end)
	}
	return w.To
}

// completedAt is when an order was completed. End is the fallback for rows
// without a completion timestamp.
func completedAt(b *assignment.Base) *time.Time {
	if b.CompletedAt != nil {
		return b.CompletedAt
	}
	return b.End
}

func terminated(a assignment.Assignment) bool {
	s := a.Header().Status
	return s == clinref.StatusCancelled || s == clinref.StatusRejected
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func entryOf(a assignment.Assignment, m Marker) Entry {
	b := a.Header()
	e := Entry{
		Marker:    m,
		Kind:      a.Kind(),
		ID:        b.ID,
		Status:    b.Status,
		OrderedBy: b.OrderedBy,
		Start:     b.Start,
		End:       b.End,
	}
	switch v := a.(type) {
	case *assignment.Medication:
		e.Title = firstNonEmpty(v.MedicationName, v.MedicationCode)
		e.Detail = fmt.Sprintf("%s, %d times daily", v.Dosing, v.TimesPerDay)
		e.DurationDays = v.DurationDays
	case *assignment.GeneralTreatment:
		e.Title = v.Description
		e.Detail = deref(v.Instructions)
	case *assignment.LabOrder:
		e.Title = firstNonEmpty(v.LabTestName, v.LabTestCode)
		e.Detail = deref(v.Instructions)
	case *assignment.InstrumentalOrder:
		e.Title = firstNonEmpty(v.ProcedureName, v.ProcedureCode)
		e.Detail = deref(v.Instructions)
	}
	return e
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
