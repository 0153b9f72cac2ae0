package civil

import (
	"errors"
	"fmt"
	"time"
)

// ErrNormalization is matched by every *NormalizationError.
var ErrNormalization = errors.New("wall-clock time cannot be normalized")

// NormalizationError reports a local wall-clock time that does not map to
// exactly one instant in the facility timezone.
type NormalizationError struct {
	Date   Date
	Minute int
	Zone   string
	// Reason is "nonexistent" (DST gap) or "ambiguous" (DST overlap).
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s %02d:%02d is %s in %s", e.Date, e.Minute/60, e.Minute%60, e.Reason, e.Zone)
}

func (e *NormalizationError) Is(target error) bool {
	return target == ErrNormalization
}

// Zone is the facility timezone.
type Zone struct {
	loc *time.Location
}

func NewZone(loc *time.Location) Zone {
	if loc == nil {
		loc = time.UTC
	}
	return Zone{loc: loc}
}

// LoadZone resolves an IANA name.
func LoadZone(name string) (Zone, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{}, err
	}
	return NewZone(loc), nil
}

func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

func (z Zone) String() string { return z.Location().String() }

// probes around the requested wall time used to collect the UTC offsets in
// effect nearby. Transitions closer together than this do not occur in the
// tz database.
var offsetProbes = []time.Duration{-48 * time.Hour, -24 * time.Hour, -12 * time.Hour, 0, 12 * time.Hour, 24 * time.Hour, 48 * time.Hour}

// At converts a facility-local date and minute-of-day into a UTC instant.
// A wall time skipped by a forward DST transition, or repeated by a
// backward one, yields a *NormalizationError.
func (z Zone) At(d Date, minute int) (time.Time, error) {
	loc := z.Location()
	wall := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute)

	seen := make(map[int]bool, 2)
	var matches []time.Time
	for _, p := range offsetProbes {
		_, off := wall.Add(p).In(loc).Zone()
		if seen[off] {
			continue
		}
		seen[off] = true

		u := wall.Add(-time.Duration(off) * time.Second)
		if sameWall(u.In(loc), wall) {
			matches = append(matches, u.UTC())
		}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return time.Time{}, &NormalizationError{Date: d, Minute: minute, Zone: loc.String(), Reason: "nonexistent"}
	default:
		return time.Time{}, &NormalizationError{Date: d, Minute: minute, Zone: loc.String(), Reason: "ambiguous"}
	}
}

func sameWall(local, wall time.Time) bool {
	ly, lm, ld := local.Date()
	wy, wm, wd := wall.Date()
	return ly == wy && lm == wm && ld == wd &&
		local.Hour() == wall.Hour() && local.Minute() == wall.Minute()
}

// DateOf returns the facility calendar day containing instant t.
func (z Zone) DateOf(t time.Time) Date {
	return DateOf(t.In(z.Location()))
}

// MinuteOf returns the facility minute-of-day of instant t.
func (z Zone) MinuteOf(t time.Time) int {
	l := t.In(z.Location())
	return l.Hour()*60 + l.Minute()
}

// Local renders t in the facility timezone for output.
func (z Zone) Local(t time.Time) time.Time {
	return t.In(z.Location())
}

// Today is the facility date at instant now.
func (z Zone) Today(now time.Time) Date {
	return z.DateOf(now)
}

// ParseMinute parses "HH:MM" into a minute-of-day.
func ParseMinute(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatMinute renders a minute-of-day as "HH:MM".
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
