// Package period converts local business date ranges into UTC query windows and
// derives deterministic day/week/month bucket keys.
package period

import (
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// DateLayout is the wire format for local calendar dates.
const DateLayout = "2006-01-02"

// Window is a half-open-at-the-second UTC query window derived from inclusive local dates.
type Window struct {
	DateFrom time.Time // local midnight of the first day
	DateTo   time.Time // local midnight of the last day
	Start    time.Time // UTC instant of DateFrom 00:00:00
	End      time.Time // UTC instant of DateTo 23:59:59
	Location *time.Location
}

// LoadLocation resolves an IANA timezone, falling back to UTC for empty or unknown names.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// ParseDate parses a YYYY-MM-DD local date in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// Resolve converts inclusive local dates plus a timezone into a UTC window.
// Malformed dates and inverted ranges are validation errors; a malformed timezone is not.
func Resolve(from, to, tz string) (Window, error) {
	loc := LoadLocation(tz)
	fromDate, err := ParseDate(from, loc)
	if err != nil {
		return Window{}, shared.Invalid("date_from", "expected YYYY-MM-DD")
	}
	toDate, err := ParseDate(to, loc)
	if err != nil {
		return Window{}, shared.Invalid("date_to", "expected YYYY-MM-DD")
	}
	if fromDate.After(toDate) {
		return Window{}, shared.Invalid("date_from", "must not be after date_to")
	}
	return NewWindow(fromDate, toDate, loc), nil
}

// NewWindow builds a window from local calendar dates; only the Y/M/D of the inputs are used.
func NewWindow(fromDate, toDate time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	fy, fm, fd := fromDate.Date()
	ty, tm, td := toDate.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, loc)
	end := time.Date(ty, tm, td, 23, 59, 59, 0, loc)
	return Window{
		DateFrom: time.Date(fy, fm, fd, 0, 0, 0, 0, loc),
		DateTo:   time.Date(ty, tm, td, 0, 0, 0, 0, loc),
		Start:    start.UTC(),
		End:      end.UTC(),
		Location: loc,
	}
}

// Days returns the inclusive number of local calendar days covered.
func (w Window) Days() int {
	from := civilDays(w.DateFrom)
	to := civilDays(w.DateTo)
	return to - from + 1
}

// Contains reports whether ts falls inside the window, inclusive of the final second.
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End.Add(time.Second))
}

// ContainsLocal reports whether a zone-less wall-clock timestamp falls on a day inside the window.
func (w Window) ContainsLocal(wall time.Time) bool {
	y, m, d := wall.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, w.Location)
	return !day.Before(w.DateFrom) && !day.After(w.DateTo)
}

// Extend returns a window whose first day moves back by the given months, clamped to the 1st.
func (w Window) Extend(months int) Window {
	y, m, _ := w.DateFrom.Date()
	from := time.Date(y, m-time.Month(months), 1, 0, 0, 0, 0, w.Location)
	return NewWindow(from, w.DateTo, w.Location)
}

// FromString returns DateFrom as YYYY-MM-DD.
func (w Window) FromString() string { return w.DateFrom.Format(DateLayout) }

// ToString returns DateTo as YYYY-MM-DD.
func (w Window) ToString() string { return w.DateTo.Format(DateLayout) }

// civilDays counts days since the epoch for a calendar date, independent of DST.
func civilDays(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}
