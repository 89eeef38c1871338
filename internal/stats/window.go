package stats

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is the granularity of an aggregated series.
type Mode string

const (
	ModeDay   Mode = "day"
	ModeWeek  Mode = "week"
	ModeMonth Mode = "month"
	ModeYear  Mode = "year"
)

var (
	// ErrInvalidMode is returned for an unknown mode string.
	ErrInvalidMode = errors.New("stats: invalid mode")

	// ErrInvalidStart is returned when the start date cannot be parsed.
	ErrInvalidStart = errors.New("stats: invalid start date")
)

// ParseMode parses a mode name. The empty string selects ModeDay.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeDay, nil
	case ModeDay, ModeWeek, ModeMonth, ModeYear:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q (want day, week, month or year)", ErrInvalidMode, s)
	}
}

// ParseStart parses a calendar date ("2006-01-02") in loc, or a full
// RFC 3339 timestamp whose date in loc is used.
func ParseStart(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q (want YYYY-MM-DD)", ErrInvalidStart, s)
}

// Window is the half-open interval [Start, End) covered by a series,
// expressed in the display location.
type Window struct {
	Mode  Mode
	Start time.Time
	End   time.Time
}

// NewWindow returns the calendar window of mode that contains the date of
// start in loc. Weeks run Monday to Sunday, so a Sunday start selects the
// week that ends on it.
func NewWindow(mode Mode, start time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := start.In(loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)

	w := Window{Mode: mode}
	switch mode {
	case ModeDay:
		w.Start = day
		w.End = day.AddDate(0, 0, 1)
	case ModeWeek:
		sinceMonday := (int(day.Weekday()) + 6) % 7
		w.Start = day.AddDate(0, 0, -sinceMonday)
		w.End = w.Start.AddDate(0, 0, 7)
	case ModeMonth:
		w.Start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		w.End = w.Start.AddDate(0, 1, 0)
	case ModeYear:
		w.Start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		w.End = w.Start.AddDate(1, 0, 0)
	default:
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return w, nil
}

// Label renders t (any location) as the bucket label for this window's mode.
func (w Window) Label(t time.Time) string {
	t = t.In(w.Start.Location())
	switch w.Mode {
	case ModeDay:
		return fmt.Sprintf("%02d:00", t.Hour())
	case ModeYear:
		return t.Format("01/2006")
	default:
		return t.Format("02/01")
	}
}

// BucketStarts returns the start of every calendar unit in the window, in order.
func (w Window) BucketStarts() []time.Time {
	var starts []time.Time
	for t := w.Start; t.Before(w.End); t = w.next(t) {
		starts = append(starts, t)
	}
	return starts
}

func (w Window) next(t time.Time) time.Time {
	switch w.Mode {
	case ModeDay:
		return t.Add(time.Hour)
	case ModeYear:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
