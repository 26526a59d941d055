package notification

import (
	"fmt"
	"time"
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// NightWindow is the part of the day when opted-out users get no pushes.
// Start after End means the window wraps past midnight. Start equal to End
// is an empty window.
type NightWindow struct {
	Start    Clock
	End      Clock
	Location *time.Location
}

// NewNightWindow builds a window from "HH:MM" strings.
func NewNightWindow(start, end string, loc *time.Location) (NightWindow, error) {
	s, err := ParseClock(start)
	if err != nil {
		return NightWindow{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return NightWindow{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return NightWindow{Start: s, End: e, Location: loc}, nil
}

func (w NightWindow) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// Contains reports whether t falls inside the window.
func (w NightWindow) Contains(t time.Time) bool {
	local := t.In(w.location())
	m := local.Hour()*60 + local.Minute()
	start, end := w.Start.minutes(), w.End.minutes()
	switch {
	case start == end:
		return false
	case start < end:
		return m >= start && m < end
	default:
		return m >= start || m < end
	}
}

// NextBusinessTime returns the first instant at or after t outside the
// window: t itself during the day, otherwise the next window end.
func (w NightWindow) NextBusinessTime(t time.Time) time.Time {
	if !w.Contains(t) {
		return t
	}
	local := t.In(w.location())
	end := time.Date(local.Year(), local.Month(), local.Day(), w.End.Hour, w.End.Minute, 0, 0, w.location())
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}
