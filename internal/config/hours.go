package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BusinessHours is the open window in local wall-clock time
type BusinessHours struct {
	Start    string         // "HH:MM"
	End      string         // "HH:MM"
	Timezone string         // IANA identifier
	Days     []time.Weekday // empty means every day
}

// Window is a parsed BusinessHours
type Window struct {
	Start    int // minutes since midnight
	End      int
	Location *time.Location
	Days     map[time.Weekday]bool
}

// Validate parses the hours and reports ErrConfigInvalid on failure
func (h BusinessHours) Validate() error {
	_, err := h.Parse()
	return err
}

// Parse resolves the clock strings and timezone
func (h BusinessHours) Parse() (Window, error) {
	start, err := ParseClock(h.Start)
	if err != nil {
		return Window{}, fmt.Errorf("business hours start: %w", err)
	}
	end, err := ParseClock(h.End)
	if err != nil {
		return Window{}, fmt.Errorf("business hours end: %w", err)
	}
	if strings.TrimSpace(h.Timezone) == "" {
		return Window{}, fmt.Errorf("%w: empty timezone", ErrConfigInvalid)
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return Window{}, fmt.Errorf("%w: timezone %q: %v", ErrConfigInvalid, h.Timezone, err)
	}

	w := Window{Start: start, End: end, Location: loc}
	if len(h.Days) > 0 {
		w.Days = make(map[time.Weekday]bool, len(h.Days))
		for _, d := range h.Days {
			w.Days[d] = true
		}
	}
	return w, nil
}

// String renders the hours for spoken messages
func (h BusinessHours) String() string {
	return fmt.Sprintf("%s to %s, %s time", h.Start, h.End, h.Timezone)
}

// ParseClock parses "HH:MM" into minutes since midnight
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: clock %q", ErrConfigInvalid, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: clock %q", ErrConfigInvalid, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: clock %q", ErrConfigInvalid, s)
	}
	return hour*60 + minute, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeekdays parses a comma list like "mon,tue,wed". "*" or "all" means every day.
func ParseWeekdays(s string) ([]time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "*" || s == "all" {
		return nil, nil
	}

	var days []time.Weekday
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if len(name) > 3 {
			name = name[:3]
		}
		day, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("%w: weekday %q", ErrConfigInvalid, part)
		}
		days = append(days, day)
	}
	return days, nil
}
