package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gpresearch2025/ai-voice-agent/internal/config"
	"github.com/gpresearch2025/ai-voice-agent/internal/logger"
)

// IsOpen reports whether the business is open at now.
// The window is half-open [start, end); end < start wraps past midnight and
// start == end is an empty window. Invalid hours or timezones fail closed.
func IsOpen(hours config.BusinessHours, now time.Time) bool {
	w, err := hours.Parse()
	if err != nil {
		logger.Base().Error("business hours invalid, treating as closed", zap.Error(err))
		return false
	}

	local := now.In(w.Location)
	minute := local.Hour()*60 + local.Minute()

	// openedOn is the calendar day the current window opened on
	openedOn := local.Weekday()
	var open bool
	switch {
	case w.Start < w.End:
		open = minute >= w.Start && minute < w.End
	case w.Start > w.End:
		if minute >= w.Start {
			open = true
		} else if minute < w.End {
			open = true
			openedOn = local.AddDate(0, 0, -1).Weekday()
		}
	}

	if open && w.Days != nil && !w.Days[openedOn] {
		return false
	}
	return open
}

// ClosedMessage is spoken to after-hours callers before the voicemail beep
func ClosedMessage(s config.Settings) string {
	days := "every day"
	if len(s.Hours.Days) > 0 {
		days = describeDays(s.Hours.Days)
	}
	return fmt.Sprintf(
		"Thank you for calling %s. Our office is currently closed. "+
			"Our business hours are %s to %s, %s, %s time. "+
			"Please leave a message after the tone and we'll return your call on the next business day.",
		s.CompanyName, s.Hours.Start, s.Hours.End, days, s.Hours.Timezone)
}

func describeDays(days []time.Weekday) string {
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	if sameDays(days, weekdays) {
		return "Monday through Friday"
	}
	out := ""
	for i, d := range days {
		switch {
		case i == 0:
		case i == len(days)-1:
			out += " and "
		default:
			out += ", "
		}
		out += d.String()
	}
	return out
}

func sameDays(a, b []time.Weekday) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[time.Weekday]bool, len(a))
	for _, d := range a {
		set[d] = true
	}
	for _, d := range b {
		if !set[d] {
			return false
		}
	}
	return true
}
