package services

import (
	"strings"
	"testing"
	"time"

	"github.com/gpresearch2025/ai-voice-agent/internal/config"
)

// 2024-06-05 is a Wednesday
func at(hour, minute int) time.Time {
	return time.Date(2024, 6, 5, hour, minute, 0, 0, time.UTC)
}

func TestIsOpenDaytimeBoundaries(t *testing.T) {
	hours := config.BusinessHours{Start: "09:00", End: "17:00", Timezone: "UTC"}

	tests := []struct {
		now  time.Time
		want bool
	}{
		{at(8, 59), false},
		{at(9, 0), true},
		{at(12, 0), true},
		{at(16, 59), true},
		{at(17, 0), false},
		{at(23, 0), false},
	}
	for _, tt := range tests {
		if got := IsOpen(hours, tt.now); got != tt.want {
			t.Errorf("IsOpen at %s = %v, want %v", tt.now.Format("15:04"), got, tt.want)
		}
	}
}

func TestIsOpenOvernight(t *testing.T) {
	hours := config.BusinessHours{Start: "22:00", End: "06:00", Timezone: "UTC"}

	tests := []struct {
		now  time.Time
		want bool
	}{
		{at(23, 0), true},
		{at(5, 0), true},
		{at(12, 0), false},
		{at(22, 0), true},
		{at(6, 0), false},
		{at(21, 59), false},
	}
	for _, tt := range tests {
		if got := IsOpen(hours, tt.now); got != tt.want {
			t.Errorf("IsOpen at %s = %v, want %v", tt.now.Format("15:04"), got, tt.want)
		}
	}
}

func TestIsOpenEmptyWindow(t *testing.T) {
	hours := config.BusinessHours{Start: "09:00", End: "09:00", Timezone: "UTC"}
	for _, now := range []time.Time{at(8, 59), at(9, 0), at(9, 1)} {
		if IsOpen(hours, now) {
			t.Fatalf("expected empty window to be closed at %s", now.Format("15:04"))
		}
	}
}

func TestIsOpenUsesTimezone(t *testing.T) {
	hours := config.BusinessHours{Start: "09:00", End: "17:00", Timezone: "America/New_York"}

	// 13:30 UTC is 09:30 EDT
	if !IsOpen(hours, at(13, 30)) {
		t.Fatal("expected open at 09:30 New York time")
	}
	// 12:30 UTC is 08:30 EDT
	if IsOpen(hours, at(12, 30)) {
		t.Fatal("expected closed at 08:30 New York time")
	}
}

func TestIsOpenFailsClosed(t *testing.T) {
	bad := []config.BusinessHours{
		{Start: "09:00", End: "17:00", Timezone: "Invalid/Zone"},
		{Start: "nine", End: "17:00", Timezone: "UTC"},
		{Start: "09:00", End: "25:00", Timezone: "UTC"},
	}
	for _, hours := range bad {
		if IsOpen(hours, at(12, 0)) {
			t.Errorf("expected %+v to fail closed", hours)
		}
	}
}

func TestIsOpenWeekdays(t *testing.T) {
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	hours := config.BusinessHours{Start: "09:00", End: "17:00", Timezone: "UTC", Days: weekdays}

	saturday := time.Date(2024, 6, 8, 12, 0, 0, 0, time.UTC)
	if IsOpen(hours, saturday) {
		t.Fatal("expected closed on Saturday")
	}
	if !IsOpen(hours, at(12, 0)) {
		t.Fatal("expected open on Wednesday")
	}

	// Friday night window runs into Saturday morning
	overnight := config.BusinessHours{Start: "22:00", End: "06:00", Timezone: "UTC", Days: weekdays}
	saturdayEarly := time.Date(2024, 6, 8, 2, 0, 0, 0, time.UTC)
	if !IsOpen(overnight, saturdayEarly) {
		t.Fatal("expected Friday's overnight window to be open early Saturday")
	}
	mondayEarly := time.Date(2024, 6, 10, 2, 0, 0, 0, time.UTC)
	if IsOpen(overnight, mondayEarly) {
		t.Fatal("expected Sunday's overnight window to be closed early Monday")
	}
}

func TestClosedMessage(t *testing.T) {
	s := config.Settings{
		CompanyName: "Acme",
		Hours: config.BusinessHours{
			Start: "09:00", End: "17:00", Timezone: "America/Chicago",
			Days: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		},
	}
	msg := ClosedMessage(s)
	for _, want := range []string{"Acme", "09:00 to 17:00", "Monday through Friday", "America/Chicago", "after the tone"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected closed message to contain %q, got %q", want, msg)
		}
	}

	s.Hours.Days = []time.Weekday{time.Saturday, time.Sunday}
	if msg := ClosedMessage(s); !strings.Contains(msg, "Saturday and Sunday") {
		t.Errorf("expected weekend days in %q", msg)
	}
}
