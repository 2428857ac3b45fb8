package store

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the civil-day format used for appointment dates.
const DateLayout = "2006-01-02"

// ParseDate parses a civil day. It also accepts RFC3339 timestamps and keeps their day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: invalid date %q", s)
	}
	return Day(t), nil
}

// FormatDate renders the civil day of t.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Day truncates t to midnight UTC of its own calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseSlotLabel splits an "HH:MM-HH:MM" label into its start and end clock offsets.
func ParseSlotLabel(label string) (start, end time.Duration, err error) {
	parts := strings.Split(strings.TrimSpace(label), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("store: invalid slot label %q", label)
	}
	if start, err = parseClock(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("store: invalid slot label %q", label)
	}
	if end, err = parseClock(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("store: invalid slot label %q", label)
	}
	return start, end, nil
}

// CanonicalSlotLabel normalises label to zero-padded "HH:MM-HH:MM" so every
// spelling of a slot shares one capacity bucket. The end must follow the start.
func CanonicalSlotLabel(label string) (string, error) {
	start, end, err := ParseSlotLabel(label)
	if err != nil {
		return "", err
	}
	if end <= start {
		return "", fmt.Errorf("store: slot label %q ends before it starts", label)
	}
	return formatClock(start) + "-" + formatClock(end), nil
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
