package appointments

import (
	"math"
	"time"

	"github.com/wolfman30/medicare-plus/internal/store"
)

const (
	// FullRefundHours is the notice above which a patient gets everything back.
	FullRefundHours = 6.0
	// MinNoticeHours is the window below which patients get nothing and doctors cannot cancel.
	MinNoticeHours = 2.0
)

// StartInstant combines the civil date with the start of the slot label in loc.
func StartInstant(date time.Time, label string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, _, err := store.ParseSlotLabel(label)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(start), nil
}

// HoursUntil is the signed number of hours from now to start.
func HoursUntil(start, now time.Time) float64 {
	return start.Sub(now).Hours()
}

// PatientRefundPercentage applies the patient schedule: more than 6h is 100,
// more than 2h is 50, anything else is 0.
func PatientRefundPercentage(diffHours float64) int {
	switch {
	case diffHours > FullRefundHours:
		return 100
	case diffHours > MinNoticeHours:
		return 50
	default:
		return 0
	}
}

// RefundAmount is paid × pct / 100, rounded to paise.
func RefundAmount(paid float64, pct int) float64 {
	if paid <= 0 || pct <= 0 {
		return 0
	}
	return math.Round(paid*float64(pct)) / 100
}
