package cache

import (
	"strings"
	"time"
)

const (
	SpecializationsTTL = 86400 * time.Second
	ReportsTTL         = 3600 * time.Second
	ProfileTTL         = 3600 * time.Second
	SlotStatusTTL      = 60 * time.Second
)

// SpecializationsKey holds the full specialization listing.
const SpecializationsKey = "specializations:all"

func DoctorKey(id string) string { return "doctor:" + id }
func PatientKey(id string) string { return "patient:" + id }
func ReportsByPatientKey(id string) string { return "reports:patient:" + id }
func ReportsByDoctorKey(id string) string { return "reports:doctor:" + id }
func ReportByAppointmentKey(id string) string { return "reports:appointment:" + id }

// SlotStatusKey holds the per-label occupancy of one doctor day; date is YYYY-MM-DD.
func SlotStatusKey(doctorID, date string) string {
	return "slots:" + doctorID + ":" + date
}

// Namespace is the leading segment of key, used as a metric label.
func Namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
