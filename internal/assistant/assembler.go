// Package assistant answers patient questions with a language model grounded
// in the hospital roster and the patient's own records.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

const (
	upcomingLimit = 3
	pastLimit     = 5
	reportLimit   = 3
)

// Sentences rendered in place of an empty or unavailable section.
const (
	NoUpcomingAppointments = "No upcoming appointments found."
	NoPastAppointments     = "No past appointments found."
	NoMedicalReports       = "No medical reports found."
)

const (
	contextHeader = "=== USER SPECIFIC CONTEXT ==="
	contextFooter = "==========================="
	unknownDoctor = "Unknown Doctor"
)

// Assembler builds the per-patient context block. It reads the store directly.
type Assembler struct {
	store interface {
		store.AppointmentStore
		store.DoctorStore
		store.ReportStore
	}
	loc    *time.Location
	logger *logging.Logger
}

// NewAssembler builds an Assembler. loc decides which civil day is "today".
func NewAssembler(s store.Store, loc *time.Location, logger *logging.Logger) *Assembler {
	if s == nil {
		panic("assistant: store required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Assembler{store: s, loc: loc, logger: logger.Component("assistant.context")}
}

// Build returns the labelled context for patientID as of now. Each section is
// fetched concurrently and degrades to its "none found" sentence on error, so
// the result is never empty.
func (a *Assembler) Build(ctx context.Context, patientID string, now time.Time) string {
	var upcoming, past, reports []string
	if patientID != "" {
		today := store.Day(now.In(a.loc))
		doctors := newDoctorNames(a.store)

		var g errgroup.Group
		g.Go(func() error {
			upcoming = a.upcoming(ctx, patientID, today, doctors)
			return nil
		})
		g.Go(func() error {
			past = a.past(ctx, patientID, today, doctors)
			return nil
		})
		g.Go(func() error {
			reports = a.reports(ctx, patientID)
			return nil
		})
		_ = g.Wait()
	}

	var b strings.Builder
	b.WriteString(contextHeader + "\n")
	writeSection(&b, "UPCOMING APPOINTMENTS:", upcoming, NoUpcomingAppointments)
	writeSection(&b, "PAST APPOINTMENT HISTORY:", past, NoPastAppointments)
	writeSection(&b, "RECENT MEDICAL REPORTS:", reports, NoMedicalReports)
	b.WriteString(contextFooter + "\n")
	return b.String()
}

func writeSection(b *strings.Builder, title string, lines []string, none string) {
	if len(lines) == 0 {
		b.WriteString(none + "\n")
		return
	}
	b.WriteString(title + "\n")
	for _, line := range lines {
		b.WriteString("- " + line + "\n")
	}
}

func (a *Assembler) upcoming(ctx context.Context, patientID string, today time.Time, doctors *doctorNames) []string {
	appts, err := a.store.ListAppointments(ctx, store.AppointmentFilter{
		PatientID: patientID,
		Statuses:  []store.AppointmentStatus{store.StatusConfirmed},
		From:      &today,
		Limit:     upcomingLimit,
	})
	if err != nil {
		a.logger.Warn("upcoming appointments unavailable", "patient_id", patientID, "error", err)
		return nil
	}
	lines := make([]string, 0, len(appts))
	for _, appt := range appts {
		lines = append(lines, fmt.Sprintf("On %s at %s with Dr. %s (%s). Symptoms: %s. Payment: %s (%.2f). Prescription: %s",
			store.FormatDate(appt.Date), appt.Time, doctors.name(ctx, appt.DoctorID), doctors.specialization(ctx, appt.DoctorID),
			appt.Symptoms, appt.PaymentStatus, appt.Amount, orNone(appt.Prescription)))
	}
	return lines
}

func (a *Assembler) past(ctx context.Context, patientID string, today time.Time, doctors *doctorNames) []string {
	appts, err := a.store.ListAppointments(ctx, store.AppointmentFilter{
		PatientID: patientID,
		Before:    &today,
		SortDesc:  true,
		Limit:     pastLimit,
	})
	if err != nil {
		a.logger.Warn("past appointments unavailable", "patient_id", patientID, "error", err)
		return nil
	}
	lines := make([]string, 0, len(appts))
	for _, appt := range appts {
		lines = append(lines, fmt.Sprintf("On %s with Dr. %s. Status: %s. Payment: %s. Diagnosis/Notes: %s",
			store.FormatDate(appt.Date), doctors.name(ctx, appt.DoctorID), appt.Status, appt.PaymentStatus, orNone(appt.Prescription)))
	}
	return lines
}

func (a *Assembler) reports(ctx context.Context, patientID string) []string {
	details, err := a.store.ListReports(ctx, store.ReportFilter{PatientID: patientID, Limit: reportLimit})
	if err != nil {
		a.logger.Warn("reports unavailable", "patient_id", patientID, "error", err)
		return nil
	}
	lines := make([]string, 0, len(details))
	for _, r := range details {
		doctor := r.DoctorName
		if doctor == "" {
			doctor = unknownDoctor
		}
		lines = append(lines, fmt.Sprintf("Report from Dr. %s on %s: Diagnosis: %q. Prescriptions: %s",
			doctor, store.FormatDate(r.GeneratedAt), r.Diagnosis, FormatPrescriptions(r.Prescriptions)))
	}
	return lines
}

// FormatPrescriptions renders "medicine (frequency, duration)" entries joined by "; ".
func FormatPrescriptions(ps []store.Prescription) string {
	if len(ps) == 0 {
		return "None"
	}
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		duration := p.Duration
		if duration == "" {
			duration = "N/A"
		}
		parts = append(parts, fmt.Sprintf("%s (%s, %s)", p.Medicine, p.Frequency, duration))
	}
	return strings.Join(parts, "; ")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "None"
	}
	return s
}
