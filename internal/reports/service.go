// Package reports issues diagnostic reports and serves them through the read-through cache.
package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/internal/cache"
	"github.com/wolfman30/medicare-plus/internal/realtime"
	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

var reportsTracer = otel.Tracer("medicare.internal.reports")

var (
	ErrForbidden           = errors.New("reports: actor may not access report")
	ErrAppointmentNotFound = errors.New("reports: appointment not found")
	ErrReportNotFound      = errors.New("reports: report not found")

	// ErrReportExists is returned when the appointment already has a report.
	ErrReportExists = errors.New("reports: appointment already reported")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Background runs fire-and-forget side effects.
type Background interface {
	Submit(name string, fn func(context.Context) error) error
}

// Emitter pushes an event to a realtime room.
type Emitter interface {
	Emit(room, event string, payload any) int
}

// Service creates and reads reports.
type Service struct {
	store      store.Store
	cache      *cache.ReadThrough
	background Background
	emitter    Emitter
	logger     *logging.Logger
}

// NewService wires the report service. rt, background and emitter are optional.
func NewService(s store.Store, rt *cache.ReadThrough, background Background, emitter Emitter, logger *logging.Logger) *Service {
	if s == nil {
		panic("reports: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:      s,
		cache:      rt,
		background: background,
		emitter:    emitter,
		logger:     logger.Component("reports"),
	}
}

// CreateInput is the doctor-supplied body of a report.
type CreateInput struct {
	AppointmentID string               `json:"appointment_id"`
	Diagnosis     string               `json:"diagnosis"`
	Prescriptions []store.Prescription `json:"prescriptions"`
}

func (in *CreateInput) validate() error {
	if strings.TrimSpace(in.AppointmentID) == "" {
		return invalid("appointment_id", "appointment_id is required")
	}
	in.Diagnosis = strings.TrimSpace(in.Diagnosis)
	if in.Diagnosis == "" {
		return invalid("diagnosis", "Diagnosis is required")
	}
	for i := range in.Prescriptions {
		p := &in.Prescriptions[i]
		p.Medicine = strings.TrimSpace(p.Medicine)
		if p.Medicine == "" {
			return invalid(fmt.Sprintf("prescriptions[%d].medicine", i), "medicine is required")
		}
		if !p.Frequency.Valid() {
			return invalid(fmt.Sprintf("prescriptions[%d].frequency", i), "frequency must be Once, Twice or Thrice")
		}
	}
	return nil
}

// Create issues the report for an appointment the doctor attended, marks the
// appointment completed and pushes new_report to the patient.
func (s *Service) Create(ctx context.Context, actor accounts.Actor, in CreateInput) (*store.ReportDetail, error) {
	ctx, span := reportsTracer.Start(ctx, "reports.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("medicare.appointment_id", in.AppointmentID),
		attribute.String("medicare.doctor_id", actor.ID),
	)

	if actor.Role != accounts.RoleDoctor {
		return nil, ErrForbidden
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	appt, err := s.store.GetAppointment(ctx, in.AppointmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("reports: load appointment: %w", err)
	}
	if appt.DoctorID != actor.ID {
		return nil, ErrForbidden
	}
	if appt.Status == store.StatusCancelled {
		return nil, invalid("appointment_id", "cannot report on a cancelled appointment")
	}

	prescriptions := in.Prescriptions
	if prescriptions == nil {
		prescriptions = []store.Prescription{}
	}
	report, err := s.store.CreateReport(ctx, &store.Report{
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Diagnosis:     in.Diagnosis,
		Prescriptions: prescriptions,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrReportExists
		}
		span.RecordError(err)
		return nil, fmt.Errorf("reports: create: %w", err)
	}

	if appt.Status.Active() {
		if err := s.store.CompleteAppointment(ctx, appt.ID); err != nil {
			s.logger.Warn("appointment not marked completed", "appointment_id", appt.ID, "error", err)
		}
	}

	detail := &store.ReportDetail{
		Report:          *report,
		AppointmentDate: appt.Date,
		AppointmentTime: appt.Time,
	}
	if details, err := s.store.ListReports(ctx, store.ReportFilter{AppointmentID: appt.ID, Limit: 1}); err == nil && len(details) == 1 {
		detail = &details[0]
	}

	s.logger.Info("report created",
		"report_id", report.ID,
		"appointment_id", appt.ID,
		"doctor_id", appt.DoctorID,
		"patient_id", appt.PatientID,
		"prescriptions", len(prescriptions),
	)
	s.pushNewReport(detail)
	return detail, nil
}

func (s *Service) pushNewReport(detail *store.ReportDetail) {
	if s.background == nil || s.emitter == nil {
		return
	}
	payload := *detail
	err := s.background.Submit("report_push", func(ctx context.Context) error {
		s.emitter.Emit(payload.PatientID, realtime.EventNewReport, payload)
		return nil
	})
	if err != nil {
		s.logger.Warn("new_report push not queued", "report_id", detail.ID, "error", err)
	}
}

// ByAppointment returns the report for an appointment visible to actor.
func (s *Service) ByAppointment(ctx context.Context, actor accounts.Actor, appointmentID string) (*store.ReportDetail, error) {
	detail, err := cache.Fetch(ctx, s.cache, cache.ReportByAppointmentKey(appointmentID), cache.ReportsTTL,
		func(ctx context.Context) (*store.ReportDetail, error) {
			details, err := s.store.ListReports(ctx, store.ReportFilter{AppointmentID: appointmentID, Limit: 1})
			if err != nil {
				return nil, err
			}
			if len(details) == 0 {
				return nil, ErrReportNotFound
			}
			return &details[0], nil
		})
	if err != nil {
		if errors.Is(err, ErrReportNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("reports: by appointment: %w", err)
	}
	joined := []store.ReportDetail{*detail}
	s.currentNames(ctx, joined)
	detail = &joined[0]
	switch actor.Role {
	case accounts.RoleAdmin:
	case accounts.RolePatient:
		if detail.PatientID != actor.ID {
			return nil, ErrForbidden
		}
	case accounts.RoleDoctor:
		if detail.DoctorID != actor.ID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	return detail, nil
}

// ByPatient lists a patient's reports, newest first. Patients only see their own.
func (s *Service) ByPatient(ctx context.Context, actor accounts.Actor, patientID string) ([]store.ReportDetail, error) {
	if actor.Role == accounts.RolePatient && actor.ID != patientID {
		return nil, ErrForbidden
	}
	return s.list(ctx, cache.ReportsByPatientKey(patientID), store.ReportFilter{PatientID: patientID})
}

// ByDoctor lists the reports a doctor issued, newest first.
func (s *Service) ByDoctor(ctx context.Context, doctorID string) ([]store.ReportDetail, error) {
	return s.list(ctx, cache.ReportsByDoctorKey(doctorID), store.ReportFilter{DoctorID: doctorID})
}

func (s *Service) list(ctx context.Context, key string, filter store.ReportFilter) ([]store.ReportDetail, error) {
	details, err := cache.Fetch(ctx, s.cache, key, cache.ReportsTTL, func(ctx context.Context) ([]store.ReportDetail, error) {
		out, err := s.store.ListReports(ctx, filter)
		if out == nil {
			out = []store.ReportDetail{}
		}
		return out, err
	})
	if err != nil {
		return nil, fmt.Errorf("reports: list: %w", err)
	}
	s.currentNames(ctx, details)
	return details, nil
}

// currentNames overwrites the names cached with each report by the current
// profiles. Profile keys are evicted on every doctor or patient update, so a
// rename shows up before the report entry expires. Lookups that fail leave the
// cached names in place.
func (s *Service) currentNames(ctx context.Context, details []store.ReportDetail) {
	doctors := make(map[string]*store.Doctor)
	patients := make(map[string]*store.Patient)
	for i := range details {
		d := &details[i]
		doc, seen := doctors[d.DoctorID]
		if !seen {
			doc = s.doctorProfile(ctx, d.DoctorID)
			doctors[d.DoctorID] = doc
		}
		if doc != nil {
			d.DoctorName = doc.Name
			d.Specialization = doc.Specialization
		}
		pat, seen := patients[d.PatientID]
		if !seen {
			pat = s.patientProfile(ctx, d.PatientID)
			patients[d.PatientID] = pat
		}
		if pat != nil {
			d.PatientName = pat.Name
		}
	}
}

func (s *Service) doctorProfile(ctx context.Context, id string) *store.Doctor {
	doc, err := cache.Fetch(ctx, s.cache, cache.DoctorKey(id), cache.ProfileTTL, func(ctx context.Context) (*store.Doctor, error) {
		return s.store.GetDoctor(ctx, id)
	})
	if err != nil {
		s.logger.Debug("doctor profile unavailable for report", "doctor_id", id, "error", err)
		return nil
	}
	return doc
}

func (s *Service) patientProfile(ctx context.Context, id string) *store.Patient {
	pat, err := cache.Fetch(ctx, s.cache, cache.PatientKey(id), cache.ProfileTTL, func(ctx context.Context) (*store.Patient, error) {
		return s.store.GetPatient(ctx, id)
	})
	if err != nil {
		s.logger.Debug("patient profile unavailable for report", "patient_id", id, "error", err)
		return nil
	}
	return pat
}
