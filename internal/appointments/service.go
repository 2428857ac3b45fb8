package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/internal/observability/metrics"
	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var appointmentsTracer = otel.Tracer("medicare.internal.appointments")

// PaymentMethodRazorpay is captured at booking time and marks the appointment paid.
const PaymentMethodRazorpay = "Razorpay"

// DefaultFee applies when the doctor has no fee configured.
const DefaultFee = 500.0

// Background runs fire-and-forget side effects.
type Background interface {
	Submit(name string, fn func(context.Context) error) error
}

// Notifier tells the patient about a new booking.
type Notifier interface {
	BookingConfirmed(ctx context.Context, patient *store.Patient, doctor *store.Doctor, appt *store.Appointment) error
}

// Emitter pushes realtime events to an account's sockets.
type Emitter interface {
	Emit(room, event string, payload any) int
}

// ServiceConfig wires the appointment service.
type ServiceConfig struct {
	Store      store.Store
	Allocator  *Allocator
	Location   *time.Location
	DefaultFee float64
	Background Background
	Notifier   Notifier
	Emitter    Emitter
	Logger     *logging.Logger
	Metrics    *metrics.AppointmentMetrics
	Now        func() time.Time
}

// Service books and cancels appointments.
type Service struct {
	store      store.Store
	allocator  *Allocator
	loc        *time.Location
	defaultFee float64
	background Background
	notifier   Notifier
	emitter    Emitter
	logger     *logging.Logger
	metrics    *metrics.AppointmentMetrics
	now        func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Store == nil {
		panic("appointments: store required")
	}
	if cfg.Allocator == nil {
		cfg.Allocator = NewAllocator(cfg.Store, nil, DefaultCapacity)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DefaultFee <= 0 {
		cfg.DefaultFee = DefaultFee
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:      cfg.Store,
		allocator:  cfg.Allocator,
		loc:        cfg.Location,
		defaultFee: cfg.DefaultFee,
		background: cfg.Background,
		notifier:   cfg.Notifier,
		emitter:    cfg.Emitter,
		logger:     cfg.Logger.Component("appointments"),
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}
}

// Allocator exposes the slot allocator backing the service.
func (s *Service) Allocator() *Allocator {
	return s.allocator
}

// BookRequest is the patient-supplied part of a booking.
type BookRequest struct {
	DoctorID      string `json:"doctor_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Symptoms      string `json:"symptoms"`
	PaymentMethod string `json:"payment_method"`
}

func (r *BookRequest) validate() (time.Time, error) {
	if strings.TrimSpace(r.DoctorID) == "" {
		return time.Time{}, invalid("doctor_id", "doctor_id is required")
	}
	date, err := store.ParseDate(r.Date)
	if err != nil {
		return time.Time{}, invalid("date", "date must be YYYY-MM-DD")
	}
	label, err := store.CanonicalSlotLabel(r.Time)
	if err != nil {
		return time.Time{}, invalid("time", "time must be a slot label like 09:00-10:00")
	}
	r.Time = label
	r.Symptoms = strings.TrimSpace(r.Symptoms)
	if r.Symptoms == "" {
		return time.Time{}, invalid("symptoms", "symptoms are required")
	}
	return date, nil
}

// offersSlot reports whether label is one of the doctor's slots on the weekday
// of date. Doctors without published availability accept any label.
func offersSlot(doctor *store.Doctor, date time.Time, label string) bool {
	if len(doctor.Availability) == 0 {
		return true
	}
	weekday := date.Weekday().String()
	for _, day := range doctor.Availability {
		if !strings.EqualFold(strings.TrimSpace(day.Day), weekday) {
			continue
		}
		for _, slot := range day.Slots {
			if canonical, err := store.CanonicalSlotLabel(slot); err == nil && canonical == label {
				return true
			}
		}
	}
	return false
}

// Book reserves a slot for the patient and queues the confirmation email.
func (s *Service) Book(ctx context.Context, patientID string, req BookRequest) (*store.Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("medicare.doctor_id", req.DoctorID),
		attribute.String("medicare.patient_id", patientID),
	)

	date, err := req.validate()
	if err != nil {
		s.metrics.ObserveBooking("invalid")
		return nil, err
	}
	start, _ := StartInstant(date, req.Time, s.loc)
	if !start.After(s.now()) {
		s.metrics.ObserveBooking("invalid")
		return nil, invalid("date", "cannot book a slot that has already started")
	}

	doctor, err := s.store.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.ObserveBooking("doctor_not_found")
			return nil, ErrDoctorNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("appointments: load doctor: %w", err)
	}

	if !offersSlot(doctor, date, req.Time) {
		s.metrics.ObserveBooking("invalid")
		return nil, invalid("time", "Doctor is not available at this time")
	}

	fee := doctor.Fees
	if fee <= 0 {
		fee = s.defaultFee
	}
	paymentStatus := store.PaymentPending
	if req.PaymentMethod == PaymentMethodRazorpay {
		paymentStatus = store.PaymentPaid
	}

	appt, err := s.store.ReserveAppointment(ctx, &store.Appointment{
		PatientID:     patientID,
		DoctorID:      doctor.ID,
		Date:          date,
		Time:          req.Time,
		Status:        store.StatusConfirmed,
		Symptoms:      req.Symptoms,
		Amount:        fee,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: paymentStatus,
	}, s.allocator.Capacity())
	switch {
	case errors.Is(err, store.ErrCapacityExceeded):
		s.metrics.ObserveBooking("capacity_exceeded")
		return nil, err
	case errors.Is(err, store.ErrDuplicateBooking):
		s.metrics.ObserveBooking("duplicate")
		return nil, err
	case err != nil:
		span.RecordError(err)
		s.metrics.ObserveBooking("error")
		return nil, fmt.Errorf("appointments: reserve: %w", err)
	}

	s.metrics.ObserveBooking("booked")
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_id", appt.DoctorID,
		"patient_id", appt.PatientID,
		"date", store.FormatDate(appt.Date),
		"time", appt.Time,
		"payment_status", appt.PaymentStatus,
	)
	s.queueConfirmation(doctor, appt)
	return appt, nil
}

func (s *Service) queueConfirmation(doctor *store.Doctor, appt *store.Appointment) {
	if s.background == nil || s.notifier == nil {
		return
	}
	booked := *appt
	err := s.background.Submit("booking_confirmation", func(ctx context.Context) error {
		patient, err := s.store.GetPatient(ctx, booked.PatientID)
		if err != nil {
			return fmt.Errorf("load patient: %w", err)
		}
		return s.notifier.BookingConfirmed(ctx, patient, doctor, &booked)
	})
	if err != nil {
		s.logger.Warn("confirmation email not queued", "appointment_id", appt.ID, "error", err)
	}
}

// ListForActor returns the caller's appointments, newest first.
func (s *Service) ListForActor(ctx context.Context, actor accounts.Actor) ([]store.Appointment, error) {
	filter := store.AppointmentFilter{SortDesc: true}
	switch actor.Role {
	case accounts.RolePatient:
		filter.PatientID = actor.ID
	case accounts.RoleDoctor:
		filter.DoctorID = actor.ID
	case accounts.RoleAdmin:
	default:
		return nil, ErrForbidden
	}
	appts, err := s.store.ListAppointments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	if appts == nil {
		appts = []store.Appointment{}
	}
	return appts, nil
}
