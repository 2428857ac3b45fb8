package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/internal/realtime"
	"github.com/wolfman30/medicare-plus/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// CancelRequest identifies the appointment and the caller cancelling it.
type CancelRequest struct {
	AppointmentID string
	Actor         accounts.Actor
	Now           time.Time
}

// CancelResult is returned to the caller of a single cancellation.
type CancelResult struct {
	Status           store.AppointmentStatus `json:"status"`
	RefundPercentage int                     `json:"refundPercentage"`
	RefundAmount     float64                 `json:"refundAmount"`
	Message          string                  `json:"message"`
}

// CancelledEvent is pushed to the patient when an appointment is cancelled.
type CancelledEvent struct {
	AppointmentID string              `json:"appointmentId"`
	DoctorID      string              `json:"doctorId"`
	Date          string              `json:"date"`
	Time          string              `json:"time"`
	CancelledBy   accounts.Role       `json:"cancelledBy"`
	RefundAmount  float64             `json:"refundAmount"`
	PaymentStatus store.PaymentStatus `json:"paymentStatus"`
}

// BulkCancelResult is returned by CancelAll.
type BulkCancelResult struct {
	Cancelled int    `json:"cancelled"`
	Message   string `json:"message"`
}

// Cancel moves one appointment to cancelled and computes its refund.
// Patients are refunded on the notice schedule, doctors must give at least
// two hours notice and always refund fully, admins override without a window.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("medicare.appointment_id", req.AppointmentID),
		attribute.String("medicare.actor_role", string(req.Actor.Role)),
	)
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}

	appt, err := s.store.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAppointmentNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("appointments: load: %w", err)
	}

	switch req.Actor.Role {
	case accounts.RolePatient:
		if appt.PatientID != req.Actor.ID {
			return nil, ErrForbidden
		}
	case accounts.RoleDoctor:
		if appt.DoctorID != req.Actor.ID {
			return nil, ErrForbidden
		}
	case accounts.RoleAdmin:
	default:
		return nil, ErrForbidden
	}

	switch appt.Status {
	case store.StatusCancelled:
		return nil, ErrAlreadyCancelled
	case store.StatusCompleted:
		return nil, ErrNotCancellable
	}

	start, err := StartInstant(appt.Date, appt.Time, s.loc)
	if err != nil {
		return nil, fmt.Errorf("appointments: appointment %s: %w", appt.ID, err)
	}
	diffHours := HoursUntil(start, now)

	var pct int
	var paymentStatus store.PaymentStatus
	switch req.Actor.Role {
	case accounts.RolePatient:
		pct = PatientRefundPercentage(diffHours)
	case accounts.RoleDoctor:
		if diffHours < MinNoticeHours {
			return nil, ErrTooLate
		}
		pct = 100
	case accounts.RoleAdmin:
		pct = 100
	}
	amount := RefundAmount(appt.Amount, pct)
	if req.Actor.Role != accounts.RolePatient || amount > 0 {
		paymentStatus = store.PaymentRefunded
	}

	err = s.store.CancelAppointments(ctx, []store.Cancellation{{
		AppointmentID: appt.ID,
		RefundAmount:  amount,
		PaymentStatus: paymentStatus,
	}})
	if err != nil {
		if errors.Is(err, store.ErrNotActive) {
			return nil, ErrAlreadyCancelled
		}
		span.RecordError(err)
		return nil, fmt.Errorf("appointments: cancel: %w", err)
	}

	s.metrics.ObserveCancellation(string(req.Actor.Role), pct, amount)
	s.logger.Info("appointment cancelled",
		"appointment_id", appt.ID,
		"actor_role", req.Actor.Role,
		"actor_id", req.Actor.ID,
		"hours_until_start", diffHours,
		"refund_percentage", pct,
		"refund_amount", amount,
	)
	s.pushCancelled([]CancelledEvent{cancelledEvent(appt, req.Actor.Role, amount, paymentStatus)}, []string{appt.PatientID})
	return &CancelResult{
		Status:           store.StatusCancelled,
		RefundPercentage: pct,
		RefundAmount:     amount,
		Message:          "Appointment cancelled successfully",
	}, nil
}

// CancelAll cancels every active appointment of the doctor, or none of them
// when any starts inside the notice window. Each cancelled appointment is
// refunded its own paid amount.
func (s *Service) CancelAll(ctx context.Context, doctorID string, now time.Time) (*BulkCancelResult, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.cancel_all")
	defer span.End()
	span.SetAttributes(attribute.String("medicare.doctor_id", doctorID))
	if now.IsZero() {
		now = s.now()
	}

	active, err := s.store.ListAppointments(ctx, store.AppointmentFilter{
		DoctorID: doctorID,
		Statuses: store.ActiveStatuses,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("appointments: list active: %w", err)
	}
	if len(active) == 0 {
		return &BulkCancelResult{Message: "No active appointments to cancel."}, nil
	}

	blocking := 0
	cancellations := make([]store.Cancellation, 0, len(active))
	events := make([]CancelledEvent, 0, len(active))
	patients := make([]string, 0, len(active))
	for _, appt := range active {
		start, err := StartInstant(appt.Date, appt.Time, s.loc)
		if err != nil {
			return nil, fmt.Errorf("appointments: appointment %s: %w", appt.ID, err)
		}
		if HoursUntil(start, now) < MinNoticeHours {
			blocking++
			continue
		}
		refund := RefundAmount(appt.Amount, 100)
		cancellations = append(cancellations, store.Cancellation{
			AppointmentID: appt.ID,
			RefundAmount:  refund,
			PaymentStatus: store.PaymentRefunded,
		})
		events = append(events, cancelledEvent(&appt, accounts.RoleDoctor, refund, store.PaymentRefunded))
		patients = append(patients, appt.PatientID)
	}
	if blocking > 0 {
		s.logger.Info("bulk cancellation blocked", "doctor_id", doctorID, "blocking", blocking)
		return nil, &SomeTooLateError{Count: blocking}
	}

	if err := s.store.CancelAppointments(ctx, cancellations); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("appointments: bulk cancel: %w", err)
	}
	for _, c := range cancellations {
		s.metrics.ObserveCancellation(string(accounts.RoleDoctor), 100, c.RefundAmount)
	}
	s.logger.Info("bulk cancellation complete", "doctor_id", doctorID, "cancelled", len(cancellations))
	s.pushCancelled(events, patients)
	return &BulkCancelResult{
		Cancelled: len(cancellations),
		Message:   fmt.Sprintf("Successfully cancelled all %d appointments.", len(cancellations)),
	}, nil
}

func cancelledEvent(appt *store.Appointment, by accounts.Role, refund float64, status store.PaymentStatus) CancelledEvent {
	if status == "" {
		status = appt.PaymentStatus
	}
	return CancelledEvent{
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		Date:          store.FormatDate(appt.Date),
		Time:          appt.Time,
		CancelledBy:   by,
		RefundAmount:  refund,
		PaymentStatus: status,
	}
}

// pushCancelled notifies each patient's sockets once the cancellations are committed.
func (s *Service) pushCancelled(events []CancelledEvent, patients []string) {
	if s.background == nil || s.emitter == nil || len(events) == 0 {
		return
	}
	err := s.background.Submit("cancellation_push", func(ctx context.Context) error {
		for i, evt := range events {
			s.emitter.Emit(patients[i], realtime.EventAppointmentCanceled, evt)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("cancellation push not queued", "count", len(events), "error", err)
	}
}
