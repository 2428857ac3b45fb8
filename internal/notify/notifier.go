package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// ErrNoRecipient is returned when the patient has no email address on file.
var ErrNoRecipient = errors.New("notify: patient has no email address")

// Notifier emails patients about their appointments.
type Notifier struct {
	email  EmailSender
	logger *logging.Logger
}

// NewNotifier creates a patient notifier.
func NewNotifier(email EmailSender, logger *logging.Logger) *Notifier {
	if email == nil {
		panic("notify: email sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{email: email, logger: logger.Component("notify")}
}

// BookingConfirmed sends the booking confirmation.
func (n *Notifier) BookingConfirmed(ctx context.Context, patient *store.Patient, doctor *store.Doctor, appt *store.Appointment) error {
	return n.deliver(ctx, "booking_confirmation", patient, doctor, appt, BookingConfirmationEmail)
}

// AppointmentReminder sends the day-before reminder.
func (n *Notifier) AppointmentReminder(ctx context.Context, patient *store.Patient, doctor *store.Doctor, appt *store.Appointment) error {
	return n.deliver(ctx, "appointment_reminder", patient, doctor, appt, ReminderEmail)
}

type template func(*store.Patient, *store.Doctor, *store.Appointment) EmailMessage

func (n *Notifier) deliver(ctx context.Context, kind string, patient *store.Patient, doctor *store.Doctor, appt *store.Appointment, build template) error {
	if patient == nil || strings.TrimSpace(patient.Email) == "" {
		return ErrNoRecipient
	}
	if appt == nil {
		return fmt.Errorf("notify: %s: appointment required", kind)
	}
	if err := n.email.Send(ctx, build(patient, doctor, appt)); err != nil {
		return fmt.Errorf("notify: %s: %w", kind, err)
	}
	n.logger.Info("patient notified", "kind", kind, "appointment_id", appt.ID, "patient_id", patient.ID)
	return nil
}
