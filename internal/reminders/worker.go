package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/medicare-plus/internal/notify"
	"github.com/wolfman30/medicare-plus/internal/observability/metrics"
	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// Notifier delivers the reminder to a patient.
type Notifier interface {
	AppointmentReminder(ctx context.Context, patient *store.Patient, doctor *store.Doctor, appt *store.Appointment) error
}

// Result summarises one reminder sweep.
type Result struct {
	Sent       int
	TotalFound int
}

// Worker emails patients the day before a confirmed appointment.
type Worker struct {
	store    store.Store
	notifier Notifier
	loc      *time.Location
	logger   *logging.Logger
	metrics  *metrics.ReminderMetrics
}

// NewWorker creates a reminder worker. loc decides which civil day is "tomorrow".
func NewWorker(s store.Store, notifier Notifier, loc *time.Location, logger *logging.Logger, m *metrics.ReminderMetrics) *Worker {
	if s == nil {
		panic("reminders: store required")
	}
	if notifier == nil {
		panic("reminders: notifier required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{store: s, notifier: notifier, loc: loc, logger: logger.Component("reminders"), metrics: m}
}

// SendDue reminds every confirmed, not-yet-reminded appointment dated tomorrow.
// Appointments whose patient has no email are counted as found but not sent.
func (w *Worker) SendDue(ctx context.Context, now time.Time) (Result, error) {
	tomorrow := store.Day(now.In(w.loc)).AddDate(0, 0, 1)
	notSent := false
	due, err := w.store.ListAppointments(ctx, store.AppointmentFilter{
		Date:         &tomorrow,
		Statuses:     []store.AppointmentStatus{store.StatusConfirmed},
		ReminderSent: &notSent,
	})
	if err != nil {
		return Result{}, fmt.Errorf("reminders: list due: %w", err)
	}

	res := Result{TotalFound: len(due)}
	if len(due) == 0 {
		return res, nil
	}
	w.logger.Info("processing due reminders", "date", store.FormatDate(tomorrow), "count", len(due))

	for i := range due {
		appt := &due[i]
		sent, err := w.remindOne(ctx, appt)
		switch {
		case err != nil:
			w.metrics.ObserveReminder("failed")
			w.logger.Error("reminder failed", "appointment_id", appt.ID, "error", err)
		case !sent:
			w.metrics.ObserveReminder("skipped")
		default:
			w.metrics.ObserveReminder("sent")
			res.Sent++
		}
	}
	return res, nil
}

func (w *Worker) remindOne(ctx context.Context, appt *store.Appointment) (bool, error) {
	patient, err := w.store.GetPatient(ctx, appt.PatientID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get patient: %w", err)
	}
	if patient.Email == "" {
		return false, nil
	}

	doctor, err := w.store.GetDoctor(ctx, appt.DoctorID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("get doctor: %w", err)
	}

	if err := w.notifier.AppointmentReminder(ctx, patient, doctor, appt); err != nil {
		if errors.Is(err, notify.ErrNoRecipient) {
			return false, nil
		}
		return false, fmt.Errorf("send: %w", err)
	}
	if err := w.store.MarkReminderSent(ctx, appt.ID); err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	w.logger.Info("reminder sent", "appointment_id", appt.ID, "patient_id", patient.ID)
	return true, nil
}

// Run sweeps every interval until ctx is done. A non-positive interval returns immediately.
func (w *Worker) Run(ctx context.Context, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		return
	}
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := w.SendDue(ctx, now())
			if err != nil {
				w.logger.Error("reminder sweep failed", "error", err)
				continue
			}
			if res.TotalFound > 0 {
				w.logger.Info("reminder sweep done", "sent", res.Sent, "total_found", res.TotalFound)
			}
		}
	}
}
