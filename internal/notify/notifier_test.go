package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(ctx context.Context, msg EmailMessage) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

var (
	asha = &store.Patient{ID: "p1", Name: "Asha", Email: "asha@example.com"}
	rao  = &store.Doctor{ID: "d1", Name: "Rao"}
	appt = &store.Appointment{
		ID:       "a1",
		Date:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Time:     "10:00-11:00",
		Symptoms: "chest pain",
	}
)

func TestNotifier_BookingConfirmed(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, logging.Discard())

	require.NoError(t, n.BookingConfirmed(context.Background(), asha, rao, appt))
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "asha@example.com", msg.To)
	assert.Equal(t, "Appointment Confirmation - HealthCare+", msg.Subject)
	assert.Equal(t, `Dear Asha,

Your appointment with Dr. Rao has been successfully booked.

Details:
Date: 2026-03-10
Time: 10:00-11:00
Symptoms: chest pain

Thank you for choosing HealthCare+.`, msg.Body)
}

func TestNotifier_AppointmentReminder(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, logging.Discard())

	require.NoError(t, n.AppointmentReminder(context.Background(), asha, rao, appt))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Appointment Reminder - HealthCare+", sender.sent[0].Subject)
	assert.Equal(t, `Dear Asha,

This is a reminder for your appointment tomorrow.

Details:
Doctor: Dr. Rao
Date: Tue Mar 10 2026
Time: 10:00-11:00

Please join on time.

HealthCare+ Team`, sender.sent[0].Body)
}

func TestNotifier_MissingSymptomsAndDoctor(t *testing.T) {
	msg := BookingConfirmationEmail(asha, nil, &store.Appointment{Date: appt.Date, Time: appt.Time})
	assert.Contains(t, msg.Body, "Symptoms: N/A")
	assert.Contains(t, msg.Body, "Dr. Unknown")
}

func TestNotifier_Errors(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, logging.Discard())

	err := n.BookingConfirmed(context.Background(), &store.Patient{ID: "p2", Name: "NoMail"}, rao, appt)
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.Empty(t, sender.sent)

	sender.err = errors.New("smtp down")
	err = n.AppointmentReminder(context.Background(), asha, rao, appt)
	assert.ErrorContains(t, err, "appointment_reminder")
	assert.ErrorContains(t, err, "smtp down")
}

func TestNewNotifier_RequiresSender(t *testing.T) {
	assert.Panics(t, func() { NewNotifier(nil, nil) })
}
