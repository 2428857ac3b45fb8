package notify

import (
	"fmt"
	"strings"

	"github.com/wolfman30/medicare-plus/internal/store"
)

const (
	confirmationSubject = "Appointment Confirmation - HealthCare+"
	reminderSubject     = "Appointment Reminder - HealthCare+"

	// reminderDateLayout renders dates like "Tue Mar 10 2026".
	reminderDateLayout = "Mon Jan 02 2006"
)

// BookingConfirmationEmail builds the message sent right after a booking.
func BookingConfirmationEmail(patient *store.Patient, doctor *store.Doctor, appt *store.Appointment) EmailMessage {
	symptoms := strings.TrimSpace(appt.Symptoms)
	if symptoms == "" {
		symptoms = "N/A"
	}
	body := fmt.Sprintf(`Dear %s,

Your appointment with Dr. %s has been successfully booked.

Details:
Date: %s
Time: %s
Symptoms: %s

Thank you for choosing HealthCare+.`,
		patient.Name, doctorName(doctor), store.FormatDate(appt.Date), appt.Time, symptoms)

	return EmailMessage{
		To:      patient.Email,
		ToName:  patient.Name,
		Subject: confirmationSubject,
		Body:    body,
	}
}

// ReminderEmail builds the day-before reminder.
func ReminderEmail(patient *store.Patient, doctor *store.Doctor, appt *store.Appointment) EmailMessage {
	body := fmt.Sprintf(`Dear %s,

This is a reminder for your appointment tomorrow.

Details:
Doctor: Dr. %s
Date: %s
Time: %s

Please join on time.

HealthCare+ Team`,
		patient.Name, doctorName(doctor), appt.Date.Format(reminderDateLayout), appt.Time)

	return EmailMessage{
		To:      patient.Email,
		ToName:  patient.Name,
		Subject: reminderSubject,
		Body:    body,
	}
}

func doctorName(d *store.Doctor) string {
	if d == nil || d.Name == "" {
		return "Unknown"
	}
	return d.Name
}
