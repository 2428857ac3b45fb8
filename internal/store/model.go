package store

import (
	"time"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Active reports whether the appointment can still be cancelled or completed.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// ActiveStatuses lists the states that occupy a slot and may transition.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

// PaymentStatus tracks the money side of an appointment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentPaid     PaymentStatus = "Paid"
	PaymentRefunded PaymentStatus = "Refunded"
)

// Appointment is a booked patient visit in one doctor slot.
type Appointment struct {
	ID            string            `json:"id"`
	PatientID     string            `json:"patient_id"`
	DoctorID      string            `json:"doctor_id"`
	Date          time.Time         `json:"date"`
	Time          string            `json:"time"`
	Status        AppointmentStatus `json:"status"`
	Symptoms      string            `json:"symptoms"`
	Amount        float64           `json:"amount"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	PaymentStatus PaymentStatus     `json:"payment_status"`
	RefundAmount  *float64          `json:"refund_amount,omitempty"`
	ReminderSent  bool              `json:"reminder_sent"`
	Prescription  string            `json:"prescription,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// SlotKey identifies the capacity bucket the appointment occupies.
func (a *Appointment) SlotKey() string {
	return a.DoctorID + "|" + FormatDate(a.Date) + "|" + a.Time
}

// Frequency is how often a prescribed medicine is taken per day.
type Frequency string

const (
	FrequencyOnce   Frequency = "Once"
	FrequencyTwice  Frequency = "Twice"
	FrequencyThrice Frequency = "Thrice"
)

// Valid reports whether f is one of the accepted frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyTwice, FrequencyThrice:
		return true
	}
	return false
}

// Prescription is one medicine line in a report.
type Prescription struct {
	Medicine  string    `json:"medicine"`
	Frequency Frequency `json:"frequency"`
	Duration  string    `json:"duration,omitempty"`
}

// Report is the diagnostic report a doctor issues for an appointment.
type Report struct {
	ID            string         `json:"id"`
	AppointmentID string         `json:"appointment_id"`
	DoctorID      string         `json:"doctor_id"`
	PatientID     string         `json:"patient_id"`
	Diagnosis     string         `json:"diagnosis"`
	Prescriptions []Prescription `json:"prescriptions"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// ReportDetail is a report joined with the names the UI and assistant display.
type ReportDetail struct {
	Report
	DoctorName      string    `json:"doctor_name"`
	Specialization  string    `json:"specialization,omitempty"`
	PatientName     string    `json:"patient_name"`
	AppointmentDate time.Time `json:"appointment_date"`
	AppointmentTime string    `json:"appointment_time"`
}

// Availability is one weekday of a doctor's schedule as bookable slot labels.
type Availability struct {
	Day   string   `json:"day"`
	Slots []string `json:"slots"`
}

// Doctor is a bookable practitioner.
type Doctor struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Email            string         `json:"email"`
	SpecializationID string         `json:"specialization_id,omitempty"`
	Specialization   string         `json:"specialization,omitempty"`
	Experience       int            `json:"experience"`
	Fees             float64        `json:"fees"`
	Department       string         `json:"department"`
	Availability     []Availability `json:"availability"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Patient is a registered patient account.
type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Gender    string    `json:"gender"`
	DOB       time.Time `json:"dob"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Admin is a hospital administrator account.
type Admin struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Specialization groups doctors for filtering.
type Specialization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	ChatRoleUser ChatRole = "user"
	ChatRoleBot  ChatRole = "bot"
)

// ChatMessage is one turn of an assistant conversation.
type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat is the persisted assistant history of one account.
type Chat struct {
	UserID   string        `json:"user_id"`
	Messages []ChatMessage `json:"messages"`
}
