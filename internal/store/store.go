package store

import (
	"context"
	"time"
)

// AppointmentFilter narrows appointment queries. Zero values are ignored.
type AppointmentFilter struct {
	PatientID string
	DoctorID  string
	// Date matches a single civil day.
	Date *time.Time
	Time string
	// Statuses restricts to the listed states; empty means any.
	Statuses []AppointmentStatus
	// From and Before bound the civil day: From inclusive, Before exclusive.
	From         *time.Time
	Before       *time.Time
	ReminderSent *bool
	SortDesc     bool
	Limit        int
}

// ReportFilter narrows report queries.
type ReportFilter struct {
	AppointmentID string
	PatientID     string
	DoctorID      string
	Limit         int
}

// DoctorFilter narrows doctor listings.
type DoctorFilter struct {
	SpecializationID string
}

// Cancellation is one appointment transition to cancelled.
type Cancellation struct {
	AppointmentID string
	RefundAmount  float64
	PaymentStatus PaymentStatus
}

// AppointmentStore persists appointments.
type AppointmentStore interface {
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)
	CountAppointments(ctx context.Context, filter AppointmentFilter) (int, error)
	// ReserveAppointment inserts appt only if its slot holds fewer than capacity
	// active appointments and the patient has no active booking in it.
	ReserveAppointment(ctx context.Context, appt *Appointment, capacity int) (*Appointment, error)
	// CancelAppointments applies every cancellation or none. Each appointment must still be active.
	CancelAppointments(ctx context.Context, cancellations []Cancellation) error
	CompleteAppointment(ctx context.Context, id string) error
	MarkReminderSent(ctx context.Context, id string) error
}

// DoctorStore persists doctor profiles.
type DoctorStore interface {
	GetDoctor(ctx context.Context, id string) (*Doctor, error)
	ListDoctors(ctx context.Context, filter DoctorFilter) ([]Doctor, error)
	UpsertDoctor(ctx context.Context, doc *Doctor) (*Doctor, error)
}

// PatientStore persists patient profiles.
type PatientStore interface {
	GetPatient(ctx context.Context, id string) (*Patient, error)
	UpsertPatient(ctx context.Context, p *Patient) (*Patient, error)
}

// AdminStore persists administrator accounts.
type AdminStore interface {
	GetAdmin(ctx context.Context, id string) (*Admin, error)
}

// SpecializationStore persists specializations.
type SpecializationStore interface {
	ListSpecializations(ctx context.Context) ([]Specialization, error)
	GetSpecializationByName(ctx context.Context, name string) (*Specialization, error)
	CreateSpecialization(ctx context.Context, s *Specialization) (*Specialization, error)
}

// ReportStore persists diagnostic reports.
type ReportStore interface {
	CreateReport(ctx context.Context, r *Report) (*Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]ReportDetail, error)
}

// ChatStore persists assistant conversations.
type ChatStore interface {
	GetChat(ctx context.Context, userID string) (*Chat, error)
	AppendChat(ctx context.Context, userID string, msgs ...ChatMessage) error
}

// Store aggregates every collection.
type Store interface {
	AppointmentStore
	DoctorStore
	PatientStore
	AdminStore
	SpecializationStore
	ReportStore
	ChatStore
}
