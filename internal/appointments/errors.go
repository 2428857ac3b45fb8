package appointments

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned when the actor does not own the appointment.
	ErrForbidden = errors.New("appointments: actor does not own appointment")

	// ErrTooLate is returned when a doctor cancels inside the minimum notice window.
	ErrTooLate = errors.New("appointments: inside minimum notice window")

	// ErrAlreadyCancelled is returned for a repeated cancellation.
	ErrAlreadyCancelled = errors.New("appointments: already cancelled")

	// ErrNotCancellable is returned when the appointment has been completed.
	ErrNotCancellable = errors.New("appointments: appointment completed")

	ErrDoctorNotFound      = errors.New("appointments: doctor not found")
	ErrAppointmentNotFound = errors.New("appointments: appointment not found")
)

// SomeTooLateError blocks a bulk cancellation; Count appointments start inside the notice window.
type SomeTooLateError struct {
	Count int
}

func (e *SomeTooLateError) Error() string {
	return fmt.Sprintf("appointments: %d appointments inside minimum notice window", e.Count)
}

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
