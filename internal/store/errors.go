package store

import "errors"

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrCapacityExceeded is returned when a slot already holds its capacity of active appointments.
	ErrCapacityExceeded = errors.New("store: slot capacity exceeded")

	// ErrDuplicateBooking is returned when the patient already holds an active appointment in the slot.
	ErrDuplicateBooking = errors.New("store: patient already booked this slot")

	// ErrNotActive is returned when a conditional transition finds the appointment no longer pending/confirmed.
	ErrNotActive = errors.New("store: appointment is not active")

	// ErrDuplicate is returned when a unique attribute (specialization name, report per appointment) is taken.
	ErrDuplicate = errors.New("store: duplicate record")
)
