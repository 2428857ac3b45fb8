package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/medicare-plus/internal/cache"
	"github.com/wolfman30/medicare-plus/internal/store"
)

// DefaultCapacity is the number of patients one doctor slot can hold.
const DefaultCapacity = 6

// SlotRequest asks whether a patient may take a doctor slot.
type SlotRequest struct {
	DoctorID  string
	PatientID string
	Date      time.Time
	Time      string
}

// Decision is the allocator verdict. Reason is store.ErrCapacityExceeded or
// store.ErrDuplicateBooking when Allowed is false.
type Decision struct {
	Allowed bool
	Reason  error
}

// Allocator answers slot capacity questions. Reservations themselves go
// through store.AppointmentStore.ReserveAppointment.
type Allocator struct {
	store    store.AppointmentStore
	cache    *cache.ReadThrough
	capacity int
}

func NewAllocator(s store.AppointmentStore, rt *cache.ReadThrough, capacity int) *Allocator {
	if s == nil {
		panic("appointments: appointment store required")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Allocator{store: s, cache: rt, capacity: capacity}
}

// Capacity returns the per-slot limit.
func (a *Allocator) Capacity() int {
	return a.capacity
}

// CanBook checks capacity first, then the one-booking-per-patient rule.
func (a *Allocator) CanBook(ctx context.Context, req SlotRequest) (Decision, error) {
	date := store.Day(req.Date)
	label := req.Time
	if canonical, err := store.CanonicalSlotLabel(label); err == nil {
		label = canonical
	}
	filter := store.AppointmentFilter{
		DoctorID: req.DoctorID,
		Date:     &date,
		Time:     label,
		Statuses: []store.AppointmentStatus{store.StatusPending, store.StatusConfirmed, store.StatusCompleted},
	}
	occupancy, err := a.store.CountAppointments(ctx, filter)
	if err != nil {
		return Decision{}, fmt.Errorf("appointments: count slot: %w", err)
	}
	if occupancy >= a.capacity {
		return Decision{Reason: store.ErrCapacityExceeded}, nil
	}

	filter.PatientID = req.PatientID
	held, err := a.store.CountAppointments(ctx, filter)
	if err != nil {
		return Decision{}, fmt.Errorf("appointments: count patient slot: %w", err)
	}
	if held > 0 {
		return Decision{Reason: store.ErrDuplicateBooking}, nil
	}
	return Decision{Allowed: true}, nil
}

// SlotStatus maps each time label of the doctor's day to its non-cancelled
// occupancy. Labels without appointments are absent.
func (a *Allocator) SlotStatus(ctx context.Context, doctorID string, date time.Time) (map[string]int, error) {
	day := store.Day(date)
	return cache.Fetch(ctx, a.cache, cache.SlotStatusKey(doctorID, store.FormatDate(day)), cache.SlotStatusTTL,
		func(ctx context.Context) (map[string]int, error) {
			appts, err := a.store.ListAppointments(ctx, store.AppointmentFilter{
				DoctorID: doctorID,
				Date:     &day,
				Statuses: []store.AppointmentStatus{store.StatusPending, store.StatusConfirmed, store.StatusCompleted},
			})
			if err != nil {
				return nil, fmt.Errorf("appointments: slot status: %w", err)
			}
			counts := make(map[string]int)
			for _, appt := range appts {
				counts[appt.Time]++
			}
			return counts, nil
		})
}
