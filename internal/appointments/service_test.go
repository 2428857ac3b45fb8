package appointments

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

type syncBackground struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (b *syncBackground) Submit(name string, fn func(context.Context) error) error {
	err := fn(context.Background())
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append(b.names, name)
	b.errs = append(b.errs, err)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []string
	fails bool
}

func (n *recordingNotifier) BookingConfirmed(ctx context.Context, p *store.Patient, d *store.Doctor, a *store.Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails {
		return fmt.Errorf("smtp down")
	}
	n.sent = append(n.sent, p.Email+"|"+d.Name+"|"+a.Time)
	return nil
}

type pushed struct {
	room, event string
	payload     any
}

type recordingEmitter struct {
	mu     sync.Mutex
	pushes []pushed
}

func (e *recordingEmitter) Emit(room, event string, payload any) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pushes = append(e.pushes, pushed{room: room, event: event, payload: payload})
	return 1
}

type fixture struct {
	mem      *store.MemoryStore
	svc      *Service
	bg       *syncBackground
	notifier *recordingNotifier
	emitter  *recordingEmitter
	doctor   *store.Doctor
	patient  *store.Patient
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	ctx := context.Background()
	doc, err := mem.UpsertDoctor(ctx, &store.Doctor{Name: "Dr. Rao", Email: "rao@example.com", Fees: 800})
	require.NoError(t, err)
	pat, err := mem.UpsertPatient(ctx, &store.Patient{Name: "Asha", Email: "asha@example.com"})
	require.NoError(t, err)

	f := &fixture{
		mem:      mem,
		bg:       &syncBackground{},
		notifier: &recordingNotifier{},
		emitter:  &recordingEmitter{},
		doctor:   doc,
		patient:  pat,
		now:      time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(ServiceConfig{
		Store:      mem,
		Allocator:  NewAllocator(mem, nil, DefaultCapacity),
		Background: f.bg,
		Notifier:   f.notifier,
		Emitter:    f.emitter,
		Logger:     logging.Discard(),
		Now:        func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) book(t *testing.T, label string) *store.Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), f.patient.ID, BookRequest{
		DoctorID:      f.doctor.ID,
		Date:          "2026-03-10",
		Time:          label,
		Symptoms:      "fever",
		PaymentMethod: PaymentMethodRazorpay,
	})
	require.NoError(t, err)
	return appt
}

func TestBook_CreatesConfirmedAppointment(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, "10:00-11:00")
	assert.Equal(t, store.StatusConfirmed, appt.Status)
	assert.Equal(t, store.PaymentPaid, appt.PaymentStatus)
	assert.Equal(t, 800.0, appt.Amount)
	assert.Equal(t, []string{"booking_confirmation"}, f.bg.names)
	assert.Equal(t, []string{"asha@example.com|Dr. Rao|10:00-11:00"}, f.notifier.sent)
}

func TestBook_PendingPaymentAndDefaultFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	free, err := f.mem.UpsertDoctor(ctx, &store.Doctor{Name: "Dr. Free"})
	require.NoError(t, err)

	appt, err := f.svc.Book(ctx, f.patient.ID, BookRequest{
		DoctorID: free.ID, Date: "2026-03-10", Time: "10:00-11:00", Symptoms: "rash", PaymentMethod: "Cash",
	})
	require.NoError(t, err)
	assert.Equal(t, store.PaymentPending, appt.PaymentStatus)
	assert.Equal(t, DefaultFee, appt.Amount)
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := BookRequest{DoctorID: f.doctor.ID, Date: "2026-03-10", Time: "10:00-11:00", Symptoms: "fever"}

	cases := map[string]func(r *BookRequest){
		"symptoms": func(r *BookRequest) { r.Symptoms = "  " },
		"date":     func(r *BookRequest) { r.Date = "tomorrow" },
		"time":     func(r *BookRequest) { r.Time = "10am" },
		"past":     func(r *BookRequest) { r.Date = "2026-03-08" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := base
			mutate(&req)
			_, err := f.svc.Book(ctx, f.patient.ID, req)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}

	req := base
	req.DoctorID = "missing"
	_, err := f.svc.Book(ctx, f.patient.ID, req)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestBook_CapacityAndDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, "10:00-11:00")
	_, err := f.svc.Book(ctx, f.patient.ID, BookRequest{DoctorID: f.doctor.ID, Date: "2026-03-10", Time: "10:00-11:00", Symptoms: "again"})
	assert.ErrorIs(t, err, store.ErrDuplicateBooking)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Book(ctx, fmt.Sprintf("pat-%d", i), BookRequest{DoctorID: f.doctor.ID, Date: "2026-03-10", Time: "10:00-11:00", Symptoms: "x"})
		require.NoError(t, err)
	}
	_, err = f.svc.Book(ctx, "pat-late", BookRequest{DoctorID: f.doctor.ID, Date: "2026-03-10", Time: "10:00-11:00", Symptoms: "x"})
	assert.ErrorIs(t, err, store.ErrCapacityExceeded)
}

func TestBook_ConcurrentRequestsRespectCapacity(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	booked := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), fmt.Sprintf("pat-%d", i), BookRequest{
				DoctorID: f.doctor.ID, Date: "2026-03-10", Time: "10:00-11:00", Symptoms: "x",
			})
			if err == nil {
				mu.Lock()
				booked++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, DefaultCapacity, booked)
}

func TestBook_ConfirmationFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	f.notifier.fails = true

	appt := f.book(t, "10:00-11:00")
	assert.NotEmpty(t, appt.ID)
	require.Len(t, f.bg.errs, 1)
	assert.Error(t, f.bg.errs[0])
}

func TestCancel_PatientRefundSchedule(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		now        time.Time
		pct        int
		amount     float64
		wantStatus store.PaymentStatus
	}{
		{"more than six hours", start.Add(-7 * time.Hour), 100, 800, store.PaymentRefunded},
		{"exactly six hours", start.Add(-6 * time.Hour), 50, 400, store.PaymentRefunded},
		{"three hours", start.Add(-3 * time.Hour), 50, 400, store.PaymentRefunded},
		{"exactly two hours", start.Add(-2 * time.Hour), 0, 0, store.PaymentPaid},
		{"after start", start.Add(time.Hour), 0, 0, store.PaymentPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			appt := f.book(t, "10:00-11:00")

			res, err := f.svc.Cancel(context.Background(), CancelRequest{
				AppointmentID: appt.ID,
				Actor:         accounts.Actor{ID: f.patient.ID, Role: accounts.RolePatient},
				Now:           tt.now,
			})
			require.NoError(t, err)
			assert.Equal(t, store.StatusCancelled, res.Status)
			assert.Equal(t, tt.pct, res.RefundPercentage)
			assert.Equal(t, tt.amount, res.RefundAmount)

			got, err := f.mem.GetAppointment(context.Background(), appt.ID)
			require.NoError(t, err)
			assert.Equal(t, store.StatusCancelled, got.Status)
			assert.Equal(t, tt.wantStatus, got.PaymentStatus)
			require.NotNil(t, got.RefundAmount)
			assert.Equal(t, tt.amount, *got.RefundAmount)
		})
	}
}

func TestCancel_Doctor(t *testing.T) {
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	f := newFixture(t)
	appt := f.book(t, "10:00-11:00")
	doctor := accounts.Actor{ID: f.doctor.ID, Role: accounts.RoleDoctor}

	_, err := f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, Actor: doctor, Now: start.Add(-119 * time.Minute)})
	assert.ErrorIs(t, err, ErrTooLate)
	got, err := f.mem.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusConfirmed, got.Status, "too-late cancellation leaves the appointment untouched")

	res, err := f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, Actor: doctor, Now: start.Add(-2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 100, res.RefundPercentage)
	assert.Equal(t, 800.0, res.RefundAmount)
	got, err = f.mem.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PaymentRefunded, got.PaymentStatus)
}

func TestCancel_Authorization(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, "10:00-11:00")
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, Actor: accounts.Actor{ID: "someone-else", Role: accounts.RolePatient}})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, Actor: accounts.Actor{ID: "other-doc", Role: accounts.RoleDoctor}})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Cancel(ctx, CancelRequest{AppointmentID: "nope", Actor: accounts.Actor{ID: f.patient.ID, Role: accounts.RolePatient}})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	res, err := f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, Actor: accounts.Actor{ID: "admin-1", Role: accounts.RoleAdmin}})
	require.NoError(t, err)
	assert.Equal(t, 100, res.RefundPercentage)
}

func TestCancel_RepeatedAndCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := accounts.Actor{ID: f.patient.ID, Role: accounts.RolePatient}

	appt := f.book(t, "10:00-11:00")
	_, err := f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, Actor: patient})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, Actor: patient})
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	done := f.book(t, "11:00-12:00")
	require.NoError(t, f.mem.CompleteAppointment(ctx, done.ID))
	_, err = f.svc.Cancel(ctx, CancelRequest{AppointmentID: done.ID, Actor: patient})
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancelAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CancelAll(ctx, f.doctor.ID, f.now)
	require.NoError(t, err)
	assert.Equal(t, "No active appointments to cancel.", res.Message)

	a := f.book(t, "10:00-11:00")
	b := f.book(t, "15:00-16:00")

	// 08:30 on the appointment day leaves 1.5h before the 10:00 slot.
	blockedAt := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	_, err = f.svc.CancelAll(ctx, f.doctor.ID, blockedAt)
	var tooLate *SomeTooLateError
	require.ErrorAs(t, err, &tooLate)
	assert.Equal(t, 1, tooLate.Count)
	for _, id := range []string{a.ID, b.ID} {
		got, err := f.mem.GetAppointment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusConfirmed, got.Status, "blocked bulk cancel changes nothing")
	}

	res, err = f.svc.CancelAll(ctx, f.doctor.ID, f.now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Cancelled)
	assert.Equal(t, "Successfully cancelled all 2 appointments.", res.Message)
	for _, id := range []string{a.ID, b.ID} {
		got, err := f.mem.GetAppointment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusCancelled, got.Status)
		assert.Equal(t, store.PaymentRefunded, got.PaymentStatus)
		require.NotNil(t, got.RefundAmount)
		assert.Equal(t, 800.0, *got.RefundAmount)
	}
}

func TestCancel_PushesEventToPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, "10:00-11:00")

	// 09:00 on the day is one hour before the slot: no refund, status stays paid.
	late := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err := f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, Actor: accounts.Actor{ID: f.patient.ID, Role: accounts.RolePatient}, Now: late})
	require.NoError(t, err)

	require.Len(t, f.emitter.pushes, 1)
	push := f.emitter.pushes[0]
	assert.Equal(t, f.patient.ID, push.room)
	assert.Equal(t, "appointment_cancelled", push.event)
	assert.Equal(t, CancelledEvent{
		AppointmentID: appt.ID,
		DoctorID:      f.doctor.ID,
		Date:          "2026-03-10",
		Time:          "10:00-11:00",
		CancelledBy:   accounts.RolePatient,
		RefundAmount:  0,
		PaymentStatus: store.PaymentPaid,
	}, push.payload)
}

func TestCancelAll_PushesOneEventPerAppointment(t *testing.T) {
	f := newFixture(t)
	f.book(t, "10:00-11:00")
	f.book(t, "15:00-16:00")

	_, err := f.svc.CancelAll(context.Background(), f.doctor.ID, f.now)
	require.NoError(t, err)
	require.Len(t, f.emitter.pushes, 2)
	for _, p := range f.emitter.pushes {
		assert.Equal(t, f.patient.ID, p.room)
		evt := p.payload.(CancelledEvent)
		assert.Equal(t, accounts.RoleDoctor, evt.CancelledBy)
		assert.Equal(t, store.PaymentRefunded, evt.PaymentStatus)
	}
}

func TestListForActor(t *testing.T) {
	f := newFixture(t)
	f.book(t, "10:00-11:00")

	mine, err := f.svc.ListForActor(context.Background(), accounts.Actor{ID: f.patient.ID, Role: accounts.RolePatient})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	none, err := f.svc.ListForActor(context.Background(), accounts.Actor{ID: "x", Role: accounts.RoleDoctor})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBook_SlotSpellingsShareOneBucket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spellings := []string{"09:00-10:00", "9:00-10:00", "09:00 - 10:00", " 9:00-10:00", "9:00 -10:00"}

	for i := 0; i < DefaultCapacity; i++ {
		p, err := f.mem.UpsertPatient(ctx, &store.Patient{Name: fmt.Sprintf("Patient %d", i)})
		require.NoError(t, err)
		appt, err := f.svc.Book(ctx, p.ID, BookRequest{
			DoctorID: f.doctor.ID, Date: "2026-03-10", Time: spellings[i%len(spellings)], Symptoms: "cough",
		})
		require.NoError(t, err)
		assert.Equal(t, "09:00-10:00", appt.Time)
	}

	late, err := f.mem.UpsertPatient(ctx, &store.Patient{Name: "Late"})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, late.ID, BookRequest{
		DoctorID: f.doctor.ID, Date: "2026-03-10", Time: "9:00 - 10:00", Symptoms: "cough",
	})
	assert.ErrorIs(t, err, store.ErrCapacityExceeded)
}

func TestBook_SamePatientCannotRespellSlot(t *testing.T) {
	f := newFixture(t)
	f.book(t, "09:00-10:00")

	_, err := f.svc.Book(context.Background(), f.patient.ID, BookRequest{
		DoctorID: f.doctor.ID, Date: "2026-03-10", Time: "9:00-10:00", Symptoms: "fever",
	})
	assert.ErrorIs(t, err, store.ErrDuplicateBooking)
}

func TestBook_RejectsInvertedLabel(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Book(context.Background(), f.patient.ID, BookRequest{
		DoctorID: f.doctor.ID, Date: "2026-03-10", Time: "10:00-09:00", Symptoms: "fever",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "time", verr.Field)
}

func TestBook_HonoursPublishedAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.doctor.Availability = []store.Availability{{Day: "Tuesday", Slots: []string{"9:00-10:00"}}}
	_, err := f.mem.UpsertDoctor(ctx, f.doctor)
	require.NoError(t, err)

	// 2026-03-10 is a Tuesday.
	appt := f.book(t, "09:00 - 10:00")
	assert.Equal(t, "09:00-10:00", appt.Time)

	_, err = f.svc.Book(ctx, f.patient.ID, BookRequest{
		DoctorID: f.doctor.ID, Date: "2026-03-10", Time: "11:00-12:00", Symptoms: "fever",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Doctor is not available at this time", verr.Message)

	_, err = f.svc.Book(ctx, f.patient.ID, BookRequest{
		DoctorID: f.doctor.ID, Date: "2026-03-11", Time: "09:00-10:00", Symptoms: "fever",
	})
	assert.ErrorAs(t, err, &verr)
}
