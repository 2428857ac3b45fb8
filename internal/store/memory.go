package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store and ChangeFeed used for local runs and tests.
type MemoryStore struct {
	mu              sync.RWMutex
	appointments    map[string]*Appointment
	doctors         map[string]*Doctor
	patients        map[string]*Patient
	admins          map[string]*Admin
	specializations map[string]*Specialization
	reports         map[string]*Report
	chats           map[string]*Chat
	feed            *broker
	now             func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		appointments:    make(map[string]*Appointment),
		doctors:         make(map[string]*Doctor),
		patients:        make(map[string]*Patient),
		admins:          make(map[string]*Admin),
		specializations: make(map[string]*Specialization),
		reports:         make(map[string]*Report),
		chats:           make(map[string]*Chat),
		feed:            newBroker(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe implements ChangeFeed.
func (m *MemoryStore) Subscribe(ctx context.Context, collection Collection) (<-chan ChangeEvent, error) {
	return m.feed.subscribe(ctx, collection), nil
}

// DroppedEvents reports how many change events were discarded because a subscriber fell behind.
func (m *MemoryStore) DroppedEvents() int {
	return m.feed.droppedCount()
}

// Close ends every subscription.
func (m *MemoryStore) Close() {
	m.feed.close()
}

func appointmentEvent(op Operation, a *Appointment) ChangeEvent {
	return ChangeEvent{
		Collection:  CollectionAppointments,
		Operation:   op,
		DocumentKey: a.ID,
		FullDocument: map[string]string{
			"patient_id": a.PatientID,
			"doctor_id":  a.DoctorID,
			"date":       FormatDate(a.Date),
		},
	}
}

// GetAppointment implements AppointmentStore.
func (m *MemoryStore) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	appt, ok := m.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *appt
	return &cp, nil
}

// ListAppointments implements AppointmentStore.
func (m *MemoryStore) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, appt := range m.appointments {
		if matchAppointment(appt, filter) {
			out = append(out, *appt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.SortDesc {
			return appointmentLess(&out[j], &out[i])
		}
		return appointmentLess(&out[i], &out[j])
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountAppointments implements AppointmentStore.
func (m *MemoryStore) CountAppointments(ctx context.Context, filter AppointmentFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, appt := range m.appointments {
		if matchAppointment(appt, filter) {
			n++
		}
	}
	return n, nil
}

// ReserveAppointment implements AppointmentStore.
func (m *MemoryStore) ReserveAppointment(ctx context.Context, appt *Appointment, capacity int) (*Appointment, error) {
	if appt == nil {
		return nil, fmt.Errorf("store: appointment required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := appt.SlotKey()
	occupancy, held := 0, false
	for _, existing := range m.appointments {
		if existing.Status == StatusCancelled || existing.SlotKey() != key {
			continue
		}
		occupancy++
		if existing.PatientID == appt.PatientID {
			held = true
		}
	}
	if occupancy >= capacity {
		return nil, ErrCapacityExceeded
	}
	if held {
		return nil, ErrDuplicateBooking
	}

	cp := *appt
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Date = Day(cp.Date)
	now := m.now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.appointments[cp.ID] = &cp
	m.feed.publish(appointmentEvent(OpInsert, &cp))
	out := cp
	return &out, nil
}

// CancelAppointments implements AppointmentStore.
func (m *MemoryStore) CancelAppointments(ctx context.Context, cancellations []Cancellation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cancellations {
		appt, ok := m.appointments[c.AppointmentID]
		if !ok {
			return ErrNotFound
		}
		if !appt.Status.Active() {
			return ErrNotActive
		}
	}
	now := m.now()
	for _, c := range cancellations {
		appt := m.appointments[c.AppointmentID]
		refund := c.RefundAmount
		appt.Status = StatusCancelled
		appt.RefundAmount = &refund
		if c.PaymentStatus != "" {
			appt.PaymentStatus = c.PaymentStatus
		}
		appt.UpdatedAt = now
		m.feed.publish(appointmentEvent(OpUpdate, appt))
	}
	return nil
}

// CompleteAppointment implements AppointmentStore.
func (m *MemoryStore) CompleteAppointment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appointments[id]
	if !ok {
		return ErrNotFound
	}
	if !appt.Status.Active() {
		return ErrNotActive
	}
	appt.Status = StatusCompleted
	appt.UpdatedAt = m.now()
	m.feed.publish(appointmentEvent(OpUpdate, appt))
	return nil
}

// MarkReminderSent implements AppointmentStore.
func (m *MemoryStore) MarkReminderSent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appointments[id]
	if !ok {
		return ErrNotFound
	}
	appt.ReminderSent = true
	appt.UpdatedAt = m.now()
	m.feed.publish(appointmentEvent(OpUpdate, appt))
	return nil
}

func matchAppointment(a *Appointment, f AppointmentFilter) bool {
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if f.Date != nil && !Day(a.Date).Equal(Day(*f.Date)) {
		return false
	}
	if f.Time != "" && a.Time != f.Time {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && Day(a.Date).Before(Day(*f.From)) {
		return false
	}
	if f.Before != nil && !Day(a.Date).Before(Day(*f.Before)) {
		return false
	}
	if f.ReminderSent != nil && a.ReminderSent != *f.ReminderSent {
		return false
	}
	return true
}

func appointmentLess(a, b *Appointment) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// GetDoctor implements DoctorStore.
func (m *MemoryStore) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.doctors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.hydrateDoctor(doc), nil
}

// ListDoctors implements DoctorStore.
func (m *MemoryStore) ListDoctors(ctx context.Context, filter DoctorFilter) ([]Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Doctor, 0, len(m.doctors))
	for _, doc := range m.doctors {
		if filter.SpecializationID != "" && doc.SpecializationID != filter.SpecializationID {
			continue
		}
		out = append(out, *m.hydrateDoctor(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) hydrateDoctor(doc *Doctor) *Doctor {
	cp := *doc
	cp.Availability = append([]Availability(nil), doc.Availability...)
	if spec, ok := m.specializations[doc.SpecializationID]; ok {
		cp.Specialization = spec.Name
	}
	return &cp
}

// UpsertDoctor implements DoctorStore.
func (m *MemoryStore) UpsertDoctor(ctx context.Context, doc *Doctor) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	op := OpUpdate
	now := m.now()
	if existing, ok := m.doctors[cp.ID]; !ok || cp.ID == "" {
		op = OpInsert
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		cp.CreatedAt = now
	} else {
		cp.CreatedAt = existing.CreatedAt
	}
	cp.UpdatedAt = now
	m.doctors[cp.ID] = &cp
	m.feed.publish(ChangeEvent{Collection: CollectionDoctors, Operation: op, DocumentKey: cp.ID})
	return m.hydrateDoctor(&cp), nil
}

// GetPatient implements PatientStore.
func (m *MemoryStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// UpsertPatient implements PatientStore.
func (m *MemoryStore) UpsertPatient(ctx context.Context, p *Patient) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	op := OpUpdate
	now := m.now()
	if existing, ok := m.patients[cp.ID]; !ok || cp.ID == "" {
		op = OpInsert
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		cp.CreatedAt = now
	} else {
		cp.CreatedAt = existing.CreatedAt
	}
	cp.UpdatedAt = now
	m.patients[cp.ID] = &cp
	m.feed.publish(ChangeEvent{Collection: CollectionPatients, Operation: op, DocumentKey: cp.ID})
	out := cp
	return &out, nil
}

// GetAdmin implements AdminStore.
func (m *MemoryStore) GetAdmin(ctx context.Context, id string) (*Admin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.admins[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// PutAdmin seeds an administrator account.
func (m *MemoryStore) PutAdmin(a *Admin) *Admin {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.admins[cp.ID] = &cp
	out := cp
	return &out
}

// ListSpecializations implements SpecializationStore.
func (m *MemoryStore) ListSpecializations(ctx context.Context) ([]Specialization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Specialization, 0, len(m.specializations))
	for _, s := range m.specializations {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetSpecializationByName implements SpecializationStore. Matching ignores case.
func (m *MemoryStore) GetSpecializationByName(ctx context.Context, name string) (*Specialization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.specializations {
		if strings.EqualFold(s.Name, strings.TrimSpace(name)) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// CreateSpecialization implements SpecializationStore.
func (m *MemoryStore) CreateSpecialization(ctx context.Context, s *Specialization) (*Specialization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.specializations {
		if strings.EqualFold(existing.Name, s.Name) {
			return nil, ErrDuplicate
		}
	}
	cp := *s
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.CreatedAt = m.now()
	m.specializations[cp.ID] = &cp
	m.feed.publish(ChangeEvent{Collection: CollectionSpecializations, Operation: OpInsert, DocumentKey: cp.ID})
	out := cp
	return &out, nil
}

// CreateReport implements ReportStore.
func (m *MemoryStore) CreateReport(ctx context.Context, r *Report) (*Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reports {
		if existing.AppointmentID == r.AppointmentID {
			return nil, ErrDuplicate
		}
	}
	cp := *r
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.GeneratedAt.IsZero() {
		cp.GeneratedAt = m.now()
	}
	cp.Prescriptions = append([]Prescription(nil), r.Prescriptions...)
	m.reports[cp.ID] = &cp
	m.feed.publish(ChangeEvent{
		Collection:  CollectionReports,
		Operation:   OpInsert,
		DocumentKey: cp.ID,
		FullDocument: map[string]string{
			"appointment_id": cp.AppointmentID,
			"patient_id":     cp.PatientID,
			"doctor_id":      cp.DoctorID,
		},
	})
	out := cp
	return &out, nil
}

// ListReports implements ReportStore. Results are newest first.
func (m *MemoryStore) ListReports(ctx context.Context, filter ReportFilter) ([]ReportDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ReportDetail
	for _, r := range m.reports {
		if filter.AppointmentID != "" && r.AppointmentID != filter.AppointmentID {
			continue
		}
		if filter.PatientID != "" && r.PatientID != filter.PatientID {
			continue
		}
		if filter.DoctorID != "" && r.DoctorID != filter.DoctorID {
			continue
		}
		detail := ReportDetail{Report: *r}
		detail.Prescriptions = append([]Prescription(nil), r.Prescriptions...)
		if doc, ok := m.doctors[r.DoctorID]; ok {
			detail.DoctorName = doc.Name
			if spec, ok := m.specializations[doc.SpecializationID]; ok {
				detail.Specialization = spec.Name
			}
		}
		if p, ok := m.patients[r.PatientID]; ok {
			detail.PatientName = p.Name
		}
		if appt, ok := m.appointments[r.AppointmentID]; ok {
			detail.AppointmentDate = appt.Date
			detail.AppointmentTime = appt.Time
		}
		out = append(out, detail)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetChat implements ChatStore. A missing chat is returned empty.
func (m *MemoryStore) GetChat(ctx context.Context, userID string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[userID]
	if !ok {
		return &Chat{UserID: userID, Messages: []ChatMessage{}}, nil
	}
	return &Chat{UserID: userID, Messages: append([]ChatMessage(nil), chat.Messages...)}, nil
}

// AppendChat implements ChatStore.
func (m *MemoryStore) AppendChat(ctx context.Context, userID string, msgs ...ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[userID]
	if !ok {
		chat = &Chat{UserID: userID}
		m.chats[userID] = chat
	}
	chat.Messages = append(chat.Messages, msgs...)
	return nil
}

var (
	_ Store      = (*MemoryStore)(nil)
	_ ChangeFeed = (*MemoryStore)(nil)
)
