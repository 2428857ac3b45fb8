package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists every collection in Postgres. Change events are
// emitted by table triggers and consumed through PostgresChangeFeed.
type PostgresStore struct {
	db dbPool
}

// NewPostgresStore wraps a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("store: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithPool(db dbPool) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// validID guards uuid columns so malformed ids read as missing rows instead of SQL errors.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

const appointmentColumns = `id, patient_id, doctor_id, date, time, status, symptoms, amount,
	COALESCE(payment_method, ''), payment_status, refund_amount, reminder_sent,
	COALESCE(prescription, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, paymentStatus string
	if err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&a.Time,
		&status,
		&a.Symptoms,
		&a.Amount,
		&a.PaymentMethod,
		&paymentStatus,
		&a.RefundAmount,
		&a.ReminderSent,
		&a.Prescription,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = AppointmentStatus(status)
	a.PaymentStatus = PaymentStatus(paymentStatus)
	return &a, nil
}

// malformedIDs reports a filter on a uuid column that no row can match.
func malformedIDs(f AppointmentFilter) bool {
	return (f.PatientID != "" && !validID(f.PatientID)) || (f.DoctorID != "" && !validID(f.DoctorID))
}

func appointmentWhere(f AppointmentFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(expr string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.DoctorID != "" {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.Date != nil {
		add("date = $%d", Day(*f.Date))
	}
	if f.Time != "" {
		add("time = $%d", f.Time)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.From != nil {
		add("date >= $%d", Day(*f.From))
	}
	if f.Before != nil {
		add("date < $%d", Day(*f.Before))
	}
	if f.ReminderSent != nil {
		add("reminder_sent = $%d", *f.ReminderSent)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// GetAppointment implements AppointmentStore.
func (s *PostgresStore) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	appt, err := scanAppointment(s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get appointment: %w", err)
	}
	return appt, nil
}

// ListAppointments implements AppointmentStore.
func (s *PostgresStore) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	if malformedIDs(filter) {
		return []Appointment{}, nil
	}
	where, args := appointmentWhere(filter)
	query := `SELECT ` + appointmentColumns + ` FROM appointments` + where
	if filter.SortDesc {
		query += ` ORDER BY date DESC, time DESC, created_at DESC`
	} else {
		query += ` ORDER BY date ASC, time ASC, created_at ASC`
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan appointment: %w", err)
		}
		out = append(out, *appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list appointments: %w", err)
	}
	return out, nil
}

// CountAppointments implements AppointmentStore.
func (s *PostgresStore) CountAppointments(ctx context.Context, filter AppointmentFilter) (int, error) {
	if malformedIDs(filter) {
		return 0, nil
	}
	where, args := appointmentWhere(filter)
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM appointments`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count appointments: %w", err)
	}
	return n, nil
}

// ReserveAppointment implements AppointmentStore. The slot is serialized with a
// transaction-scoped advisory lock so the capacity check and insert are atomic.
func (s *PostgresStore) ReserveAppointment(ctx context.Context, appt *Appointment, capacity int) (*Appointment, error) {
	if appt == nil {
		return nil, fmt.Errorf("store: appointment required")
	}
	cp := *appt
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Date = Day(cp.Date)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, cp.SlotKey()); err != nil {
		return nil, fmt.Errorf("store: lock slot: %w", err)
	}

	var occupancy, held int
	if err := tx.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE patient_id = $4)
		FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND time = $3 AND status <> 'cancelled'
	`, cp.DoctorID, cp.Date, cp.Time, cp.PatientID).Scan(&occupancy, &held); err != nil {
		return nil, fmt.Errorf("store: count slot: %w", err)
	}
	if occupancy >= capacity {
		return nil, ErrCapacityExceeded
	}
	if held > 0 {
		return nil, ErrDuplicateBooking
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, date, time, status, symptoms, amount,
			payment_method, payment_status, reminder_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)
		RETURNING created_at, updated_at
	`,
		cp.ID,
		cp.PatientID,
		cp.DoctorID,
		cp.Date,
		cp.Time,
		string(cp.Status),
		cp.Symptoms,
		cp.Amount,
		cp.PaymentMethod,
		string(cp.PaymentStatus),
	).Scan(&cp.CreatedAt, &cp.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateBooking
		}
		return nil, fmt.Errorf("store: insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: commit reserve: %w", err)
	}
	return &cp, nil
}

// CancelAppointments implements AppointmentStore.
func (s *PostgresStore) CancelAppointments(ctx context.Context, cancellations []Cancellation) error {
	if len(cancellations) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range cancellations {
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET status = 'cancelled',
				refund_amount = $2,
				payment_status = COALESCE(NULLIF($3, ''), payment_status),
				updated_at = now()
			WHERE id = $1 AND status IN ('pending', 'confirmed')
		`, c.AppointmentID, c.RefundAmount, string(c.PaymentStatus))
		if err != nil {
			return fmt.Errorf("store: cancel appointment %s: %w", c.AppointmentID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotActive
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit cancel: %w", err)
	}
	return nil
}

// CompleteAppointment implements AppointmentStore.
func (s *PostgresStore) CompleteAppointment(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
	`, id)
	if err != nil {
		return fmt.Errorf("store: complete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotActive
	}
	return nil
}

// MarkReminderSent implements AppointmentStore.
func (s *PostgresStore) MarkReminderSent(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, `UPDATE appointments SET reminder_sent = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
