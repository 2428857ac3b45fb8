package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateReport implements ReportStore. The unique index on appointment_id
// maps to ErrDuplicate.
func (s *PostgresStore) CreateReport(ctx context.Context, r *Report) (*Report, error) {
	cp := *r
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.Prescriptions == nil {
		cp.Prescriptions = []Prescription{}
	}
	prescriptions, err := json.Marshal(cp.Prescriptions)
	if err != nil {
		return nil, fmt.Errorf("store: encode prescriptions: %w", err)
	}
	if err := s.db.QueryRow(ctx, `
		INSERT INTO reports (id, appointment_id, doctor_id, patient_id, diagnosis, prescriptions)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING generated_at
	`, cp.ID, cp.AppointmentID, cp.DoctorID, cp.PatientID, cp.Diagnosis, prescriptions).Scan(&cp.GeneratedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("store: create report: %w", err)
	}
	return &cp, nil
}

// ListReports implements ReportStore. Results are newest first.
func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]ReportDetail, error) {
	var clauses []string
	var args []any
	for _, f := range []struct {
		column string
		value  string
	}{
		{"r.appointment_id", filter.AppointmentID},
		{"r.patient_id", filter.PatientID},
		{"r.doctor_id", filter.DoctorID},
	} {
		if f.value == "" {
			continue
		}
		if !validID(f.value) {
			return []ReportDetail{}, nil
		}
		args = append(args, f.value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", f.column, len(args)))
	}

	query := `
		SELECT r.id, r.appointment_id, r.doctor_id, r.patient_id, r.diagnosis, r.prescriptions, r.generated_at,
			COALESCE(d.name, ''), COALESCE(sp.name, ''), COALESCE(p.name, ''), a.date, a.time
		FROM reports r
		JOIN appointments a ON a.id = r.appointment_id
		LEFT JOIN doctors d ON d.id = r.doctor_id
		LEFT JOIN specializations sp ON sp.id = d.specialization_id
		LEFT JOIN patients p ON p.id = r.patient_id`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY r.generated_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list reports: %w", err)
	}
	defer rows.Close()

	out := []ReportDetail{}
	for rows.Next() {
		var d ReportDetail
		var prescriptions []byte
		if err := rows.Scan(
			&d.ID,
			&d.AppointmentID,
			&d.DoctorID,
			&d.PatientID,
			&d.Diagnosis,
			&prescriptions,
			&d.GeneratedAt,
			&d.DoctorName,
			&d.Specialization,
			&d.PatientName,
			&d.AppointmentDate,
			&d.AppointmentTime,
		); err != nil {
			return nil, fmt.Errorf("store: scan report: %w", err)
		}
		if len(prescriptions) > 0 {
			if err := json.Unmarshal(prescriptions, &d.Prescriptions); err != nil {
				return nil, fmt.Errorf("store: decode prescriptions: %w", err)
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list reports: %w", err)
	}
	return out, nil
}
