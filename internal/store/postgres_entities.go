package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const doctorColumns = `d.id, d.name, d.email, COALESCE(d.specialization_id::text, ''), COALESCE(s.name, ''),
	d.experience, d.fees, d.department, d.availability, d.created_at, d.updated_at`

const doctorFrom = ` FROM doctors d LEFT JOIN specializations s ON s.id = d.specialization_id`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var availability []byte
	if err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Email,
		&d.SpecializationID,
		&d.Specialization,
		&d.Experience,
		&d.Fees,
		&d.Department,
		&availability,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(availability) > 0 {
		if err := json.Unmarshal(availability, &d.Availability); err != nil {
			return nil, fmt.Errorf("decode availability: %w", err)
		}
	}
	return &d, nil
}

// GetDoctor implements DoctorStore.
func (s *PostgresStore) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	doc, err := scanDoctor(s.db.QueryRow(ctx, `SELECT `+doctorColumns+doctorFrom+` WHERE d.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get doctor: %w", err)
	}
	return doc, nil
}

// ListDoctors implements DoctorStore.
func (s *PostgresStore) ListDoctors(ctx context.Context, filter DoctorFilter) ([]Doctor, error) {
	query := `SELECT ` + doctorColumns + doctorFrom
	var args []any
	if filter.SpecializationID != "" {
		query += ` WHERE d.specialization_id = $1`
		args = append(args, filter.SpecializationID)
	}
	query += ` ORDER BY d.name`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list doctors: %w", err)
	}
	defer rows.Close()

	out := []Doctor{}
	for rows.Next() {
		doc, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan doctor: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list doctors: %w", err)
	}
	return out, nil
}

// UpsertDoctor implements DoctorStore.
func (s *PostgresStore) UpsertDoctor(ctx context.Context, doc *Doctor) (*Doctor, error) {
	cp := *doc
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	availability, err := json.Marshal(cp.Availability)
	if err != nil {
		return nil, fmt.Errorf("store: encode availability: %w", err)
	}
	var specializationID any
	if cp.SpecializationID != "" {
		specializationID = cp.SpecializationID
	}
	if err := s.db.QueryRow(ctx, `
		INSERT INTO doctors (id, name, email, specialization_id, experience, fees, department, availability)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			specialization_id = EXCLUDED.specialization_id,
			experience = EXCLUDED.experience,
			fees = EXCLUDED.fees,
			department = EXCLUDED.department,
			availability = EXCLUDED.availability,
			updated_at = now()
		RETURNING created_at, updated_at
	`,
		cp.ID,
		cp.Name,
		strings.ToLower(strings.TrimSpace(cp.Email)),
		specializationID,
		cp.Experience,
		cp.Fees,
		cp.Department,
		availability,
	).Scan(&cp.CreatedAt, &cp.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("store: upsert doctor: %w", err)
	}
	return &cp, nil
}

// GetPatient implements PatientStore.
func (s *PostgresStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var p Patient
	err := s.db.QueryRow(ctx, `
		SELECT id, name, email, COALESCE(gender, ''), COALESCE(dob, '0001-01-01'::date), COALESCE(address, ''),
			created_at, updated_at
		FROM patients WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Gender, &p.DOB, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get patient: %w", err)
	}
	return &p, nil
}

// UpsertPatient implements PatientStore.
func (s *PostgresStore) UpsertPatient(ctx context.Context, p *Patient) (*Patient, error) {
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	var dob any
	if !cp.DOB.IsZero() {
		dob = Day(cp.DOB)
	}
	if err := s.db.QueryRow(ctx, `
		INSERT INTO patients (id, name, email, gender, dob, address)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			gender = EXCLUDED.gender,
			dob = EXCLUDED.dob,
			address = EXCLUDED.address,
			updated_at = now()
		RETURNING created_at, updated_at
	`, cp.ID, cp.Name, strings.ToLower(strings.TrimSpace(cp.Email)), cp.Gender, dob, cp.Address).
		Scan(&cp.CreatedAt, &cp.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("store: upsert patient: %w", err)
	}
	return &cp, nil
}

// GetAdmin implements AdminStore.
func (s *PostgresStore) GetAdmin(ctx context.Context, id string) (*Admin, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var a Admin
	err := s.db.QueryRow(ctx, `SELECT id, name, email, created_at FROM admins WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Email, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get admin: %w", err)
	}
	return &a, nil
}

// ListSpecializations implements SpecializationStore.
func (s *PostgresStore) ListSpecializations(ctx context.Context) ([]Specialization, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, COALESCE(description, ''), COALESCE(image, ''), created_at
		FROM specializations ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list specializations: %w", err)
	}
	defer rows.Close()

	out := []Specialization{}
	for rows.Next() {
		var sp Specialization
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.Description, &sp.Image, &sp.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan specialization: %w", err)
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list specializations: %w", err)
	}
	return out, nil
}

// GetSpecializationByName implements SpecializationStore. Matching ignores case.
func (s *PostgresStore) GetSpecializationByName(ctx context.Context, name string) (*Specialization, error) {
	var sp Specialization
	err := s.db.QueryRow(ctx, `
		SELECT id, name, COALESCE(description, ''), COALESCE(image, ''), created_at
		FROM specializations WHERE lower(name) = lower($1)
	`, strings.TrimSpace(name)).Scan(&sp.ID, &sp.Name, &sp.Description, &sp.Image, &sp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get specialization: %w", err)
	}
	return &sp, nil
}

// CreateSpecialization implements SpecializationStore.
func (s *PostgresStore) CreateSpecialization(ctx context.Context, sp *Specialization) (*Specialization, error) {
	cp := *sp
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if err := s.db.QueryRow(ctx, `
		INSERT INTO specializations (id, name, description, image)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, cp.ID, cp.Name, cp.Description, cp.Image).Scan(&cp.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("store: create specialization: %w", err)
	}
	return &cp, nil
}

// GetChat implements ChatStore. A missing chat is returned empty.
func (s *PostgresStore) GetChat(ctx context.Context, userID string) (*Chat, error) {
	chat := &Chat{UserID: userID, Messages: []ChatMessage{}}
	if !validID(userID) {
		return chat, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT role, text, created_at FROM chat_messages
		WHERE user_id = $1 ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: get chat: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg ChatMessage
		var role string
		if err := rows.Scan(&role, &msg.Text, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan chat message: %w", err)
		}
		msg.Role = ChatRole(role)
		chat.Messages = append(chat.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get chat: %w", err)
	}
	return chat, nil
}

// AppendChat implements ChatStore.
func (s *PostgresStore) AppendChat(ctx context.Context, userID string, msgs ...ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin chat append: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, msg := range msgs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_messages (user_id, role, text, created_at) VALUES ($1, $2, $3, $4)
		`, userID, string(msg.Role), msg.Text, msg.Timestamp); err != nil {
			return fmt.Errorf("store: append chat: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit chat append: %w", err)
	}
	return nil
}
