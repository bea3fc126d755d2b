package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
)

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO patients (id, full_name, document_id, created_at)
		VALUES (:id, :full_name, :document_id, :created_at)`, patient)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id string) (*model.Patient, error) {
	var p model.Patient
	err := r.db.GetContext(ctx, &p, `
		SELECT id, full_name, document_id, created_at FROM patients WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &p, nil
}

func (r *patientRepository) List(ctx context.Context, f model.PatientFilter) ([]*model.Patient, error) {
	query := `SELECT p.id, p.full_name, p.document_id, p.created_at FROM patients p`
	var args []interface{}
	if f.DoctorID != "" {
		args = append(args, f.DoctorID)
		query += ` JOIN doctor_patients dp ON dp.patient_id = p.id WHERE dp.doctor_id = $1`
	}
	query += ` ORDER BY p.full_name, p.id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	patients := []*model.Patient{}
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

type doctorRepository struct {
	BaseRepository
}

func NewDoctorRepository(base BaseRepository) repository.DoctorRepository {
	return &doctorRepository{base}
}

func (r *doctorRepository) Create(ctx context.Context, doctor *model.Doctor) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO doctors (id, full_name, license_number, created_at)
		VALUES (:id, :full_name, :license_number, :created_at)`, doctor)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert doctor: %w", err)
	}
	return nil
}

func (r *doctorRepository) Get(ctx context.Context, id string) (*model.Doctor, error) {
	var d model.Doctor
	err := r.db.GetContext(ctx, &d, `
		SELECT id, full_name, license_number, created_at FROM doctors WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}
	return &d, nil
}

type assignmentRepository struct {
	BaseRepository
}

func NewAssignmentRepository(base BaseRepository) repository.AssignmentRepository {
	return &assignmentRepository{base}
}

func (r *assignmentRepository) Assign(ctx context.Context, a *model.Assignment) error {
	// The no-op update lets RETURNING report the current owner.
	var owner string
	err := r.db.GetContext(ctx, &owner, `
		INSERT INTO doctor_patients (patient_id, doctor_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO UPDATE SET patient_id = EXCLUDED.patient_id
		RETURNING doctor_id`, a.PatientID, a.DoctorID, a.AssignedAt)
	if err != nil {
		return fmt.Errorf("failed to assign patient: %w", err)
	}
	if owner != a.DoctorID {
		return repository.ErrConflict
	}
	return nil
}

func (r *assignmentRepository) Unassign(ctx context.Context, doctorID, patientID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM doctor_patients WHERE patient_id = $1 AND doctor_id = $2`, patientID, doctorID)
	if err != nil {
		return fmt.Errorf("failed to unassign patient: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *assignmentRepository) Get(ctx context.Context, patientID string) (*model.Assignment, error) {
	var a model.Assignment
	err := r.db.GetContext(ctx, &a, `
		SELECT doctor_id, patient_id, assigned_at FROM doctor_patients WHERE patient_id = $1`, patientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &a, nil
}

type medicationRepository struct {
	BaseRepository
}

func NewMedicationRepository(base BaseRepository) repository.MedicationRepository {
	return &medicationRepository{base}
}

func (r *medicationRepository) Create(ctx context.Context, m *model.Medication) error {
	err := r.db.GetContext(ctx, &m.ID, `
		INSERT INTO medications (code, name) VALUES ($1, $2) RETURNING id`, m.Code, m.Name)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert medication: %w", err)
	}
	return nil
}

func (r *medicationRepository) GetByCode(ctx context.Context, code string) (*model.Medication, error) {
	var m model.Medication
	err := r.db.GetContext(ctx, &m, `
		SELECT id, code, name FROM medications WHERE lower(code) = lower($1)`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get medication: %w", err)
	}
	return &m, nil
}

func (r *medicationRepository) List(ctx context.Context, query string, limit int) ([]*model.Medication, error) {
	q := `SELECT id, code, name FROM medications`
	var args []interface{}
	if query = strings.TrimSpace(query); query != "" {
		args = append(args, "%"+escapeLike(query)+"%")
		q += ` WHERE code ILIKE $1 OR name ILIKE $1`
	}
	q += ` ORDER BY name`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	meds := []*model.Medication{}
	if err := r.db.SelectContext(ctx, &meds, q, args...); err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}
	return meds, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
