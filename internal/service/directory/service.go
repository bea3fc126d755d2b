// Package directory keeps the patient, doctor and medication records that
// prescriptions refer to, and the doctor-patient assignments that decide
// who may prescribe to whom.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
	"github.com/jwalitptl/rx-ledger/internal/service/audit"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
)

const maxListLimit = 500

type Deps struct {
	Patients    repository.PatientRepository
	Doctors     repository.DoctorRepository
	Assignments repository.AssignmentRepository
	Medications repository.MedicationRepository
	Auditor     *audit.Service

	EnforceAssignment bool
	EnforceCatalog    bool
}

type Service struct {
	patients    repository.PatientRepository
	doctors     repository.DoctorRepository
	assignments repository.AssignmentRepository
	medications repository.MedicationRepository
	auditor     *audit.Service

	enforceAssignment bool
	enforceCatalog    bool
	now               func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		patients:          d.Patients,
		doctors:           d.Doctors,
		assignments:       d.Assignments,
		medications:       d.Medications,
		auditor:           d.Auditor,
		enforceAssignment: d.EnforceAssignment,
		enforceCatalog:    d.EnforceCatalog,
		now:               time.Now,
	}
}

func (s *Service) CreatePatient(ctx context.Context, p model.Principal, req model.CreatePatientRequest) (*model.Patient, error) {
	if !p.IsAdmin() {
		return nil, apperrors.Forbidden("only admins can register patients")
	}
	patient := &model.Patient{
		ID:         strings.TrimSpace(req.ID),
		FullName:   strings.TrimSpace(req.FullName),
		DocumentID: trimmed(req.DocumentID),
		CreatedAt:  s.now().UTC(),
	}
	if patient.ID == "" || patient.FullName == "" {
		return nil, apperrors.Validation("id and fullname are required", nil)
	}

	err := s.patients.Create(ctx, patient)
	if errors.Is(err, repository.ErrConflict) {
		return nil, apperrors.InvalidState("patient " + patient.ID + " already exists")
	}
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	s.auditor.Log(ctx, audit.Entry{Actor: p, Action: model.AuditActionRegister, EntityType: model.AuditEntityPatient, EntityID: patient.ID})
	return patient, nil
}

func (s *Service) CreateDoctor(ctx context.Context, p model.Principal, req model.CreateDoctorRequest) (*model.Doctor, error) {
	if !p.IsAdmin() {
		return nil, apperrors.Forbidden("only admins can register doctors")
	}
	doctor := &model.Doctor{
		ID:            strings.TrimSpace(req.ID),
		FullName:      strings.TrimSpace(req.FullName),
		LicenseNumber: trimmed(req.LicenseNumber),
		CreatedAt:     s.now().UTC(),
	}
	if doctor.ID == "" || doctor.FullName == "" {
		return nil, apperrors.Validation("id and fullname are required", nil)
	}

	err := s.doctors.Create(ctx, doctor)
	if errors.Is(err, repository.ErrConflict) {
		return nil, apperrors.InvalidState("doctor " + doctor.ID + " already exists")
	}
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	s.auditor.Log(ctx, audit.Entry{Actor: p, Action: model.AuditActionRegister, EntityType: model.AuditEntityDoctor, EntityID: doctor.ID})
	return doctor, nil
}

func (s *Service) CreateMedication(ctx context.Context, p model.Principal, req model.CreateMedicationRequest) (*model.Medication, error) {
	if !p.IsAdmin() {
		return nil, apperrors.Forbidden("only admins can edit the medication catalog")
	}
	m := &model.Medication{Code: strings.TrimSpace(req.Code), Name: strings.TrimSpace(req.Name)}
	if m.Code == "" || m.Name == "" {
		return nil, apperrors.Validation("code and name are required", nil)
	}

	err := s.medications.Create(ctx, m)
	if errors.Is(err, repository.ErrConflict) {
		return nil, apperrors.InvalidState("medication code " + m.Code + " already exists")
	}
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	s.auditor.Log(ctx, audit.Entry{
		Actor:      p,
		Action:     model.AuditActionRegister,
		EntityType: model.AuditEntityMedication,
		EntityID:   m.Code,
		Metadata:   map[string]interface{}{"name": m.Name},
	})
	return m, nil
}

// ListPatients returns a doctor's assigned patients. Doctors see only their
// own; admins may list any doctor's, or every patient with no doctorID.
func (s *Service) ListPatients(ctx context.Context, p model.Principal, doctorID string) ([]*model.Patient, error) {
	doctorID = strings.TrimSpace(doctorID)
	switch {
	case p.IsAdmin():
	case p.Is(model.RoleDoctor):
		if doctorID != "" && doctorID != p.ID {
			return nil, apperrors.Forbidden("doctors can only list their own patients")
		}
		doctorID = p.ID
	default:
		return nil, apperrors.Forbidden("only doctors and admins can list patients")
	}

	patients, err := s.patients.List(ctx, model.PatientFilter{DoctorID: doctorID, Limit: maxListLimit})
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	return patients, nil
}

func (s *Service) ListMedications(ctx context.Context, query string) ([]*model.Medication, error) {
	meds, err := s.medications.List(ctx, strings.TrimSpace(query), maxListLimit)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	return meds, nil
}

// Assign makes doctorID the patient's doctor. Repeating an assignment is a
// no-op; a patient assigned elsewhere must be unassigned first.
func (s *Service) Assign(ctx context.Context, p model.Principal, doctorID, patientID string) (*model.Assignment, error) {
	if err := authorizeDoctor(p, doctorID); err != nil {
		return nil, err
	}
	if _, err := s.doctors.Get(ctx, doctorID); err != nil {
		return nil, notFound("doctor", err)
	}
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, notFound("patient", err)
	}

	a := &model.Assignment{DoctorID: doctorID, PatientID: patientID, AssignedAt: s.now().UTC()}
	err := s.assignments.Assign(ctx, a)
	if errors.Is(err, repository.ErrConflict) {
		return nil, apperrors.InvalidState("patient is assigned to another doctor")
	}
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}

	stored, err := s.assignments.Get(ctx, patientID)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	log.Info().Str("doctor_id", doctorID).Str("patient_id", patientID).Str("actor", p.ID).Msg("Patient assigned")
	s.auditor.Log(ctx, audit.Entry{
		Actor:      p,
		Action:     model.AuditActionAssign,
		EntityType: model.AuditEntityPatient,
		EntityID:   patientID,
		Metadata:   map[string]interface{}{"doctor_id": doctorID},
	})
	return stored, nil
}

func (s *Service) Unassign(ctx context.Context, p model.Principal, doctorID, patientID string) error {
	if err := authorizeDoctor(p, doctorID); err != nil {
		return err
	}
	err := s.assignments.Unassign(ctx, doctorID, patientID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("assignment", err)
	}
	if err != nil {
		return apperrors.NewInternal(err)
	}

	log.Info().Str("doctor_id", doctorID).Str("patient_id", patientID).Str("actor", p.ID).Msg("Patient unassigned")
	s.auditor.Log(ctx, audit.Entry{
		Actor:      p,
		Action:     model.AuditActionUnassign,
		EntityType: model.AuditEntityPatient,
		EntityID:   patientID,
		Metadata:   map[string]interface{}{"doctor_id": doctorID},
	})
	return nil
}

// AssignedDoctor returns the profile of the patient's doctor to the patient,
// that doctor, or an admin. Anyone else gets NotFound.
func (s *Service) AssignedDoctor(ctx context.Context, p model.Principal, patientID string) (*model.Doctor, error) {
	a, err := s.assignments.Get(ctx, patientID)
	if err != nil {
		return nil, notFound("assignment", err)
	}
	visible := p.IsAdmin() ||
		(p.Is(model.RolePatient) && p.ID == patientID) ||
		(p.Is(model.RoleDoctor) && p.ID == a.DoctorID)
	if !visible {
		return nil, apperrors.NewNotFound("assignment", nil)
	}

	doctor, err := s.doctors.Get(ctx, a.DoctorID)
	if err != nil {
		return nil, notFound("doctor", err)
	}
	return doctor, nil
}

// CheckAssignment refuses prescriptions for patients not assigned to the
// doctor, when assignment is enforced.
func (s *Service) CheckAssignment(ctx context.Context, doctorID, patientID string) error {
	if !s.enforceAssignment {
		return nil
	}
	a, err := s.assignments.Get(ctx, patientID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.Forbidden("patient is not assigned to this doctor")
	}
	if err != nil {
		return apperrors.NewInternal(err)
	}
	if a.DoctorID != doctorID {
		return apperrors.Forbidden("patient is not assigned to this doctor")
	}
	return nil
}

// CheckItems requires every item to name a catalog medication by code, with
// the catalog name, when the catalog is enforced.
func (s *Service) CheckItems(ctx context.Context, items []model.PrescriptionItem) error {
	if !s.enforceCatalog {
		return nil
	}
	for i, item := range items {
		m, err := s.medications.GetByCode(ctx, item.DrugCode)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.Validation(fmt.Sprintf("items[%d]: unknown drug_code %q", i, item.DrugCode), nil)
		}
		if err != nil {
			return apperrors.NewInternal(err)
		}
		if !strings.EqualFold(m.Name, item.Name) {
			return apperrors.Validation(fmt.Sprintf("items[%d]: name %q does not match catalog name %q for %s", i, item.Name, m.Name, m.Code), nil)
		}
	}
	return nil
}

func authorizeDoctor(p model.Principal, doctorID string) error {
	if p.IsAdmin() || (p.Is(model.RoleDoctor) && p.ID == doctorID) {
		return nil
	}
	return apperrors.Forbidden("only the doctor or an admin can change this doctor's patients")
}

func notFound(resource string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound(resource, err)
	}
	return apperrors.NewInternal(err)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
