package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-ledger/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update matched no row
	// because the record is no longer in the expected state.
	ErrConflict = errors.New("record state conflict")
)

// All repository interfaces in one file
type (
	// PrescriptionRepository persists prescriptions and guards every state
	// transition with a conditional update.
	PrescriptionRepository interface {
		Create(ctx context.Context, rx *model.Prescription, tr model.Transition) error
		Get(ctx context.Context, id string) (*model.Prescription, error)
		List(ctx context.Context, filter model.PrescriptionFilter) ([]*model.PrescriptionSummary, error)
		// Seal moves a DRAFT prescription to ISSUED.
		Seal(ctx context.Context, id string, seal model.Seal, tr model.Transition) error
		// RecordAnchor stores the anchor receipt once; ErrConflict if an
		// anchor is already recorded or the prescription is still DRAFT.
		RecordAnchor(ctx context.Context, id string, anchor model.Anchor, tr model.Transition) error
		// MarkDispensed is the single compare-and-swap from ISSUED to
		// DISPENSED; ErrConflict for every caller but the first.
		MarkDispensed(ctx context.Context, id string, d model.Dispensation, tr model.Transition) error
	}

	// DoctorKeyRepository is append-only: keys are revoked, never replaced.
	DoctorKeyRepository interface {
		// Add makes key the doctor's active key and revokes the previous
		// one at key.CreatedAt. ErrConflict if the doctor already
		// registered the same key.
		Add(ctx context.Context, key *model.DoctorKey) error
		Active(ctx context.Context, doctorID string) (*model.DoctorKey, error)
		Get(ctx context.Context, doctorID, keyID string) (*model.DoctorKey, error)
		// ListByDoctor returns the key history, newest first.
		ListByDoctor(ctx context.Context, doctorID string) ([]*model.DoctorKey, error)
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id string) (*model.Patient, error)
		// List returns patients ordered by name; with a DoctorID only those
		// assigned to that doctor.
		List(ctx context.Context, filter model.PatientFilter) ([]*model.Patient, error)
	}

	DoctorRepository interface {
		Create(ctx context.Context, doctor *model.Doctor) error
		Get(ctx context.Context, id string) (*model.Doctor, error)
	}

	// AssignmentRepository keeps at most one doctor per patient.
	AssignmentRepository interface {
		// Assign is idempotent for the same doctor; ErrConflict if the
		// patient is assigned to someone else.
		Assign(ctx context.Context, a *model.Assignment) error
		// Unassign returns ErrNotFound if the pair is not assigned.
		Unassign(ctx context.Context, doctorID, patientID string) error
		Get(ctx context.Context, patientID string) (*model.Assignment, error)
	}

	MedicationRepository interface {
		// Create assigns the ID; ErrConflict on a duplicate code.
		Create(ctx context.Context, m *model.Medication) error
		GetByCode(ctx context.Context, code string) (*model.Medication, error)
		// List matches query against code and name, case-insensitively.
		List(ctx context.Context, query string, limit int) ([]*model.Medication, error)
	}

	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		ListByPatient(ctx context.Context, patientID string, page model.Pagination) ([]*model.Notification, int64, error)
		CountUnread(ctx context.Context, patientID string) (int64, error)
		MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error
		MarkAllRead(ctx context.Context, patientID string, at time.Time) (int64, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		// MarkRetry records a failed attempt; the event becomes FAILED once
		// maxRetries attempts were made.
		MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error)
	}

	HealthChecker interface {
		Ping(ctx context.Context) error
	}
)

// Set bundles the repositories of one storage backend.
type Set struct {
	Prescriptions PrescriptionRepository
	DoctorKeys    DoctorKeyRepository
	Patients      PatientRepository
	Doctors       DoctorRepository
	Assignments   AssignmentRepository
	Medications   MedicationRepository
	Notifications NotificationRepository
	Outbox        OutboxRepository
	Audit         AuditRepository
	Health        HealthChecker
}
