package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/rx-ledger/internal/repository"
)

// BaseRepository is embedded by every repository and owns the pool.
type BaseRepository struct {
	db *sqlx.DB
}

func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

func (r *BaseRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WithTx runs fn in a transaction. A state change and the notification and
// outbox rows it produces commit together or not at all.
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			rollback(tx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		rollback(tx)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil {
		log.Error().Err(err).Msg("Transaction rollback failed")
	}
}

// NewRepositories wires every PostgreSQL repository around one pool.
func NewRepositories(db *sqlx.DB) *repository.Set {
	base := NewBaseRepository(db)
	return &repository.Set{
		Prescriptions: NewPrescriptionRepository(base),
		DoctorKeys:    NewDoctorKeyRepository(base),
		Patients:      NewPatientRepository(base),
		Doctors:       NewDoctorRepository(base),
		Assignments:   NewAssignmentRepository(base),
		Medications:   NewMedicationRepository(base),
		Notifications: NewNotificationRepository(base),
		Outbox:        NewOutboxRepository(base),
		Audit:         NewAuditRepository(base),
		Health:        &base,
	}
}
