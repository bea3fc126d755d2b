package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
)

const doctorKeyColumns = `doctor_id, key_id, public_key_pem, algorithm, created_at, revoked_at`

type doctorKeyRepository struct {
	BaseRepository
}

func NewDoctorKeyRepository(base BaseRepository) repository.DoctorKeyRepository {
	return &doctorKeyRepository{base}
}

func (r *doctorKeyRepository) Add(ctx context.Context, key *model.DoctorKey) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Serialises registrations of the same doctor.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.DoctorID); err != nil {
			return fmt.Errorf("failed to lock doctor keys: %w", err)
		}

		var exists bool
		if err := tx.GetContext(ctx, &exists, `
			SELECT EXISTS (SELECT 1 FROM doctor_keys WHERE doctor_id = $1 AND key_id = $2)`,
			key.DoctorID, key.KeyID); err != nil {
			return fmt.Errorf("failed to check doctor key: %w", err)
		}
		if exists {
			return repository.ErrConflict
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE doctor_keys SET revoked_at = $2
			WHERE doctor_id = $1 AND revoked_at IS NULL`, key.DoctorID, key.CreatedAt); err != nil {
			return fmt.Errorf("failed to revoke doctor key: %w", err)
		}

		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO doctor_keys (doctor_id, key_id, public_key_pem, algorithm, created_at)
			VALUES (:doctor_id, :key_id, :public_key_pem, :algorithm, :created_at)`, key)
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("failed to insert doctor key: %w", err)
		}
		return nil
	})
}

func (r *doctorKeyRepository) Active(ctx context.Context, doctorID string) (*model.DoctorKey, error) {
	return r.getOne(ctx, `SELECT `+doctorKeyColumns+` FROM doctor_keys
		WHERE doctor_id = $1 AND revoked_at IS NULL`, doctorID)
}

func (r *doctorKeyRepository) Get(ctx context.Context, doctorID, keyID string) (*model.DoctorKey, error) {
	return r.getOne(ctx, `SELECT `+doctorKeyColumns+` FROM doctor_keys
		WHERE doctor_id = $1 AND key_id = $2`, doctorID, keyID)
}

func (r *doctorKeyRepository) ListByDoctor(ctx context.Context, doctorID string) ([]*model.DoctorKey, error) {
	keys := []*model.DoctorKey{}
	err := r.db.SelectContext(ctx, &keys, `SELECT `+doctorKeyColumns+` FROM doctor_keys
		WHERE doctor_id = $1 ORDER BY created_at DESC`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list doctor keys: %w", err)
	}
	return keys, nil
}

func (r *doctorKeyRepository) getOne(ctx context.Context, query string, args ...interface{}) (*model.DoctorKey, error) {
	var key model.DoctorKey
	err := r.db.GetContext(ctx, &key, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get doctor key: %w", err)
	}
	return &key, nil
}
