package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
)

type prescriptionRepository struct {
	BaseRepository
}

func NewPrescriptionRepository(base BaseRepository) repository.PrescriptionRepository {
	return &prescriptionRepository{base}
}

const prescriptionColumns = `
	id, patient_id, doctor_id, status, notes, created_at, updated_at,
	hash_sha256, signature_b64, signed_at, signer_key_id,
	anchor_network, anchor_txid, anchor_block,
	dispensed_at, dispensed_by`

func (r *prescriptionRepository) Create(ctx context.Context, rx *model.Prescription, tr model.Transition) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO prescriptions (`+prescriptionColumns+`)
			VALUES (
				:id, :patient_id, :doctor_id, :status, :notes, :created_at, :updated_at,
				:hash_sha256, :signature_b64, :signed_at, :signer_key_id,
				:anchor_network, :anchor_txid, :anchor_block,
				:dispensed_at, :dispensed_by
			)`, rx)
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("failed to insert prescription: %w", err)
		}

		for i := range rx.Items {
			item := rx.Items[i]
			item.Position = i
			_, err := tx.ExecContext(ctx, `
				INSERT INTO prescription_items (prescription_id, position, drug_code, name, quantity, dosage)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				rx.ID, item.Position, item.DrugCode, item.Name, item.Quantity, item.Dosage)
			if err != nil {
				return fmt.Errorf("failed to insert prescription item: %w", err)
			}
		}

		return writeTransition(ctx, tx, tr)
	})
}

func (r *prescriptionRepository) Get(ctx context.Context, id string) (*model.Prescription, error) {
	var rx model.Prescription
	err := r.db.GetContext(ctx, &rx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}

	rx.Items = []model.PrescriptionItem{}
	err = r.db.SelectContext(ctx, &rx.Items, `
		SELECT position, drug_code, name, quantity, dosage
		FROM prescription_items
		WHERE prescription_id = $1
		ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get prescription items: %w", err)
	}
	return &rx, nil
}

func (r *prescriptionRepository) List(ctx context.Context, filter model.PrescriptionFilter) ([]*model.PrescriptionSummary, error) {
	query := `
		SELECT p.id, p.patient_id, p.doctor_id, p.status, p.created_at, p.dispensed_at, p.dispensed_by,
			(SELECT COUNT(*) FROM prescription_items i WHERE i.prescription_id = p.id) AS items_count
		FROM prescriptions p
		WHERE 1=1`
	var args []interface{}

	if filter.DoctorID != "" {
		args = append(args, filter.DoctorID)
		query += fmt.Sprintf(" AND p.doctor_id = $%d", len(args))
	}
	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		query += fmt.Sprintf(" AND p.patient_id = $%d", len(args))
	}
	if filter.DispensedBy != "" {
		args = append(args, filter.DispensedBy)
		query += fmt.Sprintf(" AND p.dispensed_by = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND p.status = $%d", len(args))
	}

	orderCol := "p.created_at"
	if filter.DispensedBy != "" {
		orderCol = "p.dispensed_at"
	}
	dir := "DESC"
	if filter.Order == model.SortAsc {
		dir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, p.id %s", orderCol, dir, dir)

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows := []*model.PrescriptionSummary{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}
	return rows, nil
}

func (r *prescriptionRepository) Seal(ctx context.Context, id string, seal model.Seal, tr model.Transition) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE prescriptions
			SET status = $2, hash_sha256 = $3, signature_b64 = $4, signed_at = $5, updated_at = $5,
				signer_key_id = NULLIF($7, '')
			WHERE id = $1 AND status = $6 AND hash_sha256 IS NULL`,
			id, model.PrescriptionStatusIssued, seal.HashSHA256, seal.SignatureB64, seal.SignedAt,
			model.PrescriptionStatusDraft, seal.SignerKeyID)
		if err != nil {
			return fmt.Errorf("failed to seal prescription: %w", err)
		}
		if err := r.expectOne(ctx, tx, res, id); err != nil {
			return err
		}
		return writeTransition(ctx, tx, tr)
	})
}

func (r *prescriptionRepository) RecordAnchor(ctx context.Context, id string, anchor model.Anchor, tr model.Transition) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE prescriptions
			SET anchor_network = $2, anchor_txid = $3, anchor_block = $4, updated_at = NOW()
			WHERE id = $1 AND anchor_txid IS NULL AND status <> $5`,
			id, anchor.Network, anchor.TxID, anchor.Block, model.PrescriptionStatusDraft)
		if err != nil {
			return fmt.Errorf("failed to record anchor: %w", err)
		}
		if err := r.expectOne(ctx, tx, res, id); err != nil {
			return err
		}
		return writeTransition(ctx, tx, tr)
	})
}

func (r *prescriptionRepository) MarkDispensed(ctx context.Context, id string, d model.Dispensation, tr model.Transition) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE prescriptions
			SET status = $2, dispensed_at = $3, dispensed_by = $4, updated_at = $3
			WHERE id = $1 AND status = $5 AND dispensed_at IS NULL AND signature_b64 IS NOT NULL`,
			id, model.PrescriptionStatusDispensed, d.DispensedAt, d.DispensedBy,
			model.PrescriptionStatusIssued)
		if err != nil {
			return fmt.Errorf("failed to mark prescription dispensed: %w", err)
		}
		if err := r.expectOne(ctx, tx, res, id); err != nil {
			return err
		}
		return writeTransition(ctx, tx, tr)
	})
}

// expectOne turns a zero-row conditional update into ErrNotFound or
// ErrConflict depending on whether the row exists.
func (r *prescriptionRepository) expectOne(ctx context.Context, tx *sqlx.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM prescriptions WHERE id = $1)`, id); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

func writeTransition(ctx context.Context, ext sqlx.ExtContext, tr model.Transition) error {
	if tr.Notification != nil {
		if err := insertNotification(ctx, ext, tr.Notification); err != nil {
			return err
		}
	}
	if tr.Event != nil {
		if err := insertOutboxEvent(ctx, ext, tr.Event); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
