package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func insertNotification(ctx context.Context, ext sqlx.ExtContext, n *model.Notification) error {
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO notifications (id, patient_id, prescription_id, type, title, message, read_at, created_at)
		VALUES (:id, :patient_id, :prescription_id, :type, :title, :message, :read_at, :created_at)`, n)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return insertNotification(ctx, r.db, n)
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	var n model.Notification
	err := r.db.GetContext(ctx, &n, `
		SELECT id, patient_id, prescription_id, type, title, message, read_at, created_at
		FROM notifications WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}

func (r *notificationRepository) ListByPatient(ctx context.Context, patientID string, page model.Pagination) ([]*model.Notification, int64, error) {
	page = page.Normalize()

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications WHERE patient_id = $1`, patientID); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	items := []*model.Notification{}
	err := r.db.SelectContext(ctx, &items, `
		SELECT id, patient_id, prescription_id, type, title, message, read_at, created_at
		FROM notifications
		WHERE patient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, patientID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	return items, total, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, patientID string) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM notifications WHERE patient_id = $1 AND read_at IS NULL`, patientID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return n, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
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

func (r *notificationRepository) MarkAllRead(ctx context.Context, patientID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read_at = $2 WHERE patient_id = $1 AND read_at IS NULL`, patientID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}
