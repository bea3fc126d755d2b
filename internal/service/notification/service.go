package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
)

// Service exposes a patient's notification inbox. Records are written by the
// prescription service as part of each transition.
type Service interface {
	List(ctx context.Context, p model.Principal, patientID string, page model.Pagination) ([]*model.Notification, int64, error)
	UnreadCount(ctx context.Context, p model.Principal, patientID string) (int64, error)
	MarkRead(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Notification, error)
	MarkAllRead(ctx context.Context, p model.Principal, patientID string) (int64, error)
}

type service struct {
	repo repository.NotificationRepository
	now  func() time.Time
}

func NewService(repo repository.NotificationRepository) Service {
	return &service{repo: repo, now: time.Now}
}

func (s *service) List(ctx context.Context, p model.Principal, patientID string, page model.Pagination) ([]*model.Notification, int64, error) {
	patientID, err := authorize(p, patientID)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.ListByPatient(ctx, patientID, page.Normalize())
	if err != nil {
		return nil, 0, apperrors.NewInternal(err)
	}
	return items, total, nil
}

func (s *service) UnreadCount(ctx context.Context, p model.Principal, patientID string) (int64, error) {
	patientID, err := authorize(p, patientID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.CountUnread(ctx, patientID)
	if err != nil {
		return 0, apperrors.NewInternal(err)
	}
	return n, nil
}

func (s *service) MarkRead(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("notification", err)
	}
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	// Someone else's notification looks exactly like a missing one.
	if _, err := authorize(p, n.PatientID); err != nil {
		return nil, apperrors.NewNotFound("notification", nil)
	}

	if !n.IsRead() {
		if err := s.repo.MarkRead(ctx, id, s.now()); err != nil {
			return nil, apperrors.NewInternal(err)
		}
	}
	n, err = s.repo.Get(ctx, id)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	return n, nil
}

func (s *service) MarkAllRead(ctx context.Context, p model.Principal, patientID string) (int64, error) {
	patientID, err := authorize(p, patientID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, patientID, s.now())
	if err != nil {
		return 0, apperrors.NewInternal(err)
	}
	return n, nil
}

// authorize resolves the inbox owner. Patients default to their own inbox
// and may not read anyone else's; admins must name one.
func authorize(p model.Principal, patientID string) (string, error) {
	patientID = strings.TrimSpace(patientID)
	switch {
	case p.Is(model.RolePatient):
		if patientID == "" {
			return p.ID, nil
		}
		if patientID != p.ID {
			return "", apperrors.Forbidden("patients can only access their own notifications")
		}
		return patientID, nil
	case p.IsAdmin():
		if patientID == "" {
			return "", apperrors.Validation("patientId is required", nil)
		}
		return patientID, nil
	}
	return "", apperrors.Forbidden("notifications are only available to patients")
}
