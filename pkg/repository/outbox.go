package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-ledger/internal/model"
)

// OutboxStore is the part of the outbox repository the background workers
// need.
type OutboxStore interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkRetry(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
