package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/rx-ledger/pkg/logger"
	"github.com/jwalitptl/rx-ledger/pkg/repository"
)

// OutboxCleanupWorker purges published events older than the retention
// window. Pending and failed events are never touched.
type OutboxCleanupWorker struct {
	repo      repository.OutboxStore
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewOutboxCleanupWorker(repo repository.OutboxStore, retention, interval time.Duration, l *logger.Logger) *OutboxCleanupWorker {
	if l == nil {
		l = logger.Nop()
	}
	return &OutboxCleanupWorker{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    l.With("worker", "outbox_cleanup"),
		now:       time.Now,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				w.logger.Error(err, "Outbox cleanup failed")
			}
		}
	}
}

func (w *OutboxCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.retention)
	n, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Info("Purged processed outbox events", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}
