package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
)

type doctorKeyRepository struct {
	s *Store
}

func (r *doctorKeyRepository) Add(_ context.Context, key *model.DoctorKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	history := r.s.keys[key.DoctorID]
	for _, k := range history {
		if k.KeyID == key.KeyID {
			return repository.ErrConflict
		}
	}
	for _, k := range history {
		if k.RevokedAt == nil {
			at := key.CreatedAt
			k.RevokedAt = &at
		}
	}
	k := cloneDoctorKey(key)
	k.RevokedAt = nil
	r.s.keys[key.DoctorID] = append(history, k)
	return nil
}

func (r *doctorKeyRepository) Active(_ context.Context, doctorID string) (*model.DoctorKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, k := range r.s.keys[doctorID] {
		if k.RevokedAt == nil {
			return cloneDoctorKey(k), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *doctorKeyRepository) Get(_ context.Context, doctorID, keyID string) (*model.DoctorKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, k := range r.s.keys[doctorID] {
		if k.KeyID == keyID {
			return cloneDoctorKey(k), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *doctorKeyRepository) ListByDoctor(_ context.Context, doctorID string) ([]*model.DoctorKey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	history := r.s.keys[doctorID]
	out := make([]*model.DoctorKey, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, cloneDoctorKey(history[i]))
	}
	return out, nil
}

func cloneDoctorKey(k *model.DoctorKey) *model.DoctorKey {
	c := *k
	if k.RevokedAt != nil {
		at := *k.RevokedAt
		c.RevokedAt = &at
	}
	return &c
}

type notificationRepository struct {
	s *Store
}

func (r *notificationRepository) Create(_ context.Context, n *model.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	r.s.writeTransition(model.Transition{Notification: n})
	return nil
}

func (r *notificationRepository) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n, ok := r.s.notifications[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (r *notificationRepository) ListByPatient(_ context.Context, patientID string, page model.Pagination) ([]*model.Notification, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	page = page.Normalize()
	var all []*model.Notification
	for _, n := range r.s.notifications {
		if n.PatientID == patientID {
			all = append(all, cloneNotification(n))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() > all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := int64(len(all))
	start := page.Offset()
	if start >= len(all) {
		return []*model.Notification{}, total, nil
	}
	end := start + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *notificationRepository) CountUnread(_ context.Context, patientID string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, item := range r.s.notifications {
		if item.PatientID == patientID && item.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *notificationRepository) MarkRead(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.notifications[id]
	if !ok {
		return repository.ErrNotFound
	}
	if n.ReadAt == nil {
		t := at
		n.ReadAt = &t
	}
	return nil
}

func (r *notificationRepository) MarkAllRead(_ context.Context, patientID string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var count int64
	for _, n := range r.s.notifications {
		if n.PatientID == patientID && n.ReadAt == nil {
			t := at
			n.ReadAt = &t
			count++
		}
	}
	return count, nil
}

func cloneNotification(n *model.Notification) *model.Notification {
	c := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	if n.PrescriptionID != nil {
		id := *n.PrescriptionID
		c.PrescriptionID = &id
	}
	return &c
}

type outboxRepository struct {
	s *Store
}

func (r *outboxRepository) Create(_ context.Context, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.writeTransition(model.Transition{Event: event})
	return nil
}

func (r *outboxRepository) GetPendingEvents(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	events := []*model.OutboxEvent{}
	for _, id := range r.s.outboxOrder {
		ev, ok := r.s.outbox[id]
		if !ok || ev.Status != model.OutboxStatusPending {
			continue
		}
		c := *ev
		events = append(events, &c)
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ev, ok := r.s.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	ev.Status = model.OutboxStatusProcessed
	ev.ErrorMessage = nil
	ev.ProcessedAt = &now
	ev.UpdatedAt = now
	return nil
}

func (r *outboxRepository) MarkRetry(_ context.Context, id uuid.UUID, errMsg string, maxRetries int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ev, ok := r.s.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	msg := errMsg
	ev.RetryCount++
	ev.ErrorMessage = &msg
	ev.UpdatedAt = time.Now()
	if ev.RetryCount >= maxRetries {
		ev.Status = model.OutboxStatusFailed
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var deleted int64
	kept := r.s.outboxOrder[:0]
	for _, id := range r.s.outboxOrder {
		ev := r.s.outbox[id]
		if ev.Status == model.OutboxStatusProcessed && ev.ProcessedAt != nil && ev.ProcessedAt.Before(before) {
			delete(r.s.outbox, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	r.s.outboxOrder = kept
	return deleted, nil
}

type auditRepository struct {
	s *Store
}

func (r *auditRepository) Create(_ context.Context, log *model.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *log
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.s.audit = append(r.s.audit, &c)
	return nil
}

func (r *auditRepository) List(_ context.Context, f model.AuditFilter) ([]*model.AuditLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	logs := []*model.AuditLog{}
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		l := r.s.audit[i]
		if f.EntityID != "" && l.EntityID != f.EntityID {
			continue
		}
		if f.Action != "" && l.Action != f.Action {
			continue
		}
		c := *l
		logs = append(logs, &c)
		if f.Limit > 0 && len(logs) == f.Limit {
			break
		}
	}
	return logs, nil
}
