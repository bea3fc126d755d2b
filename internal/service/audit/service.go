package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/reqctx"
	"github.com/jwalitptl/rx-ledger/internal/repository"
)

type Service struct {
	repo repository.AuditRepository
	now  func() time.Time
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Entry describes one security-relevant action.
type Entry struct {
	Actor      model.Principal
	Action     string
	EntityType string
	EntityID   string
	Outcome    string
	Metadata   map[string]interface{}
}

// Log persists an audit entry. A failed write is logged and swallowed so it
// never fails the request that triggered it.
func (s *Service) Log(ctx context.Context, e Entry) {
	if s == nil || s.repo == nil {
		return
	}
	if e.Outcome == "" {
		e.Outcome = model.AuditOutcomeSuccess
	}
	if e.EntityType == "" {
		e.EntityType = model.AuditEntityPrescription
	}

	var metadata json.RawMessage
	if len(e.Metadata) > 0 {
		if rid := reqctx.RequestID(ctx); rid != "" {
			e.Metadata["request_id"] = rid
		}
		b, err := json.Marshal(e.Metadata)
		if err == nil {
			metadata = b
		}
	}

	entry := &model.AuditLog{
		ID:         uuid.New(),
		ActorID:    e.Actor.ID,
		ActorRole:  e.Actor.Role,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Outcome:    e.Outcome,
		Metadata:   metadata,
		IPAddress:  reqctx.ClientIP(ctx),
		CreatedAt:  s.now(),
	}

	// The request may already be cancelled (e.g. client hung up); the
	// audit trail must still be written.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.Create(writeCtx, entry); err != nil {
		log.Error().Err(err).
			Str("action", e.Action).
			Str("entity_id", e.EntityID).
			Msg("Failed to write audit log")
	}
}

func (s *Service) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error) {
	return s.repo.List(ctx, filter)
}
