package dispense

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/service/audit"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
	"github.com/jwalitptl/rx-ledger/pkg/metrics"
)

type TokenResolver interface {
	Resolve(token string) (string, error)
}

// Dispenser performs the guarded store transition, including seal
// re-validation.
type Dispenser interface {
	Dispense(ctx context.Context, id, pharmacyID string) (*model.Prescription, error)
}

// Gate authorizes a dispense attempt and records its outcome.
type Gate struct {
	tokens    TokenResolver
	dispenser Dispenser
	auditor   *audit.Service
	metrics   *metrics.Metrics
}

func NewGate(tokens TokenResolver, dispenser Dispenser, auditor *audit.Service, m *metrics.Metrics) *Gate {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Gate{tokens: tokens, dispenser: dispenser, auditor: auditor, metrics: m}
}

// Dispense marks the prescription dispensed by p. A presented token must
// name the same prescription.
func (g *Gate) Dispense(ctx context.Context, p model.Principal, id, token string) (*model.Prescription, error) {
	rx, err := g.dispense(ctx, p, id, token)

	outcome, action := model.AuditOutcomeSuccess, model.AuditActionDispense
	metadata := map[string]interface{}{}
	if err != nil {
		outcome, action = model.AuditOutcomeFailure, model.AuditActionDispenseRejected
		metadata["reason"] = apperrors.CodeOf(err).String()
	}
	g.metrics.Dispenses.WithLabelValues(result(err)).Inc()
	g.auditor.Log(ctx, audit.Entry{
		Actor:    p,
		Action:   action,
		EntityID: id,
		Outcome:  outcome,
		Metadata: metadata,
	})
	return rx, err
}

func (g *Gate) dispense(ctx context.Context, p model.Principal, id, token string) (*model.Prescription, error) {
	if !p.Is(model.RolePharmacy) && !p.IsAdmin() {
		return nil, apperrors.Forbidden("only pharmacies can dispense prescriptions")
	}

	if token != "" {
		resolved, err := g.tokens.Resolve(token)
		if err != nil {
			return nil, err
		}
		if resolved != id {
			log.Warn().Str("prescription_id", id).Str("pharmacy_id", p.ID).Msg("Dispense token names a different prescription")
			return nil, apperrors.TokenInvalid(nil)
		}
	}

	return g.dispenser.Dispense(ctx, id, p.ID)
}

func result(err error) string {
	if err == nil {
		return "success"
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrAlreadyDispensed:
		return "already_dispensed"
	case apperrors.ErrNotSigned:
		return "not_signed"
	case apperrors.ErrInvalidSignature:
		return "invalid_signature"
	case apperrors.ErrTokenExpired, apperrors.ErrTokenInvalid:
		return "token_rejected"
	case apperrors.ErrForbidden:
		return "forbidden"
	case apperrors.ErrNotFound:
		return "not_found"
	}
	return "error"
}
