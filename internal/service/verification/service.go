package verification

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

// SealChecker is the subset of the prescription service the verifier needs.
type SealChecker interface {
	Lookup(ctx context.Context, id string) (*model.Prescription, error)
	SealCheck(ctx context.Context, rx *model.Prescription) (bool, error)
}

type Service struct {
	tokens  TokenResolver
	rx      SealChecker
	auditor *audit.Service
	metrics *metrics.Metrics
}

func NewService(tokens TokenResolver, rx SealChecker, auditor *audit.Service, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Service{tokens: tokens, rx: rx, auditor: auditor, metrics: m}
}

// Verify resolves a verification token and re-validates the prescription it
// names. Results are computed from storage on every call.
func (s *Service) Verify(ctx context.Context, token string) (*model.VerifyResponse, error) {
	id, err := s.tokens.Resolve(token)
	if err != nil {
		result := "token_invalid"
		if apperrors.HasCode(err, apperrors.ErrTokenExpired) {
			result = "token_expired"
		}
		s.metrics.Verifications.WithLabelValues(result).Inc()
		return nil, err
	}

	rx, err := s.rx.Lookup(ctx, id)
	if apperrors.HasCode(err, apperrors.ErrNotFound) {
		s.metrics.Verifications.WithLabelValues("token_invalid").Inc()
		log.Warn().Str("prescription_id", id).Msg("Verification token names an unknown prescription")
		return nil, apperrors.TokenInvalid(err)
	}
	if err != nil {
		return nil, err
	}

	valid, err := s.rx.SealCheck(ctx, rx)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}

	resp := &model.VerifyResponse{
		Valid:        valid,
		Anchored:     rx.IsAnchored(),
		Network:      rx.AnchorNetwork,
		TxID:         rx.AnchorTxID,
		Block:        rx.AnchorBlock,
		Prescription: rx,
	}

	if !valid {
		s.metrics.Verifications.WithLabelValues("invalid").Inc()
		log.Warn().Str("prescription_id", rx.ID).Str("status", string(rx.Status)).Msg("Prescription failed verification")
		s.auditor.Log(ctx, audit.Entry{
			Actor:    model.Principal{ID: "anonymous"},
			Action:   model.AuditActionVerifyFailed,
			EntityID: rx.ID,
			Outcome:  model.AuditOutcomeFailure,
			Metadata: map[string]interface{}{"signed": rx.IsSigned()},
		})
		return resp, nil
	}

	s.metrics.Verifications.WithLabelValues("valid").Inc()
	return resp, nil
}
