package prescription

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/rx-ledger/internal/ledger"
	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
	"github.com/jwalitptl/rx-ledger/internal/service/audit"
	"github.com/jwalitptl/rx-ledger/internal/service/keys"
	"github.com/jwalitptl/rx-ledger/internal/signing"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
	"github.com/jwalitptl/rx-ledger/pkg/metrics"
	"github.com/jwalitptl/rx-ledger/pkg/validator"
)

// KeyResolver looks up registered doctor keys. Both methods return
// keys.ErrNoKey when nothing matches.
type KeyResolver interface {
	ActiveKey(ctx context.Context, doctorID string) (*keys.Key, error)
	KeyByID(ctx context.Context, doctorID, keyID string) (*keys.Key, error)
}

// Directory decides whether a doctor may prescribe the given items to a
// patient. A nil Directory allows everything.
type Directory interface {
	CheckAssignment(ctx context.Context, doctorID, patientID string) error
	CheckItems(ctx context.Context, items []model.PrescriptionItem) error
}

// TokenIssuer mints verification tokens bound to one prescription.
type TokenIssuer interface {
	Issue(prescriptionID string) (string, time.Time, error)
}

type Deps struct {
	Repo     repository.PrescriptionRepository
	Keys      KeyResolver
	Directory Directory
	Anchorer  ledger.Anchorer
	Tokens    TokenIssuer
	Auditor   *audit.Service
	Metrics   *metrics.Metrics
}

// Service owns the prescription state machine DRAFT -> ISSUED -> DISPENSED.
type Service struct {
	repo     repository.PrescriptionRepository
	keys      KeyResolver
	directory Directory
	anchorer  ledger.Anchorer
	tokens    TokenIssuer
	auditor   *audit.Service
	metrics   *metrics.Metrics
	validate  validator.Validator
	now       func() time.Time
}

func NewService(d Deps) *Service {
	m := d.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	return &Service{
		repo:      d.Repo,
		keys:      d.Keys,
		directory: d.Directory,
		anchorer:  d.Anchorer,
		tokens:    d.Tokens,
		auditor:   d.Auditor,
		metrics:   m,
		validate:  validator.New(),
		now:       time.Now,
	}
}

type CreateInput struct {
	PatientID string                   `json:"patient_id" validate:"required,notblank,max=128"`
	Notes     *string                  `json:"notes" validate:"omitempty,max=2000"`
	Items     []model.PrescriptionItem `json:"items" validate:"required,min=1,max=100,dive"`
}

// SignInput carries either a private key for server-side signing or a
// signature produced by the doctor's own device.
type SignInput struct {
	PrivateKeyPEM string
	SignatureB64  string
}

func (s *Service) Create(ctx context.Context, p model.Principal, in CreateInput) (*model.Prescription, error) {
	if !p.Is(model.RoleDoctor) {
		return nil, apperrors.Forbidden("only doctors can create prescriptions")
	}

	in.PatientID = strings.TrimSpace(in.PatientID)
	for i := range in.Items {
		in.Items[i].DrugCode = strings.TrimSpace(in.Items[i].DrugCode)
		in.Items[i].Name = strings.TrimSpace(in.Items[i].Name)
		in.Items[i].Dosage = strings.TrimSpace(in.Items[i].Dosage)
	}
	if err := s.validate.Validate(in); err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}
	if s.directory != nil {
		if err := s.directory.CheckAssignment(ctx, p.ID, in.PatientID); err != nil {
			return nil, err
		}
		if err := s.directory.CheckItems(ctx, in.Items); err != nil {
			return nil, err
		}
	}

	now := signing.NormalizeTime(s.now())
	rx := &model.Prescription{
		ID:        uuid.NewString(),
		PatientID: in.PatientID,
		DoctorID:  p.ID,
		Status:    model.PrescriptionStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
		Notes:     in.Notes,
		Items:     append([]model.PrescriptionItem(nil), in.Items...),
	}
	for i := range rx.Items {
		rx.Items[i].Position = i
	}

	event, err := model.NewOutboxEvent(model.EventPrescriptionCreated, rx, p.ID, now)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	if err := s.repo.Create(ctx, rx, model.Transition{Event: event}); err != nil {
		return nil, apperrors.NewInternal(err)
	}

	s.metrics.PrescriptionsCreated.Inc()
	log.Info().Str("prescription_id", rx.ID).Str("doctor_id", p.ID).Int("items", len(rx.Items)).Msg("Prescription created")
	s.auditor.Log(ctx, audit.Entry{Actor: p, Action: model.AuditActionCreate, EntityID: rx.ID})
	return rx, nil
}

// Get returns a prescription visible to p. Invisible prescriptions are
// reported as not found.
func (s *Service) Get(ctx context.Context, p model.Principal, id string) (*model.Prescription, error) {
	return s.load(ctx, p, id)
}

// List scopes the filter to what p may see: doctors their own, patients
// their own, pharmacies what they dispensed, admins everything.
func (s *Service) List(ctx context.Context, p model.Principal, f model.PrescriptionFilter) ([]*model.PrescriptionSummary, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperrors.Validation("status must be one of DRAFT, ISSUED, DISPENSED", nil)
	}
	if f.Order != "" && f.Order != model.SortAsc && f.Order != model.SortDesc {
		return nil, apperrors.Validation("order must be asc or desc", nil)
	}

	switch p.Role {
	case model.RoleAdmin:
	case model.RoleDoctor:
		if f.DoctorID != "" && f.DoctorID != p.ID {
			return nil, apperrors.Forbidden("doctors can only list their own prescriptions")
		}
		f.DoctorID = p.ID
	case model.RolePatient:
		if f.PatientID != "" && f.PatientID != p.ID {
			return nil, apperrors.Forbidden("patients can only list their own prescriptions")
		}
		f.PatientID = p.ID
	case model.RolePharmacy:
		if f.DispensedBy != "" && f.DispensedBy != p.ID {
			return nil, apperrors.Forbidden("pharmacies can only list what they dispensed")
		}
		f.DispensedBy = p.ID
	default:
		return nil, apperrors.Forbidden("unknown role")
	}

	rows, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	return rows, nil
}

// Sign seals a DRAFT prescription. The signature, whether produced here from
// a supplied private key or supplied directly, must verify against the
// doctor's registered public key.
func (s *Service) Sign(ctx context.Context, p model.Principal, id string, in SignInput) (*model.Prescription, error) {
	rx, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !p.Is(model.RoleDoctor) || rx.DoctorID != p.ID {
		return nil, apperrors.Forbidden("only the prescribing doctor can sign")
	}
	if rx.Status != model.PrescriptionStatusDraft {
		return nil, apperrors.InvalidState("only DRAFT prescriptions can be signed; status is " + string(rx.Status))
	}

	hexDigest, raw := signing.Digest(signing.ContentOf(rx))

	var sig string
	switch {
	case strings.TrimSpace(in.PrivateKeyPEM) != "":
		priv, err := signing.ParsePrivateKeyPEM(in.PrivateKeyPEM)
		if err != nil {
			return nil, apperrors.Validation("privateKeyPem must be a PKCS#8 PEM Ed25519 or ECDSA P-256 private key", err)
		}
		sig, err = signing.Sign(priv, raw)
		if err != nil {
			return nil, apperrors.Signature("signing failed", err)
		}
	case strings.TrimSpace(in.SignatureB64) != "":
		sig = strings.TrimSpace(in.SignatureB64)
	default:
		return nil, apperrors.Validation("privateKeyPem or signature_b64 is required", nil)
	}

	signer, err := s.keys.ActiveKey(ctx, rx.DoctorID)
	if errors.Is(err, keys.ErrNoKey) {
		return nil, s.rejectSignature(ctx, p, rx.ID, "no public key registered for doctor")
	}
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	if !signing.Verify(signer.Public, raw, sig) {
		return nil, s.rejectSignature(ctx, p, rx.ID, "signature does not match the registered public key")
	}

	now := s.now()
	sealed := rx.Clone()
	sealed.Status = model.PrescriptionStatusIssued
	sealed.HashSHA256 = &hexDigest
	sealed.SignatureB64 = &sig
	sealed.SignerKeyID = &signer.ID

	event, err := model.NewOutboxEvent(model.EventPrescriptionIssued, sealed, p.ID, now)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	tr := model.Transition{
		Notification: model.NewPrescriptionNotification(model.NotificationPrescriptionIssued, rx.PatientID, rx.ID, now),
		Event:        event,
	}
	err = s.repo.Seal(ctx, rx.ID, model.Seal{HashSHA256: hexDigest, SignatureB64: sig, SignedAt: now, SignerKeyID: signer.ID}, tr)
	if errors.Is(err, repository.ErrConflict) {
		return nil, apperrors.InvalidState("prescription was signed concurrently")
	}
	if err != nil {
		return nil, storeErr(err)
	}

	s.metrics.PrescriptionsSigned.Inc()
	log.Info().Str("prescription_id", rx.ID).Str("doctor_id", p.ID).Str("hash", hexDigest).Str("key_id", signer.ID).Msg("Prescription signed")
	s.auditor.Log(ctx, audit.Entry{
		Actor:    p,
		Action:   model.AuditActionSign,
		EntityID: rx.ID,
		Metadata: map[string]interface{}{"hash_sha256": hexDigest, "key_id": signer.ID},
	})
	return s.reload(ctx, rx.ID)
}

func (s *Service) rejectSignature(ctx context.Context, p model.Principal, id, reason string) error {
	s.metrics.SignRejected.Inc()
	log.Warn().Str("prescription_id", id).Str("doctor_id", p.ID).Str("reason", reason).Msg("Signature rejected")
	s.auditor.Log(ctx, audit.Entry{
		Actor:    p,
		Action:   model.AuditActionSignRejected,
		EntityID: id,
		Outcome:  model.AuditOutcomeFailure,
		Metadata: map[string]interface{}{"reason": reason},
	})
	return apperrors.Signature(reason, nil)
}

// Anchor commits the prescription hash to the ledger once. Repeated calls
// return the stored receipt without touching the ledger.
func (s *Service) Anchor(ctx context.Context, p model.Principal, id string) (model.Anchor, error) {
	rx, err := s.load(ctx, p, id)
	if err != nil {
		return model.Anchor{}, err
	}
	if !p.IsAdmin() && !(p.Is(model.RoleDoctor) && rx.DoctorID == p.ID) {
		return model.Anchor{}, apperrors.Forbidden("only the prescribing doctor or an admin can anchor")
	}
	if rx.Status == model.PrescriptionStatusDraft || rx.HashSHA256 == nil {
		return model.Anchor{}, apperrors.InvalidState("prescription must be signed before anchoring")
	}
	if rx.IsAnchored() {
		s.metrics.Anchors.WithLabelValues("reused").Inc()
		return storedAnchor(rx), nil
	}

	ok, err := s.SealCheck(ctx, rx)
	if err != nil {
		return model.Anchor{}, apperrors.NewInternal(err)
	}
	if !ok {
		s.metrics.Anchors.WithLabelValues("failure").Inc()
		log.Error().Str("prescription_id", rx.ID).Msg("Stored seal failed re-validation before anchoring")
		return model.Anchor{}, apperrors.InvalidSignature(rx.ID)
	}

	receipt, err := s.anchorer.Anchor(ctx, *rx.HashSHA256)
	if err != nil {
		s.metrics.Anchors.WithLabelValues("failure").Inc()
		log.Warn().Err(err).Str("prescription_id", rx.ID).Msg("Anchoring failed")
		return model.Anchor{}, apperrors.Anchor(err)
	}
	anchor := model.Anchor{Network: receipt.Network, TxID: receipt.TxID, Block: receipt.Block}

	anchored := rx.Clone()
	anchored.AnchorNetwork = &anchor.Network
	anchored.AnchorTxID = &anchor.TxID
	anchored.AnchorBlock = &anchor.Block
	event, err := model.NewOutboxEvent(model.EventPrescriptionAnchored, anchored, p.ID, s.now())
	if err != nil {
		return model.Anchor{}, apperrors.NewInternal(err)
	}

	err = s.repo.RecordAnchor(ctx, rx.ID, anchor, model.Transition{Event: event})
	if errors.Is(err, repository.ErrConflict) {
		// Lost a race with another anchor call; the stored anchor wins.
		current, gerr := s.reload(ctx, rx.ID)
		if gerr != nil {
			return model.Anchor{}, gerr
		}
		if current.IsAnchored() {
			s.metrics.Anchors.WithLabelValues("reused").Inc()
			return storedAnchor(current), nil
		}
		return model.Anchor{}, apperrors.InvalidState("prescription cannot be anchored in its current state")
	}
	if err != nil {
		return model.Anchor{}, storeErr(err)
	}

	s.metrics.Anchors.WithLabelValues("success").Inc()
	log.Info().Str("prescription_id", rx.ID).Str("txid", anchor.TxID).Int64("block", anchor.Block).Msg("Prescription anchored")
	s.auditor.Log(ctx, audit.Entry{
		Actor:    p,
		Action:   model.AuditActionAnchor,
		EntityID: rx.ID,
		Metadata: map[string]interface{}{"network": anchor.Network, "txid": anchor.TxID, "block": anchor.Block},
	})
	return anchor, nil
}

// IssueToken mints a verification token for the owning doctor or the
// patient of a signed prescription.
func (s *Service) IssueToken(ctx context.Context, p model.Principal, id string) (string, time.Time, error) {
	rx, err := s.load(ctx, p, id)
	if err != nil {
		return "", time.Time{}, err
	}
	owner := (p.Is(model.RoleDoctor) && rx.DoctorID == p.ID) || (p.Is(model.RolePatient) && rx.PatientID == p.ID)
	if !owner {
		return "", time.Time{}, apperrors.Forbidden("only the prescribing doctor or the patient can request a verification token")
	}
	if rx.Status == model.PrescriptionStatusDraft {
		return "", time.Time{}, apperrors.NotSigned(rx.ID)
	}

	tok, exp, err := s.tokens.Issue(rx.ID)
	if err != nil {
		return "", time.Time{}, apperrors.NewInternal(err)
	}

	s.metrics.TokensIssued.Inc()
	s.auditor.Log(ctx, audit.Entry{
		Actor:    p,
		Action:   model.AuditActionTokenIssued,
		EntityID: rx.ID,
		Metadata: map[string]interface{}{"exp": exp.Unix()},
	})
	return tok, exp, nil
}

// Dispense performs the terminal transition. Callers are expected to have
// authorized the pharmacy; the seal is re-validated here regardless.
func (s *Service) Dispense(ctx context.Context, id, pharmacyID string) (*model.Prescription, error) {
	rx, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}

	switch rx.Status {
	case model.PrescriptionStatusDraft:
		return nil, apperrors.NotSigned(rx.ID)
	case model.PrescriptionStatusDispensed:
		return nil, apperrors.AlreadyDispensed(rx.ID)
	}

	ok, err := s.SealCheck(ctx, rx)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	if !ok {
		log.Error().Str("prescription_id", rx.ID).Str("pharmacy_id", pharmacyID).Msg("Stored seal failed re-validation at dispense")
		return nil, apperrors.InvalidSignature(rx.ID)
	}

	now := s.now()
	dispensed := rx.Clone()
	dispensed.Status = model.PrescriptionStatusDispensed
	event, err := model.NewOutboxEvent(model.EventPrescriptionDispensed, dispensed, pharmacyID, now)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	tr := model.Transition{
		Notification: model.NewPrescriptionNotification(model.NotificationPrescriptionDispensed, rx.PatientID, rx.ID, now),
		Event:        event,
	}

	err = s.repo.MarkDispensed(ctx, rx.ID, model.Dispensation{DispensedAt: now, DispensedBy: pharmacyID}, tr)
	if errors.Is(err, repository.ErrConflict) {
		current, gerr := s.reload(ctx, rx.ID)
		if gerr != nil {
			return nil, gerr
		}
		if current.Status == model.PrescriptionStatusDispensed {
			return nil, apperrors.AlreadyDispensed(rx.ID)
		}
		return nil, apperrors.InvalidState("prescription cannot be dispensed in its current state")
	}
	if err != nil {
		return nil, storeErr(err)
	}

	log.Info().Str("prescription_id", rx.ID).Str("pharmacy_id", pharmacyID).Msg("Prescription dispensed")
	return s.reload(ctx, rx.ID)
}

// SealCheck recomputes the content hash and verifies the stored signature
// against the key that made it. A key revoked since then still verifies
// seals made before its revocation. A prescription without a seal, or whose
// signer key is unknown, is reported as not valid.
func (s *Service) SealCheck(ctx context.Context, rx *model.Prescription) (bool, error) {
	if !rx.IsSigned() {
		return false, nil
	}

	var signer *keys.Key
	var err error
	if rx.SignerKeyID != nil {
		signer, err = s.keys.KeyByID(ctx, rx.DoctorID, *rx.SignerKeyID)
	} else {
		signer, err = s.keys.ActiveKey(ctx, rx.DoctorID)
	}
	if errors.Is(err, keys.ErrNoKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if rx.SignedAt != nil && !signer.ValidAt(*rx.SignedAt) {
		return false, nil
	}
	return signing.VerifySeal(signer.Public, signing.ContentOf(rx), *rx.HashSHA256, *rx.SignatureB64), nil
}

// Lookup loads a prescription without any visibility check. It backs the
// token-authorized paths.
func (s *Service) Lookup(ctx context.Context, id string) (*model.Prescription, error) {
	rx, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return rx, nil
}

func (s *Service) load(ctx context.Context, p model.Principal, id string) (*model.Prescription, error) {
	rx, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !canView(p, rx) {
		return nil, apperrors.NewNotFound("prescription", nil)
	}
	return rx, nil
}

func (s *Service) reload(ctx context.Context, id string) (*model.Prescription, error) {
	rx, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return rx, nil
}

func canView(p model.Principal, rx *model.Prescription) bool {
	switch p.Role {
	case model.RoleAdmin:
		return true
	case model.RoleDoctor:
		return rx.DoctorID == p.ID
	case model.RolePatient:
		return rx.PatientID == p.ID
	case model.RolePharmacy:
		return rx.DispensedBy != nil && *rx.DispensedBy == p.ID
	}
	return false
}

func storedAnchor(rx *model.Prescription) model.Anchor {
	a := model.Anchor{}
	if rx.AnchorNetwork != nil {
		a.Network = *rx.AnchorNetwork
	}
	if rx.AnchorTxID != nil {
		a.TxID = *rx.AnchorTxID
	}
	if rx.AnchorBlock != nil {
		a.Block = *rx.AnchorBlock
	}
	return a
}

func storeErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("prescription", err)
	}
	return apperrors.NewInternal(err)
}
