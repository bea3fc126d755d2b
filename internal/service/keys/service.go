package keys

import (
	"context"
	"crypto"
	"errors"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
	"github.com/jwalitptl/rx-ledger/internal/service/audit"
	"github.com/jwalitptl/rx-ledger/internal/signing"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
)

// ErrNoKey is returned when the doctor has no matching registered key.
var ErrNoKey = errors.New("no public key registered for doctor")

// Key is a parsed registered key.
type Key struct {
	ID        string
	DoctorID  string
	Public    crypto.PublicKey
	RevokedAt *time.Time
}

// ValidAt reports whether a signature made at t may be checked with k.
func (k *Key) ValidAt(t time.Time) bool {
	return k.RevokedAt == nil || t.Before(*k.RevokedAt)
}

type Service struct {
	repo    repository.DoctorKeyRepository
	cache   *cache.Cache
	auditor *audit.Service
	now     func() time.Time
}

func NewService(repo repository.DoctorKeyRepository, cacheTTL time.Duration, auditor *audit.Service) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Service{
		repo:    repo,
		cache:   cache.New(cacheTTL, 2*cacheTTL),
		auditor: auditor,
		now:     time.Now,
	}
}

// Register makes publicKeyPEM the doctor's active key. The previous key is
// revoked, not replaced, so prescriptions it signed stay verifiable.
// Registering the active key again is a no-op. Doctors may only register
// their own key; admins may register any.
func (s *Service) Register(ctx context.Context, p model.Principal, doctorID, publicKeyPEM string) (*model.DoctorKey, error) {
	doctorID = strings.TrimSpace(doctorID)
	if doctorID == "" {
		return nil, apperrors.Validation("doctor id is required", nil)
	}
	if !p.IsAdmin() && !(p.Is(model.RoleDoctor) && p.ID == doctorID) {
		return nil, apperrors.Forbidden("only the doctor or an admin may register this key")
	}

	pub, err := signing.ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, apperrors.Validation("publicKeyPem must be a PKIX PEM Ed25519 or ECDSA P-256 public key", err)
	}
	keyID, err := signing.Fingerprint(pub)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}

	previous, err := s.repo.Active(ctx, doctorID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		previous = nil
	case err != nil:
		return nil, apperrors.NewInternal(err)
	case previous.KeyID == keyID:
		return previous, nil
	}

	key := &model.DoctorKey{
		KeyID:        keyID,
		DoctorID:     doctorID,
		PublicKeyPEM: publicKeyPEM,
		Algorithm:    signing.Algorithm(pub),
		CreatedAt:    s.now().UTC(),
	}
	err = s.repo.Add(ctx, key)
	if errors.Is(err, repository.ErrConflict) {
		if existing, gerr := s.repo.Get(ctx, doctorID, keyID); gerr == nil {
			if existing.Active() {
				return existing, nil
			}
			return nil, apperrors.Validation("this key was revoked for the doctor; register a new key", nil)
		}
		return nil, apperrors.InvalidState("another key was registered concurrently; retry")
	}
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	s.cache.Delete(activeCacheKey(doctorID))
	if previous != nil {
		s.cache.Delete(keyCacheKey(doctorID, previous.KeyID))
	}

	ev := log.Info().Str("doctor_id", doctorID).Str("key_id", keyID).Str("algorithm", key.Algorithm).Str("actor", p.ID)
	meta := map[string]interface{}{"algorithm": key.Algorithm, "key_id": keyID}
	if previous != nil {
		ev = ev.Str("revoked_key_id", previous.KeyID)
		meta["revoked_key_id"] = previous.KeyID
	}
	ev.Msg("Doctor public key registered")
	s.auditor.Log(ctx, audit.Entry{
		Actor:      p,
		Action:     model.AuditActionKeyRegistered,
		EntityType: model.AuditEntityDoctorKey,
		EntityID:   doctorID,
		Metadata:   meta,
	})
	return key, nil
}

// History lists every key a doctor registered, newest first.
func (s *Service) History(ctx context.Context, p model.Principal, doctorID string) ([]*model.DoctorKey, error) {
	if !p.IsAdmin() && !(p.Is(model.RoleDoctor) && p.ID == doctorID) {
		return nil, apperrors.Forbidden("only the doctor or an admin may list these keys")
	}
	keys, err := s.repo.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	return keys, nil
}

// ActiveKey returns the key new signatures of a doctor must verify against.
func (s *Service) ActiveKey(ctx context.Context, doctorID string) (*Key, error) {
	return s.resolve(activeCacheKey(doctorID), func() (*model.DoctorKey, error) {
		return s.repo.Active(ctx, doctorID)
	})
}

// KeyByID returns a doctor's key by fingerprint, revoked or not.
func (s *Service) KeyByID(ctx context.Context, doctorID, keyID string) (*Key, error) {
	return s.resolve(keyCacheKey(doctorID, keyID), func() (*model.DoctorKey, error) {
		return s.repo.Get(ctx, doctorID, keyID)
	})
}

func (s *Service) resolve(cacheKey string, load func() (*model.DoctorKey, error)) (*Key, error) {
	if v, ok := s.cache.Get(cacheKey); ok {
		return v.(*Key), nil
	}

	stored, err := load()
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, err
	}

	pub, err := signing.ParsePublicKeyPEM(stored.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	k := &Key{ID: stored.KeyID, DoctorID: stored.DoctorID, Public: pub, RevokedAt: stored.RevokedAt}
	s.cache.SetDefault(cacheKey, k)
	return k, nil
}

func activeCacheKey(doctorID string) string { return "active/" + doctorID }

func keyCacheKey(doctorID, keyID string) string { return "key/" + doctorID + "/" + keyID }
