package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
)

// TokenType is the typ claim every verification token carries, so a
// session token signed with a leaked key can never pass as one.
const TokenType = "rx-verify"

const hkdfInfo = "rx-ledger verification token v1"

type claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer mints and resolves short-lived verification tokens. Tokens are
// self-contained and never stored.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	return &Issuer{key: key, ttl: ttl, now: time.Now}, nil
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue returns a token bound to prescriptionID and its expiry.
func (i *Issuer) Issue(prescriptionID string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	c := claims{
		Type: TokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   prescriptionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign verification token: %w", err)
	}
	return signed, exp, nil
}

// Resolve returns the prescription id the token is bound to.
func (i *Issuer) Resolve(tokenString string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", apperrors.TokenExpired()
	}
	if err != nil {
		return "", apperrors.TokenInvalid(err)
	}
	if c.Type != TokenType {
		return "", apperrors.TokenInvalid(fmt.Errorf("unexpected token type %q", c.Type))
	}
	if c.Subject == "" {
		return "", apperrors.TokenInvalid(errors.New("missing subject"))
	}
	return c.Subject, nil
}
