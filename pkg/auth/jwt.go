package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/rx-ledger/internal/model"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrInvalidRole  = errors.New("invalid role claim")
)

// JWTService validates bearer session tokens minted by the identity
// provider. GenerateAccessToken exists for tests and local tooling only.
type JWTService interface {
	GenerateAccessToken(p model.Principal, ttl time.Duration) (string, error)
	ValidateToken(token string) (model.Principal, error)
}

type jwtService struct {
	secret []byte
	now    func() time.Time
}

func NewJWTService(secret string) JWTService {
	return &jwtService{secret: []byte(secret), now: time.Now}
}

func (s *jwtService) GenerateAccessToken(p model.Principal, ttl time.Duration) (string, error) {
	now := s.now()
	claims := model.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: p.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *jwtService) ValidateToken(tokenString string) (model.Principal, error) {
	var claims model.SessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return model.Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !claims.Role.Valid() {
		return model.Principal{}, ErrInvalidRole
	}
	return model.Principal{ID: claims.Subject, Role: claims.Role}, nil
}
