package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-ledger/internal/handler"
	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/reqctx"
	"github.com/jwalitptl/rx-ledger/pkg/auth"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
)

const (
	HeaderDevUserID = "X-User-ID"
	HeaderDevRole   = "X-Role"
)

type AuthMiddleware struct {
	jwt        auth.JWTService
	devHeaders bool
}

// NewAuthMiddleware validates bearer session tokens. With devHeaders set,
// requests without a bearer token may identify themselves through
// X-User-ID and X-Role.
func NewAuthMiddleware(jwt auth.JWTService, devHeaders bool) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt, devHeaders: devHeaders}
}

// Authenticate resolves the caller and puts the principal on the request
// context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := m.principal(c)
		if err != nil {
			handler.RespondError(c, err)
			return
		}

		c.Request = c.Request.WithContext(reqctx.WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

func (m *AuthMiddleware) principal(c *gin.Context) (model.Principal, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return model.Principal{}, apperrors.Wrap(apperrors.ErrUnauthorized, "invalid authorization format", nil)
		}
		p, err := m.jwt.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			return model.Principal{}, apperrors.Unauthorized(err)
		}
		return p, nil
	}

	if m.devHeaders {
		id := strings.TrimSpace(c.GetHeader(HeaderDevUserID))
		role := model.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderDevRole))))
		if id != "" && role.Valid() {
			return model.Principal{ID: id, Role: role}, nil
		}
	}
	return model.Principal{}, apperrors.Unauthorized(nil)
}

// RequireRole rejects authenticated callers whose role is not listed.
func (m *AuthMiddleware) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := handler.Principal(c)
		if !ok {
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		handler.RespondError(c, apperrors.Forbidden("role "+string(p.Role)+" may not perform this action"))
	}
}
