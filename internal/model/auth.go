package model

import (
	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleDoctor   Role = "doctor"
	RolePatient  Role = "patient"
	RolePharmacy Role = "pharmacy"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RolePatient, RolePharmacy, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller, passed explicitly down the call
// chain instead of living in ambient state.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (p Principal) Is(role Role) bool {
	return p.Role == role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// SessionClaims are the claims of a bearer session token issued by the
// external identity provider.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}
