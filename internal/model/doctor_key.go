package model

import "time"

// DoctorKey is one registered public key of a doctor. Keys are never
// overwritten: registering a new key revokes the previous one, and revoked
// keys stay on record so earlier signatures remain verifiable.
type DoctorKey struct {
	KeyID        string     `json:"key_id" db:"key_id"`
	DoctorID     string     `json:"doctor_id" db:"doctor_id"`
	PublicKeyPEM string     `json:"public_key_pem" db:"public_key_pem"`
	Algorithm    string     `json:"algorithm" db:"algorithm"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

func (k *DoctorKey) Active() bool {
	return k.RevokedAt == nil
}

// ValidAt reports whether a signature made at t may be checked with k.
func (k *DoctorKey) ValidAt(t time.Time) bool {
	return k.RevokedAt == nil || t.Before(*k.RevokedAt)
}

type RegisterKeyRequest struct {
	PublicKeyPEM string `json:"publicKeyPem" binding:"required"`
}
