package model

import (
	"time"
)

type PrescriptionStatus string

const (
	PrescriptionStatusDraft     PrescriptionStatus = "DRAFT"
	PrescriptionStatusIssued    PrescriptionStatus = "ISSUED"
	PrescriptionStatusDispensed PrescriptionStatus = "DISPENSED"
)

func (s PrescriptionStatus) Valid() bool {
	switch s {
	case PrescriptionStatusDraft, PrescriptionStatusIssued, PrescriptionStatusDispensed:
		return true
	}
	return false
}

// Prescription is the aggregate owned by the store. Integrity, anchor and
// dispensation fields are populated progressively and never rewritten.
type Prescription struct {
	ID        string             `json:"id" db:"id"`
	PatientID string             `json:"patient_id" db:"patient_id"`
	DoctorID  string             `json:"doctor_id" db:"doctor_id"`
	Status    PrescriptionStatus `json:"status" db:"status"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" db:"updated_at"`
	Notes     *string            `json:"notes,omitempty" db:"notes"`
	Items     []PrescriptionItem `json:"items" db:"-"`

	HashSHA256   *string    `json:"hash_sha256,omitempty" db:"hash_sha256"`
	SignatureB64 *string    `json:"signature_b64,omitempty" db:"signature_b64"`
	SignedAt     *time.Time `json:"signed_at,omitempty" db:"signed_at"`
	// SignerKeyID is the fingerprint of the doctor key that produced the
	// signature. Seals are always checked against this key.
	SignerKeyID *string `json:"signer_key_id,omitempty" db:"signer_key_id"`

	AnchorNetwork *string `json:"anchor_network,omitempty" db:"anchor_network"`
	AnchorTxID    *string `json:"anchor_txid,omitempty" db:"anchor_txid"`
	AnchorBlock   *int64  `json:"anchor_block,omitempty" db:"anchor_block"`

	DispensedAt *time.Time `json:"dispensed_at,omitempty" db:"dispensed_at"`
	DispensedBy *string    `json:"dispensed_by,omitempty" db:"dispensed_by"`
}

// PrescriptionItem is a line entry; Position keeps the signed order.
type PrescriptionItem struct {
	Position int    `json:"-" db:"position"`
	DrugCode string `json:"drug_code" db:"drug_code" validate:"required,notblank,max=64"`
	Name     string `json:"name" db:"name" validate:"required,notblank,max=255"`
	Quantity int    `json:"quantity" db:"quantity" validate:"gte=1"`
	Dosage   string `json:"dosage,omitempty" db:"dosage" validate:"max=500"`
}

func (p *Prescription) IsSigned() bool {
	return p.HashSHA256 != nil && p.SignatureB64 != nil
}

func (p *Prescription) IsAnchored() bool {
	return p.AnchorTxID != nil && *p.AnchorTxID != ""
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (p *Prescription) Clone() *Prescription {
	if p == nil {
		return nil
	}
	c := *p
	c.Items = append([]PrescriptionItem(nil), p.Items...)
	c.Notes = cloneString(p.Notes)
	c.HashSHA256 = cloneString(p.HashSHA256)
	c.SignatureB64 = cloneString(p.SignatureB64)
	c.SignedAt = cloneTime(p.SignedAt)
	c.SignerKeyID = cloneString(p.SignerKeyID)
	c.AnchorNetwork = cloneString(p.AnchorNetwork)
	c.AnchorTxID = cloneString(p.AnchorTxID)
	if p.AnchorBlock != nil {
		b := *p.AnchorBlock
		c.AnchorBlock = &b
	}
	c.DispensedAt = cloneTime(p.DispensedAt)
	c.DispensedBy = cloneString(p.DispensedBy)
	return &c
}

// Seal is the integrity object attached at signing time.
type Seal struct {
	HashSHA256   string
	SignatureB64 string
	SignedAt     time.Time
	SignerKeyID  string
}

// Anchor is a ledger receipt recorded against a prescription.
type Anchor struct {
	Network string `json:"network"`
	TxID    string `json:"txid"`
	Block   int64  `json:"blockNumber"`
}

// Dispensation marks the terminal transition.
type Dispensation struct {
	DispensedAt time.Time
	DispensedBy string
}

// Transition carries the side records that must commit together with a
// state change.
type Transition struct {
	Notification *Notification
	Event        *OutboxEvent
}

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

type PrescriptionFilter struct {
	DoctorID    string
	PatientID   string
	DispensedBy string
	Status      PrescriptionStatus
	Order       SortOrder
	Limit       int
	Offset      int
}

// PrescriptionSummary is a list row.
type PrescriptionSummary struct {
	ID          string             `json:"id" db:"id"`
	PatientID   string             `json:"patient_id" db:"patient_id"`
	DoctorID    string             `json:"doctor_id" db:"doctor_id"`
	Status      PrescriptionStatus `json:"status" db:"status"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	DispensedAt *time.Time         `json:"dispensed_at,omitempty" db:"dispensed_at"`
	DispensedBy *string            `json:"dispensed_by,omitempty" db:"dispensed_by"`
	ItemsCount  int                `json:"items_count" db:"items_count"`
}

type CreatePrescriptionRequest struct {
	PatientID string             `json:"patient_id" binding:"required"`
	Notes     *string            `json:"notes"`
	Items     []PrescriptionItem `json:"items" binding:"required"`
}

type SignPrescriptionRequest struct {
	PrivateKeyPEM string `json:"privateKeyPem"`
	SignatureB64  string `json:"signature_b64"`
}

type VerifyRequest struct {
	Token string `json:"token" form:"token" binding:"required"`
}

type DispenseRequest struct {
	Token string `json:"token"`
}

// VerifyResponse is the public verification result.
type VerifyResponse struct {
	Valid        bool          `json:"valid"`
	Anchored     bool          `json:"anchored"`
	Network      *string       `json:"network"`
	TxID         *string       `json:"txid"`
	Block        *int64        `json:"blockNumber,omitempty"`
	Prescription *Prescription `json:"prescription"`
}

type QRTokenResponse struct {
	Token    string `json:"token"`
	Exp      int64  `json:"exp"`
	Payload  string `json:"payload"`
	ImageURL string `json:"image_url"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
