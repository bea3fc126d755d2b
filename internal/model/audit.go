package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	ActorID    string          `json:"actor_id" db:"actor_id"`
	ActorRole  Role            `json:"actor_role" db:"actor_role"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   string          `json:"entity_id" db:"entity_id"`
	Outcome    string          `json:"outcome" db:"outcome"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
	IPAddress  string          `json:"ip_address" db:"ip_address"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

const (
	// Action types
	AuditActionCreate           = "create"
	AuditActionSign             = "sign"
	AuditActionSignRejected     = "sign_rejected"
	AuditActionAnchor           = "anchor"
	AuditActionTokenIssued      = "token_issued"
	AuditActionVerifyFailed     = "verify_failed"
	AuditActionDispense         = "dispense"
	AuditActionDispenseRejected = "dispense_rejected"
	AuditActionKeyRegistered    = "key_registered"
	AuditActionRegister         = "register"
	AuditActionAssign           = "assign"
	AuditActionUnassign         = "unassign"

	// Entity types
	AuditEntityPrescription = "prescription"
	AuditEntityDoctorKey    = "doctor_key"
	AuditEntityPatient      = "patient"
	AuditEntityDoctor       = "doctor"
	AuditEntityMedication   = "medication"

	AuditOutcomeSuccess = "success"
	AuditOutcomeFailure = "failure"
)

type AuditFilter struct {
	EntityID string
	Action   string
	Limit    int
}
