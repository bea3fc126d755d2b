package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// Lifecycle event types published through the outbox.
const (
	EventPrescriptionCreated   = "PRESCRIPTION_CREATED"
	EventPrescriptionIssued    = "PRESCRIPTION_ISSUED"
	EventPrescriptionAnchored  = "PRESCRIPTION_ANCHORED"
	EventPrescriptionDispensed = "PRESCRIPTION_DISPENSED"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	AggregateID  string          `db:"aggregate_id" json:"aggregate_id"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
}

// LifecycleEvent is the payload of every prescription outbox event.
type LifecycleEvent struct {
	PrescriptionID string             `json:"prescription_id"`
	DoctorID       string             `json:"doctor_id"`
	PatientID      string             `json:"patient_id"`
	Status         PrescriptionStatus `json:"status"`
	Actor          string             `json:"actor,omitempty"`
	HashSHA256     string             `json:"hash_sha256,omitempty"`
	AnchorTxID     string             `json:"anchor_txid,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

func NewOutboxEvent(eventType string, rx *Prescription, actor string, now time.Time) (*OutboxEvent, error) {
	ev := LifecycleEvent{
		PrescriptionID: rx.ID,
		DoctorID:       rx.DoctorID,
		PatientID:      rx.PatientID,
		Status:         rx.Status,
		Actor:          actor,
		OccurredAt:     now,
	}
	if rx.HashSHA256 != nil {
		ev.HashSHA256 = *rx.HashSHA256
	}
	if rx.AnchorTxID != nil {
		ev.AnchorTxID = *rx.AnchorTxID
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: rx.ID,
		Payload:     payload,
		Status:      OutboxStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}
