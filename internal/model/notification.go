package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationPrescriptionIssued    NotificationType = "PRESCRIPTION_ISSUED"
	NotificationPrescriptionDispensed NotificationType = "PRESCRIPTION_DISPENSED"
	NotificationGeneric               NotificationType = "GENERIC"
)

// Notification is a patient-facing record created alongside lifecycle
// transitions. Delivery is out of scope; ReadAt is nil until acknowledged.
type Notification struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	PatientID      string           `json:"patient_id" db:"patient_id"`
	PrescriptionID *string          `json:"prescription_id,omitempty" db:"prescription_id"`
	Type           NotificationType `json:"type" db:"type"`
	Title          string           `json:"title" db:"title"`
	Message        string           `json:"message" db:"message"`
	ReadAt         *time.Time       `json:"read_at,omitempty" db:"read_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

func NewPrescriptionNotification(t NotificationType, patientID, prescriptionID string, now time.Time) *Notification {
	title, message := "Notification", ""
	switch t {
	case NotificationPrescriptionIssued:
		title = "New prescription issued"
		message = "A new prescription has been signed and issued for you."
	case NotificationPrescriptionDispensed:
		title = "Prescription dispensed"
		message = "Your prescription has been dispensed by a pharmacy."
	}
	rxID := prescriptionID
	return &Notification{
		ID:             uuid.New(),
		PatientID:      patientID,
		PrescriptionID: &rxID,
		Type:           t,
		Title:          title,
		Message:        message,
		CreatedAt:      now,
	}
}
