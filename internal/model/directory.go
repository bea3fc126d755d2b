package model

import "time"

// Patient is a directory entry a doctor can be assigned to.
type Patient struct {
	ID         string    `json:"id" db:"id"`
	FullName   string    `json:"fullname" db:"full_name"`
	DocumentID *string   `json:"document_id,omitempty" db:"document_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Doctor is the public profile of a prescriber.
type Doctor struct {
	ID            string    `json:"id" db:"id"`
	FullName      string    `json:"fullname" db:"full_name"`
	LicenseNumber *string   `json:"license_number,omitempty" db:"license_number"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Assignment links a patient to the one doctor allowed to prescribe for
// them.
type Assignment struct {
	DoctorID   string    `json:"doctor_id" db:"doctor_id"`
	PatientID  string    `json:"patient_id" db:"patient_id"`
	AssignedAt time.Time `json:"assigned_at" db:"assigned_at"`
}

// Medication is a catalog entry prescription items are checked against.
type Medication struct {
	ID   int64  `json:"id" db:"id"`
	Code string `json:"code" db:"code"`
	Name string `json:"name" db:"name"`
}

type PatientFilter struct {
	DoctorID string
	Limit    int
}

type CreatePatientRequest struct {
	ID         string  `json:"id" binding:"required,notblank,max=128"`
	FullName   string  `json:"fullname" binding:"required,notblank,max=255"`
	DocumentID *string `json:"document_id" binding:"omitempty,max=64"`
}

type CreateDoctorRequest struct {
	ID            string  `json:"id" binding:"required,notblank,max=128"`
	FullName      string  `json:"fullname" binding:"required,notblank,max=255"`
	LicenseNumber *string `json:"license_number" binding:"omitempty,max=64"`
}

type CreateMedicationRequest struct {
	Code string `json:"code" binding:"required,notblank,max=64"`
	Name string `json:"name" binding:"required,notblank,max=255"`
}
