// Package memory is a process-local storage backend. It honours the same
// conditional-update semantics as the PostgreSQL backend and is used for
// development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
)

// Store holds every table behind one mutex, so a state change and its
// transition records commit together.
type Store struct {
	mu            sync.RWMutex
	prescriptions map[string]*model.Prescription
	order         []string
	keys          map[string][]*model.DoctorKey
	patients      map[string]*model.Patient
	doctors       map[string]*model.Doctor
	assignments   map[string]*model.Assignment
	medications   []*model.Medication
	notifications map[uuid.UUID]*model.Notification
	outbox        map[uuid.UUID]*model.OutboxEvent
	outboxOrder   []uuid.UUID
	audit         []*model.AuditLog
}

func NewStore() *Store {
	return &Store{
		prescriptions: make(map[string]*model.Prescription),
		keys:          make(map[string][]*model.DoctorKey),
		patients:      make(map[string]*model.Patient),
		doctors:       make(map[string]*model.Doctor),
		assignments:   make(map[string]*model.Assignment),
		notifications: make(map[uuid.UUID]*model.Notification),
		outbox:        make(map[uuid.UUID]*model.OutboxEvent),
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repository.Set {
	return &repository.Set{
		Prescriptions: s.Prescriptions(),
		DoctorKeys:    s.DoctorKeys(),
		Patients:      s.Patients(),
		Doctors:       s.Doctors(),
		Assignments:   s.Assignments(),
		Medications:   s.Medications(),
		Notifications: s.Notifications(),
		Outbox:        s.Outbox(),
		Audit:         s.Audit(),
		Health:        s,
	}
}

func (s *Store) Prescriptions() repository.PrescriptionRepository { return &prescriptionRepository{s} }
func (s *Store) DoctorKeys() repository.DoctorKeyRepository       { return &doctorKeyRepository{s} }
func (s *Store) Patients() repository.PatientRepository           { return &patientRepository{s} }
func (s *Store) Doctors() repository.DoctorRepository             { return &doctorRepository{s} }
func (s *Store) Assignments() repository.AssignmentRepository     { return &assignmentRepository{s} }
func (s *Store) Medications() repository.MedicationRepository     { return &medicationRepository{s} }
func (s *Store) Notifications() repository.NotificationRepository { return &notificationRepository{s} }
func (s *Store) Outbox() repository.OutboxRepository              { return &outboxRepository{s} }
func (s *Store) Audit() repository.AuditRepository                { return &auditRepository{s} }

func (s *Store) Ping(context.Context) error { return nil }

// Tamper mutates a stored prescription in place, bypassing every state
// check. It exists to simulate storage corruption.
func (s *Store) Tamper(id string, fn func(rx *model.Prescription)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rx, ok := s.prescriptions[id]
	if !ok {
		return false
	}
	fn(rx)
	return true
}

// writeTransition must be called with mu held for writing.
func (s *Store) writeTransition(tr model.Transition) {
	if tr.Notification != nil {
		n := *tr.Notification
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		s.notifications[n.ID] = &n
	}
	if tr.Event != nil {
		ev := *tr.Event
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		if ev.Status == "" {
			ev.Status = model.OutboxStatusPending
		}
		s.outbox[ev.ID] = &ev
		s.outboxOrder = append(s.outboxOrder, ev.ID)
	}
}
