package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
)

type patientRepository struct {
	s *Store
}

func (r *patientRepository) Create(_ context.Context, patient *model.Patient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.patients[patient.ID]; ok {
		return repository.ErrConflict
	}
	p := clonePatient(patient)
	r.s.patients[p.ID] = p
	return nil
}

func (r *patientRepository) Get(_ context.Context, id string) (*model.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.patients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clonePatient(p), nil
}

func (r *patientRepository) List(_ context.Context, f model.PatientFilter) ([]*model.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*model.Patient{}
	for _, p := range r.s.patients {
		if f.DoctorID != "" {
			a, ok := r.s.assignments[p.ID]
			if !ok || a.DoctorID != f.DoctorID {
				continue
			}
		}
		out = append(out, clonePatient(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FullName == out[j].FullName {
			return out[i].ID < out[j].ID
		}
		return out[i].FullName < out[j].FullName
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func clonePatient(p *model.Patient) *model.Patient {
	c := *p
	c.DocumentID = cloneString(p.DocumentID)
	return &c
}

type doctorRepository struct {
	s *Store
}

func (r *doctorRepository) Create(_ context.Context, doctor *model.Doctor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.doctors[doctor.ID]; ok {
		return repository.ErrConflict
	}
	d := *doctor
	d.LicenseNumber = cloneString(doctor.LicenseNumber)
	r.s.doctors[d.ID] = &d
	return nil
}

func (r *doctorRepository) Get(_ context.Context, id string) (*model.Doctor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	d, ok := r.s.doctors[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *d
	c.LicenseNumber = cloneString(d.LicenseNumber)
	return &c, nil
}

type assignmentRepository struct {
	s *Store
}

func (r *assignmentRepository) Assign(_ context.Context, a *model.Assignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if cur, ok := r.s.assignments[a.PatientID]; ok {
		if cur.DoctorID == a.DoctorID {
			return nil
		}
		return repository.ErrConflict
	}
	c := *a
	r.s.assignments[a.PatientID] = &c
	return nil
}

func (r *assignmentRepository) Unassign(_ context.Context, doctorID, patientID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.assignments[patientID]
	if !ok || cur.DoctorID != doctorID {
		return repository.ErrNotFound
	}
	delete(r.s.assignments, patientID)
	return nil
}

func (r *assignmentRepository) Get(_ context.Context, patientID string) (*model.Assignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.assignments[patientID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *a
	return &c, nil
}

type medicationRepository struct {
	s *Store
}

func (r *medicationRepository) Create(_ context.Context, m *model.Medication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.medications {
		if strings.EqualFold(existing.Code, m.Code) {
			return repository.ErrConflict
		}
	}
	m.ID = int64(len(r.s.medications) + 1)
	c := *m
	r.s.medications = append(r.s.medications, &c)
	return nil
}

func (r *medicationRepository) GetByCode(_ context.Context, code string) (*model.Medication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, m := range r.s.medications {
		if strings.EqualFold(m.Code, code) {
			c := *m
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *medicationRepository) List(_ context.Context, query string, limit int) ([]*model.Medication, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	query = strings.ToLower(query)
	out := []*model.Medication{}
	for _, m := range r.s.medications {
		if query != "" && !strings.Contains(strings.ToLower(m.Code), query) && !strings.Contains(strings.ToLower(m.Name), query) {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
