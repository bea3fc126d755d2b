package memory

import (
	"context"
	"sort"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
)

type prescriptionRepository struct {
	s *Store
}

func (r *prescriptionRepository) Create(_ context.Context, rx *model.Prescription, tr model.Transition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.prescriptions[rx.ID]; ok {
		return repository.ErrConflict
	}
	c := rx.Clone()
	for i := range c.Items {
		c.Items[i].Position = i
	}
	r.s.prescriptions[c.ID] = c
	r.s.order = append(r.s.order, c.ID)
	r.s.writeTransition(tr)
	return nil
}

func (r *prescriptionRepository) Get(_ context.Context, id string) (*model.Prescription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rx, ok := r.s.prescriptions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rx.Clone(), nil
}

func (r *prescriptionRepository) List(_ context.Context, f model.PrescriptionFilter) ([]*model.PrescriptionSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rows := []*model.PrescriptionSummary{}
	for _, id := range r.s.order {
		rx := r.s.prescriptions[id]
		if f.DoctorID != "" && rx.DoctorID != f.DoctorID {
			continue
		}
		if f.PatientID != "" && rx.PatientID != f.PatientID {
			continue
		}
		if f.DispensedBy != "" && (rx.DispensedBy == nil || *rx.DispensedBy != f.DispensedBy) {
			continue
		}
		if f.Status != "" && rx.Status != f.Status {
			continue
		}
		c := rx.Clone()
		rows = append(rows, &model.PrescriptionSummary{
			ID:          c.ID,
			PatientID:   c.PatientID,
			DoctorID:    c.DoctorID,
			Status:      c.Status,
			CreatedAt:   c.CreatedAt,
			DispensedAt: c.DispensedAt,
			DispensedBy: c.DispensedBy,
			ItemsCount:  len(c.Items),
		})
	}

	byDispensed := f.DispensedBy != ""
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].CreatedAt, rows[j].CreatedAt
		if byDispensed && rows[i].DispensedAt != nil && rows[j].DispensedAt != nil {
			a, b = *rows[i].DispensedAt, *rows[j].DispensedAt
		}
		if a.Equal(b) {
			if f.Order == model.SortAsc {
				return rows[i].ID < rows[j].ID
			}
			return rows[i].ID > rows[j].ID
		}
		if f.Order == model.SortAsc {
			return a.Before(b)
		}
		return a.After(b)
	})

	if f.Offset > 0 {
		if f.Offset >= len(rows) {
			return []*model.PrescriptionSummary{}, nil
		}
		rows = rows[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(rows) {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

func (r *prescriptionRepository) Seal(_ context.Context, id string, seal model.Seal, tr model.Transition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rx, ok := r.s.prescriptions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if rx.Status != model.PrescriptionStatusDraft || rx.HashSHA256 != nil {
		return repository.ErrConflict
	}

	hash, sig, at := seal.HashSHA256, seal.SignatureB64, seal.SignedAt
	rx.HashSHA256 = &hash
	rx.SignatureB64 = &sig
	rx.SignedAt = &at
	if seal.SignerKeyID != "" {
		keyID := seal.SignerKeyID
		rx.SignerKeyID = &keyID
	}
	rx.Status = model.PrescriptionStatusIssued
	rx.UpdatedAt = at
	r.s.writeTransition(tr)
	return nil
}

func (r *prescriptionRepository) RecordAnchor(_ context.Context, id string, anchor model.Anchor, tr model.Transition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rx, ok := r.s.prescriptions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if rx.AnchorTxID != nil || rx.Status == model.PrescriptionStatusDraft {
		return repository.ErrConflict
	}

	network, txid, block := anchor.Network, anchor.TxID, anchor.Block
	rx.AnchorNetwork = &network
	rx.AnchorTxID = &txid
	rx.AnchorBlock = &block
	r.s.writeTransition(tr)
	return nil
}

func (r *prescriptionRepository) MarkDispensed(_ context.Context, id string, d model.Dispensation, tr model.Transition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rx, ok := r.s.prescriptions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if rx.Status != model.PrescriptionStatusIssued || rx.DispensedAt != nil || rx.SignatureB64 == nil {
		return repository.ErrConflict
	}

	at, by := d.DispensedAt, d.DispensedBy
	rx.DispensedAt = &at
	rx.DispensedBy = &by
	rx.Status = model.PrescriptionStatusDispensed
	rx.UpdatedAt = at
	r.s.writeTransition(tr)
	return nil
}
