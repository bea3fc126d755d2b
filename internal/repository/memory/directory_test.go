package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository"
)

func TestDoctorKeyHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().DoctorKeys()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := repo.Active(ctx, "doc-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.Add(ctx, &model.DoctorKey{KeyID: "k1", DoctorID: "doc-1", PublicKeyPEM: "pem-1", CreatedAt: t0}))
	require.NoError(t, repo.Add(ctx, &model.DoctorKey{KeyID: "k2", DoctorID: "doc-1", PublicKeyPEM: "pem-2", CreatedAt: t0.Add(time.Hour)}))
	assert.ErrorIs(t, repo.Add(ctx, &model.DoctorKey{KeyID: "k1", DoctorID: "doc-1", CreatedAt: t0.Add(2 * time.Hour)}), repository.ErrConflict)

	active, err := repo.Active(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "k2", active.KeyID)
	assert.True(t, active.Active())

	old, err := repo.Get(ctx, "doc-1", "k1")
	require.NoError(t, err)
	require.NotNil(t, old.RevokedAt)
	assert.Equal(t, t0.Add(time.Hour), *old.RevokedAt)
	assert.True(t, old.ValidAt(t0.Add(time.Minute)))
	assert.False(t, old.ValidAt(t0.Add(time.Hour)))

	_, err = repo.Get(ctx, "doc-2", "k1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	history, err := repo.ListByDoctor(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "k2", history[0].KeyID)
	assert.Equal(t, "k1", history[1].KeyID)

	// Returned keys are copies.
	history[1].RevokedAt = nil
	old, err = repo.Get(ctx, "doc-1", "k1")
	require.NoError(t, err)
	assert.NotNil(t, old.RevokedAt)
}

func TestAssignments(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now().UTC()

	for _, p := range []*model.Patient{
		{ID: "pat-2", FullName: "Zoe Park", CreatedAt: now},
		{ID: "pat-1", FullName: "Luis Gomez", CreatedAt: now},
		{ID: "pat-3", FullName: "Ana Silva", CreatedAt: now},
	} {
		require.NoError(t, s.Patients().Create(ctx, p))
	}
	assert.ErrorIs(t, s.Patients().Create(ctx, &model.Patient{ID: "pat-1"}), repository.ErrConflict)

	assign := func(doctorID, patientID string) error {
		return s.Assignments().Assign(ctx, &model.Assignment{DoctorID: doctorID, PatientID: patientID, AssignedAt: now})
	}
	require.NoError(t, assign("doc-1", "pat-1"))
	require.NoError(t, assign("doc-1", "pat-2"))
	require.NoError(t, assign("doc-1", "pat-1"))
	assert.ErrorIs(t, assign("doc-2", "pat-1"), repository.ErrConflict)
	require.NoError(t, assign("doc-2", "pat-3"))

	mine, err := s.Patients().List(ctx, model.PatientFilter{DoctorID: "doc-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "Luis Gomez", mine[0].FullName)
	assert.Equal(t, "Zoe Park", mine[1].FullName)

	all, err := s.Patients().List(ctx, model.PatientFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ana Silva", all[0].FullName)

	assert.ErrorIs(t, s.Assignments().Unassign(ctx, "doc-2", "pat-1"), repository.ErrNotFound)
	require.NoError(t, s.Assignments().Unassign(ctx, "doc-1", "pat-1"))
	_, err = s.Assignments().Get(ctx, "pat-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	require.NoError(t, assign("doc-2", "pat-1"))
}

func TestMedications(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Medications()

	amox := &model.Medication{Code: "AMOX500", Name: "Amoxicillin 500mg"}
	require.NoError(t, repo.Create(ctx, amox))
	assert.Equal(t, int64(1), amox.ID)
	require.NoError(t, repo.Create(ctx, &model.Medication{Code: "IBU400", Name: "Ibuprofen 400mg"}))
	assert.ErrorIs(t, repo.Create(ctx, &model.Medication{Code: "amox500", Name: "dup"}), repository.ErrConflict)

	got, err := repo.GetByCode(ctx, "amox500")
	require.NoError(t, err)
	assert.Equal(t, "Amoxicillin 500mg", got.Name)
	_, err = repo.GetByCode(ctx, "PARA1G")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	found, err := repo.List(ctx, "ibu", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "IBU400", found[0].Code)

	all, err := repo.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "AMOX500", all[0].Code)
}
