package dispense

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-ledger/internal/ledger"
	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository/memory"
	"github.com/jwalitptl/rx-ledger/internal/service/audit"
	"github.com/jwalitptl/rx-ledger/internal/service/keys"
	"github.com/jwalitptl/rx-ledger/internal/service/prescription"
	"github.com/jwalitptl/rx-ledger/internal/service/token"
	"github.com/jwalitptl/rx-ledger/internal/signing"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
)

var (
	doctor   = model.Principal{ID: "doc-1", Role: model.RoleDoctor}
	pharmacy = model.Principal{ID: "pha-1", Role: model.RolePharmacy}
)

type fixture struct {
	store  *memory.Store
	rx     *prescription.Service
	issuer *token.Issuer
	gate   *Gate
	key    *signing.KeyPair
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	auditor := audit.NewService(store.Audit())
	keySvc := keys.NewService(store.DoctorKeys(), time.Minute, auditor)

	kp, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	_, err = keySvc.Register(context.Background(), doctor, doctor.ID, kp.PublicKeyPEM)
	require.NoError(t, err)

	l, err := ledger.Open("", "rx-test")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	issuer, err := token.NewIssuer("token-secret-for-tests-0123456789", time.Minute)
	require.NoError(t, err)

	rx := prescription.NewService(prescription.Deps{
		Repo:     store.Prescriptions(),
		Keys:     keySvc,
		Anchorer: l,
		Tokens:   issuer,
		Auditor:  auditor,
	})
	return &fixture{store: store, rx: rx, issuer: issuer, gate: NewGate(issuer, rx, auditor, nil), key: kp}
}

func (f *fixture) create(t *testing.T, sign bool) string {
	t.Helper()
	ctx := context.Background()
	rx, err := f.rx.Create(ctx, doctor, prescription.CreateInput{
		PatientID: "pat-1",
		Items:     []model.PrescriptionItem{{DrugCode: "MET850", Name: "Metformin 850mg", Quantity: 60, Dosage: "twice daily"}},
	})
	require.NoError(t, err)
	if sign {
		_, err = f.rx.Sign(ctx, doctor, rx.ID, prescription.SignInput{PrivateKeyPEM: f.key.PrivateKeyPEM})
		require.NoError(t, err)
	}
	return rx.ID
}

func TestGateDispenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, true)

	tok, _, err := f.issuer.Issue(id)
	require.NoError(t, err)

	rx, err := f.gate.Dispense(ctx, pharmacy, id, tok)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusDispensed, rx.Status)
	require.NotNil(t, rx.DispensedAt)

	_, err = f.gate.Dispense(ctx, pharmacy, id, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrAlreadyDispensed))

	logs, err := f.store.Audit().List(ctx, model.AuditFilter{EntityID: id})
	require.NoError(t, err)
	var actions []string
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Contains(t, actions, model.AuditActionDispense)
	assert.Contains(t, actions, model.AuditActionDispenseRejected)
}

func TestGateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.create(t, false)
	issued := f.create(t, true)
	otherTok, _, err := f.issuer.Issue(draft)
	require.NoError(t, err)

	tests := []struct {
		name  string
		actor model.Principal
		id    string
		token string
		code  apperrors.ErrorCode
	}{
		{"doctor cannot dispense", doctor, issued, "", apperrors.ErrForbidden},
		{"draft", pharmacy, draft, "", apperrors.ErrNotSigned},
		{"token for another prescription", pharmacy, issued, otherTok, apperrors.ErrTokenInvalid},
		{"garbage token", pharmacy, issued, "nope", apperrors.ErrTokenInvalid},
		{"unknown prescription", pharmacy, "missing", "", apperrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gate.Dispense(ctx, tt.actor, tt.id, tt.token)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	rx, err := f.rx.Lookup(ctx, issued)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusIssued, rx.Status)
}

func TestGateRejectsBrokenSeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, true)

	require.True(t, f.store.Tamper(id, func(p *model.Prescription) {
		forged := "AAAA"
		p.SignatureB64 = &forged
	}))

	_, err := f.gate.Dispense(ctx, pharmacy, id, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidSignature))
}

func TestGateConcurrentDispense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, true)

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := model.Principal{ID: "pha-" + string(rune('a'+i)), Role: model.RolePharmacy}
			_, errs[i] = f.gate.Dispense(ctx, p, id, "")
		}(i)
	}
	wg.Wait()

	var ok, already int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperrors.HasCode(err, apperrors.ErrAlreadyDispensed):
			already++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, already)
}
