package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-ledger/internal/config"
	"github.com/jwalitptl/rx-ledger/internal/ledger"
	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/signing"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := execute(t, "", "keygen")
	require.NoError(t, err)
	assert.Contains(t, out, "BEGIN PRIVATE KEY")
	assert.Contains(t, out, "BEGIN PUBLIC KEY")

	dir := t.TempDir()
	_, err = execute(t, "", "keygen", "--alg", "ecdsa", "--out", filepath.Join(dir, "doc-1"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "doc-1.key"))
	assert.FileExists(t, filepath.Join(dir, "doc-1.pub"))

	_, err = execute(t, "", "keygen", "--alg", "rsa")
	assert.Error(t, err)
}

func TestHash(t *testing.T) {
	rx := &model.Prescription{
		ID:        "rx-1",
		PatientID: "pat-1",
		DoctorID:  "doc-1",
		Status:    model.PrescriptionStatusIssued,
		CreatedAt: time.Date(2024, 5, 1, 10, 30, 0, 123456000, time.UTC),
		Items: []model.PrescriptionItem{
			{DrugCode: "AMOX500", Name: "Amoxicillin 500mg", Quantity: 21, Dosage: "1 capsule every 8h"},
		},
	}
	digest, _ := signing.Digest(signing.ContentOf(rx))
	rx.HashSHA256 = &digest

	doc, err := json.Marshal(rx)
	require.NoError(t, err)

	out, err := execute(t, string(doc), "hash", "--check")
	require.NoError(t, err)
	assert.Equal(t, digest+"\n", out)

	out, err = execute(t, string(doc), "hash", "--canonical")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	sum := sha256.Sum256([]byte(lines[0]))
	assert.Equal(t, hex.EncodeToString(sum[:]), lines[1])

	rx.Items[0].Quantity = 42
	tampered, err := json.Marshal(rx)
	require.NoError(t, err)
	_, err = execute(t, string(tampered), "hash", "--check")
	assert.ErrorContains(t, err, "hash mismatch")
}

func TestLedgerCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	l, err := ledger.Open(dir, "rx-test")
	require.NoError(t, err)
	for _, payload := range []string{"a", "b"} {
		sum := sha256.Sum256([]byte(payload))
		_, err := l.Anchor(context.Background(), hex.EncodeToString(sum[:]))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	out, err := execute(t, "", "ledger-check", "--path", dir)
	require.NoError(t, err)
	assert.Equal(t, "Ledger OK: 3 blocks, height 2\n", out)
}

func TestVerifyCommand(t *testing.T) {
	var valid atomic.Bool
	valid.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "tok-1", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(model.VerifyResponse{Valid: valid.Load()})
	}))
	defer srv.Close()

	out, err := execute(t, "", "verify", "--server", srv.URL, `{"t":"tok-1"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"valid": true`)

	_, err = execute(t, "", "verify", "--server", srv.URL, "--require-anchor", "tok-1")
	assert.ErrorContains(t, err, "not anchored")

	valid.Store(false)
	_, err = execute(t, "tok-1\n", "verify", "--server", srv.URL)
	assert.ErrorIs(t, err, errNotValid)
}

func TestNewAppServesWithMemoryStorage(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Storage.Driver = config.StorageMemory
	cfg.Ledger.Path = ""

	reg := prometheus.NewRegistry()
	a, err := newApp(context.Background(), cfg, reg, reg)
	require.NoError(t, err)
	defer a.close()

	assert.Equal(t, "log", a.broker.Name())

	w := httptest.NewRecorder()
	a.router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ledger":"UP"`)

	w = httptest.NewRecorder()
	a.router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/prescriptions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWorkerRequiresSharedStorage(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Storage.Driver = config.StorageMemory

	_, err = newWorkerApp(context.Background(), cfg, prometheus.NewRegistry())
	assert.ErrorIs(t, err, errWorkerStorage)
}
