package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audithandler "github.com/jwalitptl/rx-ledger/internal/handler/audit"
	directoryhandler "github.com/jwalitptl/rx-ledger/internal/handler/directory"
	"github.com/jwalitptl/rx-ledger/internal/handler/doctor"
	"github.com/jwalitptl/rx-ledger/internal/handler/health"
	metricshandler "github.com/jwalitptl/rx-ledger/internal/handler/metrics"
	notificationhandler "github.com/jwalitptl/rx-ledger/internal/handler/notification"
	prescriptionhandler "github.com/jwalitptl/rx-ledger/internal/handler/prescription"
	"github.com/jwalitptl/rx-ledger/internal/ledger"
	"github.com/jwalitptl/rx-ledger/internal/middleware"
	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/repository/memory"
	"github.com/jwalitptl/rx-ledger/internal/service/audit"
	"github.com/jwalitptl/rx-ledger/internal/service/directory"
	"github.com/jwalitptl/rx-ledger/internal/service/dispense"
	"github.com/jwalitptl/rx-ledger/internal/service/keys"
	"github.com/jwalitptl/rx-ledger/internal/service/notification"
	"github.com/jwalitptl/rx-ledger/internal/service/prescription"
	"github.com/jwalitptl/rx-ledger/internal/service/token"
	"github.com/jwalitptl/rx-ledger/internal/service/verification"
	"github.com/jwalitptl/rx-ledger/internal/signing"
	"github.com/jwalitptl/rx-ledger/pkg/auth"
	"github.com/jwalitptl/rx-ledger/pkg/client"
	"github.com/jwalitptl/rx-ledger/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	doctorCred   = client.Credentials{DevID: "doc-1", DevRole: model.RoleDoctor}
	patientCred  = client.Credentials{DevID: "pat-1", DevRole: model.RolePatient}
	pharmacyCred = client.Credentials{DevID: "pha-1", DevRole: model.RolePharmacy}
	adminCred    = client.Credentials{DevID: "root", DevRole: model.RoleAdmin}
)

type testServer struct {
	srv    *httptest.Server
	client *client.Client
	store  *memory.Store
	jwt    auth.JWTService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	auditor := audit.NewService(store.Audit())
	keySvc := keys.NewService(store.DoctorKeys(), time.Minute, auditor)

	l, err := ledger.Open("", "rx-test")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	issuer, err := token.NewIssuer("token-secret-for-tests-0123456789", time.Minute)
	require.NoError(t, err)

	dir := directory.NewService(directory.Deps{
		Patients:          store.Patients(),
		Doctors:           store.Doctors(),
		Assignments:       store.Assignments(),
		Medications:       store.Medications(),
		Auditor:           auditor,
		EnforceAssignment: true,
		EnforceCatalog:    true,
	})
	seedDirectory(t, store)

	rx := prescription.NewService(prescription.Deps{
		Repo:      store.Prescriptions(),
		Keys:      keySvc,
		Directory: dir,
		Anchorer:  l,
		Tokens:    issuer,
		Auditor:   auditor,
		Metrics:   m,
	})
	verifier := verification.NewService(issuer, rx, auditor, m)
	gate := dispense.NewGate(issuer, rx, auditor, m)

	jwtSvc := auth.NewJWTService("session-secret")
	r := NewRouter(middleware.NewAuthMiddleware(jwtSvc, true), Handlers{
		Prescription: prescriptionhandler.NewHandler(rx, verifier, gate, 280),
		Notification: notificationhandler.NewHandler(notification.NewService(store.Notifications())),
		Doctor:       doctor.NewHandler(keySvc),
		Directory:    directoryhandler.NewHandler(dir),
		Audit:        audithandler.NewHandler(auditor),
		Health:       health.NewHandler(health.Check{Name: "storage", Fn: store.Ping}),
		Metrics:      metricshandler.New(reg, m),
	}, RouterConfig{CORSConfig: middleware.DefaultCORSConfig(), SecurityConfig: middleware.DefaultSecurityConfig()})
	r.Setup()

	srv := httptest.NewServer(r.Engine())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, client: client.New(srv.URL), store: store, jwt: jwtSvc}
}

// seedDirectory registers doc-1 with pat-1 assigned and one catalog entry.
func seedDirectory(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Doctors().Create(ctx, &model.Doctor{ID: "doc-1", FullName: "Dr Ana Ruiz", CreatedAt: now}))
	require.NoError(t, store.Patients().Create(ctx, &model.Patient{ID: "pat-1", FullName: "Luis Gomez", CreatedAt: now}))
	require.NoError(t, store.Assignments().Assign(ctx, &model.Assignment{DoctorID: "doc-1", PatientID: "pat-1", AssignedAt: now}))
	require.NoError(t, store.Medications().Create(ctx, &model.Medication{Code: "AMOX500", Name: "Amoxicillin 500mg"}))
}

func (ts *testServer) get(t *testing.T, path string, cred client.Credentials) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+path, nil)
	require.NoError(t, err)
	if cred.DevID != "" {
		req.Header.Set(middleware.HeaderDevUserID, cred.DevID)
		req.Header.Set(middleware.HeaderDevRole, string(cred.DevRole))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func apiError(t *testing.T, err error) *client.APIError {
	t.Helper()
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "expected an API error, got %v", err)
	return apiErr
}

func createRequest() model.CreatePrescriptionRequest {
	return model.CreatePrescriptionRequest{
		PatientID: "pat-1",
		Items: []model.PrescriptionItem{
			{DrugCode: "AMOX500", Name: "Amoxicillin 500mg", Quantity: 21, Dosage: "1 capsule every 8h"},
		},
	}
}

func TestPrescriptionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	kp, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	key, err := ts.client.RegisterKey(ctx, doctorCred, "doc-1", kp.PublicKeyPEM)
	require.NoError(t, err)
	assert.Equal(t, signing.AlgorithmEd25519, key.Algorithm)

	id, err := ts.client.CreatePrescription(ctx, doctorCred, createRequest())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rx, err := ts.client.Sign(ctx, doctorCred, id, kp.PrivateKeyPEM)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusIssued, rx.Status)
	require.NotNil(t, rx.HashSHA256)

	anchor, err := ts.client.Anchor(ctx, doctorCred, id)
	require.NoError(t, err)
	assert.Equal(t, "rx-test", anchor.Network)
	assert.Equal(t, int64(1), anchor.Block)
	assert.Len(t, anchor.TxID, 64)

	again, err := ts.client.Anchor(ctx, doctorCred, id)
	require.NoError(t, err)
	assert.Equal(t, anchor, again)

	qrTok, err := ts.client.QRToken(ctx, patientCred, id)
	require.NoError(t, err)
	assert.Contains(t, qrTok.ImageURL, "size=280x280")
	assert.Greater(t, qrTok.Exp, time.Now().Unix())

	res, err := ts.client.Verify(ctx, qrTok.Payload)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.Anchored)
	require.NotNil(t, res.TxID)
	assert.Equal(t, anchor.TxID, *res.TxID)
	assert.Equal(t, id, res.Prescription.ID)

	dispensed, err := ts.client.Dispense(ctx, pharmacyCred, id, qrTok.Payload)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusDispensed, dispensed.Status)
	require.NotNil(t, dispensed.DispensedBy)
	assert.Equal(t, "pha-1", *dispensed.DispensedBy)

	_, err = ts.client.Dispense(ctx, pharmacyCred, id, qrTok.Token)
	apiErr := apiError(t, err)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "AlreadyDispensed", apiErr.Code)

	notes, err := ts.client.Notifications(ctx, patientCred, "pat-1", model.Pagination{})
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, model.NotificationPrescriptionDispensed, notes[0].Type)

	rows, err := ts.client.ListPrescriptions(ctx, patientCred, client.ListParams{Status: model.PrescriptionStatusDispensed})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].ItemsCount)

	resp := ts.get(t, "/api/pharmacies/pha-1/dispensed", pharmacyCred)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var history []model.PrescriptionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Len(t, history, 1)

	resp = ts.get(t, "/api/admin/audit/logs?entityId="+id, adminCred)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var logs []model.AuditLog
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Contains(t, actions, model.AuditActionSign)
	assert.Contains(t, actions, model.AuditActionAnchor)
	assert.Contains(t, actions, model.AuditActionDispense)
	assert.Contains(t, actions, model.AuditActionDispenseRejected)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	ts := newTestServer(t)

	_, err := ts.client.Verify(context.Background(), `{"token":"not-a-token"}`)
	apiErr := apiError(t, err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "TokenInvalid", apiErr.Code)

	resp := ts.get(t, "/api/prescriptions/verify", client.Credentials{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
}

func TestAuthorization(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.client.CreatePrescription(ctx, client.Credentials{}, createRequest())
	assert.Equal(t, http.StatusUnauthorized, apiError(t, err).Status)

	_, err = ts.client.CreatePrescription(ctx, pharmacyCred, createRequest())
	assert.Equal(t, http.StatusForbidden, apiError(t, err).Status)

	bearer, err := ts.jwt.GenerateAccessToken(model.Principal{ID: "doc-1", Role: model.RoleDoctor}, time.Hour)
	require.NoError(t, err)
	id, err := ts.client.CreatePrescription(ctx, client.Credentials{Token: bearer}, createRequest())
	require.NoError(t, err)

	_, err = ts.client.GetPrescription(ctx, client.Credentials{DevID: "pat-2", DevRole: model.RolePatient}, id)
	assert.Equal(t, http.StatusNotFound, apiError(t, err).Status)

	_, err = ts.client.Sign(ctx, doctorCred, id, "")
	assert.Equal(t, http.StatusBadRequest, apiError(t, err).Status)

	_, err = ts.client.QRToken(ctx, patientCred, id)
	apiErr := apiError(t, err)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "NotSignedError", apiErr.Code)

	resp := ts.get(t, "/api/admin/audit/logs", doctorCred)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCreateValidation(t *testing.T) {
	ts := newTestServer(t)

	req := createRequest()
	req.Items[0].Quantity = 0
	_, err := ts.client.CreatePrescription(context.Background(), doctorCred, req)
	apiErr := apiError(t, err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "ValidationError", apiErr.Code)

	httpReq, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/prescriptions", strings.NewReader("{"))
	require.NoError(t, err)
	httpReq.Header.Set(middleware.HeaderDevUserID, "doc-1")
	httpReq.Header.Set(middleware.HeaderDevRole, "doctor")
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.get(t, "/health/ready", client.Credentials{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ts.get(t, "/api/prescriptions", doctorCred)
	resp = ts.get(t, "/metrics", client.Credentials{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `path="/api/prescriptions"`)
}

func TestKeyRotationKeepsIssuedPrescriptionsValid(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	oldKey, err := signing.GenerateKeyPair()
	require.NoError(t, err)
	_, err = ts.client.RegisterKey(ctx, doctorCred, "doc-1", oldKey.PublicKeyPEM)
	require.NoError(t, err)

	id, err := ts.client.CreatePrescription(ctx, doctorCred, createRequest())
	require.NoError(t, err)
	_, err = ts.client.Sign(ctx, doctorCred, id, oldKey.PrivateKeyPEM)
	require.NoError(t, err)
	qrTok, err := ts.client.QRToken(ctx, patientCred, id)
	require.NoError(t, err)

	newKey, err := signing.GenerateECDSAKeyPair()
	require.NoError(t, err)
	_, err = ts.client.RegisterKey(ctx, doctorCred, "doc-1", newKey.PublicKeyPEM)
	require.NoError(t, err)

	history, err := ts.client.KeyHistory(ctx, doctorCred, "doc-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Nil(t, history[0].RevokedAt)
	assert.NotNil(t, history[1].RevokedAt)

	res, err := ts.client.Verify(ctx, qrTok.Payload)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.NotNil(t, res.Prescription.SignerKeyID)
	assert.Equal(t, history[1].KeyID, *res.Prescription.SignerKeyID)

	dispensed, err := ts.client.Dispense(ctx, pharmacyCred, id, qrTok.Payload)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusDispensed, dispensed.Status)

	// New signatures must come from the new key.
	next, err := ts.client.CreatePrescription(ctx, doctorCred, createRequest())
	require.NoError(t, err)
	_, err = ts.client.Sign(ctx, doctorCred, next, oldKey.PrivateKeyPEM)
	apiErr := apiError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	assert.Equal(t, "SignatureError", apiErr.Code)

	signed, err := ts.client.Sign(ctx, doctorCred, next, newKey.PrivateKeyPEM)
	require.NoError(t, err)
	require.NotNil(t, signed.SignerKeyID)
	assert.Equal(t, history[0].KeyID, *signed.SignerKeyID)
}

func TestDirectoryEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	otherDoctor := client.Credentials{DevID: "doc-2", DevRole: model.RoleDoctor}

	patients, err := ts.client.Patients(ctx, doctorCred, "")
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "Luis Gomez", patients[0].FullName)

	_, err = ts.client.CreatePatient(ctx, doctorCred, model.CreatePatientRequest{ID: "pat-2", FullName: "Eva Diaz"})
	assert.Equal(t, http.StatusForbidden, apiError(t, err).Status)
	_, err = ts.client.CreatePatient(ctx, adminCred, model.CreatePatientRequest{ID: "pat-2", FullName: "Eva Diaz"})
	require.NoError(t, err)
	_, err = ts.client.CreateDoctor(ctx, adminCred, model.CreateDoctorRequest{ID: "doc-2", FullName: "Dr Bea Ortiz"})
	require.NoError(t, err)

	// Unassigned patients cannot be prescribed to.
	req := createRequest()
	req.PatientID = "pat-2"
	_, err = ts.client.CreatePrescription(ctx, doctorCred, req)
	assert.Equal(t, http.StatusForbidden, apiError(t, err).Status)

	_, err = ts.client.AssignPatient(ctx, doctorCred, "doc-1", "pat-2")
	require.NoError(t, err)
	_, err = ts.client.CreatePrescription(ctx, doctorCred, req)
	require.NoError(t, err)

	patients, err = ts.client.Patients(ctx, adminCred, "doc-1")
	require.NoError(t, err)
	assert.Len(t, patients, 2)
	_, err = ts.client.Patients(ctx, otherDoctor, "doc-1")
	assert.Equal(t, http.StatusForbidden, apiError(t, err).Status)

	_, err = ts.client.AssignPatient(ctx, otherDoctor, "doc-2", "pat-2")
	apiErr := apiError(t, err)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "InvalidState", apiErr.Code)

	assigned, err := ts.client.AssignedDoctor(ctx, patientCred, "pat-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", assigned.ID)
	assert.Equal(t, "Dr Ana Ruiz", assigned.FullName)
	_, err = ts.client.AssignedDoctor(ctx, patientCred, "pat-2")
	assert.Equal(t, http.StatusNotFound, apiError(t, err).Status)

	require.NoError(t, ts.client.UnassignPatient(ctx, doctorCred, "doc-1", "pat-2"))
	_, err = ts.client.CreatePrescription(ctx, doctorCred, req)
	assert.Equal(t, http.StatusForbidden, apiError(t, err).Status)
	err = ts.client.UnassignPatient(ctx, doctorCred, "doc-1", "pat-2")
	assert.Equal(t, http.StatusNotFound, apiError(t, err).Status)

	meds, err := ts.client.Medications(ctx, pharmacyCred, "")
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "AMOX500", meds[0].Code)
	meds, err = ts.client.Medications(ctx, pharmacyCred, "ibu")
	require.NoError(t, err)
	assert.Empty(t, meds)

	unknown := createRequest()
	unknown.Items[0].DrugCode = "IBU400"
	_, err = ts.client.CreatePrescription(ctx, doctorCred, unknown)
	apiErr = apiError(t, err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "ValidationError", apiErr.Code)

	_, err = ts.client.CreateMedication(ctx, adminCred, model.CreateMedicationRequest{Code: "IBU400", Name: "Ibuprofen 400mg"})
	require.NoError(t, err)
	unknown.Items[0].Name = "Ibuprofen 400mg"
	_, err = ts.client.CreatePrescription(ctx, doctorCred, unknown)
	require.NoError(t, err)
}
