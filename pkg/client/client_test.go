package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-ledger/internal/model"
)

func TestVerifyUsesGetWithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/prescriptions/verify", r.URL.Path)
		assert.Equal(t, "tok-123", r.URL.Query().Get("token"))
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("x-user-id"))
		json.NewEncoder(w).Encode(model.VerifyResponse{Valid: true, Prescription: &model.Prescription{ID: "rx-1"}})
	}))
	defer srv.Close()

	res, err := New(srv.URL).Verify(context.Background(), `{"token":"tok-123"}`)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "rx-1", res.Prescription.ID)
}

func TestVerifyFallsBackToPost(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		atomic.AddInt32(&posts, 1)
		assert.Empty(t, r.Header.Get("Authorization"))
		var body model.VerifyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok-9", body.Token)
		json.NewEncoder(w).Encode(model.VerifyResponse{Valid: false})
	}))
	defer srv.Close()

	res, err := New(srv.URL).Verify(context.Background(), " tok-9 ")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
}

func TestVerifyFailureIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"verification token expired","code":"TokenExpired"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).Verify(context.Background(), "tok")
	assert.Nil(t, res)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "TokenExpired", apiErr.Code)
	assert.Equal(t, "verification token expired", apiErr.Message)

	srv.Close()
	_, err = New(srv.URL).Verify(context.Background(), "tok")
	assert.Error(t, err)

	_, err = New(srv.URL).Verify(context.Background(), "   ")
	assert.Error(t, err)
}

func TestCredentialsArePerCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("x-user-id") {
		case "pha-1":
			assert.Equal(t, "pharmacy", r.Header.Get("x-role"))
			assert.Empty(t, r.Header.Get("Authorization"))
		case "":
			assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
		}
		var body model.DispenseRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok", body.Token)
		status := model.PrescriptionStatusDispensed
		json.NewEncoder(w).Encode(model.Prescription{ID: "rx-1", Status: status})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	rx, err := c.Dispense(context.Background(), Credentials{DevID: "pha-1", DevRole: model.RolePharmacy}, "rx-1", `{"t":"tok"}`)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusDispensed, rx.Status)

	_, err = c.Dispense(context.Background(), Credentials{Token: "session-token", DevID: "ignored"}, "rx-1", "tok")
	require.NoError(t, err)
}
