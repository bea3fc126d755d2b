package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/pkg/qr"
)

const defaultTimeout = 15 * time.Second

// Credentials identify the caller of a single request. A bearer token takes
// precedence over the development headers.
type Credentials struct {
	Token   string
	DevID   string
	DevRole model.Role
}

func (c Credentials) apply(req *http.Request) {
	switch {
	case c.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case c.DevID != "":
		req.Header.Set("x-user-id", c.DevID)
		req.Header.Set("x-role", string(c.DevRole))
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ListParams struct {
	DoctorID  string
	PatientID string
	Status    model.PrescriptionStatus
	Order     model.SortOrder
}

func (c *Client) CreatePrescription(ctx context.Context, cred Credentials, in model.CreatePrescriptionRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/prescriptions", &cred, in, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) GetPrescription(ctx context.Context, cred Credentials, id string) (*model.Prescription, error) {
	var out model.Prescription
	if err := c.do(ctx, http.MethodGet, "/api/prescriptions/"+url.PathEscape(id), &cred, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPrescriptions(ctx context.Context, cred Credentials, p ListParams) ([]*model.PrescriptionSummary, error) {
	q := url.Values{}
	if p.DoctorID != "" {
		q.Set("doctorId", p.DoctorID)
	}
	if p.PatientID != "" {
		q.Set("patientId", p.PatientID)
	}
	if p.Status != "" {
		q.Set("status", string(p.Status))
	}
	if p.Order != "" {
		q.Set("order", string(p.Order))
	}
	var out []*model.PrescriptionSummary
	if err := c.do(ctx, http.MethodGet, "/api/prescriptions?"+q.Encode(), &cred, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Sign(ctx context.Context, cred Credentials, id, privateKeyPEM string) (*model.Prescription, error) {
	var out model.Prescription
	body := model.SignPrescriptionRequest{PrivateKeyPEM: privateKeyPEM}
	if err := c.do(ctx, http.MethodPost, "/api/prescriptions/"+url.PathEscape(id)+"/sign", &cred, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Anchor(ctx context.Context, cred Credentials, id string) (*model.Anchor, error) {
	var out model.Anchor
	if err := c.do(ctx, http.MethodPost, "/api/prescriptions/"+url.PathEscape(id)+"/anchor", &cred, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) QRToken(ctx context.Context, cred Credentials, id string) (*model.QRTokenResponse, error) {
	var out model.QRTokenResponse
	if err := c.do(ctx, http.MethodGet, "/api/prescriptions/"+url.PathEscape(id)+"/qr", &cred, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify checks a scanned token or QR payload. It never sends credentials:
// GET is tried first, then POST. Any failure is returned as an error.
func (c *Client) Verify(ctx context.Context, scanned string) (*model.VerifyResponse, error) {
	tok := qr.NormalizeToken(scanned)
	if tok == "" {
		return nil, errors.New("empty verification token")
	}

	var out model.VerifyResponse
	getErr := c.do(ctx, http.MethodGet, "/api/prescriptions/verify?token="+url.QueryEscape(tok), nil, nil, &out)
	if getErr == nil {
		return &out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out = model.VerifyResponse{}
	if err := c.do(ctx, http.MethodPost, "/api/prescriptions/verify", nil, model.VerifyRequest{Token: tok}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Dispense(ctx context.Context, cred Credentials, id, token string) (*model.Prescription, error) {
	var out model.Prescription
	body := model.DispenseRequest{Token: qr.NormalizeToken(token)}
	if err := c.do(ctx, http.MethodPost, "/api/prescriptions/"+url.PathEscape(id)+"/dispense", &cred, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RegisterKey(ctx context.Context, cred Credentials, doctorID, publicKeyPEM string) (*model.DoctorKey, error) {
	var out model.DoctorKey
	body := model.RegisterKeyRequest{PublicKeyPEM: publicKeyPEM}
	if err := c.do(ctx, http.MethodPut, "/api/doctors/"+url.PathEscape(doctorID)+"/public-key", &cred, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// KeyHistory lists every key the doctor registered, newest first.
func (c *Client) KeyHistory(ctx context.Context, cred Credentials, doctorID string) ([]*model.DoctorKey, error) {
	var out []*model.DoctorKey
	if err := c.do(ctx, http.MethodGet, "/api/doctors/"+url.PathEscape(doctorID)+"/public-keys", &cred, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreatePatient(ctx context.Context, cred Credentials, req model.CreatePatientRequest) (*model.Patient, error) {
	var out model.Patient
	if err := c.do(ctx, http.MethodPost, "/api/patients", &cred, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateDoctor(ctx context.Context, cred Credentials, req model.CreateDoctorRequest) (*model.Doctor, error) {
	var out model.Doctor
	if err := c.do(ctx, http.MethodPost, "/api/doctors", &cred, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateMedication(ctx context.Context, cred Credentials, req model.CreateMedicationRequest) (*model.Medication, error) {
	var out model.Medication
	if err := c.do(ctx, http.MethodPost, "/api/medications", &cred, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Patients lists the patients assigned to doctorID; empty means the
// caller's own when the caller is a doctor.
func (c *Client) Patients(ctx context.Context, cred Credentials, doctorID string) ([]*model.Patient, error) {
	path := "/api/patients"
	if doctorID != "" {
		path += "?doctorId=" + url.QueryEscape(doctorID)
	}
	var out []*model.Patient
	if err := c.do(ctx, http.MethodGet, path, &cred, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Medications(ctx context.Context, cred Credentials, query string) ([]*model.Medication, error) {
	path := "/api/medications"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var out []*model.Medication
	if err := c.do(ctx, http.MethodGet, path, &cred, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AssignPatient(ctx context.Context, cred Credentials, doctorID, patientID string) (*model.Assignment, error) {
	var out model.Assignment
	if err := c.do(ctx, http.MethodPost, assignmentPath(doctorID, patientID), &cred, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UnassignPatient(ctx context.Context, cred Credentials, doctorID, patientID string) error {
	return c.do(ctx, http.MethodDelete, assignmentPath(doctorID, patientID), &cred, nil, nil)
}

func (c *Client) AssignedDoctor(ctx context.Context, cred Credentials, patientID string) (*model.Doctor, error) {
	var out model.Doctor
	if err := c.do(ctx, http.MethodGet, "/api/patients/"+url.PathEscape(patientID)+"/doctor", &cred, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func assignmentPath(doctorID, patientID string) string {
	return "/api/doctors/" + url.PathEscape(doctorID) + "/patients/" + url.PathEscape(patientID)
}

func (c *Client) Notifications(ctx context.Context, cred Credentials, patientID string, page model.Pagination) ([]*model.Notification, error) {
	q := url.Values{}
	q.Set("patientId", patientID)
	if page.Page > 0 {
		q.Set("page", fmt.Sprint(page.Page))
	}
	if page.Limit > 0 {
		q.Set("limit", fmt.Sprint(page.Limit))
	}
	var out []*model.Notification
	if err := c.do(ctx, http.MethodGet, "/api/notifications?"+q.Encode(), &cred, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs one request. A nil cred sends no identity headers at all.
func (c *Client) do(ctx context.Context, method, path string, cred *Credentials, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred != nil {
		cred.apply(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Code = eb.Code
			switch {
			case eb.Error != "":
				apiErr.Message = eb.Error
			case eb.Message != "":
				apiErr.Message = eb.Message
			}
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
