package prescription

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-ledger/internal/handler"
	"github.com/jwalitptl/rx-ledger/internal/model"
	rxsvc "github.com/jwalitptl/rx-ledger/internal/service/prescription"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
	"github.com/jwalitptl/rx-ledger/pkg/qr"
)

// Store is the prescription lifecycle as seen by the HTTP layer.
type Store interface {
	Create(ctx context.Context, p model.Principal, in rxsvc.CreateInput) (*model.Prescription, error)
	Get(ctx context.Context, p model.Principal, id string) (*model.Prescription, error)
	List(ctx context.Context, p model.Principal, f model.PrescriptionFilter) ([]*model.PrescriptionSummary, error)
	Sign(ctx context.Context, p model.Principal, id string, in rxsvc.SignInput) (*model.Prescription, error)
	Anchor(ctx context.Context, p model.Principal, id string) (model.Anchor, error)
	IssueToken(ctx context.Context, p model.Principal, id string) (string, time.Time, error)
}

type Verifier interface {
	Verify(ctx context.Context, token string) (*model.VerifyResponse, error)
}

type Dispenser interface {
	Dispense(ctx context.Context, p model.Principal, id, token string) (*model.Prescription, error)
}

type Handler struct {
	store     Store
	verifier  Verifier
	dispenser Dispenser
	qrSize    int
}

func NewHandler(store Store, verifier Verifier, dispenser Dispenser, qrSize int) *Handler {
	return &Handler{
		store:     store,
		verifier:  verifier,
		dispenser: dispenser,
		qrSize:    qrSize,
	}
}

// RegisterPublicRoutes mounts the unauthenticated verification endpoints.
func (h *Handler) RegisterPublicRoutes(r gin.IRouter) {
	r.GET("/prescriptions/verify", h.VerifyQuery)
	r.POST("/prescriptions/verify", h.VerifyBody)
}

// RegisterRoutes mounts the authenticated endpoints. requireRole guards the
// role-restricted ones.
func (h *Handler) RegisterRoutes(r gin.IRouter, requireRole func(...model.Role) gin.HandlerFunc) {
	rx := r.Group("/prescriptions")
	{
		rx.POST("", requireRole(model.RoleDoctor), h.Create)
		rx.GET("", h.List)
		rx.GET("/:id", h.Get)
		rx.POST("/:id/sign", requireRole(model.RoleDoctor), h.Sign)
		rx.POST("/:id/anchor", requireRole(model.RoleDoctor, model.RoleAdmin), h.Anchor)
		rx.GET("/:id/qr", requireRole(model.RoleDoctor, model.RolePatient), h.QR)
		rx.POST("/:id/dispense", requireRole(model.RolePharmacy, model.RoleAdmin), h.Dispense)
	}

	r.GET("/pharmacies/:id/dispensed", requireRole(model.RolePharmacy, model.RoleAdmin), h.ListDispensed)
}

func (h *Handler) Create(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	var req model.CreatePrescriptionRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	rx, err := h.store.Create(c.Request.Context(), p, rxsvc.CreateInput{
		PatientID: req.PatientID,
		Notes:     req.Notes,
		Items:     req.Items,
	})
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": rx.ID})
}

func (h *Handler) Get(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	rx, err := h.store.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rx)
}

// List answers a plain array; role scoping happens in the store.
func (h *Handler) List(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	f := model.PrescriptionFilter{
		DoctorID:  c.Query("doctorId"),
		PatientID: c.Query("patientId"),
		Status:    model.PrescriptionStatus(strings.ToUpper(c.Query("status"))),
		Order:     model.SortOrder(strings.ToLower(c.Query("order"))),
	}
	h.respondList(c, p, f)
}

func (h *Handler) ListDispensed(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	f := model.PrescriptionFilter{
		DispensedBy: c.Param("id"),
		Status:      model.PrescriptionStatusDispensed,
		Order:       model.SortOrder(strings.ToLower(c.Query("order"))),
	}
	h.respondList(c, p, f)
}

func (h *Handler) respondList(c *gin.Context, p model.Principal, f model.PrescriptionFilter) {
	rows, err := h.store.List(c.Request.Context(), p, f)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	if rows == nil {
		rows = []*model.PrescriptionSummary{}
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) Sign(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	var req model.SignPrescriptionRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	rx, err := h.store.Sign(c.Request.Context(), p, c.Param("id"), rxsvc.SignInput{
		PrivateKeyPEM: req.PrivateKeyPEM,
		SignatureB64:  req.SignatureB64,
	})
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rx)
}

func (h *Handler) Anchor(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	anchor, err := h.store.Anchor(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, anchor)
}

// QR issues a verification token together with the payload to encode and a
// renderer URL for it.
func (h *Handler) QR(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	tok, exp, err := h.store.IssueToken(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	payload := qr.Payload(tok)
	c.JSON(http.StatusOK, model.QRTokenResponse{
		Token:    tok,
		Exp:      exp.Unix(),
		Payload:  payload,
		ImageURL: qr.ImageURL(payload, h.qrSize),
	})
}

func (h *Handler) VerifyQuery(c *gin.Context) {
	h.verify(c, c.Query("token"))
}

func (h *Handler) VerifyBody(c *gin.Context) {
	var req model.VerifyRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	h.verify(c, req.Token)
}

func (h *Handler) verify(c *gin.Context, raw string) {
	tok := qr.NormalizeToken(raw)
	if tok == "" {
		handler.RespondError(c, apperrors.Validation("token is required", nil))
		return
	}

	res, err := h.verifier.Verify(c.Request.Context(), tok)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Dispense(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	// the body is optional
	var req model.DispenseRequest
	if c.Request.ContentLength != 0 {
		if !handler.BindJSON(c, &req) {
			return
		}
	}

	rx, err := h.dispenser.Dispense(c.Request.Context(), p, c.Param("id"), qr.NormalizeToken(req.Token))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rx)
}
