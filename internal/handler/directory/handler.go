package directory

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-ledger/internal/handler"
	"github.com/jwalitptl/rx-ledger/internal/model"
)

type Directory interface {
	CreatePatient(ctx context.Context, p model.Principal, req model.CreatePatientRequest) (*model.Patient, error)
	CreateDoctor(ctx context.Context, p model.Principal, req model.CreateDoctorRequest) (*model.Doctor, error)
	CreateMedication(ctx context.Context, p model.Principal, req model.CreateMedicationRequest) (*model.Medication, error)
	ListPatients(ctx context.Context, p model.Principal, doctorID string) ([]*model.Patient, error)
	ListMedications(ctx context.Context, query string) ([]*model.Medication, error)
	Assign(ctx context.Context, p model.Principal, doctorID, patientID string) (*model.Assignment, error)
	Unassign(ctx context.Context, p model.Principal, doctorID, patientID string) error
	AssignedDoctor(ctx context.Context, p model.Principal, patientID string) (*model.Doctor, error)
}

type Handler struct {
	directory Directory
}

func NewHandler(directory Directory) *Handler {
	return &Handler{directory: directory}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/patients", h.ListPatients)
	r.POST("/patients", h.CreatePatient)
	r.GET("/patients/:id/doctor", h.AssignedDoctor)

	r.POST("/doctors", h.CreateDoctor)
	r.POST("/doctors/:id/patients/:pid", h.Assign)
	r.DELETE("/doctors/:id/patients/:pid", h.Unassign)

	r.GET("/medications", h.ListMedications)
	r.POST("/medications", h.CreateMedication)
}

func (h *Handler) ListPatients(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	patients, err := h.directory.ListPatients(c.Request.Context(), p, c.Query("doctorId"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, patients)
}

func (h *Handler) CreatePatient(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.CreatePatientRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	patient, err := h.directory.CreatePatient(c.Request.Context(), p, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, patient)
}

func (h *Handler) AssignedDoctor(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	doctor, err := h.directory.AssignedDoctor(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doctor)
}

func (h *Handler) CreateDoctor(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.CreateDoctorRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	doctor, err := h.directory.CreateDoctor(c.Request.Context(), p, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doctor)
}

func (h *Handler) Assign(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	a, err := h.directory.Assign(c.Request.Context(), p, c.Param("id"), c.Param("pid"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) Unassign(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	if err := h.directory.Unassign(c.Request.Context(), p, c.Param("id"), c.Param("pid")); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) ListMedications(c *gin.Context) {
	if _, ok := handler.Principal(c); !ok {
		return
	}
	meds, err := h.directory.ListMedications(c.Request.Context(), c.Query("q"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meds)
}

func (h *Handler) CreateMedication(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	var req model.CreateMedicationRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	m, err := h.directory.CreateMedication(c.Request.Context(), p, req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}
