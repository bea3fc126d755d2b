package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-ledger/internal/handler"
	"github.com/jwalitptl/rx-ledger/internal/model"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
)

const maxLimit = 1000

type Lister interface {
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error)
}

// Handler exposes the audit trail to admins.
type Handler struct {
	service Lister
}

func NewHandler(service Lister) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	audit := r.Group("/audit")
	{
		audit.GET("/logs", h.ListLogs)
		audit.GET("/export", h.ExportLogs)
	}
}

func (h *Handler) ListLogs(c *gin.Context) {
	logs, ok := h.list(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) ExportLogs(c *gin.Context) {
	logs, ok := h.list(c)
	if !ok {
		return
	}

	filename := fmt.Sprintf("audit_logs_%s.csv", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"ID", "Actor ID", "Actor Role", "Action", "Entity Type", "Entity ID", "Outcome", "IP Address", "Created At"})
	for _, l := range logs {
		_ = w.Write([]string{
			l.ID.String(),
			l.ActorID,
			string(l.ActorRole),
			l.Action,
			l.EntityType,
			l.EntityID,
			l.Outcome,
			l.IPAddress,
			l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
}

func (h *Handler) list(c *gin.Context) ([]*model.AuditLog, bool) {
	filter := model.AuditFilter{
		EntityID: c.Query("entityId"),
		Action:   c.Query("action"),
		Limit:    100,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			handler.RespondError(c, apperrors.Validation(fmt.Sprintf("limit must be between 1 and %d", maxLimit), err))
			return nil, false
		}
		filter.Limit = n
	}

	logs, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		handler.RespondError(c, apperrors.NewInternal(err))
		return nil, false
	}
	return logs, true
}
