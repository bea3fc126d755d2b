package notification

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/rx-ledger/internal/handler"
	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/service/notification"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
)

const HeaderTotalCount = "X-Total-Count"

type Handler struct {
	service notification.Service
}

func NewHandler(service notification.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.POST("/:id/read", h.MarkRead)
	}

	patients := r.Group("/patients/:id/notifications")
	{
		patients.GET("", h.ListForPatient)
		patients.GET("/unread-count", h.UnreadCount)
		patients.POST("/read-all", h.MarkAllRead)
	}
}

// List answers a plain array; the total is carried in X-Total-Count.
func (h *Handler) List(c *gin.Context) {
	h.list(c, c.Query("patientId"))
}

func (h *Handler) ListForPatient(c *gin.Context) {
	h.list(c, c.Param("id"))
}

func (h *Handler) list(c *gin.Context, patientID string) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		handler.RespondError(c, apperrors.Validation("page and limit must be integers", err))
		return
	}

	items, total, err := h.service.List(c.Request.Context(), p, patientID, page)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	if items == nil {
		items = []*model.Notification{}
	}
	c.Header(HeaderTotalCount, strconv.FormatInt(total, 10))
	c.JSON(http.StatusOK, items)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	n, err := h.service.UnreadCount(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *Handler) MarkRead(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		handler.RespondError(c, apperrors.Validation("invalid notification ID", err))
		return
	}

	n, err := h.service.MarkRead(c.Request.Context(), p, id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	n, err := h.service.MarkAllRead(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
