package doctor

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-ledger/internal/handler"
	"github.com/jwalitptl/rx-ledger/internal/model"
)

type KeyRegistrar interface {
	Register(ctx context.Context, p model.Principal, doctorID, publicKeyPEM string) (*model.DoctorKey, error)
	History(ctx context.Context, p model.Principal, doctorID string) ([]*model.DoctorKey, error)
}

type Handler struct {
	keys KeyRegistrar
}

func NewHandler(keys KeyRegistrar) *Handler {
	return &Handler{keys: keys}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.PUT("/doctors/:id/public-key", h.RegisterPublicKey)
	r.GET("/doctors/:id/public-keys", h.ListPublicKeys)
}

// ListPublicKeys returns the doctor's key history, newest first.
func (h *Handler) ListPublicKeys(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}
	keys, err := h.keys.History(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

func (h *Handler) RegisterPublicKey(c *gin.Context) {
	p, ok := handler.Principal(c)
	if !ok {
		return
	}

	var req model.RegisterKeyRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	key, err := h.keys.Register(c.Request.Context(), p, c.Param("id"), req.PublicKeyPEM)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}
