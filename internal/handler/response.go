package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/rx-ledger/internal/model"
	"github.com/jwalitptl/rx-ledger/internal/reqctx"
	apperrors "github.com/jwalitptl/rx-ledger/pkg/errors"
)

const HeaderXRequestID = "X-Request-ID"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func NewErrorResponse(code apperrors.ErrorCode, message string) *ErrorResponse {
	return &ErrorResponse{Error: message, Code: code.String()}
}

// RespondError maps err to its status and writes the error body. Details of
// internal errors are logged, never returned.
func RespondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.NewInternal(err)
	}

	status := appErr.HTTPStatus()
	body := NewErrorResponse(appErr.Code, appErr.Message)
	body.RequestID = reqctx.RequestID(c.Request.Context())

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", body.RequestID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Str("code", body.Code).
			Msg("Request failed")
	}
	if appErr.Code.Retryable() {
		c.Header("Retry-After", "5")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// Principal returns the authenticated caller, answering 401 when there is
// none.
func Principal(c *gin.Context) (model.Principal, bool) {
	p, ok := reqctx.Principal(c.Request.Context())
	if !ok {
		RespondError(c, apperrors.Unauthorized(nil))
		return model.Principal{}, false
	}
	return p, true
}

// BindJSON decodes the request body, answering 400 on malformed input.
func BindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		RespondError(c, apperrors.Validation("invalid request body: "+err.Error(), err))
		return false
	}
	return true
}
