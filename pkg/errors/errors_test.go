package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrNotFound:         http.StatusNotFound,
		ErrValidation:       http.StatusBadRequest,
		ErrUnauthorized:     http.StatusUnauthorized,
		ErrTokenExpired:     http.StatusUnauthorized,
		ErrTokenInvalid:     http.StatusUnauthorized,
		ErrForbidden:        http.StatusForbidden,
		ErrInvalidState:     http.StatusConflict,
		ErrAlreadyDispensed: http.StatusConflict,
		ErrNotSigned:        http.StatusConflict,
		ErrSignature:        http.StatusUnprocessableEntity,
		ErrInvalidSignature: http.StatusUnprocessableEntity,
		ErrAnchor:           http.StatusServiceUnavailable,
		ErrTooManyRequests:  http.StatusTooManyRequests,
		ErrPayloadTooLarge:  http.StatusRequestEntityTooLarge,
		ErrTimeout:          http.StatusGatewayTimeout,
		ErrInternal:         http.StatusInternalServerError,
		ErrorCode(42):       http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), code.String())
	}
}

func TestOnlyAnchorIsRetryable(t *testing.T) {
	assert.True(t, ErrAnchor.Retryable())
	assert.False(t, ErrInternal.Retryable())
	assert.False(t, ErrAlreadyDispensed.Retryable())
}

func TestCodeOfWrappedError(t *testing.T) {
	err := fmt.Errorf("dispense: %w", AlreadyDispensed("rx-1"))

	assert.Equal(t, ErrAlreadyDispensed, CodeOf(err))
	assert.True(t, HasCode(err, ErrAlreadyDispensed))
	assert.True(t, stderrors.Is(err, New(ErrAlreadyDispensed, "")))
	assert.False(t, stderrors.Is(err, New(ErrNotSigned, "")))
	assert.Equal(t, ErrInternal, CodeOf(stderrors.New("boom")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := stderrors.New("ledger unavailable")
	err := Anchor(cause)

	assert.Equal(t, "anchoring failed, retry later: ledger unavailable", err.Error())
	assert.Equal(t, "AnchorError", err.Kind())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "verification token expired", TokenExpired().Error())
	assert.Equal(t, "ErrorCode(42)", ErrorCode(42).String())
}
