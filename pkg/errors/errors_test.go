package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"livebid/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDomain_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   ErrorCode
		status int
	}{
		{"session not found", domain.ErrSessionNotFound, ErrCodeNotFound, http.StatusNotFound},
		{"auction not found", domain.ErrAuctionNotFound, ErrCodeNotFound, http.StatusNotFound},
		{"not owner", domain.ErrNotSessionOwner, ErrCodeForbidden, http.StatusForbidden},
		{"session not active", domain.ErrSessionNotActive, ErrCodeConflict, http.StatusConflict},
		{"already publishing", domain.ErrAlreadyPublishing, ErrCodeConflict, http.StatusConflict},
		{"auction active", domain.ErrAuctionActive, ErrCodeConflict, http.StatusConflict},
		{"auction ended", domain.ErrAuctionEnded, ErrCodeGone, http.StatusGone},
		{"deadline passed", domain.ErrDeadlinePassed, ErrCodeGone, http.StatusGone},
		{"invalid delta", domain.ErrInvalidDelta, ErrCodeInvalidInput, http.StatusBadRequest},
		{"stale price", domain.ErrStalePrice, ErrCodeConflict, http.StatusConflict},
		{"store unavailable", domain.ErrStoreUnavailable, ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("mystery"), ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromDomain(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}
}

func TestFromDomain_WrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("bid rejected: %w", domain.ErrStalePrice)
	appErr := FromDomain(wrapped)
	assert.Equal(t, ErrCodeConflict, appErr.Code)
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus)
}

func TestAppError_ErrorString(t *testing.T) {
	plain := NewConflictError("already live")
	assert.Equal(t, "CONFLICT: already live", plain.Error())

	wrapped := WrapError(errors.New("dial tcp: refused"), ErrCodeServiceUnavailable, "store down", http.StatusServiceUnavailable)
	assert.Contains(t, wrapped.Error(), "store down")
	assert.Contains(t, wrapped.Error(), "dial tcp: refused")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	appErr := WrapError(cause, ErrCodeInternal, "boom", http.StatusInternalServerError)
	assert.ErrorIs(t, appErr, cause)
}

func TestAppError_WithContext(t *testing.T) {
	appErr := NewNotFoundError("session").WithContext("session_id", "abc")
	assert.Equal(t, "abc", appErr.Context["session_id"])
}

func TestGetAppError(t *testing.T) {
	appErr := NewInvalidInputError("bad delta")
	chained := fmt.Errorf("handler: %w", appErr)

	got := GetAppError(chained)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeInvalidInput, got.Code)

	assert.True(t, IsAppError(chained))
	assert.False(t, IsAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(errors.New("plain")))
}
