package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/togetherhq/identity/internal/core"
)

func TestWriteData_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, http.StatusOK, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		OK   bool              `json:"ok"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, "world", body.Data["hello"])
}

func TestWriteError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusUnauthorized, "not authenticated")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.OK)
	assert.Equal(t, "not authenticated", body.Error)
}

func TestWriteServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		kind core.Kind
		want int
	}{
		{core.KindValidation, http.StatusBadRequest},
		{core.KindConflict, http.StatusConflict},
		{core.KindNotFound, http.StatusNotFound},
		{core.KindUnauthorized, http.StatusUnauthorized},
		{core.KindExpiredToken, http.StatusBadRequest},
		{core.KindInvalidToken, http.StatusBadRequest},
		{core.KindRateLimit, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteServiceError(rec, core.NewError(tt.kind, "boom"))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestWriteServiceError_UnknownErrorIsOpaque(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestWriteOAuthError(t *testing.T) {
	tests := []struct {
		kind       core.Kind
		wantStatus int
		wantCode   string
	}{
		{core.KindInvalidClient, http.StatusUnauthorized, "invalid_client"},
		{core.KindInvalidGrant, http.StatusBadRequest, "invalid_grant"},
		{core.KindConsentRequired, http.StatusForbidden, "consent_required"},
		{core.KindValidation, http.StatusBadRequest, "invalid_request"},
		{core.KindInvalidToken, http.StatusUnauthorized, "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteOAuthError(rec, core.NewError(tt.kind, "boom"))

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body OAuthError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}
