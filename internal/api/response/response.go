package response

import (
	"encoding/json"
	"net/http"

	"github.com/togetherhq/identity/internal/core"
)

// Envelope is the JSON shape of every /api response.
type Envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteData writes a success envelope around data.
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Envelope{OK: true, Data: data})
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Envelope{OK: false, Error: message})
}

// WriteServiceError maps a domain error to its HTTP status. Unknown errors
// collapse to a generic 500 so internals never leak to clients.
func WriteServiceError(w http.ResponseWriter, err error) {
	switch core.ErrKind(err) {
	case core.KindValidation:
		WriteError(w, http.StatusBadRequest, err.Error())
	case core.KindConflict:
		WriteError(w, http.StatusConflict, err.Error())
	case core.KindNotFound:
		WriteError(w, http.StatusNotFound, err.Error())
	case core.KindUnauthorized:
		WriteError(w, http.StatusUnauthorized, err.Error())
	case core.KindExpiredToken, core.KindInvalidToken:
		WriteError(w, http.StatusBadRequest, err.Error())
	case core.KindRateLimit:
		WriteError(w, http.StatusTooManyRequests, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// OAuthError is the RFC 6749 error body used by the /oauth2 endpoints.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteOAuthError maps a domain error to an RFC 6749 token endpoint error.
func WriteOAuthError(w http.ResponseWriter, err error) {
	switch core.ErrKind(err) {
	case core.KindInvalidClient:
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
		WriteJSON(w, http.StatusUnauthorized, OAuthError{Code: "invalid_client", Description: err.Error()})
	case core.KindInvalidGrant:
		WriteJSON(w, http.StatusBadRequest, OAuthError{Code: "invalid_grant", Description: err.Error()})
	case core.KindConsentRequired:
		WriteJSON(w, http.StatusForbidden, OAuthError{Code: "consent_required", Description: err.Error()})
	case core.KindValidation:
		WriteJSON(w, http.StatusBadRequest, OAuthError{Code: "invalid_request", Description: err.Error()})
	case core.KindInvalidToken, core.KindExpiredToken:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		WriteJSON(w, http.StatusUnauthorized, OAuthError{Code: "invalid_token", Description: err.Error()})
	default:
		WriteJSON(w, http.StatusInternalServerError, OAuthError{Code: "server_error"})
	}
}
