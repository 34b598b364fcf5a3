package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/togetherhq/identity/internal/api/request"
	"github.com/togetherhq/identity/internal/api/response"
	"github.com/togetherhq/identity/internal/core"
)

type Password struct {
	verification *core.VerificationService
}

func NewPassword(verification *core.VerificationService) *Password {
	return &Password{verification: verification}
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Forgot issues a reset token for registered addresses. The response is
// byte-identical whether or not the address exists.
func (h *Password) Forgot(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.verification.IssuePasswordReset(r.Context(), req.Email); err != nil {
		// Internal failures are logged but still answered generically.
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("issue password reset")
	}

	response.WriteData(w, http.StatusOK, map[string]string{
		"message": "If that email is registered, a reset link has been sent.",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// Reset consumes a reset token and replaces the credential. All active
// sessions for the user are revoked.
func (h *Password) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.verification.ConsumePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteData(w, http.StatusOK, map[string]string{
		"message": "Password updated. Please sign in again.",
	})
}
