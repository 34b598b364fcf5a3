package handler

import (
	"net/http"

	"github.com/togetherhq/identity/internal/api/middleware"
	"github.com/togetherhq/identity/internal/api/request"
	"github.com/togetherhq/identity/internal/api/response"
	"github.com/togetherhq/identity/internal/core"
)

type Verify struct {
	verification *core.VerificationService
	sessions     *core.SessionService
	auth         *Auth
}

func NewVerify(verification *core.VerificationService, sessions *core.SessionService, auth *Auth) *Verify {
	return &Verify{verification: verification, sessions: sessions, auth: auth}
}

// Send mails a fresh verification link to the authenticated user.
func (h *Verify) Send(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user.EmailVerified {
		response.WriteError(w, http.StatusConflict, "email is already verified")
		return
	}

	if err := h.verification.IssueEmailVerification(r.Context(), user); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteData(w, http.StatusOK, map[string]string{
		"message": "Verification email sent.",
	})
}

type confirmEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// Confirm consumes a verification token, marks the address verified, and
// signs the user in so the verify link lands them in an authenticated state.
func (h *Verify) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmEmailRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.verification.ConsumeEmailVerification(r.Context(), req.Token)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	sess, err := h.sessions.Create(r.Context(), user, sessionMeta(r))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	h.auth.setCookie(w, sess.Token, sess.ExpiresAt)
	response.WriteData(w, http.StatusOK, user)
}
