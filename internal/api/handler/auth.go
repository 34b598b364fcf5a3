package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/togetherhq/identity/internal/api/middleware"
	"github.com/togetherhq/identity/internal/api/request"
	"github.com/togetherhq/identity/internal/api/response"
	"github.com/togetherhq/identity/internal/core"
	"github.com/togetherhq/identity/internal/model"
)

type Auth struct {
	auth         *core.AuthService
	users        *core.UserService
	sessions     *core.SessionService
	verification *core.VerificationService
	cookieName   string
	secureCookie bool
}

func NewAuth(svcs *core.Services, cookieName string, secureCookie bool) *Auth {
	return &Auth{
		auth:         svcs.Auth,
		users:        svcs.User,
		sessions:     svcs.Session,
		verification: svcs.Verification,
		cookieName:   cookieName,
		secureCookie: secureCookie,
	}
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Signup registers a user with a local credential, sends the verification
// email, and signs the user in.
func (h *Auth) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.Create(r.Context(), req.Email, req.Password)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	// Verification mail failure must not block signup; the user can
	// request another one from the app.
	if err := h.verification.IssueEmailVerification(r.Context(), user); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("user_id", user.ID).Msg("send verification email")
	}

	sess, err := h.sessions.Create(r.Context(), user, sessionMeta(r))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	h.setCookie(w, sess.Token, sess.ExpiresAt)
	response.WriteData(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login verifies a local credential and opens a session. All credential
// failures share one message so the endpoint cannot confirm which emails
// are registered.
func (h *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	sess, err := h.sessions.Create(r.Context(), user, sessionMeta(r))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	h.setCookie(w, sess.Token, sess.ExpiresAt)
	response.WriteData(w, http.StatusOK, user)
}

// Logout revokes the current session and clears the cookie. Succeeds even
// when no session is presented.
func (h *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.SessionToken(r, h.cookieName); token != "" {
		if err := h.sessions.Revoke(r.Context(), token); err != nil {
			response.WriteServiceError(w, err)
			return
		}
	}

	h.clearCookie(w)
	response.WriteData(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (h *Auth) setCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Auth) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionMeta(r *http.Request) model.SessionMeta {
	return model.SessionMeta{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}
