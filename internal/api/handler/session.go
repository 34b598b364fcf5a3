package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/togetherhq/identity/internal/api/middleware"
	"github.com/togetherhq/identity/internal/api/response"
	"github.com/togetherhq/identity/internal/core"
	"github.com/togetherhq/identity/internal/model"
)

type Session struct {
	sessions *core.SessionService
}

func NewSession(sessions *core.SessionService) *Session {
	return &Session{sessions: sessions}
}

// sessionData is the payload apps poll to learn who is signed in. Roles
// are resolved on every read so assignments take effect without re-login.
type sessionData struct {
	SessionID     string              `json:"sessionId"`
	UserID        string              `json:"userId"`
	Email         string              `json:"email"`
	EmailVerified bool                `json:"emailVerified"`
	Name          *string             `json:"name"`
	Username      *string             `json:"username"`
	Image         *string             `json:"image"`
	Roles         []string            `json:"roles"`
	AppRoles      map[string][]string `json:"appRoles"`
	ExpiresAt     time.Time           `json:"expiresAt"`
}

// Current returns the session payload for the authenticated caller.
func (h *Session) Current(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	user := middleware.GetUser(r.Context())

	claims := core.ResolveRoles(user)
	response.WriteData(w, http.StatusOK, sessionData{
		SessionID:     sess.ID,
		UserID:        user.ID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Name:          user.Name,
		Username:      user.Username,
		Image:         user.Image,
		Roles:         claims.Roles,
		AppRoles:      claims.AppRoles,
		ExpiresAt:     sess.ExpiresAt,
	})
}

// List returns the caller's active sessions, newest first.
func (h *Session) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	sessions, err := h.sessions.ListByUser(r.Context(), user.ID)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	current := middleware.GetSession(r.Context())
	type listedSession struct {
		model.Session
		Current bool `json:"current"`
	}
	out := make([]listedSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, listedSession{Session: s, Current: s.ID == current.ID})
	}

	response.WriteData(w, http.StatusOK, out)
}

// Revoke terminates one of the caller's sessions by id.
func (h *Session) Revoke(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	if err := h.sessions.RevokeByID(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteData(w, http.StatusOK, map[string]bool{"revoked": true})
}

// RevokeOthers terminates every session of the caller except the current one.
func (h *Session) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	sess := middleware.GetSession(r.Context())

	if err := h.sessions.RevokeOthers(r.Context(), user.ID, sess.Token); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteData(w, http.StatusOK, map[string]bool{"revoked": true})
}
