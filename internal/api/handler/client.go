package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/togetherhq/identity/internal/api/request"
	"github.com/togetherhq/identity/internal/api/response"
	"github.com/togetherhq/identity/internal/core"
	"github.com/togetherhq/identity/internal/model"
)

// Admin exposes operator-only management: client registration, first-party
// seeding, and role assignment. All routes sit behind the admin key.
type Admin struct {
	oauth *core.OAuthService
	users *core.UserService
}

func NewAdmin(oauth *core.OAuthService, users *core.UserService) *Admin {
	return &Admin{oauth: oauth, users: users}
}

type registerClientRequest struct {
	Name         string   `json:"name" validate:"required"`
	RedirectURIs []string `json:"redirect_uris" validate:"required,min=1"`
	Confidential bool     `json:"confidential"`
	SkipConsent  bool     `json:"skip_consent"`
}

type registeredClientResponse struct {
	Client *model.OAuthClient `json:"client"`
	Secret string             `json:"secret,omitempty"`
}

// RegisterClient creates an OAuth client. The secret appears in this
// response only; it is stored hashed.
func (h *Admin) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var req registerClientRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, secret, err := h.oauth.RegisterClient(r.Context(), req.Name, req.RedirectURIs, req.Confidential, req.SkipConsent)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteData(w, http.StatusCreated, registeredClientResponse{Client: client, Secret: secret})
}

type seedClientRequest struct {
	ClientID     string   `json:"client_id" validate:"required"`
	Name         string   `json:"name" validate:"required"`
	RedirectURIs []string `json:"redirect_uris" validate:"required,min=1"`
}

type seededClientResponse struct {
	Client  *model.OAuthClient `json:"client"`
	Secret  string             `json:"secret,omitempty"`
	Created bool               `json:"created"`
}

// SeedClient idempotently ensures a first-party client exists. Repeated
// calls after creation return the stored client with no secret.
func (h *Admin) SeedClient(w http.ResponseWriter, r *http.Request) {
	var req seedClientRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, secret, created, err := h.oauth.SeedFirstPartyClient(r.Context(), req.ClientID, req.Name, req.RedirectURIs)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.WriteData(w, status, seededClientResponse{Client: client, Secret: secret, Created: created})
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

// SetRoles replaces a user's global role list.
func (h *Admin) SetRoles(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req setRolesRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.users.SetRole(r.Context(), userID, req.Roles); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteData(w, http.StatusOK, map[string]bool{"updated": true})
}

type setAppRolesRequest struct {
	AppRoles map[string][]string `json:"app_roles"`
}

// SetAppRoles replaces a user's per-application role map.
func (h *Admin) SetAppRoles(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req setAppRolesRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.users.SetAppRoles(r.Context(), userID, req.AppRoles); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteData(w, http.StatusOK, map[string]bool{"updated": true})
}
