package handler

import (
	"net/http"

	"github.com/togetherhq/identity/internal/api/middleware"
	"github.com/togetherhq/identity/internal/api/request"
	"github.com/togetherhq/identity/internal/api/response"
	"github.com/togetherhq/identity/internal/core"
)

type Me struct {
	users *core.UserService
}

func NewMe(users *core.UserService) *Me {
	return &Me{users: users}
}

// Get returns the current authenticated user's profile.
func (h *Me) Get(w http.ResponseWriter, r *http.Request) {
	response.WriteData(w, http.StatusOK, middleware.GetUser(r.Context()))
}

type updateMeRequest struct {
	Name  *string `json:"name"`
	Image *string `json:"image"`
}

// Update modifies the current user's profile fields.
func (h *Me) Update(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req updateMeRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.users.UpdateProfile(r.Context(), user.ID, req.Name, req.Image); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	updated, err := h.users.GetByID(r.Context(), user.ID)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteData(w, http.StatusOK, updated)
}

type setUsernameRequest struct {
	Username string `json:"username" validate:"required"`
}

// SetUsername claims or changes the caller's unique handle. Changes are
// limited to one per 30 days.
func (h *Me) SetUsername(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req setUsernameRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.users.SetUsername(r.Context(), user.ID, req.Username); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	updated, err := h.users.GetByID(r.Context(), user.ID)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteData(w, http.StatusOK, updated)
}
