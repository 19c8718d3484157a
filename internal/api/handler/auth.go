package handler

import (
	"errors"
	"net/http"

	mw "github.com/contental/keyserver/internal/api/middleware"
	"github.com/contental/keyserver/internal/api/request"
	"github.com/contental/keyserver/internal/api/response"
	"github.com/contental/keyserver/internal/core"
)

// Auth handles owner login and session introspection.
type Auth struct {
	owners *core.OwnerService
	auth   *core.AuthService
}

// NewAuth creates a new Auth handler.
func NewAuth(owners *core.OwnerService, auth *core.AuthService) *Auth {
	return &Auth{owners: owners, auth: auth}
}

// Login verifies owner credentials and returns a session token.
func (h *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req request.Login
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner, err := h.owners.VerifyCredentials(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, core.ErrInvalidCredentials) {
			response.WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}

	token, err := h.auth.IssueToken(owner)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{
		"token":    token,
		"username": owner.Username,
	})
}

// Me returns the identity behind the presented session token.
func (h *Auth) Me(w http.ResponseWriter, r *http.Request) {
	owner := mw.GetOwner(r.Context())
	if owner == nil {
		response.WriteError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]string{
		"id":       owner.ID,
		"username": owner.Username,
	})
}
