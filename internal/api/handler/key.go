package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/contental/keyserver/internal/api/middleware"
	"github.com/contental/keyserver/internal/api/request"
	"github.com/contental/keyserver/internal/api/response"
	"github.com/contental/keyserver/internal/core"
	"github.com/contental/keyserver/internal/metrics"
	"github.com/contental/keyserver/internal/model"
	"github.com/contental/keyserver/internal/platform"
)

// issueRetries bounds how often a random-suffix issuance is retried after a
// token collision.
const issueRetries = 3

// Key handles owner-scoped key administration endpoints.
type Key struct {
	svc      *core.KeyService
	defaults core.IssueDefaults
}

// NewKey creates a new Key handler.
func NewKey(svc *core.KeyService, defaults core.IssueDefaults) *Key {
	return &Key{svc: svc, defaults: defaults}
}

// Issue mints one or more keys for the calling owner and returns the
// issued tokens.
func (h *Key) Issue(w http.ResponseWriter, r *http.Request) {
	owner := mw.GetOwner(r.Context())

	var req request.IssueKeys
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	expiryDays := h.defaults.ExpiryDays
	if req.ExpiryDays != nil {
		expiryDays = *req.ExpiryDays
	}
	maxUses := h.defaults.MaxUses
	if req.MaxUses != nil {
		maxUses = *req.MaxUses
	}
	formatPrefix := h.defaults.FormatPrefix
	if req.FormatPrefix != nil {
		formatPrefix = *req.FormatPrefix
	}
	count := req.Count
	if count == 0 {
		count = 1
	}
	if req.CustomSuffix != "" && count > 1 {
		response.WriteError(w, http.StatusBadRequest, "custom_suffix cannot be combined with count > 1")
		return
	}

	tokens := make([]string, 0, count)
	for i := 0; i < count; i++ {
		key, err := h.issueOne(r, owner.ID, req.Label, expiryDays, maxUses, formatPrefix, req.CustomSuffix)
		if err != nil {
			if errors.Is(err, core.ErrDuplicateToken) {
				response.WriteError(w, http.StatusConflict, "token already exists")
				return
			}
			response.WriteError(w, http.StatusInternalServerError, "failed to create key")
			return
		}
		metrics.KeysIssuedTotal.Inc()
		tokens = append(tokens, key.Token)
	}

	response.WriteJSON(w, http.StatusCreated, map[string]any{"keys": tokens})
}

// issueOne inserts a single key, retrying random-suffix collisions. A
// caller-supplied suffix is never retried; the collision surfaces as
// ErrDuplicateToken.
func (h *Key) issueOne(r *http.Request, ownerID, label string, expiryDays, maxUses int, formatPrefix, customSuffix string) (*model.Key, error) {
	var key *model.Key
	var err error
	for attempt := 0; attempt < issueRetries; attempt++ {
		token := platform.Token(formatPrefix, customSuffix)
		key, err = h.svc.Issue(r.Context(), ownerID, label, expiryDays, maxUses, formatPrefix, token)
		if err == nil || customSuffix != "" || !errors.Is(err, core.ErrDuplicateToken) {
			return key, err
		}
	}
	return nil, err
}

// List returns all keys owned by the caller, oldest first.
func (h *Key) List(w http.ResponseWriter, r *http.Request) {
	owner := mw.GetOwner(r.Context())

	keys, err := h.svc.ListByOwner(r.Context(), owner.ID)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	if keys == nil {
		keys = []model.Key{}
	}
	response.WriteJSON(w, http.StatusOK, keys)
}

// Update applies a partial update to the owner-mutable fields of a key.
func (h *Key) Update(w http.ResponseWriter, r *http.Request) {
	owner := mw.GetOwner(r.Context())

	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateKey
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Empty() {
		response.WriteError(w, http.StatusBadRequest, "no updatable fields in request")
		return
	}

	ok, err := h.svc.UpdateFields(r.Context(), id, owner.ID, core.KeyPatch{
		Label:        req.Label,
		ExpiryDays:   req.ExpiryDays,
		MaxUses:      req.MaxUses,
		FormatPrefix: req.FormatPrefix,
	})
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	response.WriteSuccess(w, ok)
}

// Ban sets or clears the banned flag on a key.
func (h *Key) Ban(w http.ResponseWriter, r *http.Request) {
	owner := mw.GetOwner(r.Context())

	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.BanKey
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.svc.SetBanned(r.Context(), id, owner.ID, *req.Banned)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	response.WriteSuccess(w, ok)
}

// Reset zeroes a key's usage counter. Device binding and ban state are
// unaffected.
func (h *Key) Reset(w http.ResponseWriter, r *http.Request) {
	owner := mw.GetOwner(r.Context())

	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.svc.ResetUsage(r.Context(), id, owner.ID)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	response.WriteSuccess(w, ok)
}

// Delete permanently removes a key.
func (h *Key) Delete(w http.ResponseWriter, r *http.Request) {
	owner := mw.GetOwner(r.Context())

	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.svc.Delete(r.Context(), id, owner.ID)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}
	response.WriteSuccess(w, ok)
}
