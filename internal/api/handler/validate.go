package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/contental/keyserver/internal/api/request"
	"github.com/contental/keyserver/internal/api/response"
	"github.com/contental/keyserver/internal/core"
	"github.com/contental/keyserver/internal/metrics"
)

// invalidKeyMessage is the single response body for every rejection. The
// reason (unknown token, ban, expiry, exhaustion, device mismatch) is
// logged internally but never disclosed to the caller.
const invalidKeyMessage = "invalid key or HWID"

// Validate handles the public key validation endpoint.
type Validate struct {
	svc *core.ValidationService
}

// NewValidate creates a new Validate handler.
func NewValidate(svc *core.ValidationService) *Validate {
	return &Validate{svc: svc}
}

// Validate checks a presented token and device fingerprint, consuming one
// use on acceptance.
func (h *Validate) Validate(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	in, err := request.ParseValidateKey(r)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Validate(r.Context(), in.Key, in.HWID, r.RemoteAddr)
	if err != nil {
		if errors.Is(err, core.ErrConsumeConflict) {
			response.WriteError(w, http.StatusServiceUnavailable, "try again")
			return
		}
		logger.Error().Err(err).Msg("validation failed")
		response.WriteError(w, http.StatusInternalServerError, "server error")
		return
	}

	if !res.Accepted {
		logger.Info().Str("reason", string(res.Reason)).Msg("key rejected")
		metrics.ValidationsTotal.WithLabelValues(string(res.Reason)).Inc()
		response.WriteError(w, http.StatusUnauthorized, invalidKeyMessage)
		return
	}

	metrics.ValidationsTotal.WithLabelValues("accepted").Inc()
	response.WriteJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"user": map[string]string{
			"id":       res.OwnerID,
			"username": res.OwnerUsername,
		},
		"key": map[string]any{
			"id":         res.KeyID,
			"label":      res.Label,
			"created_at": res.CreatedAt,
		},
	})
}
