package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"opsplane/internal/auth"
	"opsplane/internal/store"
	"opsplane/pkg/api"

	"github.com/google/uuid"
)

const (
	defaultTokenTTL = 24 * time.Hour
	maxTokenTTL     = 30 * 24 * time.Hour
)

// IssueToken handles POST /internal/tokens.
// It mints a bearer token for an operator (username) or a device.
func (h *Handlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		h.httpError(w, "Invalid tenant id", http.StatusBadRequest)
		return
	}
	if (req.Username == "") == (req.Device == nil) {
		h.httpError(w, "Exactly one of username or device is required", http.StatusBadRequest)
		return
	}

	ttl := defaultTokenTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl > maxTokenTTL {
		h.httpError(w, "ttl_seconds exceeds 30 days", http.StatusBadRequest)
		return
	}

	if _, err := h.store.GetTenantByID(ctx, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Tenant not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	p := &auth.Principal{
		TenantID:    tenantID,
		Username:    req.Username,
		Roles:       req.Roles,
		Permissions: req.Permissions,
	}
	if req.Device != nil {
		if req.Device.Type == "" || req.Device.ID == "" {
			h.httpError(w, "Device type and id are required", http.StatusBadRequest)
			return
		}
		p.Device = &store.DeviceIdentifier{Type: req.Device.Type, ID: req.Device.ID}
	}

	token, expiresAt, err := h.tokens.Issue(p, ttl)
	if err != nil {
		h.httpError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusCreated, api.IssueTokenResponse{Token: token, ExpiresAt: expiresAt})
}
