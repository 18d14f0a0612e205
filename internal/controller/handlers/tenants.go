package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"opsplane/internal/store"
	"opsplane/pkg/api"

	"github.com/google/uuid"
)

func notificationConfig(tenantID uuid.UUID, req *api.NotificationConfig) (*store.NotificationConfig, error) {
	cfg := &store.NotificationConfig{TenantID: tenantID, Type: store.NotifierLocal}
	if req == nil {
		return cfg, nil
	}

	switch t := store.NotifierType(strings.ToUpper(req.Type)); t {
	case store.NotifierLocal, store.NotifierKafka, store.NotifierRedis:
		cfg.Type = t
	case "":
	default:
		return nil, errors.New("notification type must be LOCAL, KAFKA or REDIS")
	}
	if req.BatchSize < 0 {
		return nil, errors.New("batch_size must not be negative")
	}
	cfg.BatchSize = req.BatchSize
	cfg.Scheduled = req.Scheduled
	return cfg, nil
}

func toNotificationConfig(cfg *store.NotificationConfig) api.NotificationConfig {
	return api.NotificationConfig{Type: string(cfg.Type), BatchSize: cfg.BatchSize, Scheduled: cfg.Scheduled}
}

// CreateTenant handles POST /internal/tenants.
// It creates the tenant together with its notification setup.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.httpError(w, "Name is required", http.StatusBadRequest)
		return
	}

	tenant := &store.Tenant{
		ID:        uuid.New(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	cfg, err := notificationConfig(tenant.ID, req.Notification)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	if err := h.store.CreateTenant(ctx, tx, tenant, cfg); err != nil {
		h.httpError(w, "Failed to create tenant", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(); err != nil {
		h.httpError(w, "Failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, api.TenantResponse{
		ID:           tenant.ID.String(),
		Name:         tenant.Name,
		Notification: toNotificationConfig(cfg),
	})
}

// UpdateNotificationConfig handles PUT /internal/tenants/{tenant_id}/notification.
// The cached strategy of the tenant is dropped so the change applies to the
// next dispatch.
func (h *Handlers) UpdateNotificationConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, err := uuid.Parse(r.PathValue("tenant_id"))
	if err != nil {
		h.httpError(w, "Invalid tenant id", http.StatusBadRequest)
		return
	}

	var req api.NotificationConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	cfg, err := notificationConfig(tenantID, &req)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.UpsertNotificationConfig(ctx, cfg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Tenant not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to update notification config", http.StatusInternalServerError)
		return
	}

	if h.strategies != nil {
		h.strategies.Invalidate(tenantID)
	}
	h.respondJson(w, http.StatusOK, toNotificationConfig(cfg))
}
