// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"opsplane/internal/auth"
	"opsplane/internal/logger"
	"opsplane/internal/operation"
	"opsplane/internal/store"
	"opsplane/pkg/api"

	"github.com/google/uuid"
)

// StoreFactory combines the store interfaces the handlers use directly.
type StoreFactory interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	Ping(ctx context.Context) error
	store.TenantStore
}

// Operations is the operation manager as seen by the HTTP layer.
type Operations interface {
	AddOperation(ctx context.Context, op *store.Operation, devices []store.DeviceIdentifier) (*operation.Activity, error)
	GetOperation(ctx context.Context, operationID int64) (*store.Operation, error)

	Activity(ctx context.Context, activityID string) (*operation.Activity, error)
	DeviceActivity(ctx context.Context, activityID string, device store.DeviceIdentifier) (*operation.Activity, error)
	Activities(ctx context.Context, activityIDs []string) ([]*operation.Activity, error)
	ActivitiesSince(ctx context.Context, q operation.ActivityQuery) ([]*operation.Activity, error)
	CountActivitiesSince(ctx context.Context, q operation.ActivityQuery) (int64, error)
	ActivitiesByCode(ctx context.Context, code string, limit, offset int) ([]*operation.Activity, error)
	CountActivitiesByCode(ctx context.Context, code string) (int64, error)

	ListOperationsPage(ctx context.Context, device store.DeviceIdentifier, limit, offset int) ([]*store.Operation, int64, error)
	ListOperationsByStatus(ctx context.Context, device store.DeviceIdentifier, status store.OperationStatus) ([]*store.Operation, error)
	GetDeviceOperation(ctx context.Context, device store.DeviceIdentifier, operationID int64) (*store.Operation, error)
	ListPendingOperations(ctx context.Context, device store.DeviceIdentifier) ([]*store.Operation, error)
	NextOperation(ctx context.Context, device store.DeviceIdentifier, throttle time.Duration) (*store.Operation, error)
	UpdateStatus(ctx context.Context, device store.DeviceIdentifier, operationID int64, status store.OperationStatus, response json.RawMessage) error
}

// TokenIssuer mints bearer tokens.
type TokenIssuer interface {
	Issue(p *auth.Principal, ttl time.Duration) (string, time.Time, error)
}

// StrategyInvalidator drops a tenant's cached notification strategy.
type StrategyInvalidator interface {
	Invalidate(tenantID uuid.UUID)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store      StoreFactory
	ops        Operations
	tokens     TokenIssuer
	strategies StrategyInvalidator
	logger     *slog.Logger
}

// New creates a new Handlers instance.
func New(s StoreFactory, ops Operations, tokens TokenIssuer, strategies StrategyInvalidator, log *slog.Logger) *Handlers {
	return &Handlers{
		store:      s,
		ops:        ops,
		tokens:     tokens,
		strategies: strategies,
		logger:     log,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// respondError maps an operation error onto its HTTP status. Validation
// messages are returned verbatim; store failures are logged and hidden.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, operation.ErrNotModified):
		w.WriteHeader(http.StatusNotModified)
	case errors.Is(err, operation.ErrValidation):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, operation.ErrAccessDenied):
		h.httpError(w, "Access denied", http.StatusForbidden)
	case errors.Is(err, operation.ErrNotFound):
		h.httpError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, operation.ErrConflict):
		h.httpError(w, "Another operation with this code is outstanding on the device", http.StatusConflict)
	case errors.Is(err, operation.ErrAuthorization):
		logger.FromContext(r.Context(), h.logger).Error("authorization check failed", "path", r.URL.Path, "error", err)
		h.httpError(w, "Authorization service unavailable", http.StatusServiceUnavailable)
	default:
		logger.FromContext(r.Context(), h.logger).Error("request failed", "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal error", http.StatusInternalServerError)
	}
}
