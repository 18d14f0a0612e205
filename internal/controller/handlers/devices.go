package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"opsplane/internal/store"
	"opsplane/pkg/api"
)

// ListDeviceOperations handles GET /devices/{type}/{id}/operations.
// With status set the full list in that status is returned, otherwise one
// page of the device's history with its total.
func (h *Handlers) ListDeviceOperations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	device := pathDevice(r)

	if status := r.URL.Query().Get("status"); status != "" {
		ops, err := h.ops.ListOperationsByStatus(ctx, device, store.OperationStatus(strings.ToUpper(status)))
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondJson(w, http.StatusOK, api.OperationListResponse{Operations: toOperations(ops)})
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ops, total, err := h.ops.ListOperationsPage(ctx, device, limit, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.OperationListResponse{Operations: toOperations(ops), Total: &total})
}

// GetDeviceOperation handles GET /devices/{type}/{id}/operations/{opid}.
func (h *Handlers) GetDeviceOperation(w http.ResponseWriter, r *http.Request) {
	operationID, err := pathInt64(r, "opid")
	if err != nil {
		h.httpError(w, "Invalid operation id", http.StatusBadRequest)
		return
	}

	op, err := h.ops.GetDeviceOperation(r.Context(), pathDevice(r), operationID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toOperation(op))
}

// PendingOperations handles GET /devices/{type}/{id}/pending.
// Called by devices; marks an idle device as active again.
func (h *Handlers) PendingOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.ops.ListPendingOperations(r.Context(), pathDevice(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.OperationListResponse{Operations: toOperations(ops)})
}

// NextOperation handles GET /devices/{type}/{id}/next.
// throttle_ms sets how long a NOTNOW operation rests before it is offered
// again. Returns 204 when the device has nothing to do.
func (h *Handlers) NextOperation(w http.ResponseWriter, r *http.Request) {
	throttleMs, err := queryInt(r, "throttle_ms", 0)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	op, err := h.ops.NextOperation(r.Context(), pathDevice(r), time.Duration(throttleMs)*time.Millisecond)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if op == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondJson(w, http.StatusOK, toOperation(op))
}

// UpdateOperationStatus handles PUT /devices/{type}/{id}/operations/{opid}.
// Devices report a new status, a response payload, or both.
func (h *Handlers) UpdateOperationStatus(w http.ResponseWriter, r *http.Request) {
	operationID, err := pathInt64(r, "opid")
	if err != nil {
		h.httpError(w, "Invalid operation id", http.StatusBadRequest)
		return
	}

	var req api.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	status := store.OperationStatus(strings.ToUpper(req.Status))
	if err := h.ops.UpdateStatus(r.Context(), pathDevice(r), operationID, status, req.Response); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
