package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"opsplane/internal/store"
	"opsplane/pkg/api"
)

// AddOperation handles POST /operations.
// It queues one operation on a list of devices and returns the resulting
// activity. Rejected devices are listed in the activity, not as errors.
func (h *Handlers) AddOperation(w http.ResponseWriter, r *http.Request) {
	var req api.AddOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Code == "" || len(req.Devices) == 0 {
		h.httpError(w, "Code and devices are required", http.StatusBadRequest)
		return
	}

	op := &store.Operation{
		Code:    req.Code,
		Type:    store.OperationType(strings.ToUpper(req.Type)),
		Control: store.OperationControl(strings.ToUpper(req.Control)),
		Enabled: true,
		Payload: req.Payload,
	}
	if op.Control == "" {
		op.Control = store.ControlRepeatable
	}
	if req.Enabled != nil {
		op.Enabled = *req.Enabled
	}

	activity, err := h.ops.AddOperation(r.Context(), op, fromDevices(req.Devices))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if activity.ID != "" {
		status = http.StatusCreated
	}
	h.respondJson(w, status, toActivity(activity))
}

// GetOperation handles GET /operations/{opid}.
func (h *Handlers) GetOperation(w http.ResponseWriter, r *http.Request) {
	operationID, err := pathInt64(r, "opid")
	if err != nil {
		h.httpError(w, "Invalid operation id", http.StatusBadRequest)
		return
	}

	op, err := h.ops.GetOperation(r.Context(), operationID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toOperation(op))
}
