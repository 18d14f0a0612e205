package handlers

import (
	"opsplane/internal/operation"
	"opsplane/internal/store"
	"opsplane/pkg/api"
)

func toDevice(d store.DeviceIdentifier) api.Device {
	return api.Device{Type: d.Type, ID: d.ID}
}

func fromDevices(devices []api.Device) []store.DeviceIdentifier {
	out := make([]store.DeviceIdentifier, len(devices))
	for i, d := range devices {
		out[i] = store.DeviceIdentifier{Type: d.Type, ID: d.ID}
	}
	return out
}

func toOperation(op *store.Operation) api.OperationResponse {
	resp := api.OperationResponse{
		ID:          op.ID,
		ActivityID:  operation.ActivityID(op.ID),
		Code:        op.Code,
		Type:        string(op.Type),
		Control:     string(op.Control),
		Enabled:     op.Enabled,
		Payload:     op.Payload,
		InitiatedBy: op.InitiatedBy,
		CreatedAt:   op.CreatedAt,
		Status:      string(op.Status),
	}
	if !op.StatusUpdatedAt.IsZero() {
		updated := op.StatusUpdatedAt
		resp.StatusUpdatedAt = &updated
	}
	return resp
}

func toOperations(ops []*store.Operation) []api.OperationResponse {
	out := make([]api.OperationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperation(op))
	}
	return out
}

func toActivity(a *operation.Activity) api.ActivityResponse {
	resp := api.ActivityResponse{
		ActivityID:  a.ID,
		OperationID: a.OperationID,
		Code:        a.Code,
		Type:        string(a.Type),
		InitiatedBy: a.InitiatedBy,
		CreatedAt:   a.CreatedAt,
	}
	for _, s := range a.Statuses {
		status := api.ActivityStatusResponse{
			Device: toDevice(s.Device),
			Status: string(s.Status),
		}
		if !s.UpdatedAt.IsZero() {
			updated := s.UpdatedAt
			status.UpdatedAt = &updated
		}
		for _, r := range s.Responses {
			status.Responses = append(status.Responses, api.ResponseEntry{Payload: r.Payload, ReceivedAt: r.ReceivedAt})
		}
		resp.Statuses = append(resp.Statuses, status)
	}
	return resp
}

func toActivities(activities []*operation.Activity) []api.ActivityResponse {
	out := make([]api.ActivityResponse, 0, len(activities))
	for _, a := range activities {
		out = append(out, toActivity(a))
	}
	return out
}
