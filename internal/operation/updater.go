package operation

import (
	"context"
	"encoding/json"

	"opsplane/internal/logger"
	"opsplane/internal/store"
)

// UpdateStatus records what the device reported for an operation: a new
// status, a response payload, or both. Any status may overwrite any other.
// Responses are appended, never replaced.
func (m *Manager) UpdateStatus(ctx context.Context, device store.DeviceIdentifier, operationID int64, status store.OperationStatus, response json.RawMessage) error {
	if status == "" && len(response) == 0 {
		return validationError("a status or a response is required")
	}
	if status != "" && !status.Valid() {
		return validationError("unknown status %q", status)
	}
	if len(response) > 0 && !json.Valid(response) {
		return validationError("response must be valid JSON")
	}

	e, err := m.enrollmentFor(ctx, device, PermissionUpdate, true)
	if err != nil {
		return err
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer tx.Rollback()

	if status != "" {
		if err := m.store.UpdateMappingStatus(ctx, tx, e.ID, operationID, status); err != nil {
			return storeError("update operation status", err)
		}
	}
	if len(response) > 0 {
		if err := m.store.AddResponse(ctx, tx, e.ID, operationID, response); err != nil {
			return storeError("store operation response", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit status update", err)
	}

	logger.FromContext(ctx, m.logger).Info("operation status updated",
		"device", device.String(), "operation_id", operationID, "status", status, "with_response", len(response) > 0)
	return nil
}
