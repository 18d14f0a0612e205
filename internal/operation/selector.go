package operation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"opsplane/internal/logger"
	"opsplane/internal/store"
)

// enrollmentFor resolves device inside the caller's tenant and checks
// permission on it. With reactivate set, an INACTIVE or UNREACHABLE
// enrollment is flipped to ACTIVE since the device is evidently alive.
func (m *Manager) enrollmentFor(ctx context.Context, device store.DeviceIdentifier, permission string, reactivate bool) (*store.Enrollment, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if !ValidDevice(device) {
		return nil, validationError("malformed device reference %q", device.String())
	}

	e, err := m.store.ActiveEnrollment(ctx, p.TenantID, device)
	if err != nil {
		return nil, storeError("resolve device "+device.String(), err)
	}

	allowed, err := m.gate.IsAuthorized(ctx, e, permission)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthorization, err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s on %s", ErrAccessDenied, permission, device.String())
	}

	if reactivate && (e.Status == store.EnrollmentInactive || e.Status == store.EnrollmentUnreachable) {
		if err := m.store.SetEnrollmentStatus(ctx, nil, e.ID, store.EnrollmentActive); err != nil {
			return nil, storeError("reactivate enrollment", err)
		}
		logger.FromContext(ctx, m.logger).Info("device reactivated",
			"device", device.String(), "previous_status", e.Status)
		e.Status = store.EnrollmentActive
	}
	return e, nil
}

// ListOperations returns every operation assigned to the device, oldest assignment first.
func (m *Manager) ListOperations(ctx context.Context, device store.DeviceIdentifier) ([]*store.Operation, error) {
	e, err := m.enrollmentFor(ctx, device, PermissionView, true)
	if err != nil {
		return nil, err
	}
	ops, err := m.store.ListDeviceOperations(ctx, e.ID, 0, 0)
	if err != nil {
		return nil, storeError("list device operations", err)
	}
	return ops, nil
}

// ListOperationsPage returns one page of the device's history and its total size.
func (m *Manager) ListOperationsPage(ctx context.Context, device store.DeviceIdentifier, limit, offset int) ([]*store.Operation, int64, error) {
	e, err := m.enrollmentFor(ctx, device, PermissionView, false)
	if err != nil {
		return nil, 0, err
	}
	limit, offset = normalizePage(limit, offset)

	ops, err := m.store.ListDeviceOperations(ctx, e.ID, limit, offset)
	if err != nil {
		return nil, 0, storeError("list device operations", err)
	}
	total, err := m.store.CountDeviceOperations(ctx, e.ID)
	if err != nil {
		return nil, 0, storeError("count device operations", err)
	}
	return ops, total, nil
}

// ListOperationsByStatus returns the device's operations in one status.
func (m *Manager) ListOperationsByStatus(ctx context.Context, device store.DeviceIdentifier, status store.OperationStatus) ([]*store.Operation, error) {
	if !status.Valid() {
		return nil, validationError("unknown status %q", status)
	}
	e, err := m.enrollmentFor(ctx, device, PermissionView, false)
	if err != nil {
		return nil, err
	}
	ops, err := m.store.ListDeviceOperationsByStatus(ctx, e.ID, status)
	if err != nil {
		return nil, storeError("list device operations", err)
	}
	return ops, nil
}

// GetDeviceOperation returns one operation as assigned to the device.
func (m *Manager) GetDeviceOperation(ctx context.Context, device store.DeviceIdentifier, operationID int64) (*store.Operation, error) {
	e, err := m.enrollmentFor(ctx, device, PermissionView, false)
	if err != nil {
		return nil, err
	}
	op, err := m.store.GetDeviceOperation(ctx, e.ID, operationID)
	if err != nil {
		return nil, storeError(fmt.Sprintf("get operation %d", operationID), err)
	}
	return op, nil
}

// ListPendingOperations returns the device's PENDING operations by ascending id.
func (m *Manager) ListPendingOperations(ctx context.Context, device store.DeviceIdentifier) ([]*store.Operation, error) {
	e, err := m.enrollmentFor(ctx, device, PermissionView, true)
	if err != nil {
		return nil, err
	}
	ops, err := m.store.ListDeviceOperationsByStatus(ctx, e.ID, store.StatusPending)
	if err != nil {
		return nil, storeError("list pending operations", err)
	}
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	return ops, nil
}

// NextOperation picks the operation the device should run next. A NOTNOW
// operation wins once it has rested for throttle; until then the oldest
// PENDING operation is served instead. A nil operation means nothing is owed.
func (m *Manager) NextOperation(ctx context.Context, device store.DeviceIdentifier, throttle time.Duration) (*store.Operation, error) {
	e, err := m.enrollmentFor(ctx, device, PermissionView, true)
	if err != nil {
		return nil, err
	}

	if throttle > 0 {
		notNow, err := m.store.OldestDeviceOperation(ctx, e.ID, store.StatusNotNow)
		switch {
		case err == nil:
			if m.now().Sub(notNow.StatusUpdatedAt) >= throttle {
				return notNow, nil
			}
		case !errors.Is(err, store.ErrNotFound):
			return nil, storeError("find deferred operation", err)
		}
	}

	pending, err := m.store.OldestDeviceOperation(ctx, e.ID, store.StatusPending)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("find pending operation", err)
	}
	return pending, nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
