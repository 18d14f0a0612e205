package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"opsplane/internal/store"

	"github.com/google/uuid"
)

// DefaultActivityWindow is how far back ActivitiesSince looks without a cutoff.
const DefaultActivityWindow = 42300 * time.Second

// Response is one payload a device reported for an operation.
type Response struct {
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// ActivityStatus is the delivery state of an activity on one device.
type ActivityStatus struct {
	Device    store.DeviceIdentifier
	Status    store.OperationStatus
	UpdatedAt time.Time
	Responses []Response
}

// Activity is the fleet view of one operation. ID is empty when nothing was queued.
type Activity struct {
	ID          string
	OperationID int64
	Code        string
	Type        store.OperationType
	InitiatedBy string
	CreatedAt   time.Time
	Statuses    []ActivityStatus
}

// ActivityQuery selects activities by last update.
type ActivityQuery struct {
	Since           time.Time
	IfModifiedSince time.Time
	InitiatedBy     string
	Limit           int
	Offset          int
}

// fold groups rows by operation, then by enrollment, appending responses in
// row order. Ids seen earlier resume their group, so unordered input never
// splits an activity or a device status.
func fold(rows []store.ActivityRow) []*Activity {
	type statusKey struct{ operationID, enrollmentID int64 }

	var activities []*Activity
	byOperation := make(map[int64]*Activity)
	byStatus := make(map[statusKey]int)

	for _, row := range rows {
		a, ok := byOperation[row.OperationID]
		if !ok {
			a = &Activity{
				ID:          ActivityID(row.OperationID),
				OperationID: row.OperationID,
				Code:        row.OperationCode,
				Type:        row.OperationType,
				InitiatedBy: row.InitiatedBy,
				CreatedAt:   row.OperationCreatedAt,
			}
			byOperation[row.OperationID] = a
			activities = append(activities, a)
		}

		key := statusKey{row.OperationID, row.EnrollmentID}
		idx, ok := byStatus[key]
		if !ok {
			a.Statuses = append(a.Statuses, ActivityStatus{
				Device:    row.Device,
				Status:    row.Status,
				UpdatedAt: row.UpdatedAt,
			})
			idx = len(a.Statuses) - 1
			byStatus[key] = idx
		}

		if row.ResponseID != 0 {
			a.Statuses[idx].Responses = append(a.Statuses[idx].Responses, Response{
				Payload:    row.ResponsePayload,
				ReceivedAt: row.ResponseReceivedAt,
			})
		}
	}
	return activities
}

// GetOperation returns an operation of the caller's tenant.
func (m *Manager) GetOperation(ctx context.Context, operationID int64) (*store.Operation, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	op, err := m.store.GetOperation(ctx, p.TenantID, operationID)
	if err != nil {
		return nil, storeError(fmt.Sprintf("get operation %d", operationID), err)
	}
	return op, nil
}

// Activity returns one activity of the caller's tenant.
func (m *Manager) Activity(ctx context.Context, activityID string) (*Activity, error) {
	operationID, err := ParseActivityID(activityID)
	if err != nil {
		return nil, err
	}
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	return m.singleActivity(ctx, p.TenantID, operationID, 0)
}

// DeviceActivity returns one activity restricted to one device.
func (m *Manager) DeviceActivity(ctx context.Context, activityID string, device store.DeviceIdentifier) (*Activity, error) {
	operationID, err := ParseActivityID(activityID)
	if err != nil {
		return nil, err
	}
	e, err := m.enrollmentFor(ctx, device, PermissionView, false)
	if err != nil {
		return nil, err
	}
	return m.singleActivity(ctx, e.TenantID, operationID, e.ID)
}

func (m *Manager) singleActivity(ctx context.Context, tenantID uuid.UUID, operationID, enrollmentID int64) (*Activity, error) {
	rows, err := m.store.ActivityRows(ctx, tenantID, []int64{operationID}, enrollmentID)
	if err != nil {
		return nil, storeError("load activity", err)
	}
	activities := fold(rows)
	if len(activities) == 0 {
		return nil, fmt.Errorf("activity %s: %w", ActivityID(operationID), ErrNotFound)
	}
	return activities[0], nil
}

// Activities returns activities in the order asked, repeating duplicates.
// Every id is decoded before the store is touched; one bad id fails the batch.
// Unknown ids are left out, and a batch where none is known is ErrNotFound.
func (m *Manager) Activities(ctx context.Context, activityIDs []string) ([]*Activity, error) {
	if len(activityIDs) == 0 {
		return nil, validationError("at least one activity id is required")
	}

	operationIDs := make([]int64, len(activityIDs))
	for i, id := range activityIDs {
		operationID, err := ParseActivityID(id)
		if err != nil {
			return nil, err
		}
		operationIDs[i] = operationID
	}

	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	unique := make([]int64, 0, len(operationIDs))
	seen := make(map[int64]struct{}, len(operationIDs))
	for _, id := range operationIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}

	rows, err := m.store.ActivityRows(ctx, p.TenantID, unique, 0)
	if err != nil {
		return nil, storeError("load activities", err)
	}

	byOperation := make(map[int64]*Activity)
	for _, a := range fold(rows) {
		byOperation[a.OperationID] = a
	}

	if len(byOperation) == 0 {
		return nil, fmt.Errorf("no activity found with ids %v: %w", activityIDs, ErrNotFound)
	}

	result := make([]*Activity, 0, len(operationIDs))
	for _, id := range operationIDs {
		if a, ok := byOperation[id]; ok {
			result = append(result, a)
		}
	}
	return result, nil
}

// cutoff picks If-Modified-Since over Since, defaulting to DefaultActivityWindow ago.
// If-Modified-Since only carries whole seconds, so updates within that second
// count as seen.
func (m *Manager) cutoff(q ActivityQuery) time.Time {
	switch {
	case !q.IfModifiedSince.IsZero():
		return q.IfModifiedSince.Truncate(time.Second).Add(time.Second - time.Microsecond)
	case !q.Since.IsZero():
		return q.Since
	default:
		return m.now().Add(-DefaultActivityWindow)
	}
}

// ActivitiesSince pages activities whose device state changed after the
// cutoff. With IfModifiedSince set, finding nothing returns ErrNotModified.
func (m *Manager) ActivitiesSince(ctx context.Context, q ActivityQuery) ([]*Activity, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	limit, offset := normalizePage(q.Limit, q.Offset)

	rows, err := m.store.ActivityRowsSince(ctx, p.TenantID, m.cutoff(q), q.InitiatedBy, limit, offset)
	if err != nil {
		return nil, storeError("load activities", err)
	}

	activities := fold(rows)
	if len(activities) == 0 && !q.IfModifiedSince.IsZero() {
		return nil, ErrNotModified
	}
	return activities, nil
}

// CountActivitiesSince counts the device updates ActivitiesSince pages over.
func (m *Manager) CountActivitiesSince(ctx context.Context, q ActivityQuery) (int64, error) {
	p, err := principal(ctx)
	if err != nil {
		return 0, err
	}
	n, err := m.store.CountActivitiesSince(ctx, p.TenantID, m.cutoff(q), q.InitiatedBy)
	if err != nil {
		return 0, storeError("count activities", err)
	}
	return n, nil
}

// ActivitiesByCode pages the activities of operations with code.
func (m *Manager) ActivitiesByCode(ctx context.Context, code string, limit, offset int) ([]*Activity, error) {
	if code == "" {
		return nil, validationError("operation code is required")
	}
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	limit, offset = normalizePage(limit, offset)

	rows, err := m.store.ActivityRowsByCode(ctx, p.TenantID, code, limit, offset)
	if err != nil {
		return nil, storeError("load activities", err)
	}
	return fold(rows), nil
}

// CountActivitiesByCode counts the device states ActivitiesByCode pages over.
func (m *Manager) CountActivitiesByCode(ctx context.Context, code string) (int64, error) {
	if code == "" {
		return 0, validationError("operation code is required")
	}
	p, err := principal(ctx)
	if err != nil {
		return 0, err
	}
	n, err := m.store.CountActivitiesByCode(ctx, p.TenantID, code)
	if err != nil {
		return 0, storeError("count activities", err)
	}
	return n, nil
}
