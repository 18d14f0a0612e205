package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"opsplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const activityColumns = `
	o.id, o.code, o.type, o.initiated_by, o.created_at,
	pm.enrollment_id, d.device_type, d.identifier, pm.status, pm.updated_at,
	r.id, r.payload, r.received_at`

// activityPageQuery pages mapping rows matching filter, then joins their
// operations, devices and responses. filter is appended to the inner WHERE
// and may reference $2 onwards; $1 is always the tenant.
func activityPageQuery(filter, order string, limitArg, offsetArg int) string {
	return fmt.Sprintf(`
		SELECT %s
		FROM (
			SELECT m.id, m.operation_id, m.enrollment_id, m.status, m.updated_at
			FROM operation_mappings m
			JOIN operations o ON o.id = m.operation_id
			WHERE o.tenant_id = $1 %s
			ORDER BY %s
			LIMIT $%d OFFSET $%d
		) pm
		JOIN operations o ON o.id = pm.operation_id
		JOIN enrollments e ON e.id = pm.enrollment_id
		JOIN devices d ON d.id = e.device_id
		LEFT JOIN operation_responses r ON r.mapping_id = pm.id
		ORDER BY o.id, pm.enrollment_id, r.id
	`, activityColumns, filter, order, limitArg, offsetArg)
}

// ActivityRows returns the rows of the given operations, optionally for one enrollment.
func (s *Store) ActivityRows(ctx context.Context, tenantID uuid.UUID, operationIDs []int64, enrollmentID int64) ([]store.ActivityRow, error) {
	query := `
		SELECT ` + activityColumns + `
		FROM operation_mappings pm
		JOIN operations o ON o.id = pm.operation_id
		JOIN enrollments e ON e.id = pm.enrollment_id
		JOIN devices d ON d.id = e.device_id
		LEFT JOIN operation_responses r ON r.mapping_id = pm.id
		WHERE o.tenant_id = $1 AND o.id = ANY($2)`
	args := []interface{}{tenantID, pq.Array(operationIDs)}
	if enrollmentID != 0 {
		query += " AND pm.enrollment_id = $3"
		args = append(args, enrollmentID)
	}
	query += " ORDER BY o.id, pm.enrollment_id, r.id"

	return s.queryActivityRows(ctx, query, args...)
}

// ActivityRowsSince pages mappings updated after since, oldest update first.
func (s *Store) ActivityRowsSince(ctx context.Context, tenantID uuid.UUID, since time.Time, user string, limit, offset int) ([]store.ActivityRow, error) {
	filter := "AND m.updated_at > $2"
	args := []interface{}{tenantID, since, limit, offset}
	if user != "" {
		filter += " AND o.initiated_by = $5"
		args = append(args, user)
	}

	return s.queryActivityRows(ctx, activityPageQuery(filter, "m.updated_at, m.id", 3, 4), args...)
}

// CountActivitiesSince counts mappings updated after since.
func (s *Store) CountActivitiesSince(ctx context.Context, tenantID uuid.UUID, since time.Time, user string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM operation_mappings m
		JOIN operations o ON o.id = m.operation_id
		WHERE o.tenant_id = $1 AND m.updated_at > $2`
	args := []interface{}{tenantID, since}
	if user != "" {
		query += " AND o.initiated_by = $3"
		args = append(args, user)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return count, nil
}

// ActivityRowsByCode pages the mappings of operations with a code.
func (s *Store) ActivityRowsByCode(ctx context.Context, tenantID uuid.UUID, code string, limit, offset int) ([]store.ActivityRow, error) {
	query := activityPageQuery("AND o.code = $2", "m.operation_id, m.id", 3, 4)
	return s.queryActivityRows(ctx, query, tenantID, code, limit, offset)
}

// CountActivitiesByCode counts the mappings of operations with a code.
func (s *Store) CountActivitiesByCode(ctx context.Context, tenantID uuid.UUID, code string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM operation_mappings m
		JOIN operations o ON o.id = m.operation_id
		WHERE o.tenant_id = $1 AND o.code = $2
	`, tenantID, code).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s activities: %w", code, err)
	}
	return count, nil
}

func (s *Store) queryActivityRows(ctx context.Context, query string, args ...interface{}) ([]store.ActivityRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("activity query failed: %w", err)
	}
	defer rows.Close()

	var result []store.ActivityRow
	for rows.Next() {
		var (
			row        store.ActivityRow
			responseID sql.NullInt64
			payload    []byte
			receivedAt sql.NullTime
		)
		if err := rows.Scan(
			&row.OperationID,
			&row.OperationCode,
			&row.OperationType,
			&row.InitiatedBy,
			&row.OperationCreatedAt,
			&row.EnrollmentID,
			&row.Device.Type,
			&row.Device.ID,
			&row.Status,
			&row.UpdatedAt,
			&responseID,
			&payload,
			&receivedAt,
		); err != nil {
			return nil, fmt.Errorf("activity scan failed: %w", err)
		}
		if responseID.Valid {
			row.ResponseID = responseID.Int64
			row.ResponsePayload = payload
			row.ResponseReceivedAt = receivedAt.Time
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity rows error: %w", err)
	}
	return result, nil
}
