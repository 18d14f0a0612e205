package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"opsplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// maxPushDelay caps the wait between batch push attempts of one mapping.
const maxPushDelay = 5 * time.Minute

const deviceOperationColumns = `
	o.id, o.tenant_id, o.code, o.type, o.control, o.initiated_by, o.created_at,
	m.status, m.updated_at`

// CreateOperation inserts the operation and its kind-specific payload row.
func (s *Store) CreateOperation(ctx context.Context, tx store.DBTransaction, op *store.Operation) error {
	ps, err := payloadStoreFor(op.Type)
	if err != nil {
		return err
	}

	executor := s.getExecutor(tx)

	query := `
		INSERT INTO operations (tenant_id, code, type, control, initiated_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err = executor.QueryRowContext(ctx, query,
		op.TenantID, op.Code, op.Type, op.Control, op.InitiatedBy, op.CreatedAt,
	).Scan(&op.ID)
	if err != nil {
		return fmt.Errorf("failed to create operation %s: %w", op.Code, err)
	}

	return ps.insert(ctx, executor, op)
}

// CreateMappings inserts PENDING mappings for the enrollments. Inserts that
// collide with an outstanding NO_REPEAT mapping of the same code are skipped
// and left out of the returned ids.
func (s *Store) CreateMappings(ctx context.Context, tx store.DBTransaction, op *store.Operation, enrollmentIDs []int64, scheduled bool) ([]int64, error) {
	if len(enrollmentIDs) == 0 {
		return nil, nil
	}

	executor := s.getExecutor(tx)

	query := `
		INSERT INTO operation_mappings
			(operation_id, enrollment_id, operation_code, no_repeat, status, scheduled_for_batch_push)
		SELECT $1, enrollment_id, $2, $3, $4, $5
		FROM UNNEST($6::bigint[]) AS enrollment_id
		ON CONFLICT (operation_code, enrollment_id)
			WHERE no_repeat AND status IN ('PENDING', 'NOTNOW')
			DO NOTHING
		RETURNING enrollment_id
	`
	rows, err := executor.QueryContext(ctx, query,
		op.ID,
		op.Code,
		op.Control == store.ControlNoRepeat,
		store.StatusPending,
		scheduled,
		pq.Array(enrollmentIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mappings for operation %d: %w", op.ID, err)
	}
	defer rows.Close()

	inserted := make([]int64, 0, len(enrollmentIDs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		inserted = append(inserted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mapping rows error: %w", err)
	}

	return inserted, nil
}

// OutstandingOperations finds PENDING or NOTNOW operations with the code, one per enrollment.
func (s *Store) OutstandingOperations(ctx context.Context, tx store.DBTransaction, code string, enrollmentIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64)
	if len(enrollmentIDs) == 0 {
		return result, nil
	}

	executor := s.getExecutor(tx)

	rows, err := executor.QueryContext(ctx, `
		SELECT DISTINCT ON (enrollment_id) enrollment_id, operation_id
		FROM operation_mappings
		WHERE operation_code = $1
		  AND enrollment_id = ANY($2)
		  AND status IN ($3, $4)
		ORDER BY enrollment_id, operation_id
	`, code, pq.Array(enrollmentIDs), store.StatusPending, store.StatusNotNow)
	if err != nil {
		return nil, fmt.Errorf("failed to look up outstanding %s operations: %w", code, err)
	}
	defer rows.Close()

	for rows.Next() {
		var enrollmentID, operationID int64
		if err := rows.Scan(&enrollmentID, &operationID); err != nil {
			return nil, fmt.Errorf("failed to scan outstanding operation: %w", err)
		}
		result[enrollmentID] = operationID
	}

	return result, rows.Err()
}

// SetScheduledForBatchPush flips the batch push flag of one mapping. Flagging
// counts a failed push and holds the mapping back for 2^attempts seconds,
// capped at maxPushDelay, before the pusher may claim it again.
func (s *Store) SetScheduledForBatchPush(ctx context.Context, tx store.DBTransaction, operationID, enrollmentID int64, scheduled bool) error {
	executor := s.getExecutor(tx)

	query := `
		UPDATE operation_mappings
		SET scheduled_for_batch_push = FALSE
		WHERE operation_id = $1 AND enrollment_id = $2
	`
	args := []interface{}{operationID, enrollmentID}
	if scheduled {
		query = `
		UPDATE operation_mappings
		SET scheduled_for_batch_push = TRUE,
		    push_attempts = push_attempts + 1,
		    next_push_at = NOW() + LEAST(INTERVAL '1 second' * POWER(2, push_attempts), $3 * INTERVAL '1 second')
		WHERE operation_id = $1 AND enrollment_id = $2
	`
		args = append(args, int64(maxPushDelay/time.Second))
	}

	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to flag mapping %d/%d: %w", operationID, enrollmentID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetOperation returns a hydrated operation of the tenant.
func (s *Store) GetOperation(ctx context.Context, tenantID uuid.UUID, id int64) (*store.Operation, error) {
	query := `
		SELECT o.id, o.tenant_id, o.code, o.type, o.control, o.initiated_by, o.created_at
		FROM operations o
		WHERE o.tenant_id = $1 AND o.id = $2
	`

	var op store.Operation
	err := s.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&op.ID,
		&op.TenantID,
		&op.Code,
		&op.Type,
		&op.Control,
		&op.InitiatedBy,
		&op.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	if err := hydratePayloads(ctx, s.db, []*store.Operation{&op}); err != nil {
		return nil, err
	}
	return &op, nil
}

// GetDeviceOperation returns one operation as seen through an enrollment's mapping.
func (s *Store) GetDeviceOperation(ctx context.Context, enrollmentID, operationID int64) (*store.Operation, error) {
	ops, err := s.queryDeviceOperations(ctx, `
		SELECT `+deviceOperationColumns+`
		FROM operation_mappings m
		JOIN operations o ON o.id = m.operation_id
		WHERE m.enrollment_id = $1 AND m.operation_id = $2
	`, enrollmentID, operationID)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, store.ErrNotFound
	}
	return ops[0], nil
}

// ListDeviceOperations returns an enrollment's operations, oldest assignment first.
func (s *Store) ListDeviceOperations(ctx context.Context, enrollmentID int64, limit, offset int) ([]*store.Operation, error) {
	query := `
		SELECT ` + deviceOperationColumns + `
		FROM operation_mappings m
		JOIN operations o ON o.id = m.operation_id
		WHERE m.enrollment_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`
	args := []interface{}{enrollmentID}
	if limit > 0 {
		if offset < 0 {
			offset = 0
		}
		query += " LIMIT $2 OFFSET $3"
		args = append(args, limit, offset)
	}

	return s.queryDeviceOperations(ctx, query, args...)
}

// CountDeviceOperations counts an enrollment's mappings.
func (s *Store) CountDeviceOperations(ctx context.Context, enrollmentID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM operation_mappings WHERE enrollment_id = $1", enrollmentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count operations of enrollment %d: %w", enrollmentID, err)
	}
	return count, nil
}

// ListDeviceOperationsByStatus returns an enrollment's operations in a status by operation id.
func (s *Store) ListDeviceOperationsByStatus(ctx context.Context, enrollmentID int64, status store.OperationStatus) ([]*store.Operation, error) {
	return s.queryDeviceOperations(ctx, `
		SELECT `+deviceOperationColumns+`
		FROM operation_mappings m
		JOIN operations o ON o.id = m.operation_id
		WHERE m.enrollment_id = $1 AND m.status = $2
		ORDER BY o.id ASC
	`, enrollmentID, status)
}

// OldestDeviceOperation returns the earliest assigned operation in a status.
func (s *Store) OldestDeviceOperation(ctx context.Context, enrollmentID int64, status store.OperationStatus) (*store.Operation, error) {
	ops, err := s.queryDeviceOperations(ctx, `
		SELECT `+deviceOperationColumns+`
		FROM operation_mappings m
		JOIN operations o ON o.id = m.operation_id
		WHERE m.enrollment_id = $1 AND m.status = $2
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT 1
	`, enrollmentID, status)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, store.ErrNotFound
	}
	return ops[0], nil
}

// UpdateMappingStatus overwrites the status of an enrollment's mapping.
func (s *Store) UpdateMappingStatus(ctx context.Context, tx store.DBTransaction, enrollmentID, operationID int64, status store.OperationStatus) error {
	executor := s.getExecutor(tx)

	result, err := executor.ExecContext(ctx, `
		UPDATE operation_mappings
		SET status = $1, updated_at = NOW()
		WHERE enrollment_id = $2 AND operation_id = $3
	`, status, enrollmentID, operationID)
	if err != nil {
		return fmt.Errorf("failed to update mapping %d/%d: %w", operationID, enrollmentID, conflict(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddResponse appends a response to an enrollment's mapping and touches the mapping.
func (s *Store) AddResponse(ctx context.Context, tx store.DBTransaction, enrollmentID, operationID int64, payload json.RawMessage) error {
	executor := s.getExecutor(tx)

	query := `
		WITH touched AS (
			UPDATE operation_mappings
			SET updated_at = NOW()
			WHERE enrollment_id = $1 AND operation_id = $2
			RETURNING id
		)
		INSERT INTO operation_responses (mapping_id, payload, received_at)
		SELECT id, $3, NOW() FROM touched
		RETURNING id
	`

	var responseID int64
	err := executor.QueryRowContext(ctx, query, enrollmentID, operationID, nullJSON(payload)).Scan(&responseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to add response to mapping %d/%d: %w", operationID, enrollmentID, err)
	}
	return nil
}

func (s *Store) queryDeviceOperations(ctx context.Context, query string, args ...interface{}) ([]*store.Operation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query device operations: %w", err)
	}
	defer rows.Close()

	var ops []*store.Operation
	for rows.Next() {
		var op store.Operation
		if err := rows.Scan(
			&op.ID,
			&op.TenantID,
			&op.Code,
			&op.Type,
			&op.Control,
			&op.InitiatedBy,
			&op.CreatedAt,
			&op.Status,
			&op.StatusUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device operation: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(ops) == 0 {
		return ops, nil
	}
	if err := hydratePayloads(ctx, s.db, ops); err != nil {
		return nil, err
	}
	return ops, nil
}
