package postgres

import (
	"context"
	"fmt"

	"opsplane/internal/store"

	"github.com/lib/pq"
)

// ClaimScheduledDeliveries claims up to 'limit' mappings flagged for batch push
// whose retry time has passed, using SELECT ... FOR UPDATE SKIP LOCKED, and
// clears their flag.
// Returns nil slice if nothing is flagged.
func (s *Store) ClaimScheduledDeliveries(ctx context.Context, limit int) ([]store.ScheduledDelivery, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT m.id, m.enrollment_id, o.tenant_id, d.device_type, d.identifier,
		       o.id, o.code, o.type, o.control, o.initiated_by, o.created_at,
		       m.status, m.updated_at
		FROM operation_mappings m
		JOIN operations o ON o.id = m.operation_id
		JOIN enrollments e ON e.id = m.enrollment_id
		JOIN devices d ON d.id = e.device_id
		WHERE m.scheduled_for_batch_push
		  AND m.next_push_at <= NOW()
		  AND m.status IN ($2, $3)
		ORDER BY m.next_push_at ASC, m.created_at ASC
		LIMIT $1
		FOR UPDATE OF m SKIP LOCKED
	`, limit, store.StatusPending, store.StatusNotNow)
	if err != nil {
		return nil, fmt.Errorf("batch push claim query failed: %w", err)
	}
	defer rows.Close()

	var items []store.ScheduledDelivery
	var mappingIDs []int64

	for rows.Next() {
		var item store.ScheduledDelivery
		op := &item.Operation
		if err := rows.Scan(
			&item.MappingID,
			&item.EnrollmentID,
			&item.TenantID,
			&item.Device.Type,
			&item.Device.ID,
			&op.ID,
			&op.Code,
			&op.Type,
			&op.Control,
			&op.InitiatedBy,
			&op.CreatedAt,
			&op.Status,
			&op.StatusUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("batch push claim scan failed: %w", err)
		}
		op.TenantID = item.TenantID
		items = append(items, item)
		mappingIDs = append(mappingIDs, item.MappingID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch push claim rows error: %w", err)
	}
	rows.Close()

	if len(items) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE operation_mappings
		SET scheduled_for_batch_push = FALSE
		WHERE id = ANY($1)
	`, pq.Array(mappingIDs))
	if err != nil {
		return nil, fmt.Errorf("batch push flag update failed: %w", err)
	}

	ops := make([]*store.Operation, len(items))
	for i := range items {
		ops[i] = &items[i].Operation
	}
	if err := hydratePayloads(ctx, tx, ops); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return items, nil
}

// CountScheduled counts outstanding mappings waiting for batch push.
func (s *Store) CountScheduled(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operation_mappings
		WHERE scheduled_for_batch_push AND status IN ($1, $2)
	`, store.StatusPending, store.StatusNotNow).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scheduled mappings: %w", err)
	}
	return count, nil
}
