package postgres

import (
	"context"
	"fmt"

	"opsplane/internal/store"

	"github.com/google/uuid"
)

// ActiveEnrollment returns the newest enrollment of the device that has not been removed.
func (s *Store) ActiveEnrollment(ctx context.Context, tenantID uuid.UUID, device store.DeviceIdentifier) (*store.Enrollment, error) {
	query := `
		SELECT e.id, e.tenant_id, d.device_type, d.identifier, e.owner, e.status
		FROM enrollments e
		JOIN devices d ON d.id = e.device_id
		WHERE d.tenant_id = $1 AND d.device_type = $2 AND d.identifier = $3
		  AND e.status <> $4
		ORDER BY e.id DESC
		LIMIT 1
	`

	var e store.Enrollment
	err := s.db.QueryRowContext(ctx, query, tenantID, device.Type, device.ID, store.EnrollmentRemoved).Scan(
		&e.ID,
		&e.TenantID,
		&e.Device.Type,
		&e.Device.ID,
		&e.Owner,
		&e.Status,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return &e, nil
}

// SetEnrollmentStatus overwrites the status of an enrollment.
func (s *Store) SetEnrollmentStatus(ctx context.Context, tx store.DBTransaction, enrollmentID int64, status store.EnrollmentStatus) error {
	executor := s.getExecutor(tx)

	result, err := executor.ExecContext(ctx, `
		UPDATE enrollments
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, enrollmentID)
	if err != nil {
		return fmt.Errorf("failed to update enrollment %d: %w", enrollmentID, err)
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

// ListActiveEnrollments returns every ACTIVE enrollment of a device type across tenants.
func (s *Store) ListActiveEnrollments(ctx context.Context, deviceType string) ([]store.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.tenant_id, d.device_type, d.identifier, e.owner, e.status
		FROM enrollments e
		JOIN devices d ON d.id = e.device_id
		WHERE d.device_type = $1 AND e.status = $2
		ORDER BY e.tenant_id, e.id
	`, deviceType, store.EnrollmentActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []store.Enrollment
	for rows.Next() {
		var e store.Enrollment
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Device.Type, &e.Device.ID, &e.Owner, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}

	return enrollments, rows.Err()
}
