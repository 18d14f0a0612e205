package postgres

import (
	"context"
	"fmt"

	"opsplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateTenant(ctx context.Context, tx store.DBTransaction, tenant *store.Tenant, cfg *store.NotificationConfig) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO tenants (id, name, created_at)
		VALUES ($1, $2, $3)
	`, tenant.ID, tenant.Name, tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	if cfg == nil {
		cfg = &store.NotificationConfig{Type: store.NotifierLocal}
	}
	_, err = executor.ExecContext(ctx, `
		INSERT INTO notification_configs (tenant_id, type, batch_size, scheduled, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, tenant.ID, cfg.Type, cfg.BatchSize, cfg.Scheduled)
	if err != nil {
		return fmt.Errorf("failed to create notification config: %w", err)
	}
	return nil
}

func (s *Store) GetTenantByID(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	query := "SELECT id, name, created_at FROM tenants WHERE id = $1"

	var t store.Tenant
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	return &t, nil
}

func (s *Store) GetNotificationConfig(ctx context.Context, tenantID uuid.UUID) (*store.NotificationConfig, error) {
	query := `
		SELECT tenant_id, type, batch_size, scheduled, updated_at
		FROM notification_configs
		WHERE tenant_id = $1
	`

	var cfg store.NotificationConfig
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&cfg.TenantID,
		&cfg.Type,
		&cfg.BatchSize,
		&cfg.Scheduled,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return &cfg, nil
}

func (s *Store) UpsertNotificationConfig(ctx context.Context, cfg *store.NotificationConfig) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_configs (tenant_id, type, batch_size, scheduled, updated_at)
		SELECT id, $2, $3, $4, NOW() FROM tenants WHERE id = $1
		ON CONFLICT (tenant_id) DO UPDATE
		SET type = EXCLUDED.type,
		    batch_size = EXCLUDED.batch_size,
		    scheduled = EXCLUDED.scheduled,
		    updated_at = NOW()
	`, cfg.TenantID, cfg.Type, cfg.BatchSize, cfg.Scheduled)
	if err != nil {
		return fmt.Errorf("failed to save notification config: %w", err)
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
