package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would leave two outstanding NO_REPEAT
// mappings of one code on an enrollment.
var ErrConflict = errors.New("conflicting outstanding operation")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// TenantStore handles tenants and their notification setup.
type TenantStore interface {
	// CreateTenant inserts a new tenant together with its notification config.
	CreateTenant(ctx context.Context, tx DBTransaction, tenant *Tenant, cfg *NotificationConfig) error

	// GetTenantByID returns a tenant by its ID.
	GetTenantByID(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// GetNotificationConfig returns the tenant's notifier setup, or ErrNotFound.
	GetNotificationConfig(ctx context.Context, tenantID uuid.UUID) (*NotificationConfig, error)

	// UpsertNotificationConfig replaces the tenant's notifier setup.
	UpsertNotificationConfig(ctx context.Context, cfg *NotificationConfig) error
}

// EnrollmentStore resolves devices to their enrollment records.
type EnrollmentStore interface {
	// ActiveEnrollment returns the newest non-removed enrollment of the device
	// within the tenant, or ErrNotFound.
	ActiveEnrollment(ctx context.Context, tenantID uuid.UUID, device DeviceIdentifier) (*Enrollment, error)

	// SetEnrollmentStatus overwrites the status of an enrollment.
	SetEnrollmentStatus(ctx context.Context, tx DBTransaction, enrollmentID int64, status EnrollmentStatus) error

	// ListActiveEnrollments returns every ACTIVE enrollment of a device type across tenants.
	ListActiveEnrollments(ctx context.Context, deviceType string) ([]Enrollment, error)
}

// OperationStore persists operations, their per-device mappings and device responses.
type OperationStore interface {
	// CreateOperation inserts the operation and its kind-specific payload, and sets op.ID.
	CreateOperation(ctx context.Context, tx DBTransaction, op *Operation) error

	// CreateMappings inserts one PENDING mapping per enrollment and returns the
	// enrollments that were actually inserted. Enrollments that already hold an
	// outstanding NO_REPEAT mapping of the same code are skipped.
	CreateMappings(ctx context.Context, tx DBTransaction, op *Operation, enrollmentIDs []int64, scheduled bool) ([]int64, error)

	// OutstandingOperations maps each enrollment to the id of an existing
	// PENDING or NOTNOW operation with the given code.
	OutstandingOperations(ctx context.Context, tx DBTransaction, code string, enrollmentIDs []int64) (map[int64]int64, error)

	// SetScheduledForBatchPush flips the batch push flag of one mapping.
	// Setting it again after a failed push delays the next claim.
	SetScheduledForBatchPush(ctx context.Context, tx DBTransaction, operationID, enrollmentID int64, scheduled bool) error

	// GetOperation returns a hydrated operation of the tenant.
	GetOperation(ctx context.Context, tenantID uuid.UUID, id int64) (*Operation, error)

	// GetDeviceOperation returns one operation as seen through an enrollment's mapping.
	GetDeviceOperation(ctx context.Context, enrollmentID, operationID int64) (*Operation, error)

	// ListDeviceOperations returns an enrollment's operations, oldest assignment first.
	// A non-positive limit returns all of them.
	ListDeviceOperations(ctx context.Context, enrollmentID int64, limit, offset int) ([]*Operation, error)

	// CountDeviceOperations counts an enrollment's mappings.
	CountDeviceOperations(ctx context.Context, enrollmentID int64) (int64, error)

	// ListDeviceOperationsByStatus returns an enrollment's operations in a status,
	// ordered by operation id.
	ListDeviceOperationsByStatus(ctx context.Context, enrollmentID int64, status OperationStatus) ([]*Operation, error)

	// OldestDeviceOperation returns the earliest assigned operation in a status, or ErrNotFound.
	OldestDeviceOperation(ctx context.Context, enrollmentID int64, status OperationStatus) (*Operation, error)

	// UpdateMappingStatus overwrites a mapping status. Returns ErrNotFound when
	// the enrollment has no mapping for the operation.
	UpdateMappingStatus(ctx context.Context, tx DBTransaction, enrollmentID, operationID int64, status OperationStatus) error

	// AddResponse appends a device response to a mapping. Returns ErrNotFound
	// when the enrollment has no mapping for the operation.
	AddResponse(ctx context.Context, tx DBTransaction, enrollmentID, operationID int64, payload json.RawMessage) error
}

// ActivityStore reads the raw rows folded into activity views.
// Rows are ordered by operation id, enrollment id and response arrival.
type ActivityStore interface {
	// ActivityRows returns the rows of the given operations. A non-zero
	// enrollmentID restricts them to one device.
	ActivityRows(ctx context.Context, tenantID uuid.UUID, operationIDs []int64, enrollmentID int64) ([]ActivityRow, error)

	// ActivityRowsSince pages mappings updated after since, optionally
	// restricted to operations initiated by user.
	ActivityRowsSince(ctx context.Context, tenantID uuid.UUID, since time.Time, user string, limit, offset int) ([]ActivityRow, error)

	// CountActivitiesSince counts the mappings ActivityRowsSince pages over.
	CountActivitiesSince(ctx context.Context, tenantID uuid.UUID, since time.Time, user string) (int64, error)

	// ActivityRowsByCode pages the mappings of operations with a code.
	ActivityRowsByCode(ctx context.Context, tenantID uuid.UUID, code string, limit, offset int) ([]ActivityRow, error)

	// CountActivitiesByCode counts the mappings ActivityRowsByCode pages over.
	CountActivitiesByCode(ctx context.Context, tenantID uuid.UUID, code string) (int64, error)
}
