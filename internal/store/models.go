// Package store contains the database layer for opsplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant represents a tenant in the multi-tenant system.
// All operations must be scoped by TenantID.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// NotifierType selects how a tenant's devices are told about new work.
type NotifierType string

const (
	// NotifierLocal means devices only pull; nothing is pushed.
	NotifierLocal NotifierType = "LOCAL"
	NotifierKafka NotifierType = "KAFKA"
	NotifierRedis NotifierType = "REDIS"
)

// NotificationConfig is the per-tenant push notification setup.
type NotificationConfig struct {
	TenantID  uuid.UUID
	Type      NotifierType
	BatchSize int
	Scheduled bool
	UpdatedAt time.Time
}

// DeviceIdentifier is the external identity of a device.
type DeviceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (d DeviceIdentifier) String() string {
	return d.Type + "/" + d.ID
}

// EnrollmentStatus represents the state of a device enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive      EnrollmentStatus = "ACTIVE"
	EnrollmentInactive    EnrollmentStatus = "INACTIVE"
	EnrollmentUnreachable EnrollmentStatus = "UNREACHABLE"
	EnrollmentRemoved     EnrollmentStatus = "REMOVED"
)

// Enrollment binds a device to a tenant.
type Enrollment struct {
	ID       int64
	TenantID uuid.UUID
	Device   DeviceIdentifier
	Owner    string
	Status   EnrollmentStatus
}

// OperationType is the payload kind of an operation.
type OperationType string

const (
	OperationTypeCommand OperationType = "COMMAND"
	OperationTypeConfig  OperationType = "CONFIG"
	OperationTypeProfile OperationType = "PROFILE"
	OperationTypePolicy  OperationType = "POLICY"
	OperationTypeGeneric OperationType = "GENERIC"
)

// Valid reports whether t is a known operation kind.
func (t OperationType) Valid() bool {
	switch t {
	case OperationTypeCommand, OperationTypeConfig, OperationTypeProfile, OperationTypePolicy, OperationTypeGeneric:
		return true
	}
	return false
}

// OperationControl decides whether an operation code may be queued twice for a device.
type OperationControl string

const (
	ControlRepeatable OperationControl = "REPEATABLE"
	ControlNoRepeat   OperationControl = "NO_REPEAT"
)

// OperationStatus is the delivery state of an operation on one device.
type OperationStatus string

const (
	StatusPending    OperationStatus = "PENDING"
	StatusNotNow     OperationStatus = "NOTNOW"
	StatusInProgress OperationStatus = "IN_PROGRESS"
	StatusCompleted  OperationStatus = "COMPLETED"
	StatusError      OperationStatus = "ERROR"
	StatusRepeated   OperationStatus = "REPEATED"
)

// Valid reports whether s is a known mapping status.
func (s OperationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusNotNow, StatusInProgress, StatusCompleted, StatusError, StatusRepeated:
		return true
	}
	return false
}

// Operation is a command definition dispatched to one or more devices.
// Status and StatusUpdatedAt are only set when the operation is read
// through a device's mapping.
type Operation struct {
	ID          int64
	TenantID    uuid.UUID
	Code        string
	Type        OperationType
	Control     OperationControl
	Enabled     bool
	Payload     json.RawMessage
	InitiatedBy string
	CreatedAt   time.Time

	Status          OperationStatus
	StatusUpdatedAt time.Time
}

// OperationMapping is the per-device delivery state of one operation.
type OperationMapping struct {
	ID                    int64
	OperationID           int64
	EnrollmentID          int64
	Status                OperationStatus
	ScheduledForBatchPush bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// OperationResponse is a device-reported result for a mapping.
type OperationResponse struct {
	ID         int64
	MappingID  int64
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// ScheduledDelivery is a mapping claimed for batch push.
type ScheduledDelivery struct {
	MappingID    int64
	EnrollmentID int64
	TenantID     uuid.UUID
	Device       DeviceIdentifier
	Operation    Operation
}

// ActivityRow is one joined mapping/response row as read for activity views.
// Response fields are zero when the mapping has no responses.
type ActivityRow struct {
	OperationID        int64
	OperationCode      string
	OperationType      OperationType
	InitiatedBy        string
	OperationCreatedAt time.Time
	EnrollmentID       int64
	Device             DeviceIdentifier
	Status             OperationStatus
	UpdatedAt          time.Time
	ResponseID         int64
	ResponsePayload    json.RawMessage
	ResponseReceivedAt time.Time
}
