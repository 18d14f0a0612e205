// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// Device names one device by type and id.
type Device struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// AddOperationRequest is the request body for queueing an operation on devices.
type AddOperationRequest struct {
	Code    string          `json:"code"`
	Type    string          `json:"type"`
	Control string          `json:"control,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Devices []Device        `json:"devices"`
}

// OperationResponse represents an operation. Status fields are set only
// when the operation is read through a device.
type OperationResponse struct {
	ID              int64           `json:"id"`
	ActivityID      string          `json:"activity_id"`
	Code            string          `json:"code"`
	Type            string          `json:"type"`
	Control         string          `json:"control"`
	Enabled         bool            `json:"enabled"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	InitiatedBy     string          `json:"initiated_by"`
	CreatedAt       time.Time       `json:"created_at"`
	Status          string          `json:"status,omitempty"`
	StatusUpdatedAt *time.Time      `json:"status_updated_at,omitempty"`
}

// OperationListResponse is a device's operation history. Total is set for paged reads.
type OperationListResponse struct {
	Operations []OperationResponse `json:"operations"`
	Total      *int64              `json:"total,omitempty"`
}

// ResponseEntry is one payload a device reported.
type ResponseEntry struct {
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// ActivityStatusResponse is the state of an activity on one device.
type ActivityStatusResponse struct {
	Device    Device          `json:"device"`
	Status    string          `json:"status"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
	Responses []ResponseEntry `json:"responses,omitempty"`
}

// ActivityResponse is the fleet view of one operation.
// ActivityID is empty when no device was queued.
type ActivityResponse struct {
	ActivityID  string                   `json:"activity_id"`
	OperationID int64                    `json:"operation_id,omitempty"`
	Code        string                   `json:"code"`
	Type        string                   `json:"type"`
	InitiatedBy string                   `json:"initiated_by"`
	CreatedAt   time.Time                `json:"created_at"`
	Statuses    []ActivityStatusResponse `json:"statuses,omitempty"`
}

// ActivityListResponse is a list of activities. Count is set for filtered listings.
type ActivityListResponse struct {
	Activities []ActivityResponse `json:"activities"`
	Count      *int64             `json:"count,omitempty"`
}

// UpdateStatusRequest is what a device reports for an operation.
type UpdateStatusRequest struct {
	Status   string          `json:"status,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// NotificationConfig selects how a tenant's devices are told about new work.
type NotificationConfig struct {
	Type      string `json:"type"`
	BatchSize int    `json:"batch_size,omitempty"`
	Scheduled bool   `json:"scheduled,omitempty"`
}

// CreateTenantRequest is the request body for creating a new tenant.
type CreateTenantRequest struct {
	Name         string              `json:"name"`
	Notification *NotificationConfig `json:"notification,omitempty"`
}

// TenantResponse is the response body after creating a tenant.
type TenantResponse struct {
	ID           string             `json:"tenant_id"`
	Name         string             `json:"name"`
	Notification NotificationConfig `json:"notification"`
}

// IssueTokenRequest asks for a bearer token for an operator or a device.
type IssueTokenRequest struct {
	TenantID    string   `json:"tenant_id"`
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Device      *Device  `json:"device,omitempty"`
	TTLSeconds  int      `json:"ttl_seconds,omitempty"`
}

// IssueTokenResponse carries a signed token.
type IssueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
