// Package notify pushes new operations to devices over Kafka or Redis
// pub/sub, and resolves which transport a tenant uses.
package notify

import (
	"encoding/json"
	"time"

	"opsplane/internal/operation"
	"opsplane/internal/store"

	"github.com/google/uuid"
)

// Message is the wake-up payload a device receives when it has work.
type Message struct {
	ID          string                 `json:"id"`
	TenantID    string                 `json:"tenant_id"`
	Device      store.DeviceIdentifier `json:"device"`
	ActivityID  string                 `json:"activity_id"`
	OperationID int64                  `json:"operation_id"`
	Code        string                 `json:"code"`
	Type        store.OperationType    `json:"type"`
	Payload     json.RawMessage        `json:"payload,omitempty"`
	SentAt      time.Time              `json:"sent_at"`
}

func newMessage(device store.DeviceIdentifier, op *store.Operation, now time.Time) Message {
	return Message{
		ID:          uuid.NewString(),
		TenantID:    op.TenantID.String(),
		Device:      device,
		ActivityID:  operation.ActivityID(op.ID),
		OperationID: op.ID,
		Code:        op.Code,
		Type:        op.Type,
		Payload:     op.Payload,
		SentAt:      now.UTC(),
	}
}
