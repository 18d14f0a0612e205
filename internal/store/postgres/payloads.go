package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"opsplane/internal/store"

	"github.com/lib/pq"
)

// payloadStore persists the kind-specific part of an operation.
type payloadStore interface {
	insert(ctx context.Context, exec store.DBTransaction, op *store.Operation) error
	hydrate(ctx context.Context, exec store.DBTransaction, ops []*store.Operation) error
}

// payloadTable keeps one row per operation in a table named after its kind.
// Commands carry only the enabled flag.
type payloadTable struct {
	name        string
	withPayload bool
}

var payloadStores = map[store.OperationType]payloadStore{
	store.OperationTypeCommand: payloadTable{name: "command_operations"},
	store.OperationTypeConfig:  payloadTable{name: "config_operations", withPayload: true},
	store.OperationTypeProfile: payloadTable{name: "profile_operations", withPayload: true},
	store.OperationTypePolicy:  payloadTable{name: "policy_operations", withPayload: true},
	store.OperationTypeGeneric: payloadTable{name: "generic_operations", withPayload: true},
}

func payloadStoreFor(t store.OperationType) (payloadStore, error) {
	ps, ok := payloadStores[t]
	if !ok {
		return nil, fmt.Errorf("unknown operation type %q", t)
	}
	return ps, nil
}

func (p payloadTable) insert(ctx context.Context, exec store.DBTransaction, op *store.Operation) error {
	var err error
	if p.withPayload {
		_, err = exec.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (operation_id, enabled, payload) VALUES ($1, $2, $3)`, p.name),
			op.ID, op.Enabled, nullJSON(op.Payload))
	} else {
		_, err = exec.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (operation_id, enabled) VALUES ($1, $2)`, p.name),
			op.ID, op.Enabled)
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s payload for operation %d: %w", op.Type, op.ID, err)
	}
	return nil
}

func (p payloadTable) hydrate(ctx context.Context, exec store.DBTransaction, ops []*store.Operation) error {
	byID := make(map[int64][]*store.Operation, len(ops))
	ids := make([]int64, 0, len(ops))
	for _, op := range ops {
		if _, seen := byID[op.ID]; !seen {
			ids = append(ids, op.ID)
		}
		byID[op.ID] = append(byID[op.ID], op)
	}

	payloadColumn := "NULL::jsonb"
	if p.withPayload {
		payloadColumn = "payload"
	}

	rows, err := exec.QueryContext(ctx,
		fmt.Sprintf(`SELECT operation_id, enabled, %s FROM %s WHERE operation_id = ANY($1)`, payloadColumn, p.name),
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load %s payloads: %w", p.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			enabled bool
			payload []byte
		)
		if err := rows.Scan(&id, &enabled, &payload); err != nil {
			return fmt.Errorf("failed to scan %s payload: %w", p.name, err)
		}
		for _, op := range byID[id] {
			op.Enabled = enabled
			if payload != nil {
				op.Payload = json.RawMessage(payload)
			}
		}
	}
	return rows.Err()
}

// hydratePayloads fills Enabled and Payload of every operation from its kind table.
func hydratePayloads(ctx context.Context, exec store.DBTransaction, ops []*store.Operation) error {
	byType := make(map[store.OperationType][]*store.Operation)
	var order []store.OperationType
	for _, op := range ops {
		if _, ok := byType[op.Type]; !ok {
			order = append(order, op.Type)
		}
		byType[op.Type] = append(byType[op.Type], op)
	}

	for _, t := range order {
		ps, err := payloadStoreFor(t)
		if err != nil {
			return err
		}
		if err := ps.hydrate(ctx, exec, byType[t]); err != nil {
			return err
		}
	}
	return nil
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
