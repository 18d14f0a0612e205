package store

import "context"

// PushQueue exposes mappings flagged for batch push as a work queue.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics.
type PushQueue interface {
	// ClaimScheduledDeliveries claims up to 'limit' flagged mappings that are
	// due for a retry atomically and clears their flag. Returns nil slice if nothing is flagged.
	ClaimScheduledDeliveries(ctx context.Context, limit int) ([]ScheduledDelivery, error)

	// CountScheduled counts mappings waiting for batch push.
	CountScheduled(ctx context.Context) (int64, error)
}
