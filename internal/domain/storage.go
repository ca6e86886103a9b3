package domain

import "context"

// Persistence keys, one per store.
const (
	KeyIdeas          = "ideas"
	KeyScores         = "scores"
	KeyScheduledTasks = "scheduled_tasks"
	KeyHeartbeat      = "HEARTBEAT"
)

// KVStore is an overwrite-by-key byte store. Get returns ErrNotFound for a missing key.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Saver persists a snapshot of a store without blocking or failing the caller.
type Saver interface {
	Save(ctx context.Context, key string, value any)
}
