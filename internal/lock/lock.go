package lock

import "context"

// PollerLock guards the one-reconciler-per-batch invariant across replicas.
type PollerLock interface {
	// Acquire returns false without error when another holder owns the batch.
	Acquire(ctx context.Context, batchID string) (bool, error)
	// Refresh extends the holder's lease mid-poll.
	Refresh(ctx context.Context, batchID string) error
	Release(ctx context.Context, batchID string) error
}
