// Package genstore keeps one generation counter per view storage key.
//
// A read-through snapshots the generation before calling the remote store and
// writes its result only if the generation is unchanged. Applying a mutation
// result bumps it first, so an older read cannot overwrite a newer result.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore for a single gateway, RedisGenStore when replicas share views.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
