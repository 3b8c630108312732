package wbrb

import "context"

// StorageAdapter is the external collaborator a Cache delegates all
// authoritative-storage interaction to. Implementations must be
// thread-safe: the cache may invoke these methods concurrently for
// distinct keys, but guarantees it will never invoke them concurrently
// for the same key, and never while holding the corresponding entry's
// lock.
type StorageAdapter[K comparable, V, U, R, W any] interface {
	// Read fetches the authoritative initial value for a key not yet
	// present in the cache.
	Read(ctx context.Context, key K) (R, error)

	// Write persists a write payload previously produced by SplitForWrite.
	Write(ctx context.Context, data W) error

	// Resync re-fetches the authoritative value for a key already present
	// in the cache, to reconcile third-party changes.
	Resync(ctx context.Context, key K) (R, error)

	// ConvertToCacheValue initializes V from a storage read result.
	ConvertToCacheValue(result R) V

	// ApplyUpdate folds a single pending update into V.
	ApplyUpdate(value V, update U) V

	// SplitForWrite produces the next write payload from the current value
	// and pending updates, along with the updates that should remain
	// pending (e.g. because CanMergeWrites is false, or the adapter only
	// wants to flush a prefix).
	SplitForWrite(key K, value V, pending []U) (data W, remaining []U)

	// MergeAfterResync reconciles the in-memory value with a fresh storage
	// read, folding in updates accumulated since the resync started.
	MergeAfterResync(memory V, storage R, updatesSinceResyncStart []U) V
}
