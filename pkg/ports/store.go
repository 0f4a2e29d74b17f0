package ports

import "context"

// KVStore defines the durable key-value backend used by the RecoveryStore.
// Values are opaque JSON documents; every write replaces the whole value.
type KVStore interface {
	// Get returns the value stored at key.
	// Returns domain.ErrKeyNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value stored at key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys currently stored.
	List(ctx context.Context) ([]string, error)
}
