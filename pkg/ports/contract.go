package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunKVStoreContract runs a suite of tests to verify that a KVStore implementation
// adheres to the defined interface contract.
func RunKVStoreContract(t *testing.T, store KVStore) {
	ctx := context.Background()
	key := "contract-test-" + time.Now().Format("20060102150405")

	t.Run("Set and Get", func(t *testing.T) {
		err := store.Set(ctx, key, []byte(`{"foo":"bar"}`))
		require.NoError(t, err, "Set should not return error")

		got, err := store.Get(ctx, key)
		require.NoError(t, err, "Get should not return error")
		assert.JSONEq(t, `{"foo":"bar"}`, string(got))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, key, []byte(`[1]`)))
		require.NoError(t, store.Set(ctx, key, []byte(`[1,2]`)))

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.JSONEq(t, `[1,2]`, string(got))
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, key, []byte(`"x"`)))

		err := store.Delete(ctx, key)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Get(ctx, key)
		assert.ErrorIs(t, err, domain.ErrKeyNotFound, "Get after Delete should return ErrKeyNotFound")

		assert.NoError(t, store.Delete(ctx, key), "Deleting a missing key is not an error")
	})

	t.Run("List", func(t *testing.T) {
		k1 := key + "-1"
		k2 := key + ":2"
		require.NoError(t, store.Set(ctx, k1, []byte(`1`)))
		require.NoError(t, store.Set(ctx, k2, []byte(`2`)))
		defer func() {
			_ = store.Delete(ctx, k1)
			_ = store.Delete(ctx, k2)
		}()

		keys, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, keys, k1)
		assert.Contains(t, keys, k2)
	})
}
