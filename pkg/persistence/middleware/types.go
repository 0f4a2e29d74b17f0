// Package middleware wraps a ports.KVStore with cross-cutting behavior.
package middleware

import "github.com/aretw0/relay/pkg/ports"

// Middleware allows wrapping a KVStore to add behavior.
type Middleware func(ports.KVStore) ports.KVStore

// Chain applies mws to store so that the first middleware is the outermost.
func Chain(store ports.KVStore, mws ...Middleware) ports.KVStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
