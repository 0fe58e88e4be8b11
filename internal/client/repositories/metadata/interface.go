// Package metadata is the local key-value table backing everything the
// client keeps across restarts (session snapshot, provider credentials).
package metadata

import (
	"context"
)

// Repository stores opaque values under string keys.
//
// Get returns common.ErrorNotFound when the key is absent. Delete and Clear
// are idempotent.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
