// Package storage defines the client-local key-value storage the dashboard
// persists its identity set and session snapshot in.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written or was deleted.
var ErrNotFound = errors.New("key not found")

// Storage is a durable key-value store.
// Values are opaque to the store; callers own their encoding.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
