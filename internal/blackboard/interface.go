// Package blackboard publishes shared state to Redis as versioned entries
// that other processes can read and watch.
package blackboard

import (
	"context"
	"time"
)

// Update is broadcast to watchers whenever a key is written.
type Update struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Value   any    `json:"value"`
}

// Store defines operations for a shared, versioned knowledge base.
type Store interface {
	// Put stores value and bumps the key's version.
	Put(ctx context.Context, key string, value any, ttl time.Duration) (int64, error)
	// PutVersioned stores value under an explicit version, only if it is
	// newer than the stored one. It reports whether the write happened.
	PutVersioned(ctx context.Context, key string, version int64, value any) (bool, error)
	Get(ctx context.Context, key string) (any, int64, error)
	Watch(ctx context.Context, pattern string) (<-chan Update, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
