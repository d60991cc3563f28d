// Package store defines the key-value contract the chat core runs on and the
// non-overlay implementations of it.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key was never set or no reachable
// node currently holds it.
var ErrNotFound = errors.New("store: not found")

// Store is an eventually-consistent key-value store. Set is best-effort and
// reports only local failures; Get may miss values that were set elsewhere
// but have not replicated yet.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
