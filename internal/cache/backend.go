// Package cache owns every key the relay keeps in the shared cache.
//
// Callers never build keys themselves: they use the typed operations on
// Cache, which sit on top of a small Backend of primitives. Redis is the
// production backend; Memory serves single-process runs and tests.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist.
var ErrMiss = errors.New("cache: miss")

// Backend is the set of primitives the relay needs from a shared cache.
type Backend interface {
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Incr increments a counter; ttl is applied when the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Append pushes value to the tail of a list and refreshes its ttl.
	Append(ctx context.Context, key, value string, ttl time.Duration) error
	// PopAll returns the whole list and deletes it in one step.
	PopAll(ctx context.Context, key string) ([]string, error)
	// Scan lists keys matching a glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
	// WindowAdd evicts members older than now-window from a sliding window
	// and admits member when fewer than limit remain. When not admitted it
	// returns the timestamp of the oldest member still in the window.
	WindowAdd(ctx context.Context, key, member string, now time.Time, window time.Duration, limit int) (admitted bool, oldest time.Time, err error)
	// Reserve claims the next send slot on key, max(now, last+gap), stores
	// it as the new last and returns it. The key expires ttl after the slot.
	Reserve(ctx context.Context, key string, now time.Time, gap, ttl time.Duration) (time.Time, error)
	Ping(ctx context.Context) error
	Close() error
}
