// Package cache provides short-lived caches that are passed explicitly to
// the components using them. Entries expire after a TTL and the whole cache
// is dropped on refresh; there is no per-key invalidation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrClosed is returned by a cache that can no longer serve requests
var ErrClosed = errors.New("cache closed")

// Cache stores JSON-serialisable values under string keys
type Cache interface {
	// Get loads key into dest and reports whether it was present
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	// SetWithTTL stores value with a TTL shorter than the cache default
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// InvalidateAll drops every entry
	InvalidateAll(ctx context.Context) error
}

// Key joins parts into a cache key
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// HashKey derives a key from a secret, such as a bearer token, without
// storing the secret itself
func HashKey(prefix, secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return prefix + ":" + hex.EncodeToString(sum[:])
}
