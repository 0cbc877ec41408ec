// Package kvstore provides the key-value backing store for session
// records. Every record carries a version stamp so that callers can
// implement read-modify-write as an optimistic compare-and-swap, which
// stays correct when several processes share one store. Writes take a
// TTL; expired records are indistinguishable from missing ones.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrVersionConflict is returned by CompareAndSwap when the stored
// version does not match the expected one.
var ErrVersionConflict = errors.New("kvstore: version conflict")

// Entry is a stored value and its version. Versions start at 1 and
// increase by one on every write.
type Entry struct {
	Value   string
	Version int64
}

// Store is the capability the history layer consumes. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the live entry for key. found is false when the key is
	// missing or expired; err is reserved for backend failures.
	Get(ctx context.Context, key string) (entry Entry, found bool, err error)

	// Set unconditionally overwrites key and returns the new version.
	// A ttl of zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) (int64, error)

	// CompareAndSwap writes value only if the current version equals
	// version. Version 0 means the key must not exist (or be expired).
	// Returns ErrVersionConflict on mismatch.
	CompareAndSwap(ctx context.Context, key, value string, version int64, ttl time.Duration) (int64, error)

	// Close releases backend resources.
	Close() error
}
