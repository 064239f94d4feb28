package store

import (
	"context"
	"time"
)

// Consistency is the read/write consistency level a backend operates at.
// Mutual exclusion is only sound on ConsistencyStrong backends.
type Consistency int

const (
	ConsistencyEventual Consistency = iota
	ConsistencySession
	ConsistencyStrong
)

// String returns the lowercase name of the level.
func (c Consistency) String() string {
	switch c {
	case ConsistencyEventual:
		return "eventual"
	case ConsistencySession:
		return "session"
	case ConsistencyStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// Item is a lock record addressed by (Shard, Name). TTL is the duration the
// backend keeps the item alive after its last successful create or replace.
type Item struct {
	Shard string
	Name  string
	TTL   time.Duration
}

// Store abstracts the strongly-consistent keyed backend the lock protocol
// delegates durability to.
//
// Implementations translate backend failures into the sentinels of
// v1/errors; unmapped errors propagate to the caller unchanged.
type Store interface {
	// Create conditionally creates the item and returns its version token.
	// It fails with errors.ErrExists if an unexpired item with the same
	// shard and name already exists.
	Create(ctx context.Context, item Item) (version string, err error)

	// Replace overwrites the item guarded by the expected version token and
	// returns the new token. A successful replace resets the item's TTL
	// countdown. It fails with errors.ErrNotFound if the item is gone and
	// errors.ErrVersionMismatch if the stored token differs.
	Replace(ctx context.Context, item Item, version string) (newVersion string, err error)

	// Delete removes the item guarded by the expected version token, with
	// the same failure modes as Replace.
	Delete(ctx context.Context, shard, name, version string) error

	// ConsistencyLevel reports the effective consistency level of the
	// backend. It fails with errors.ErrConsistencyUnsupported when the
	// client-side configuration asks for more than the backend provides.
	ConsistencyLevel(ctx context.Context) (Consistency, error)
}
