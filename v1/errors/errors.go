// Package errors defines the closed error taxonomy of the kvlock store
// boundary. Store adapters translate backend-specific failures into these
// sentinels before they reach the lock protocol, so the protocol only ever
// branches on semantic error kinds. Anything an adapter cannot map is
// propagated verbatim.
package errors

import "errors"

var (
	// ErrExists is returned by Store.Create when an unexpired item with the
	// same shard and name already exists.
	ErrExists = errors.New("kvlock: item already exists")

	// ErrNotFound is returned by Store.Replace and Store.Delete when no item
	// with the given shard and name exists, typically because its TTL elapsed.
	ErrNotFound = errors.New("kvlock: item not found")

	// ErrVersionMismatch is returned by Store.Replace and Store.Delete when
	// the stored version token differs from the expected one.
	ErrVersionMismatch = errors.New("kvlock: version mismatch")

	// ErrConsistencyUnsupported is returned by Store.ConsistencyLevel when the
	// client-side consistency configuration exceeds what the backend supports.
	ErrConsistencyUnsupported = errors.New("kvlock: requested consistency not supported by backend")

	// ErrTimeout is returned when a store round-trip exceeds its deadline.
	ErrTimeout = errors.New("kvlock: timeout")

	// ErrConnectionClosed is returned when the backend connection is closed.
	ErrConnectionClosed = errors.New("kvlock: connection closed")
)
