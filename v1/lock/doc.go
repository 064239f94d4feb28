// Package lock implements a distributed mutual-exclusion lock on top of a
// store.Store backend. A lock is a lease: the backend keeps the underlying
// item alive for a fixed TTL after the last successful write, and the client
// proves continued ownership by renewing the item with the version token from
// its previous write. Optional background renewal keeps a lease alive until
// it is released or lost.
//
// Ownership checks based on IsAcquired use the local wall clock, which may
// drift from the backend's enforcement clock. Treat IsAcquired as an
// optimization to avoid network calls, not a correctness guarantee.
package lock
