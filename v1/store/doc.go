// Package store defines the keyed-item storage contract the lock protocol is
// built on, together with in-memory, Redis and NATS JetStream implementations.
// A backend must provide conditional create/replace/delete over items
// addressed by (shard, name) and enforce per-item TTL expiration on its own
// clock; every successful write returns an opaque version token that guards
// the next write to the same item.
package store
