package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	kverrors "github.com/kvlock/kvlock/v1/errors"
	"github.com/kvlock/kvlock/v1/metrics"
	"github.com/kvlock/kvlock/v1/store"
)

// Lock is a handle to one lease session. It is created by Client.Acquire and
// stays bound to the same shard, name and lease duration for its lifetime.
// The handle owns all mutable lease state; the background renewer only
// borrows it.
type Lock struct {
	client *Client
	shard  string
	name   string
	lease  time.Duration

	mu         sync.Mutex
	version    string
	acquiredAt time.Time
	released   bool
	renewer    *renewer
}

// Shard returns the routing key of the lock item.
func (l *Lock) Shard() string { return l.shard }

// Name returns the lock's name within its shard.
func (l *Lock) Name() string { return l.name }

// Lease returns the lease duration requested at acquisition.
func (l *Lock) Lease() time.Duration { return l.lease }

// Version returns the version token from the last successful write. Useful
// for debugging and telemetry; it is stale once the lease expires.
func (l *Lock) Version() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// IsAcquired reports whether the lease is still held according to local TTL
// math: not released and less than the lease duration since the last
// successful create or renew. This is a wall-clock estimate, not a guarantee.
// Once false it stays false, with one documented exception: a successful
// Renew on a handle whose local estimate already lapsed (the store item was
// still alive, so ownership never actually changed) advances the acquire
// time and makes it true again. See Renew.
func (l *Lock) IsAcquired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.released && time.Since(l.acquiredAt) < l.lease
}

// Renew extends the lease by replacing the lock item guarded by the current
// version token. On success the token and the local acquire time advance;
// there is no IsAcquired precheck, so a renew that wins against a store item
// outliving the local TTL estimate turns IsAcquired true again. A
// lease that is gone or owned by someone else fails with ErrLockReleased,
// which is terminal for this handle; any other failure is transient from the
// caller's point of view and leaves the handle unchanged.
func (l *Lock) Renew(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Lock.Renew", trace.WithAttributes(
		attribute.String("kvlock.shard", l.shard),
		attribute.String("kvlock.name", l.name)))
	defer span.End()

	l.mu.Lock()
	version := l.version
	released := l.released
	l.mu.Unlock()
	if released {
		return fmt.Errorf("%w: handle was released locally", ErrLockReleased)
	}

	item := store.Item{Shard: l.shard, Name: l.name, TTL: l.lease}
	next, err := l.client.store.Replace(ctx, item, version)
	if err != nil {
		if errors.Is(err, kverrors.ErrNotFound) || errors.Is(err, kverrors.ErrVersionMismatch) {
			metrics.RenewFailures.Inc()
			return fmt.Errorf("%w: %w", ErrLockReleased, err)
		}
		metrics.RenewFailures.Inc()
		return err
	}

	l.mu.Lock()
	l.version = next
	l.acquiredAt = time.Now()
	l.mu.Unlock()
	metrics.Renewals.Inc()
	return nil
}

// Release gives the lock up. Any background renewer is stopped synchronously
// before the delete is issued, so no renewal can race it. The delete is
// guarded by the current version token; a lease that already expired or was
// taken over is treated as released, making Release idempotent. Other store
// failures propagate and leave the handle unreleased so the call may be
// retried.
func (l *Lock) Release(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Lock.Release", trace.WithAttributes(
		attribute.String("kvlock.shard", l.shard),
		attribute.String("kvlock.name", l.name)))
	defer span.End()

	l.mu.Lock()
	r := l.renewer
	l.renewer = nil
	l.mu.Unlock()
	if r != nil {
		r.stop()
	}

	l.mu.Lock()
	version := l.version
	released := l.released
	l.mu.Unlock()
	if released {
		return nil
	}

	err := l.client.store.Delete(ctx, l.shard, l.name, version)
	if err != nil && !errors.Is(err, kverrors.ErrNotFound) && !errors.Is(err, kverrors.ErrVersionMismatch) {
		return err
	}

	l.mu.Lock()
	l.released = true
	l.mu.Unlock()
	metrics.Releases.Inc()
	return nil
}

// detach clears the handle's renewer reference if it still points at r.
func (l *Lock) detach(r *renewer) {
	l.mu.Lock()
	if l.renewer == r {
		l.renewer = nil
	}
	l.mu.Unlock()
}
