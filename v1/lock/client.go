package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	kverrors "github.com/kvlock/kvlock/v1/errors"
	"github.com/kvlock/kvlock/v1/metrics"
	"github.com/kvlock/kvlock/v1/store"
)

var tracer = otel.Tracer("github.com/kvlock/kvlock/v1/lock")

var (
	// ErrConsistency is returned by New when the backend's effective
	// consistency level is too weak for mutual exclusion.
	ErrConsistency = errors.New("kvlock: store consistency too weak for locking")

	// ErrLockUnavailable is returned by Acquire when the lock stayed held by
	// someone else for the whole timeout. It wraps the last underlying
	// conflict.
	ErrLockUnavailable = errors.New("kvlock: lock unavailable")

	// ErrLockReleased is returned by Renew when the lease has expired or been
	// reacquired by another holder. It is terminal for the handle.
	ErrLockReleased = errors.New("kvlock: lock released or superseded")
)

// Client acquires locks against a single store backend.
type Client struct {
	store store.Store
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	override    store.Consistency
	hasOverride bool
}

// WithConsistency overrides the consistency level the client assumes instead
// of the backend's account default. The override is still subject to the
// strong-consistency check in New.
func WithConsistency(level store.Consistency) ClientOption {
	return func(o *clientOptions) {
		o.override = level
		o.hasOverride = true
	}
}

// New validates the backend's consistency level and returns a client bound to
// it. Mutual exclusion is only sound when every participant reads its own
// conditional writes, so any effective level below store.ConsistencyStrong is
// rejected with ErrConsistency. The check runs once, here; a rejected backend
// yields no usable client.
func New(ctx context.Context, s store.Store, opts ...ClientOption) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	account, err := s.ConsistencyLevel(ctx)
	if err != nil {
		if errors.Is(err, kverrors.ErrConsistencyUnsupported) {
			return nil, fmt.Errorf("%w: %w", ErrConsistency, err)
		}
		return nil, err
	}
	effective := account
	if o.hasOverride {
		if o.override > account {
			return nil, fmt.Errorf("%w: requested %s exceeds backend level %s", ErrConsistency, o.override, account)
		}
		effective = o.override
	}
	if effective != store.ConsistencyStrong {
		return nil, fmt.Errorf("%w: effective level is %s", ErrConsistency, effective)
	}
	return &Client{store: s}, nil
}

// Acquire attempts to take the lock described by opts. While the lock is held
// by someone else it retries every opts.RetryWait until opts.Timeout has
// elapsed since the call began; a zero timeout means a single attempt. Store
// failures other than the held-by-someone-else conflict abort the call
// immediately.
func (c *Client) Acquire(ctx context.Context, opts Options) (*Lock, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Lock.Acquire", trace.WithAttributes(
		attribute.String("kvlock.shard", opts.Shard),
		attribute.String("kvlock.name", opts.Name)))
	defer span.End()

	item := store.Item{Shard: opts.Shard, Name: opts.Name, TTL: opts.Lease}
	start := time.Now()
	for attempt := 1; ; attempt++ {
		metrics.AcquireAttempts.Inc()
		version, err := c.store.Create(ctx, item)
		if err == nil {
			span.SetAttributes(attribute.Int("kvlock.attempts", attempt))
			metrics.Acquires.Inc()
			l := &Lock{
				client:     c,
				shard:      opts.Shard,
				name:       opts.Name,
				lease:      opts.Lease,
				version:    version,
				acquiredAt: time.Now(),
			}
			if opts.AutoRenew {
				// Attach under the mutex: the renewer goroutine reads the
				// field through detach as soon as it starts.
				l.mu.Lock()
				l.renewer = startRenewer(l)
				l.mu.Unlock()
			}
			return l, nil
		}
		if !errors.Is(err, kverrors.ErrExists) {
			return nil, err
		}
		metrics.AcquireConflicts.Inc()
		if time.Since(start) >= opts.Timeout {
			span.SetAttributes(attribute.Int("kvlock.attempts", attempt))
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrLockUnavailable, attempt, err)
		}
		wait := time.NewTimer(opts.RetryWait)
		select {
		case <-wait.C:
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		}
	}
}
