package lock

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument is returned when acquire options fail validation. The
// wrapping error names the offending field.
var ErrInvalidArgument = errors.New("kvlock: invalid argument")

const (
	// DefaultLease is the lease duration used when Options.Lease is zero.
	DefaultLease = 60 * time.Second
	// DefaultRetryWait is the retry interval used when Options.RetryWait is zero.
	DefaultRetryWait = time.Second
)

// Options configures a single acquire call.
type Options struct {
	// Shard is the routing key under which the lock item is stored.
	Shard string
	// Name uniquely identifies the lock within its shard.
	Name string
	// Lease is the requested TTL of the lock item. Zero means DefaultLease.
	Lease time.Duration
	// Timeout bounds the whole acquire call. Zero means exactly one attempt,
	// no retries.
	Timeout time.Duration
	// RetryWait is the sleep between attempts while the lock is held by
	// someone else. Zero means DefaultRetryWait.
	RetryWait time.Duration
	// AutoRenew starts a background renewer on the acquired lock, renewing
	// roughly every Lease/3.
	AutoRenew bool
}

func (o Options) normalize() (Options, error) {
	if o.Shard == "" {
		return o, fmt.Errorf("%w: Shard must not be empty", ErrInvalidArgument)
	}
	if o.Name == "" {
		return o, fmt.Errorf("%w: Name must not be empty", ErrInvalidArgument)
	}
	if o.Lease < 0 {
		return o, fmt.Errorf("%w: Lease must not be negative", ErrInvalidArgument)
	}
	if o.Timeout < 0 {
		return o, fmt.Errorf("%w: Timeout must not be negative", ErrInvalidArgument)
	}
	if o.RetryWait < 0 {
		return o, fmt.Errorf("%w: RetryWait must not be negative", ErrInvalidArgument)
	}
	if o.Lease == 0 {
		o.Lease = DefaultLease
	}
	if o.RetryWait == 0 {
		o.RetryWait = DefaultRetryWait
	}
	return o, nil
}
