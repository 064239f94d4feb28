package store

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strconv"
	"time"

	nats "github.com/nats-io/nats.go"

	kverrors "github.com/kvlock/kvlock/v1/errors"
)

// NATS implements Store on a JetStream key-value bucket. Revisions are the
// version tokens and the bucket's MaxAge provides the TTL: every successful
// create or update writes a fresh message, which restarts the age countdown
// for that key.
//
// MaxAge is a per-bucket setting, so a NATS store serves exactly one lease
// duration. Create and Replace reject items whose TTL differs from the
// bucket's.
type NATS struct {
	kv    nats.KeyValue
	ttl   time.Duration
	level Consistency
}

// NewNATS binds to the named bucket, creating it with the given TTL if it
// does not exist. Binding to an existing bucket whose MaxAge differs from ttl
// is an error.
func NewNATS(js nats.JetStreamContext, bucket string, ttl time.Duration) (*NATS, error) {
	kv, err := js.KeyValue(bucket)
	if stdErrors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket, TTL: ttl})
	}
	if err != nil {
		return nil, err
	}
	status, err := kv.Status()
	if err != nil {
		return nil, err
	}
	if status.TTL() != ttl {
		return nil, fmt.Errorf("kvlock: bucket %q has max age %s, want %s", bucket, status.TTL(), ttl)
	}
	return &NATS{kv: kv, ttl: ttl, level: ConsistencyStrong}, nil
}

func natsKey(shard, name string) string {
	return shard + "." + name
}

func (s *NATS) checkTTL(item Item) error {
	if item.TTL != s.ttl {
		return fmt.Errorf("kvlock: bucket enforces ttl %s, got %s", s.ttl, item.TTL)
	}
	return nil
}

func (s *NATS) mapErr(err error, key string) error {
	if stdErrors.Is(err, nats.ErrKeyExists) {
		return kverrors.ErrExists
	}
	if stdErrors.Is(err, nats.ErrKeyNotFound) {
		return kverrors.ErrNotFound
	}
	var apiErr *nats.APIError
	if stdErrors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence {
		// Distinguish a stale token from an expired item.
		if _, gerr := s.kv.Get(key); stdErrors.Is(gerr, nats.ErrKeyNotFound) {
			return kverrors.ErrNotFound
		}
		return kverrors.ErrVersionMismatch
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return kverrors.ErrTimeout
	}
	if stdErrors.Is(err, nats.ErrConnectionClosed) {
		return kverrors.ErrConnectionClosed
	}
	return err
}

// Create implements Store.Create.
func (s *NATS) Create(ctx context.Context, item Item) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.checkTTL(item); err != nil {
		return "", err
	}
	key := natsKey(item.Shard, item.Name)
	rev, err := s.kv.Create(key, []byte(item.Shard+"/"+item.Name))
	if err != nil {
		return "", s.mapErr(err, key)
	}
	return strconv.FormatUint(rev, 10), nil
}

// Replace implements Store.Replace.
func (s *NATS) Replace(ctx context.Context, item Item, version string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.checkTTL(item); err != nil {
		return "", err
	}
	last, err := strconv.ParseUint(version, 10, 64)
	if err != nil {
		return "", kverrors.ErrVersionMismatch
	}
	key := natsKey(item.Shard, item.Name)
	rev, err := s.kv.Update(key, []byte(item.Shard+"/"+item.Name), last)
	if err != nil {
		return "", s.mapErr(err, key)
	}
	return strconv.FormatUint(rev, 10), nil
}

// Delete implements Store.Delete.
func (s *NATS) Delete(ctx context.Context, shard, name, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	last, err := strconv.ParseUint(version, 10, 64)
	if err != nil {
		return kverrors.ErrVersionMismatch
	}
	key := natsKey(shard, name)
	if err := s.kv.Delete(key, nats.LastRevision(last)); err != nil {
		return s.mapErr(err, key)
	}
	return nil
}

// ConsistencyLevel implements Store.ConsistencyLevel. JetStream writes go
// through the stream leader, which is strong enough for the conditional
// writes used here.
func (s *NATS) ConsistencyLevel(ctx context.Context) (Consistency, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.level, nil
}
