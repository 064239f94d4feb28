package store

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	kverrors "github.com/kvlock/kvlock/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

// replaceScript swaps the stored version token for a new one and resets the
// key's TTL, only if the stored token matches the expected one.
var replaceScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
    return "NOTFOUND"
end
if cur ~= ARGV[1] then
    return "MISMATCH"
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return "OK"
`)

// deleteScript removes the key only if the stored token matches.
var deleteScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
    return "NOTFOUND"
end
if cur ~= ARGV[1] then
    return "MISMATCH"
end
redis.call("DEL", KEYS[1])
return "OK"
`)

// Redis implements Store using a Redis backend. The version token is the
// value stored under the item's key; key expiration provides the TTL
// semantics.
type Redis struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	level   Consistency
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix for lock items.
func WithPrefix(prefix string) RedisOption {
	return func(s *Redis) {
		s.prefix = prefix
	}
}

// WithTimeout sets the per-operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *Redis) {
		s.timeout = d
	}
}

// WithReplicaReads marks the store as serving reads from replicas. Replica
// reads are eventually consistent, so the store reports ConsistencyEventual
// and the lock client will refuse to use it.
func WithReplicaReads() RedisOption {
	return func(s *Redis) {
		s.level = ConsistencyEventual
	}
}

// NewRedis returns a new Redis store using the provided client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	s := &Redis{
		client:  client,
		prefix:  "kvlock:",
		timeout: defaultRedisOpTimeout,
		level:   ConsistencyStrong,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Redis) key(shard, name string) string {
	return s.prefix + shard + "/" + name
}

func (s *Redis) mapErr(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return kverrors.ErrTimeout
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return kverrors.ErrConnectionClosed
	}
	return err
}

// Create implements Store.Create.
func (s *Redis) Create(ctx context.Context, item Item) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	version := uuid.NewString()
	ok, err := s.client.SetNX(cctx, s.key(item.Shard, item.Name), version, item.TTL).Result()
	if err != nil {
		return "", s.mapErr(err)
	}
	if !ok {
		return "", kverrors.ErrExists
	}
	return version, nil
}

// Replace implements Store.Replace.
func (s *Redis) Replace(ctx context.Context, item Item, version string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	next := uuid.NewString()
	res, err := replaceScript.Run(cctx, s.client,
		[]string{s.key(item.Shard, item.Name)},
		version, next, item.TTL.Milliseconds()).Text()
	if err != nil {
		return "", s.mapErr(err)
	}
	switch res {
	case "OK":
		return next, nil
	case "NOTFOUND":
		return "", kverrors.ErrNotFound
	default:
		return "", kverrors.ErrVersionMismatch
	}
}

// Delete implements Store.Delete.
func (s *Redis) Delete(ctx context.Context, shard, name, version string) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := deleteScript.Run(cctx, s.client, []string{s.key(shard, name)}, version).Text()
	if err != nil {
		return s.mapErr(err)
	}
	switch res {
	case "OK":
		return nil
	case "NOTFOUND":
		return kverrors.ErrNotFound
	default:
		return kverrors.ErrVersionMismatch
	}
}

// ConsistencyLevel implements Store.ConsistencyLevel. The level is fixed at
// construction: a single Redis master is strongly consistent for the
// conditional writes used here, replica reads are not.
func (s *Redis) ConsistencyLevel(ctx context.Context) (Consistency, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.level, nil
}
