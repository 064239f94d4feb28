package store

import (
	"context"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"

	kverrors "github.com/kvlock/kvlock/v1/errors"
)

type memoryKey struct {
	shard string
	name  string
}

type memoryEntry struct {
	version string
	expires time.Time
}

// InMemory is a Store backed by local memory. Expired entries are treated as
// absent and reclaimed lazily on the next access to their key. It is intended
// for single-process use and for exercising the lock protocol in tests and
// examples.
type InMemory struct {
	mu    sync.Mutex
	items map[memoryKey]memoryEntry
	level Consistency
}

// InMemoryOption configures an InMemory store.
type InMemoryOption func(*InMemory)

// WithConsistency sets the consistency level the store reports. The default
// is ConsistencyStrong, which is accurate for a single-process map.
func WithConsistency(level Consistency) InMemoryOption {
	return func(s *InMemory) {
		s.level = level
	}
}

// NewInMemory returns a new in-memory store.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		items: make(map[memoryKey]memoryEntry),
		level: ConsistencyStrong,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create implements Store.Create.
func (s *InMemory) Create(ctx context.Context, item Item) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey{shard: item.Shard, name: item.Name}
	now := time.Now()
	if e, ok := s.items[k]; ok && now.Before(e.expires) {
		return "", kverrors.ErrExists
	}
	version, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	s.items[k] = memoryEntry{version: version, expires: now.Add(item.TTL)}
	return version, nil
}

// Replace implements Store.Replace.
func (s *InMemory) Replace(ctx context.Context, item Item, version string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey{shard: item.Shard, name: item.Name}
	now := time.Now()
	e, ok := s.items[k]
	if !ok || !now.Before(e.expires) {
		delete(s.items, k)
		return "", kverrors.ErrNotFound
	}
	if e.version != version {
		return "", kverrors.ErrVersionMismatch
	}
	next, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	s.items[k] = memoryEntry{version: next, expires: now.Add(item.TTL)}
	return next, nil
}

// Delete implements Store.Delete.
func (s *InMemory) Delete(ctx context.Context, shard, name, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memoryKey{shard: shard, name: name}
	e, ok := s.items[k]
	if !ok || !time.Now().Before(e.expires) {
		delete(s.items, k)
		return kverrors.ErrNotFound
	}
	if e.version != version {
		return kverrors.ErrVersionMismatch
	}
	delete(s.items, k)
	return nil
}

// ConsistencyLevel implements Store.ConsistencyLevel.
func (s *InMemory) ConsistencyLevel(ctx context.Context) (Consistency, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.level, nil
}
