package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	kverrors "github.com/kvlock/kvlock/v1/errors"
	"github.com/kvlock/kvlock/v1/store"
)

// countingStore wraps a Store and counts calls per operation.
type countingStore struct {
	store.Store

	mu       sync.Mutex
	creates  int
	replaces int
	deletes  int
}

func (s *countingStore) Create(ctx context.Context, item store.Item) (string, error) {
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	return s.Store.Create(ctx, item)
}

func (s *countingStore) Replace(ctx context.Context, item store.Item, version string) (string, error) {
	s.mu.Lock()
	s.replaces++
	s.mu.Unlock()
	return s.Store.Replace(ctx, item, version)
}

func (s *countingStore) Delete(ctx context.Context, shard, name, version string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.Store.Delete(ctx, shard, name, version)
}

func (s *countingStore) counts() (creates, replaces, deletes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.replaces, s.deletes
}

func newClient(t *testing.T, s store.Store) *Client {
	t.Helper()
	c, err := New(context.Background(), s)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestAcquireValidation(t *testing.T) {
	c := newClient(t, store.NewInMemory())
	ctx := context.Background()

	cases := []struct {
		name  string
		opts  Options
		field string
	}{
		{"empty shard", Options{Name: "job"}, "Shard"},
		{"empty name", Options{Shard: "a"}, "Name"},
		{"negative lease", Options{Shard: "a", Name: "job", Lease: -time.Second}, "Lease"},
		{"negative timeout", Options{Shard: "a", Name: "job", Timeout: -time.Second}, "Timeout"},
		{"negative retry wait", Options{Shard: "a", Name: "job", RetryWait: -time.Second}, "RetryWait"},
	}
	for _, tc := range cases {
		_, err := c.Acquire(ctx, tc.opts)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", tc.name, err)
		}
		if !strings.Contains(err.Error(), tc.field) {
			t.Fatalf("%s: error %q does not name field %s", tc.name, err, tc.field)
		}
	}
}

func TestAcquireSingleAttempt(t *testing.T) {
	cs := &countingStore{Store: store.NewInMemory()}
	c := newClient(t, cs)
	ctx := context.Background()
	opts := Options{Shard: "tenant-a", Name: "job", Lease: 30 * time.Second}

	if _, err := c.Acquire(ctx, opts); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	cs.mu.Lock()
	cs.creates = 0
	cs.mu.Unlock()

	_, err := c.Acquire(ctx, opts)
	if !errors.Is(err, ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable, got %v", err)
	}
	if !errors.Is(err, kverrors.ErrExists) {
		t.Fatalf("unavailable error does not wrap the conflict: %v", err)
	}
	if creates, _, _ := cs.counts(); creates != 1 {
		t.Fatalf("expected exactly 1 create attempt, got %d", creates)
	}
}

func TestAcquireRetryBudget(t *testing.T) {
	cs := &countingStore{Store: store.NewInMemory()}
	c := newClient(t, cs)
	ctx := context.Background()

	if _, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 30 * time.Second}); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// floor(Timeout/RetryWait)+1 attempts against a permanently held lock.
	cases := []struct {
		timeout  time.Duration
		attempts int
	}{
		{200 * time.Millisecond, 3},
		{100 * time.Millisecond, 2},
	}
	for _, tc := range cases {
		cs.mu.Lock()
		cs.creates = 0
		cs.mu.Unlock()

		_, err := c.Acquire(ctx, Options{
			Shard:     "tenant-a",
			Name:      "job",
			Lease:     30 * time.Second,
			Timeout:   tc.timeout,
			RetryWait: 100 * time.Millisecond,
		})
		if !errors.Is(err, ErrLockUnavailable) {
			t.Fatalf("expected ErrLockUnavailable, got %v", err)
		}
		if creates, _, _ := cs.counts(); creates != tc.attempts {
			t.Fatalf("timeout %s: expected %d attempts, got %d", tc.timeout, tc.attempts, creates)
		}
	}
}

func TestAcquireAfterExpiry(t *testing.T) {
	c := newClient(t, store.NewInMemory())
	ctx := context.Background()
	opts := Options{Shard: "tenant-a", Name: "job", Lease: 120 * time.Millisecond}

	if _, err := c.Acquire(ctx, opts); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(180 * time.Millisecond)

	if _, err := c.Acquire(ctx, opts); err != nil {
		t.Fatalf("acquire after previous holder expired: %v", err)
	}
}

func TestAcquireRetrySucceedsAfterHolderExpires(t *testing.T) {
	c := newClient(t, store.NewInMemory())
	ctx := context.Background()

	if _, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 150 * time.Millisecond}); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l, err := c.Acquire(ctx, Options{
		Shard:     "tenant-a",
		Name:      "job",
		Lease:     30 * time.Second,
		Timeout:   time.Second,
		RetryWait: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("acquire with retry budget: %v", err)
	}
	if !l.IsAcquired() {
		t.Fatal("expected lock held")
	}
}

func TestIsAcquiredLifecycle(t *testing.T) {
	c := newClient(t, store.NewInMemory())
	ctx := context.Background()

	l, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 120 * time.Millisecond})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !l.IsAcquired() {
		t.Fatal("expected lock held right after acquire")
	}
	time.Sleep(180 * time.Millisecond)
	if l.IsAcquired() {
		t.Fatal("expected lock lapsed after lease duration without renewal")
	}

	l2, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 30 * time.Second})
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if err := l2.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if l2.IsAcquired() {
		t.Fatal("expected lock not held after release")
	}
}

func TestRenewAdvancesLease(t *testing.T) {
	c := newClient(t, store.NewInMemory())
	ctx := context.Background()

	l, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 30 * time.Second})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.mu.Lock()
	before := l.acquiredAt
	version := l.version
	l.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	if err := l.Renew(ctx); err != nil {
		t.Fatalf("renew: %v", err)
	}

	l.mu.Lock()
	after := l.acquiredAt
	rotated := l.version != version
	l.mu.Unlock()
	if !after.After(before) {
		t.Fatal("renew did not advance the local acquire time")
	}
	if !rotated {
		t.Fatal("renew did not rotate the version token")
	}
}

func TestRenewAfterExpiry(t *testing.T) {
	c := newClient(t, store.NewInMemory())
	ctx := context.Background()

	l, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if err := l.Renew(ctx); !errors.Is(err, ErrLockReleased) {
		t.Fatalf("expected ErrLockReleased, got %v", err)
	}
}

func TestRenewAfterReacquire(t *testing.T) {
	c := newClient(t, store.NewInMemory())
	ctx := context.Background()

	l, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if _, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 30 * time.Second}); err != nil {
		t.Fatalf("reacquire by second holder: %v", err)
	}
	if err := l.Renew(ctx); !errors.Is(err, ErrLockReleased) {
		t.Fatalf("expected ErrLockReleased for superseded handle, got %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	c := newClient(t, store.NewInMemory())
	ctx := context.Background()

	l, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	// The underlying item is long gone; releasing is still not an error.
	if err := l.Release(ctx); err != nil {
		t.Fatalf("release of expired lock: %v", err)
	}
	if l.IsAcquired() {
		t.Fatal("expected lock not held after release")
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("repeated release: %v", err)
	}
}

// faultStore fails selected operations with an injected error.
type faultStore struct {
	store.Store

	mu        sync.Mutex
	deleteErr error
}

func (s *faultStore) failDeletes(err error) {
	s.mu.Lock()
	s.deleteErr = err
	s.mu.Unlock()
}

func (s *faultStore) Delete(ctx context.Context, shard, name, version string) error {
	s.mu.Lock()
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Delete(ctx, shard, name, version)
}

func TestReleaseStoreFailure(t *testing.T) {
	fs := &faultStore{Store: store.NewInMemory()}
	c := newClient(t, fs)
	ctx := context.Background()

	l, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 30 * time.Second})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	boom := errors.New("backend down")
	fs.failDeletes(boom)
	if err := l.Release(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected store failure to propagate, got %v", err)
	}
	if !l.IsAcquired() {
		t.Fatal("failed release must not mark the handle released")
	}

	fs.failDeletes(nil)
	if err := l.Release(ctx); err != nil {
		t.Fatalf("retried release: %v", err)
	}
	if l.IsAcquired() {
		t.Fatal("expected lock not held after successful release")
	}
}

func TestAcquireContention(t *testing.T) {
	c := newClient(t, store.NewInMemory())
	ctx := context.Background()

	var wins int64
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := c.Acquire(ctx, Options{Shard: "tenant-a", Name: "job", Lease: 30 * time.Second})
			if err == nil {
				atomic.AddInt64(&wins, 1)
				return nil
			}
			if errors.Is(err, ErrLockUnavailable) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("contending acquire: %v", err)
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

// levelStore reports a fixed consistency outcome.
type levelStore struct {
	store.Store
	level store.Consistency
	err   error
}

func (s *levelStore) ConsistencyLevel(ctx context.Context) (store.Consistency, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.level, nil
}

func TestConsistencyGuard(t *testing.T) {
	ctx := context.Background()
	mem := store.NewInMemory()

	if _, err := New(ctx, store.NewInMemory(store.WithConsistency(store.ConsistencyEventual))); !errors.Is(err, ErrConsistency) {
		t.Fatalf("expected ErrConsistency for eventual backend, got %v", err)
	}

	// Override weaker than the account default is still a violation.
	if _, err := New(ctx, mem, WithConsistency(store.ConsistencySession)); !errors.Is(err, ErrConsistency) {
		t.Fatalf("expected ErrConsistency for weak override, got %v", err)
	}

	// Override exceeding what the backend supports maps to the same failure.
	session := &levelStore{Store: mem, level: store.ConsistencySession}
	if _, err := New(ctx, session, WithConsistency(store.ConsistencyStrong)); !errors.Is(err, ErrConsistency) {
		t.Fatalf("expected ErrConsistency for excessive override, got %v", err)
	}

	// So does the backend rejecting the client-side configuration outright.
	unsupported := &levelStore{Store: mem, err: kverrors.ErrConsistencyUnsupported}
	if _, err := New(ctx, unsupported); !errors.Is(err, ErrConsistency) {
		t.Fatalf("expected ErrConsistency for unsupported signal, got %v", err)
	}

	// Any other probe failure propagates verbatim.
	boom := errors.New("probe failed")
	broken := &levelStore{Store: mem, err: boom}
	if _, err := New(ctx, broken); !errors.Is(err, boom) || errors.Is(err, ErrConsistency) {
		t.Fatalf("expected probe failure to propagate unmapped, got %v", err)
	}

	if _, err := New(ctx, mem, WithConsistency(store.ConsistencyStrong)); err != nil {
		t.Fatalf("strong backend with strong override: %v", err)
	}
}
