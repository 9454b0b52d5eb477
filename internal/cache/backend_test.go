package cache

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dyike/CortexThesis/consts"
)

func newTestRedis(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mini.Close() })

	backend := NewRedisBackendFromClient(redis.NewClient(&redis.Options{Addr: mini.Addr()}), "test")
	t.Cleanup(func() { backend.Close() })
	return backend, mini
}

func TestRedisBackendRoundTrip(t *testing.T) {
	backend, mini := newTestRedis(t)
	c := New(backend, WithClock(newFakeClock(time.Now())))
	ctx := context.Background()
	var calls atomic.Int32

	Do(ctx, c, consts.BranchHeadline.String(), testState("META"), counter(&calls, "headlines"))
	v, hit, err := Do(ctx, c, consts.BranchHeadline.String(), testState("META"), counter(&calls, "again"))
	if err != nil || !hit || v.Text != "headlines" {
		t.Fatalf("expected redis hit: v=%+v hit=%v err=%v", v, hit, err)
	}
	if n, _ := backend.Len(ctx); n != 1 {
		t.Fatalf("expected 1 key in redis, got %d", n)
	}

	key, _ := c.policies[consts.BranchHeadline.String()].Resolve(testState("META"), time.Now())
	if ttl := mini.TTL("test:" + key.Hex()); ttl != 15*time.Minute {
		t.Fatalf("expected native ttl of 15m, got %v", ttl)
	}

	mini.FastForward(16 * time.Minute)
	if _, ok, _ := backend.Get(ctx, key.Bytes()); ok {
		t.Fatalf("redis should have evicted the entry")
	}
}

func TestRedisOutageIsAMiss(t *testing.T) {
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	backend := NewRedisBackendFromClient(redis.NewClient(&redis.Options{Addr: mini.Addr(), MaxRetries: -1}), "test")
	defer backend.Close()
	c := New(backend)
	mini.Close()

	var calls atomic.Int32
	v, hit, err := Do(context.Background(), c, consts.BranchPeer.String(), testState("NFLX"), counter(&calls, "peers"))
	if err != nil || hit || v.Text != "peers" {
		t.Fatalf("redis outage must degrade to compute: v=%+v hit=%v err=%v", v, hit, err)
	}
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	first, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	var calls atomic.Int32
	Do(ctx, New(first), consts.BranchFilings.String(), testState("GOOG"), counter(&calls, "filings"))
	first.Close()

	second, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	v, hit, err := Do(ctx, New(second), consts.BranchFilings.String(), testState("GOOG"), counter(&calls, "recomputed"))
	if err != nil || !hit || v.Text != "filings" {
		t.Fatalf("expected persisted hit: v=%+v hit=%v err=%v", v, hit, err)
	}

	second.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	if n, err := second.Purge(ctx); err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
}
