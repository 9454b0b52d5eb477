// Package cache memoizes node results behind data-aware key and TTL
// policies. Backend failures are logged and treated as misses.
package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/internal/logging"
)

// Clock supplies the time used for bucketing and expiry.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Cache struct {
	backend  Backend
	policies Policies
	clock    Clock
	codec    codec
	group    singleflight.Group
	logger   zerolog.Logger
	// bounds a shared compute once no caller is left waiting on it
	computeTimeout time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64

	mu    sync.Mutex
	nodes map[string]*NodeStats
}

// DefaultComputeTimeout bounds a shared compute when no other limit is set.
const DefaultComputeTimeout = 3 * time.Minute

// ErrComputePanic wraps a panic raised by a compute function.
var ErrComputePanic = errors.New("cache compute panicked")

type Option func(*Cache)

func WithClock(c Clock) Option {
	return func(cc *Cache) {
		if c != nil {
			cc.clock = c
		}
	}
}

func WithPolicies(p Policies) Option {
	return func(c *Cache) { c.policies = p }
}

func WithCompression(alg Compression, threshold int) Option {
	return func(c *Cache) {
		c.codec.compression = alg
		if threshold > 0 {
			c.codec.threshold = threshold
		}
	}
}

func WithComputeTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.computeTimeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{
		backend:  backend,
		policies: DefaultPolicies(config.DefaultConfigWithRoot(".").CacheTTL),
		clock:    realClock{},
		codec:    codec{compression: CompressionZstd, threshold: DefaultCompressThreshold},
		logger:   logging.Component("cache"),
		nodes:    make(map[string]*NodeStats),

		computeTimeout: DefaultComputeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open builds the cache described by cfg. It returns nil when caching is
// disabled; a nil *Cache computes every call.
func Open(ctx context.Context, cfg *config.Config) (*Cache, error) {
	if !cfg.CacheEnabled {
		return nil, nil
	}
	var (
		backend Backend
		err     error
	)
	switch cfg.CacheBackend {
	case config.CacheBackendRedis:
		backend, err = NewRedisBackend(ctx, cfg.RedisAddr, "cortexthesis:cache")
	case config.CacheBackendSQLite:
		backend, err = NewSQLiteBackend(filepath.Join(cfg.CacheDir(), "cache.db"))
	default:
		backend = NewMemoryBackend(cfg.CacheCapacity)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.CacheBackend, err)
	}
	alg, err := ParseCompression(cfg.CacheCompression)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return New(backend,
		WithPolicies(DefaultPolicies(cfg.CacheTTL)),
		WithCompression(alg, DefaultCompressThreshold),
		WithComputeTimeout(cfg.RequestTimeout.Std()),
	), nil
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.backend.Close()
}

// Now exposes the cache clock so callers can stamp values consistently.
func (c *Cache) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c.clock.Now()
}

// Do returns the cached value for node under its policy, or runs compute,
// stores the result and returns it. Concurrent callers for the same key
// share one compute. Errors from compute are returned and never cached.
// Nodes without a policy, and a nil cache, always compute.
func Do[T any](ctx context.Context, c *Cache, node string, st any, compute func(ctx context.Context) (T, error)) (T, bool, error) {
	if c == nil {
		v, err := compute(ctx)
		return v, false, err
	}
	policy, ok := c.policies.For(node)
	if !ok {
		v, err := compute(ctx)
		return v, false, err
	}
	now := c.clock.Now()
	key, ttl := policy.Resolve(st, now)

	var cached T
	if c.load(ctx, node, key, now, &cached) {
		c.record(node, true)
		return cached, true, nil
	}

	// The shared compute is detached from the caller that started it, so a
	// cancelled caller does not fail the others waiting on the same key.
	ch := c.group.DoChan(key.Hex(), func() (v any, err error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: %v\n%s", ErrComputePanic, p, debug.Stack())
			}
		}()
		out, err := compute(cctx)
		if err != nil {
			return out, err
		}
		c.store(cctx, node, key, out, ttl)
		return out, nil
	})
	c.record(node, false)
	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		return res.Val.(T), false, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (c *Cache) load(ctx context.Context, node string, key Key, now time.Time, dst any) bool {
	raw, ok, err := c.backend.Get(ctx, key.Bytes())
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn().Err(err).Str(logging.FieldNode, node).Str("key", key.Raw).Msg("cache get failed, treating as miss")
		return false
	}
	if !ok {
		return false
	}
	e, err := c.codec.decodeEntry(raw)
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn().Err(err).Str(logging.FieldNode, node).Msg("corrupt cache entry")
		return false
	}
	if e.expired(now) {
		return false
	}
	if err := c.codec.decodeValue(e, dst); err != nil {
		c.errors.Add(1)
		c.logger.Warn().Err(err).Str(logging.FieldNode, node).Msg("undecodable cache value")
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, node string, key Key, v any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := c.codec.encode(v, c.clock.Now(), ttl)
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn().Err(err).Str(logging.FieldNode, node).Msg("encode cache entry")
		return
	}
	if err := c.backend.Set(ctx, key.Bytes(), data, ttl); err != nil {
		c.errors.Add(1)
		c.logger.Warn().Err(err).Str(logging.FieldNode, node).Str("key", key.Raw).Msg("cache set failed")
		return
	}
	c.logger.Debug().Str(logging.FieldNode, node).Str("key", key.Raw).Dur("ttl", ttl).Msg("cached")
}

// Invalidate removes the entry node would use for st right now.
func (c *Cache) Invalidate(ctx context.Context, node string, st any) error {
	if c == nil {
		return nil
	}
	policy, ok := c.policies.For(node)
	if !ok {
		return nil
	}
	key, _ := policy.Resolve(st, c.clock.Now())
	return c.backend.Delete(ctx, key.Bytes())
}

type NodeStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

type Stats struct {
	Hits    int64                `json:"hits"`
	Misses  int64                `json:"misses"`
	Errors  int64                `json:"errors"`
	Entries int                  `json:"entries"`
	Nodes   map[string]NodeStats `json:"nodes"`
}

func (c *Cache) record(node string, hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.mu.Lock()
	ns, ok := c.nodes[node]
	if !ok {
		ns = &NodeStats{}
		c.nodes[node] = ns
	}
	if hit {
		ns.Hits++
	} else {
		ns.Misses++
	}
	c.mu.Unlock()
}

func (c *Cache) Stats(ctx context.Context) Stats {
	if c == nil {
		return Stats{Nodes: map[string]NodeStats{}}
	}
	s := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
		Nodes:  make(map[string]NodeStats),
	}
	if n, err := c.backend.Len(ctx); err == nil {
		s.Entries = n
	}
	c.mu.Lock()
	for k, v := range c.nodes {
		s.Nodes[k] = *v
	}
	c.mu.Unlock()
	return s
}
