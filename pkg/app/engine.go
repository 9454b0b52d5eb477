package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/internal/cache"
	"github.com/dyike/CortexThesis/internal/debug"
	"github.com/dyike/CortexThesis/internal/graph"
	"github.com/dyike/CortexThesis/models"
)

// Analyzer runs one analysis. *graph.ThesisGraph implements it.
type Analyzer interface {
	Propagate(ctx context.Context, id models.Identity, opts ...graph.PropagateOption) (*models.State, error)
}

// Engine is one build of the analysis machinery for a fixed configuration.
type Engine struct {
	Config   config.Config
	BuiltAt  time.Time
	Version  uint64
	Analyzer Analyzer
	Cache    *cache.Cache

	closeFn func() error
	closed  atomic.Bool
}

var engineSeq atomic.Uint64

// NewEngine wraps an already built analyzer. closeFn may be nil.
func NewEngine(cfg config.Config, a Analyzer, c *cache.Cache, closeFn func() error) *Engine {
	return &Engine{
		Config:   cfg,
		BuiltAt:  time.Now(),
		Version:  engineSeq.Add(1),
		Analyzer: a,
		Cache:    c,
		closeFn:  closeFn,
	}
}

// BuildEngine opens the cache and compiles the thesis graph for cfg.
func BuildEngine(ctx context.Context, cfg config.Config) (*Engine, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if err := debug.NewEinoDebugger(&cfg).Initialize(ctx); err != nil {
		return nil, err
	}
	c, err := cache.Open(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	deps, err := graph.NewDependencies(ctx, &cfg, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	g, err := graph.NewThesisGraph(ctx, &cfg, deps)
	if err != nil {
		_ = deps.Close()
		_ = c.Close()
		return nil, err
	}
	return NewEngine(cfg, g, c, func() error {
		return errors.Join(deps.Close(), c.Close())
	}), nil
}

// Close releases the engine's stores. Later calls are no-ops.
func (e *Engine) Close() error {
	if e == nil || e.closeFn == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.closeFn()
}
