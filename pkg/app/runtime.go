// Package app keeps a live analysis engine in step with the configuration
// file for long-running embedders.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/internal/logging"
)

type EngineBuilder func(context.Context, config.Config) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

// WithRetireDelay sets how long a replaced engine stays open for requests
// already running on it. It defaults to the request timeout.
func WithRetireDelay(d time.Duration) Option {
	return func(r *Runtime) {
		r.retireDelay = &d
	}
}

const (
	TopicEngineReloaded     = "engine.reloaded"
	TopicEngineReloadFailed = "engine.reload_failed"
)

// Runtime rebuilds the engine whenever the configuration changes. A failed
// rebuild keeps the previous engine.
type Runtime struct {
	cfgMgr *config.Manager
	engine atomic.Pointer[Engine]

	builder     EngineBuilder
	notify      func(string, string)
	retireDelay *time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewRuntime(cfgMgr *config.Manager, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, errors.New("config manager is required")
	}

	rt := &Runtime{
		cfgMgr:  cfgMgr,
		builder: BuildEngine,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.ctx, rt.cancel = context.WithCancel(context.Background())

	if err := rt.reload(cfgMgr.Get()); err != nil {
		rt.cancel()
		return nil, err
	}

	if err := cfgMgr.Watch(rt.ctx, rt.onConfigChange); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

func (r *Runtime) Config() config.Config {
	return r.cfgMgr.Get()
}

// Close stops watching the configuration and closes the current engine.
func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if e := r.engine.Swap(nil); e != nil {
		_ = e.Close()
	}
}

func (r *Runtime) UpdateConfigJSON(jsonStr string) error {
	return r.cfgMgr.UpdateFromJSON(jsonStr)
}

// liveKeys are applied in place, so changing them alone does not need a new
// engine. The log format is fixed at startup.
var liveKeys = map[string]bool{"log_level": true}

func (r *Runtime) onConfigChange(cfg config.Config) {
	logging.SetLevel(cfg.LogLevel)
	logger := logging.Component("app")
	if cur := r.Engine(); cur != nil {
		changed := config.ChangedKeys(cur.Config, cfg)
		rebuild := false
		for _, k := range changed {
			if !liveKeys[k] {
				rebuild = true
				break
			}
		}
		if !rebuild {
			logger.Debug().Strs("keys", changed).Msg("config change needs no rebuild")
			return
		}
		logger.Info().Strs("keys", changed).Msg("rebuilding engine")
	}
	if err := r.reload(cfg); err != nil {
		logger.Error().Err(err).Msg("engine reload failed, keeping previous engine")
	}
}

func (r *Runtime) reload(cfg config.Config) error {
	engine, err := r.builder(r.ctx, cfg)
	if err != nil {
		r.notifyFailure(err)
		return err
	}
	if old := r.engine.Swap(engine); old != nil {
		r.retire(old)
	}
	r.notifySuccess(engine)
	return nil
}

func (r *Runtime) retire(old *Engine) {
	delay := old.Config.RequestTimeout.Std()
	if r.retireDelay != nil {
		delay = *r.retireDelay
	}
	if delay <= 0 {
		_ = old.Close()
		return
	}
	time.AfterFunc(delay, func() { _ = old.Close() })
}

func (r *Runtime) notifySuccess(engine *Engine) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":  engine.Version,
		"built_at": engine.BuiltAt.UTC().Format(time.RFC3339),
	})
	r.notify(TopicEngineReloaded, string(payload))
}

func (r *Runtime) notifyFailure(err error) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	r.notify(TopicEngineReloadFailed, string(payload))
}
