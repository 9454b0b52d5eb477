package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
)

// Manager owns one configuration file. It seeds the file on first use,
// persists validated updates and reloads edits made by other processes.
type Manager struct {
	path     string
	debounce time.Duration

	mu        sync.RWMutex
	cfg       Config
	listeners []func(Config)
	watching  bool
	// digest of the last body this manager wrote, so its own writes are not
	// reloaded
	written [32]byte
}

type managerOptions struct {
	configPath    string
	initialConfig *Config
	debounce      time.Duration
}

type ManagerOption func(*managerOptions)

func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir != "" {
			o.configPath = filepath.Join(dir, "config.json")
		}
	}
}

func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.configPath = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithInitialConfig is written when the file does not exist yet.
func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) {
		o.initialConfig = cfg
	}
}

func NewManager(opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{debounce: 300 * time.Millisecond}
	for _, opt := range opts {
		opt(&options)
	}
	if options.configPath == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		options.configPath = p
	}
	if err := os.MkdirAll(filepath.Dir(options.configPath), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	m := &Manager{path: options.configPath, debounce: options.debounce}
	data, err := os.ReadFile(m.path)
	switch {
	case err == nil:
		cfg, err := parseConfig(data)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", m.path, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		m.cfg = cfg
	case errors.Is(err, os.ErrNotExist):
		cfg := DefaultConfigWithRoot(filepath.Dir(m.path))
		if options.initialConfig != nil {
			cfg = options.initialConfig
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if err := m.persist(*cfg); err != nil {
			return nil, fmt.Errorf("write initial config: %w", err)
		}
		m.cfg = *cfg
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	return m, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string {
	return m.path
}

// UpdateFromJSON accepts JSON with comments and trailing commas. Missing keys
// keep their current values.
func (m *Manager) UpdateFromJSON(jsonStr string) error {
	cfg, err := overlay(m.Get(), []byte(jsonStr))
	if err != nil {
		return err
	}
	return m.Update(cfg)
}

// Update validates cfg, writes it to disk and notifies listeners. An update
// equal to the current configuration is a no-op.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if reflect.DeepEqual(m.Get(), cfg) {
		return nil
	}
	if err := m.persist(cfg); err != nil {
		return err
	}
	m.apply(cfg)
	return nil
}

// Watch registers onChange and, on the first call, starts watching the file
// until ctx is done. Listeners run on the watcher goroutine in registration
// order.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	m.mu.Lock()
	if onChange != nil {
		m.listeners = append(m.listeners, onChange)
	}
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	m.watching = true
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.stopWatching()
		return err
	}
	// The directory is watched because editors replace the file on save.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		m.stopWatching()
		return fmt.Errorf("watch config dir: %w", err)
	}
	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) stopWatching() {
	m.mu.Lock()
	m.watching = false
	m.mu.Unlock()
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer m.stopWatching()
	defer watcher.Close()

	timer := time.NewTimer(m.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	target := filepath.Clean(m.path)
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target || evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(m.debounce)
		case <-timer.C:
			m.reloadFromDisk()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("component", "config").Msg("watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reloadFromDisk() {
	logger := log.With().Str("component", "config").Str("path", m.path).Logger()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		// Deleted files are put back with the current values.
		if err := m.persist(m.Get()); err != nil {
			logger.Error().Err(err).Msg("recreate failed")
		}
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("reload failed")
		return
	}

	m.mu.RLock()
	own := m.written == blake3.Sum256(data)
	m.mu.RUnlock()
	if own {
		return
	}

	cfg, err := parseConfig(data)
	if err != nil {
		logger.Error().Err(err).Msg("reload failed")
		return
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("reloaded config rejected")
		return
	}
	current := m.Get()
	changed := ChangedKeys(current, cfg)
	if len(changed) == 0 {
		return
	}
	logger.Info().Strs("keys", changed).Msg("config changed on disk")
	m.apply(cfg)
}

func (m *Manager) apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	listeners := append([]func(Config){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

func (m *Manager) persist(cfg Config) error {
	data, err := encodeConfig(cfg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.written = blake3.Sum256(data)
	m.mu.Unlock()
	return writeFileAtomic(m.path, data)
}

// ChangedKeys lists the JSON keys whose values differ between a and b.
func ChangedKeys(a, b Config) []string {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	t := va.Type()
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			name = f.Name
		}
		keys = append(keys, name)
	}
	return keys
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "CortexThesis", "config.json"), nil
}

// parseConfig overlays data onto the defaults so a partial file only needs
// the keys it changes.
func parseConfig(data []byte) (Config, error) {
	return overlay(*DefaultConfigWithRoot("."), data)
}

func overlay(base Config, data []byte) (Config, error) {
	if err := json.Unmarshal(jsonc.ToJSON(data), &base); err != nil {
		return Config{}, fmt.Errorf("parse config json: %w", err)
	}
	return base, nil
}

func encodeConfig(cfg Config) ([]byte, error) {
	data, err := json.MarshalIndent(&cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return append(data, '\n'), nil
}

func writeConfigFile(path string, cfg Config) error {
	data, err := encodeConfig(cfg)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes through a temp file in the same directory so
// readers never see a partial config.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("flush config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
