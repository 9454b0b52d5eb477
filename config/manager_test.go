package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dyike/CortexThesis/consts"
)

func TestManagerCreatesAndUpdates(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	path := filepath.Join(dir, "config.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	cfg := mgr.Get()
	cfg.ProjectDir = filepath.Join(dir, "project")
	cfg.ResultsDir = filepath.Join(dir, "results")
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.MaxRevisions = 4

	data, _ := json.Marshal(cfg)
	if err := mgr.UpdateFromJSON(string(data)); err != nil {
		t.Fatalf("UpdateFromJSON: %v", err)
	}

	updated := mgr.Get()
	if updated.ProjectDir != cfg.ProjectDir {
		t.Fatalf("expected project dir %s, got %s", cfg.ProjectDir, updated.ProjectDir)
	}
	if updated.MaxRevisions != 4 {
		t.Fatalf("expected max revisions 4, got %d", updated.MaxRevisions)
	}
}

func TestManagerAcceptsCommentsAndPartialFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  // keep the loop short while iterating on prompts
  "max_revisions": 1,
  "revision_evidence": "full_evidence",
  "node_timeout": "20s",
  "cache_ttl": {"headline": "5m"},
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	mgr, err := NewManager(WithConfigPath(path))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := mgr.Get()
	if cfg.MaxRevisions != 1 || cfg.RevisionEvidence != consts.EvidenceFull {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.NodeTimeout.Std() != 20*time.Second {
		t.Fatalf("expected node timeout 20s, got %s", cfg.NodeTimeout.Std())
	}
	if cfg.CacheTTL.Headline.Std() != 5*time.Minute {
		t.Fatalf("expected headline ttl 5m, got %s", cfg.CacheTTL.Headline.Std())
	}
	if cfg.CacheTTL.Peer.Std() != 6*time.Hour {
		t.Fatalf("missing keys should keep defaults, peer ttl = %s", cfg.CacheTTL.Peer.Std())
	}
	if cfg.RequestTimeout.Std() != 180*time.Second {
		t.Fatalf("expected default request timeout, got %s", cfg.RequestTimeout.Std())
	}
}

func TestManagerRejectsInvalidUpdate(t *testing.T) {
	mgr, err := NewManager(WithConfigDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := mgr.Get()
	cfg.RevisionEvidence = "everything"
	if err := mgr.Update(cfg); err == nil {
		t.Fatalf("expected invalid revision_evidence to be rejected")
	}
	if got := mgr.Get().RevisionEvidence; got != consts.EvidenceSummaryOnly {
		t.Fatalf("rejected update leaked into manager: %q", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"negative revisions", func(c *Config) { c.MaxRevisions = -1 }, false},
		{"node timeout not shorter", func(c *Config) { c.NodeTimeout = c.RequestTimeout }, false},
		{"unknown backend", func(c *Config) { c.CacheBackend = "memcached" }, false},
		{"redis without addr", func(c *Config) { c.CacheBackend = CacheBackendRedis; c.RedisAddr = "" }, false},
		{"zero rate limit", func(c *Config) { c.RateLimitPerMinute = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfigWithRoot(t.TempDir())
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestManagerWatchReloads(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan struct{}, 1)
	if err := mgr.Watch(ctx, func(cfg Config) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	cfg := mgr.Get()
	cfg.ProjectDir = filepath.Join(dir, "changed")
	cfg.RateLimitPerMinute = 30

	if err := writeConfigFile(mgr.Path(), cfg); err != nil {
		t.Fatalf("writeConfigFile: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not fire on config change")
	}
	if got := mgr.Get().RateLimitPerMinute; got != 30 {
		t.Fatalf("expected reloaded rate limit 30, got %d", got)
	}
}

func TestChangedKeys(t *testing.T) {
	a := *DefaultConfigWithRoot(t.TempDir())
	b := a
	if keys := ChangedKeys(a, b); len(keys) != 0 {
		t.Fatalf("identical configs differ in %v", keys)
	}
	b.LogLevel = "debug"
	b.CacheTTL.Headline = Duration(time.Minute)
	keys := ChangedKeys(a, b)
	if len(keys) != 2 || keys[0] != "cache_ttl" || keys[1] != "log_level" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestManagerIgnoresItsOwnWrites(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []int
	record := func(cfg Config) {
		mu.Lock()
		seen = append(seen, cfg.RateLimitPerMinute)
		mu.Unlock()
	}
	if err := mgr.Watch(ctx, record); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := mgr.Watch(ctx, record); err != nil {
		t.Fatalf("second Watch: %v", err)
	}

	cfg := mgr.Get()
	cfg.RateLimitPerMinute = 7
	if err := mgr.Update(cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// one call per listener from Update, none from the watcher
	if len(seen) != 2 || seen[0] != 7 || seen[1] != 7 {
		t.Fatalf("listener calls = %v", seen)
	}
}
