// Package cli provides the cortexthesis command line: the HTTP server, one-off
// analyses and run history.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/pkg/app"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

type engineFactory func(ctx context.Context, cfg config.Config) (*app.Engine, error)

// cliApp carries state shared by every subcommand once the root pre-run has
// resolved the configuration.
type cliApp struct {
	configPath string
	debug      bool

	cfg *config.Config
	mgr *config.Manager

	out       io.Writer
	errOut    io.Writer
	newEngine engineFactory
}

func newApp() *cliApp {
	return &cliApp{out: os.Stdout, errOut: os.Stderr, newEngine: app.BuildEngine}
}

// loadConfig reads the JSON file when --config is given and the environment
// otherwise, then prepares directories and logging.
func (a *cliApp) loadConfig() error {
	path := a.configPath
	if path == "" {
		path = os.Getenv("CORTEX_CONFIG")
	}
	if path != "" {
		mgr, err := config.NewManager(config.WithConfigPath(path), config.WithInitialConfig(config.DefaultConfig()))
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		cfg := mgr.Get()
		a.cfg, a.mgr = &cfg, mgr
	} else {
		a.cfg = config.DefaultConfig()
		if err := a.cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if a.debug {
		a.cfg.Debug = true
		a.cfg.LogLevel = "debug"
	}
	if err := a.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	logging.Setup(logging.Options{Level: a.cfg.LogLevel, Format: a.cfg.LogFormat, Output: a.errOut})
	return nil
}

// Run executes the root command and exits non-zero on failure.
func Run() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
