// Package debug attaches the eino devops visual debugger to the process.
package debug

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino-ext/devops"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/internal/logging"
)

type EinoDebugger struct {
	enabled bool
	port    int
}

func NewEinoDebugger(cfg *config.Config) *EinoDebugger {
	return &EinoDebugger{enabled: cfg.EinoDebugEnabled, port: cfg.EinoDebugPort}
}

// Initialize starts the devops server. It must run before the graphs are
// compiled so they register with it. A disabled debugger is a no-op.
func (d *EinoDebugger) Initialize(ctx context.Context) error {
	if !d.enabled {
		return nil
	}
	logger := logging.Component("eino-debug")
	if err := devops.Init(ctx, devops.WithDevServerPort(strconv.Itoa(d.port))); err != nil {
		return fmt.Errorf("init eino debug plugin: %w", err)
	}
	logger.Info().Str("url", d.URL()).Msg("eino visual debugger listening")
	return nil
}

func (d *EinoDebugger) IsEnabled() bool { return d.enabled }

func (d *EinoDebugger) URL() string {
	if !d.enabled {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", d.port)
}
