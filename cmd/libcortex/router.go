//go:build cgo

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/internal/service"
	"github.com/dyike/CortexThesis/internal/storage"
	"github.com/dyike/CortexThesis/pkg/app"
	"github.com/dyike/CortexThesis/pkg/bridge"
)

type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

var (
	sdkMu sync.Mutex
	rt    *app.Runtime
	store *storage.Store
	svc   *service.Service
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var errNotInitialized = errors.New("sdk not initialized, call InitSDK first")

// initSDK loads or creates <workDir>/config.json, overlaying configJSON when
// it is non-empty, and builds the engine.
func initSDK(workDir, configJSON string) error {
	sdkMu.Lock()
	defer sdkMu.Unlock()
	if svc != nil {
		return nil
	}

	initial := config.DefaultConfigWithRoot(workDir)
	mgr, err := config.NewManager(config.WithConfigDir(workDir), config.WithInitialConfig(initial))
	if err != nil {
		return err
	}
	if strings.TrimSpace(configJSON) != "" {
		if err := mgr.UpdateFromJSON(configJSON); err != nil {
			return fmt.Errorf("apply config: %w", err)
		}
	}
	cfg := mgr.Get()
	logging.Setup(logging.Options{Level: cfg.LogLevel, Format: "json"})

	runtime, err := app.NewRuntime(mgr, app.WithNotifier(bridge.Notify))
	if err != nil {
		return err
	}
	s, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		runtime.Close()
		return err
	}
	rt, store = runtime, s
	svc = service.New(rt, store, bridge.Notify, version)
	return nil
}

func shutdown() {
	sdkMu.Lock()
	defer sdkMu.Unlock()
	if svc == nil {
		return
	}
	svc.Close()
	rt.Close()
	_ = store.Close()
	svc, rt, store = nil, nil, nil
}

func Dispatch(method string, paramsJson string) string {
	sdkMu.Lock()
	s, r := svc, rt
	sdkMu.Unlock()
	if s == nil {
		return jsonResp(503, errNotInitialized.Error(), nil)
	}

	ctx := context.Background()
	var result any
	var err error

	switch method {
	case "system.info":
		result = s.SystemInfo()
	case "thesis.analyze":
		result, err = s.StartAnalysis(paramsJson)
	case "thesis.history":
		result, err = s.History(ctx, paramsJson)
	case "thesis.history.info":
		result, err = s.RunInfo(ctx, paramsJson)
	case "config.update":
		err = r.UpdateConfigJSON(paramsJson)
	default:
		return jsonResp(404, "Method not found", nil)
	}
	if err != nil {
		return jsonResp(service.Code(err), err.Error(), nil)
	}
	return jsonResp(200, "Ok", result)
}

func jsonResp(code int, msg string, data any) string {
	resp := Response{Code: code, Msg: msg, Data: data}
	b, _ := json.Marshal(resp)
	return string(b)
}
