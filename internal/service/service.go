// Package service implements the method table behind the embeddable SDK:
// parameters and results are JSON, progress is pushed through a notifier.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dyike/CortexThesis/internal/graph"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/internal/storage"
	"github.com/dyike/CortexThesis/models"
	"github.com/dyike/CortexThesis/pkg/app"
)

const (
	TopicNode = "thesis.node"
	TopicDone = "thesis.done"
)

var (
	ErrBadParams   = errors.New("invalid params")
	ErrUnknownRun  = errors.New("run not found")
	ErrNoEngine    = errors.New("engine not ready")
	ErrServiceDown = errors.New("service closed")
)

// EngineSource hands out the current engine. *app.Runtime implements it.
type EngineSource interface {
	Engine() *app.Engine
}

type Service struct {
	engines EngineSource
	store   *storage.Store
	notify  func(topic, payload string)
	version string

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(engines EngineSource, store *storage.Store, notify func(topic, payload string), version string) *Service {
	if notify == nil {
		notify = func(string, string) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{engines: engines, store: store, notify: notify, version: version, ctx: ctx, cancel: cancel}
}

// Close cancels running analyses and waits for them to be recorded.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

type SystemInfo struct {
	Version       string `json:"version"`
	EngineVersion uint64 `json:"engine_version"`
	EngineBuiltAt string `json:"engine_built_at,omitempty"`
	GoVersion     string `json:"go_version"`
	Platform      string `json:"platform"`
}

func (s *Service) SystemInfo() SystemInfo {
	info := SystemInfo{
		Version:   s.version,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if e := s.engines.Engine(); e != nil {
		info.EngineVersion = e.Version
		info.EngineBuiltAt = e.BuiltAt.UTC().Format(time.RFC3339)
	}
	return info
}

type Started struct {
	RequestId string `json:"request_id"`
}

type nodePayload struct {
	RequestId string `json:"request_id"`
	models.NodeEvent
}

type donePayload struct {
	RequestId string                  `json:"request_id"`
	Status    string                  `json:"status"`
	Result    *models.AnalyzeResponse `json:"result,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// StartAnalysis validates the request and runs it in the background. Node
// progress is published on TopicNode and the outcome on TopicDone.
func (s *Service) StartAnalysis(paramsJSON string) (*Started, error) {
	var p models.AnalyzeParams
	if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	id, err := graph.ParseIdentity(p.Ticker, p.TradeDuration, p.TradeDirection)
	if err != nil {
		return nil, err
	}
	engine := s.engines.Engine()
	if engine == nil || engine.Analyzer == nil {
		return nil, ErrNoEngine
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	requestID := uuid.NewString()
	go func() {
		defer s.wg.Done()
		s.run(requestID, engine, id)
	}()
	return &Started{RequestId: requestID}, nil
}

func (s *Service) run(requestID string, engine *app.Engine, id models.Identity) {
	ctx := logging.WithRequestID(s.ctx, requestID)

	events := make(chan models.NodeEvent, 64)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range events {
			s.publish(TopicNode, nodePayload{RequestId: requestID, NodeEvent: ev})
		}
	}()
	st, err := engine.Analyzer.Propagate(ctx, id, graph.WithEvents(events))
	close(events)
	<-forwarded

	status := graph.RunStatus(err)
	if s.store != nil {
		// the service context may already be cancelled
		if serr := s.store.Save(context.Background(), storage.NewRunRecord(requestID, id, st, status, err)); serr != nil {
			logging.FromContext(ctx).Warn().Err(serr).Msg("record run")
		}
	}

	done := donePayload{RequestId: requestID, Status: status}
	if err != nil {
		done.Error = err.Error()
	} else {
		done.Result = models.NewAnalyzeResponse(st)
		done.Result.RequestId = requestID
	}
	s.publish(TopicDone, done)
}

func (s *Service) publish(topic string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.notify(topic, string(b))
}

func (s *Service) History(ctx context.Context, paramsJSON string) (*models.HistoryPage, error) {
	var p models.HistoryParams
	if strings.TrimSpace(paramsJSON) != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadParams, err)
		}
	}
	if s.store == nil {
		return &models.HistoryPage{Items: []*models.RunRecord{}}, nil
	}
	return s.store.List(ctx, p)
}

type RunInfo struct {
	*models.RunRecord
	State json.RawMessage `json:"state,omitempty"`
}

func (s *Service) RunInfo(ctx context.Context, paramsJSON string) (*RunInfo, error) {
	var p struct {
		Id int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil || p.Id <= 0 {
		return nil, fmt.Errorf("%w: id is required", ErrBadParams)
	}
	if s.store == nil {
		return nil, ErrUnknownRun
	}
	rec, err := s.store.Get(ctx, p.Id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRun, p.Id)
	}
	info := &RunInfo{RunRecord: rec}
	if rec.StateJSON != "" {
		info.State = json.RawMessage(rec.StateJSON)
	}
	return info, nil
}

// Code maps an error onto the HTTP-style status used in SDK responses.
func Code(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadParams), errors.Is(err, graph.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownRun), errors.Is(err, graph.ErrTickerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoEngine), errors.Is(err, ErrServiceDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
