package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/cache"
	"github.com/dyike/CortexThesis/internal/graph"
	"github.com/dyike/CortexThesis/models"
)

type fakeAnalyzer struct {
	calls atomic.Int32
	fn    func(id models.Identity) (*models.State, error)
}

func (f *fakeAnalyzer) Propagate(ctx context.Context, id models.Identity, _ ...graph.PropagateOption) (*models.State, error) {
	f.calls.Add(1)
	return f.fn(id)
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []*models.RunRecord
}

func (f *fakeRecorder) Record(rec *models.RunRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, rec)
}

func finalState(id models.Identity) *models.State {
	st := models.NewState(id)
	st.IsTickerValid = true
	for _, b := range consts.Branches {
		st.Sentiments[b] = "NEUTRAL (confidence: medium)"
	}
	st.CombinedSentiment = "Moderately bullish."
	st.Compliant = true
	st.RevisionIterationCount = 1
	return st
}

func newTestServer(t *testing.T, a Analyzer, rec RunRecorder, rpm int) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.RateLimitPerMinute = rpm
	s, err := New(cfg, Deps{Analyzer: a, Recorder: rec, Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return resp.Error
}

func TestAnalyzeOK(t *testing.T) {
	a := &fakeAnalyzer{fn: func(id models.Identity) (*models.State, error) { return finalState(id), nil }}
	rec := &fakeRecorder{}
	s := newTestServer(t, a, rec, 10)

	w := post(t, s.Handler(), `{"ticker":"aapl","trade_duration":"long","trade_direction":"long"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Data models.AnalyzeResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Ticker != "AAPL" || len(body.Data.Sentiments) != len(consts.Branches) || !body.Data.Compliant {
		t.Fatalf("response %+v", body.Data)
	}
	if body.Data.RequestId == "" || w.Header().Get(headerRequestID) != body.Data.RequestId {
		t.Fatalf("request id %q vs header %q", body.Data.RequestId, w.Header().Get(headerRequestID))
	}
	if len(rec.runs) != 1 || rec.runs[0].Status != "done" || rec.runs[0].Ticker != "AAPL" {
		t.Fatalf("recorded %+v", rec.runs)
	}
}

func TestAnalyzeAcceptsMixedCaseEnums(t *testing.T) {
	var got models.Identity
	a := &fakeAnalyzer{fn: func(id models.Identity) (*models.State, error) {
		got = id
		return finalState(id), nil
	}}
	s := newTestServer(t, a, nil, 10)

	w := post(t, s.Handler(), `{"ticker":"msft","trade_duration":"Medium","trade_direction":"LONG"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if got.TradeDuration != consts.DurationMedium || got.TradeDirection != consts.DirectionLong {
		t.Fatalf("identity %+v", got)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   ErrorCode
		called bool
	}{
		{"malformed ticker", `{"ticker":"XYZ123","trade_duration":"short","trade_direction":"long"}`, nil, http.StatusBadRequest, CodeInvalidInput, false},
		{"bad duration", `{"ticker":"AAPL","trade_duration":"forever","trade_direction":"long"}`, nil, http.StatusBadRequest, CodeInvalidInput, false},
		{"bad direction", `{"ticker":"AAPL","trade_duration":"short","trade_direction":"sideways"}`, nil, http.StatusBadRequest, CodeInvalidInput, false},
		{"missing field", `{"ticker":"AAPL"}`, nil, http.StatusBadRequest, CodeInvalidInput, false},
		{"not json", `ticker=AAPL`, nil, http.StatusBadRequest, CodeInvalidInput, false},
		{"not found", `{"ticker":"NOPE","trade_duration":"short","trade_direction":"long"}`,
			fmt.Errorf("%w: NOPE", graph.ErrTickerNotFound), http.StatusNotFound, CodeNotFound, true},
		{"timeout", `{"ticker":"SLOW","trade_duration":"short","trade_direction":"long"}`,
			fmt.Errorf("analyze SLOW: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, CodeTimeout, true},
		{"internal", `{"ticker":"BOOM","trade_duration":"short","trade_direction":"long"}`,
			fmt.Errorf("compile failed"), http.StatusInternalServerError, CodeInternal, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAnalyzer{fn: func(id models.Identity) (*models.State, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				return finalState(id), nil
			}}
			s := newTestServer(t, a, nil, 10)
			w := post(t, s.Handler(), tt.body)
			if w.Code != tt.status {
				t.Fatalf("status %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if got := decodeError(t, w); got.Code != tt.code {
				t.Fatalf("code %s, want %s", got.Code, tt.code)
			}
			if called := a.calls.Load() > 0; called != tt.called {
				t.Fatalf("analyzer called = %v, want %v", called, tt.called)
			}
		})
	}
}

func TestAnalyzeRecordsNotFound(t *testing.T) {
	a := &fakeAnalyzer{fn: func(id models.Identity) (*models.State, error) {
		return models.NewState(id), fmt.Errorf("%w: %s", graph.ErrTickerNotFound, id.Ticker)
	}}
	rec := &fakeRecorder{}
	s := newTestServer(t, a, rec, 10)
	if w := post(t, s.Handler(), `{"ticker":"NOPE","trade_duration":"medium","trade_direction":"short"}`); w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
	if len(rec.runs) != 1 || rec.runs[0].Status != "not_found" || rec.runs[0].Error == "" {
		t.Fatalf("recorded %+v", rec.runs)
	}
}

func TestRateLimit(t *testing.T) {
	a := &fakeAnalyzer{fn: func(id models.Identity) (*models.State, error) { return finalState(id), nil }}
	s := newTestServer(t, a, nil, 2)
	body := `{"ticker":"MSFT","trade_duration":"short","trade_direction":"long"}`

	for i := 0; i < 2; i++ {
		if w := post(t, s.Handler(), body); w.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}
	w := post(t, s.Handler(), body)
	if w.Code != http.StatusTooManyRequests || decodeError(t, w).Code != CodeRateLimited {
		t.Fatalf("third request: %d %s", w.Code, w.Body.String())
	}
	if a.calls.Load() != 2 {
		t.Fatalf("analyzer ran %d times", a.calls.Load())
	}
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := &rateLimiter{every: 1, burst: 1, limiters: map[string]*callerLimiter{}, now: func() time.Time { return now }}
	if !rl.allow("a") || rl.allow("a") {
		t.Fatal("burst of one")
	}
	if !rl.allow("b") {
		t.Fatal("callers are limited independently")
	}
	now = now.Add(time.Second)
	if !rl.allow("a") {
		t.Fatal("token should refill after a second")
	}
	now = now.Add(time.Hour)
	rl.allow("c")
	if _, ok := rl.limiters["a"]; ok {
		t.Fatal("idle limiter should be swept")
	}
}

func TestHealthzAndCacheStats(t *testing.T) {
	a := &fakeAnalyzer{fn: func(id models.Identity) (*models.State, error) { return finalState(id), nil }}
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	s, err := New(cfg, Deps{Analyzer: a, Cache: cache.New(cache.NewMemoryBackend(8))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, path := range []string{"/healthz", "/api/v1/cache/stats", "/api/v1/history"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, w.Code)
		}
	}
}

func TestNewRequiresAnalyzer(t *testing.T) {
	if _, err := New(config.DefaultConfigWithRoot(t.TempDir()), Deps{}); err == nil {
		t.Fatal("expected error")
	}
}
