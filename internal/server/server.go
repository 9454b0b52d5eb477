// Package server exposes the analysis graph over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/internal/cache"
	"github.com/dyike/CortexThesis/internal/graph"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/models"
)

// Analyzer runs one analysis. *graph.ThesisGraph implements it.
type Analyzer interface {
	Propagate(ctx context.Context, id models.Identity, opts ...graph.PropagateOption) (*models.State, error)
}

type HistoryLister interface {
	List(ctx context.Context, p models.HistoryParams) (*models.HistoryPage, error)
}

type RunRecorder interface {
	Record(rec *models.RunRecord)
}

// Deps are the collaborators behind the routes. History, Recorder and
// Cache are optional.
type Deps struct {
	Analyzer Analyzer
	History  HistoryLister
	Recorder RunRecorder
	Cache    *cache.Cache
	Version  string
}

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	deps       Deps
	cfg        *config.Config
	logger     zerolog.Logger
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Analyzer == nil {
		return nil, errors.New("server: analyzer is required")
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine: gin.New(),
		deps:   deps,
		cfg:    cfg,
		logger: logging.Component("server"),
	}
	s.engine.Use(RequestID(), Recovery(), RequestLogger())
	s.routes()

	// h2c lets HTTP/2 clients reuse one connection without TLS
	handler := h2c.NewHandler(s.engine, &http2.Server{IdleTimeout: 120 * time.Second})
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// an analysis may take the whole request timeout
		WriteTimeout: cfg.RequestTimeout.Std() + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthz)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/analyze", RateLimit(RateLimitConfig{RequestsPerMinute: s.cfg.RateLimitPerMinute}), s.analyze)
	v1.GET("/history", s.history)
	v1.GET("/cache/stats", s.cacheStats)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.httpServer.Addr, err)
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("server error")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server started")
	return nil
}

// Stop drains in-flight requests for up to five seconds.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func registerValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("server: unexpected binding validator engine")
	}
	return v.RegisterValidation("ticker", func(fl validator.FieldLevel) bool {
		_, err := graph.SanitizeTicker(fl.Field().String())
		return err == nil
	})
}
