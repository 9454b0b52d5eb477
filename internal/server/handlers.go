package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dyike/CortexThesis/internal/graph"
	"github.com/dyike/CortexThesis/internal/storage"
	"github.com/dyike/CortexThesis/models"
)

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "cortexthesis",
		"version":   s.deps.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) analyze(c *gin.Context) {
	var p models.AnalyzeParams
	if err := c.ShouldBindJSON(&p); err != nil {
		RespondWithError(c, InvalidInput(err))
		return
	}
	id, err := graph.ParseIdentity(p.Ticker, p.TradeDuration, p.TradeDirection)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	requestID := c.GetString(ctxRequestID)

	st, err := s.deps.Analyzer.Propagate(c.Request.Context(), id)
	s.record(requestID, id, st, err)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	resp := models.NewAnalyzeResponse(st)
	resp.RequestId = requestID
	RespondOK(c, resp)
}

func (s *Server) record(requestID string, id models.Identity, st *models.State, err error) {
	if s.deps.Recorder == nil {
		return
	}
	s.deps.Recorder.Record(storage.NewRunRecord(requestID, id, st, graph.RunStatus(err), err))
}

func (s *Server) history(c *gin.Context) {
	if s.deps.History == nil {
		RespondOK(c, &models.HistoryPage{Items: []*models.RunRecord{}})
		return
	}
	var p models.HistoryParams
	if err := c.ShouldBindQuery(&p); err != nil {
		RespondWithError(c, InvalidInput(err))
		return
	}
	page, err := s.deps.History.List(c.Request.Context(), p)
	if err != nil {
		RespondWithError(c, err)
		return
	}
	RespondOK(c, page)
}

func (s *Server) cacheStats(c *gin.Context) {
	RespondOK(c, s.deps.Cache.Stats(c.Request.Context()))
}
