package models

// AnalyzeParams 描述一次分析请求
type AnalyzeParams struct {
	Ticker         string `json:"ticker" binding:"required,ticker"`
	TradeDuration  string `json:"trade_duration" binding:"required"`
	TradeDirection string `json:"trade_direction" binding:"required"`
}

// AnalyzeResponse 是分析结果的对外形态
type AnalyzeResponse struct {
	RequestId              string            `json:"request_id,omitempty"`
	Ticker                 string            `json:"ticker"`
	TradeDuration          string            `json:"trade_duration"`
	TradeDirection         string            `json:"trade_direction"`
	Industry               string            `json:"industry,omitempty"`
	Business               string            `json:"business,omitempty"`
	Sentiments             map[string]string `json:"sentiments"`
	CombinedSentiment      string            `json:"combined_sentiment"`
	Compliant              bool              `json:"compliant"`
	RevisionIterationCount int               `json:"revision_iteration_count"`
	Metrics                *Metrics          `json:"metrics"`
}

// NewAnalyzeResponse projects the final state onto the response shape.
func NewAnalyzeResponse(s *State) *AnalyzeResponse {
	resp := &AnalyzeResponse{
		Ticker:                 s.Ticker,
		TradeDuration:          string(s.TradeDuration),
		TradeDirection:         string(s.TradeDirection),
		Industry:               s.IndustryName(),
		Business:               s.BusinessName(),
		Sentiments:             make(map[string]string, len(s.Sentiments)),
		CombinedSentiment:      s.CombinedSentiment,
		Compliant:              s.Compliant,
		RevisionIterationCount: s.RevisionIterationCount,
		Metrics:                s.Metrics,
	}
	for b, v := range s.Sentiments {
		resp.Sentiments[string(b)] = v
	}
	return resp
}
