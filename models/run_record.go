package models

import "time"

// RunRecord is a persisted analysis run.
type RunRecord struct {
	Id                int64     `json:"id"`
	RequestId         string    `json:"request_id"`
	Ticker            string    `json:"ticker"`
	TradeDuration     string    `json:"trade_duration"`
	TradeDirection    string    `json:"trade_direction"`
	Status            string    `json:"status"`
	Compliant         bool      `json:"compliant"`
	Revisions         int       `json:"revisions"`
	CombinedSentiment string    `json:"combined_sentiment"`
	TotalTokens       int       `json:"total_tokens"`
	StateJSON         string    `json:"-"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
