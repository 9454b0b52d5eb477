package models

import "time"

// PriceBar is one daily OHLCV bar.
type PriceBar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Quote is a point-in-time market snapshot for a symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Exchange      string    `json:"exchange"`
	Currency      string    `json:"currency"`
	QuoteType     string    `json:"quote_type"`
	Price         float64   `json:"price"`
	ChangePercent float64   `json:"change_percent"`
	MarketCap     float64   `json:"market_cap"`
	TrailingPE    float64   `json:"trailing_pe"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// NewsArticle is a headline collected by a search or news provider.
type NewsArticle struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Passage is one ranked chunk returned by the filings corpus.
type Passage struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}
