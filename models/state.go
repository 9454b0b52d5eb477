package models

import (
	"time"

	"github.com/dyike/CortexThesis/consts"
)

// Identity is the immutable part of a request.
type Identity struct {
	Ticker         string                `json:"ticker"`
	TradeDuration  consts.TradeDuration  `json:"trade_duration"`
	TradeDirection consts.TradeDirection `json:"trade_direction"`
}

// TickerInfo is the lookup blob produced once by validation and threaded
// through the graph so later nodes avoid a second provider call.
type TickerInfo struct {
	Symbol       string     `json:"symbol"`
	Name         string     `json:"name"`
	Exchange     string     `json:"exchange"`
	Currency     string     `json:"currency"`
	Price        float64    `json:"price"`
	MarketCap    float64    `json:"market_cap"`
	NextEarnings *time.Time `json:"next_earnings,omitempty"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

// EarningsWithin reports whether the next earnings release falls inside
// window from now. A missing date is never imminent.
func (t *TickerInfo) EarningsWithin(now time.Time, window time.Duration) bool {
	if t == nil || t.NextEarnings == nil {
		return false
	}
	until := t.NextEarnings.Sub(now)
	return until >= 0 && until <= window
}

// State is the shared record threaded through every node of one request.
// Nodes never mutate it directly; they return a Delta which is applied under
// the graph state lock.
type State struct {
	Ticker         string                `json:"ticker"`
	TradeDuration  consts.TradeDuration  `json:"trade_duration"`
	TradeDirection consts.TradeDirection `json:"trade_direction"`

	IsTickerValid bool        `json:"is_ticker_valid"`
	Industry      *string     `json:"industry"`
	Business      *string     `json:"business"`
	TickerInfo    *TickerInfo `json:"ticker_info"`

	Sentiments map[consts.Branch]string `json:"sentiments"`

	CombinedSentiment      string `json:"combined_sentiment"`
	Compliant              bool   `json:"compliant"`
	Feedback               string `json:"feedback,omitempty"`
	RevisionIterationCount int    `json:"revision_iteration_count"`

	Metrics *Metrics `json:"metrics"`
}

func NewState(id Identity) *State {
	return &State{
		Ticker:         id.Ticker,
		TradeDuration:  id.TradeDuration,
		TradeDirection: id.TradeDirection,
		Sentiments:     make(map[consts.Branch]string),
		Metrics:        NewMetrics(),
	}
}

func (s *State) Identity() Identity {
	return Identity{Ticker: s.Ticker, TradeDuration: s.TradeDuration, TradeDirection: s.TradeDirection}
}

// Sentiment returns the value written by branch b, if any.
func (s *State) Sentiment(b consts.Branch) (string, bool) {
	v, ok := s.Sentiments[b]
	return v, ok
}

// IndustryName returns the industry or "" when validation did not derive one.
func (s *State) IndustryName() string {
	if s.Industry == nil {
		return ""
	}
	return *s.Industry
}

func (s *State) BusinessName() string {
	if s.Business == nil {
		return ""
	}
	return *s.Business
}

// Clone returns a deep copy that nodes may read without holding the state lock.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Industry = cloneString(s.Industry)
	c.Business = cloneString(s.Business)
	if s.TickerInfo != nil {
		info := *s.TickerInfo
		if s.TickerInfo.NextEarnings != nil {
			ne := *s.TickerInfo.NextEarnings
			info.NextEarnings = &ne
		}
		c.TickerInfo = &info
	}
	c.Sentiments = make(map[consts.Branch]string, len(s.Sentiments))
	for k, v := range s.Sentiments {
		c.Sentiments[k] = v
	}
	c.Metrics = s.Metrics.Clone()
	return &c
}

// Apply merges d into s. Scalars are last-writer-wins, branch fields are
// written per key, metrics go through the associative reducer and the
// revision counter never moves backwards.
func (s *State) Apply(d *Delta) {
	if d == nil {
		return
	}
	if d.IsTickerValid != nil {
		s.IsTickerValid = *d.IsTickerValid
	}
	if d.Industry != nil {
		s.Industry = cloneString(d.Industry)
	}
	if d.Business != nil {
		s.Business = cloneString(d.Business)
	}
	if d.TickerInfo != nil {
		info := *d.TickerInfo
		s.TickerInfo = &info
	}
	if len(d.Sentiments) > 0 && s.Sentiments == nil {
		s.Sentiments = make(map[consts.Branch]string, len(d.Sentiments))
	}
	for b, v := range d.Sentiments {
		s.Sentiments[b] = v
	}
	if d.CombinedSentiment != nil {
		s.CombinedSentiment = *d.CombinedSentiment
	}
	if d.Compliant != nil {
		s.Compliant = *d.Compliant
	}
	if d.Feedback != nil {
		s.Feedback = *d.Feedback
	}
	if d.RevisionIterationCount != nil && *d.RevisionIterationCount > s.RevisionIterationCount {
		s.RevisionIterationCount = *d.RevisionIterationCount
	}
	if d.Metrics != nil {
		s.Metrics = MergeMetrics(s.Metrics, d.Metrics)
	}
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
