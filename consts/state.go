package consts

import "fmt"

// TradeDuration is the holding-horizon archetype of a request.
type TradeDuration string

const (
	DurationShort  TradeDuration = "short"
	DurationMedium TradeDuration = "medium"
	DurationLong   TradeDuration = "long"
)

func (d TradeDuration) Valid() bool {
	switch d {
	case DurationShort, DurationMedium, DurationLong:
		return true
	}
	return false
}

// Horizon describes the duration in words for prompts and queries.
func (d TradeDuration) Horizon() string {
	switch d {
	case DurationShort:
		return "short-term (days to a few weeks)"
	case DurationMedium:
		return "medium-term (one to six months)"
	case DurationLong:
		return "long-term (a year or more)"
	}
	return "unspecified horizon"
}

// TradeDirection is the side of the proposed position.
type TradeDirection string

const (
	DirectionLong  TradeDirection = "long"
	DirectionShort TradeDirection = "short"
)

func (d TradeDirection) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sentiment labels shared by every branch.
const (
	LabelBullish = "bullish"
	LabelNeutral = "neutral"
	LabelBearish = "bearish"

	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Revision evidence policies for aggregation passes after the first.
const (
	EvidenceSummaryOnly = "summary_only"
	EvidenceFull        = "full_evidence"
)

// UnknownIdentity is the sentinel used when a cache key field is missing.
const UnknownIdentity = "_unknown_"

// AggregationFallback replaces the combined sentiment when synthesis fails.
const AggregationFallback = "Unable to fully synthesize a combined sentiment from the available research. Review the individual branch sentiments directly."

// FallbackFor returns the fixed message written to a branch field when the
// branch fails.
func FallbackFor(b Branch) string {
	switch b {
	case BranchFundamental:
		return "Fundamental analysis is currently unavailable."
	case BranchTechnical:
		return "Technical analysis is currently unavailable."
	case BranchMacro:
		return "Macroeconomic analysis is currently unavailable."
	case BranchIndustry:
		return "Industry analysis is currently unavailable."
	case BranchPeer:
		return "Peer comparison is currently unavailable."
	case BranchHeadline:
		return "Headline analysis is currently unavailable."
	case BranchFilings:
		return "SEC filings analysis is currently unavailable."
	}
	return fmt.Sprintf("%s analysis is currently unavailable.", b)
}
