package analysts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/logging"
)

// MetricsSource supplies basic financial ratios keyed by provider name.
type MetricsSource interface {
	Metrics(ctx context.Context, symbol string) (map[string]float64, error)
}

// fundamentalMetrics are the Finnhub basic financials rendered as evidence,
// in report order.
var fundamentalMetrics = []struct{ key, label string }{
	{"peTTM", "P/E (TTM)"},
	{"pbQuarterly", "P/B"},
	{"psTTM", "P/S (TTM)"},
	{"epsGrowthTTMYoy", "EPS growth YoY (%)"},
	{"revenueGrowthTTMYoy", "Revenue growth YoY (%)"},
	{"grossMarginTTM", "Gross margin (%)"},
	{"netProfitMarginTTM", "Net margin (%)"},
	{"roeTTM", "ROE (%)"},
	{"currentRatioQuarterly", "Current ratio"},
	{"totalDebt/totalEquityQuarterly", "Debt/Equity"},
	{"dividendYieldIndicatedAnnual", "Dividend yield (%)"},
	{"beta", "Beta"},
}

// FundamentalGatherer renders valuation and profitability figures. Either
// source may be missing; both missing is an error.
type FundamentalGatherer struct {
	Metrics  MetricsSource
	Equities agents.EquitySource
}

func (g *FundamentalGatherer) Gather(ctx context.Context, s agents.Subject) (string, error) {
	var b strings.Builder
	var errs []error

	if g.Equities != nil {
		q, _, err := g.Equities.Equity(ctx, s.Ticker)
		switch {
		case err != nil:
			errs = append(errs, err)
		case q != nil:
			fmt.Fprintf(&b, "Price: %.2f %s\n", q.Price, q.Currency)
			if q.MarketCap > 0 {
				fmt.Fprintf(&b, "Market cap: %s\n", humanize(q.MarketCap))
			}
			if q.TrailingPE > 0 {
				fmt.Fprintf(&b, "Trailing P/E: %.2f\n", q.TrailingPE)
			}
		}
	}

	if g.Metrics != nil {
		m, err := g.Metrics.Metrics(ctx, s.Ticker)
		if err != nil {
			errs = append(errs, err)
		}
		for _, fm := range fundamentalMetrics {
			if v, ok := m[fm.key]; ok {
				fmt.Fprintf(&b, "%s: %.2f\n", fm.label, v)
			}
		}
	}

	if s.TickerInfo != nil && s.TickerInfo.NextEarnings != nil {
		fmt.Fprintf(&b, "Next earnings: %s\n", s.TickerInfo.NextEarnings.Format("2006-01-02"))
	}

	if b.Len() == 0 {
		if len(errs) > 0 {
			return "", errors.Join(errs...)
		}
		return "", ErrNoEvidence
	}
	if len(errs) > 0 {
		logging.FromContext(ctx).Debug().Err(errors.Join(errs...)).Str(logging.FieldTicker, s.Ticker).Msg("partial fundamentals")
	}
	return b.String(), nil
}

// humanize renders large money amounts as 1.23B style strings.
func humanize(v float64) string {
	switch {
	case v >= 1e12:
		return fmt.Sprintf("%.2fT", v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.2fM", v/1e6)
	}
	return fmt.Sprintf("%.0f", v)
}
