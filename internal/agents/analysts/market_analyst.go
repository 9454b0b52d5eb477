package analysts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/models"
)

// HistorySource supplies daily bars, oldest first.
type HistorySource interface {
	History(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error)
}

// lookback is the calendar window of history fetched per horizon.
func lookback(d consts.TradeDuration) time.Duration {
	switch d {
	case consts.DurationShort:
		return 120 * 24 * time.Hour
	case consts.DurationLong:
		return 2 * 365 * 24 * time.Hour
	}
	return 365 * 24 * time.Hour
}

// TechnicalGatherer summarizes recent price action.
type TechnicalGatherer struct {
	History HistorySource
}

func (g *TechnicalGatherer) Gather(ctx context.Context, s agents.Subject) (string, error) {
	end := s.AsOf
	if end.IsZero() {
		end = time.Now()
	}
	bars, err := g.History.History(ctx, s.Ticker, end.Add(-lookback(s.TradeDuration)), end)
	if err != nil {
		return "", err
	}
	sum, err := Summarize(bars)
	if err != nil {
		return "", err
	}
	return sum.String(), nil
}

// TechnicalSummary is the price digest handed to the technical prompt.
// Averages and returns that need more bars than available are zero.
type TechnicalSummary struct {
	Bars        int
	LastDate    time.Time
	LastClose   decimal.Decimal
	SMA20       decimal.Decimal
	SMA50       decimal.Decimal
	SMA200      decimal.Decimal
	Return5     decimal.Decimal // percent
	Return20    decimal.Decimal
	Return60    decimal.Decimal
	RangeHigh   decimal.Decimal
	RangeLow    decimal.Decimal
	FromHigh    decimal.Decimal // percent below the range high
	RSI14       decimal.Decimal
	VolumeTrend decimal.Decimal // 20-day average volume over the prior 20 days, percent change
	Indicators
}

var hundred = decimal.NewFromInt(100)

// Summarize computes the digest from daily bars ordered oldest first.
func Summarize(bars []models.PriceBar) (TechnicalSummary, error) {
	if len(bars) < 2 {
		return TechnicalSummary{}, fmt.Errorf("%w: %d price bars", ErrNoEvidence, len(bars))
	}
	closes := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		closes[i] = decimal.NewFromFloat(b.Close)
	}
	last := len(bars) - 1
	out := TechnicalSummary{
		Bars:       len(bars),
		LastDate:   bars[last].Date,
		LastClose:  closes[last],
		SMA20:      sma(closes, 20),
		SMA50:      sma(closes, 50),
		SMA200:     sma(closes, 200),
		Return5:    change(closes, 5),
		Return20:   change(closes, 20),
		Return60:   change(closes, 60),
		RSI14:      rsi(closes, 14),
		Indicators: ComputeIndicators(bars),
	}
	out.RangeHigh, out.RangeLow = closes[0], closes[0]
	for _, c := range closes {
		out.RangeHigh = decimal.Max(out.RangeHigh, c)
		out.RangeLow = decimal.Min(out.RangeLow, c)
	}
	if out.RangeHigh.IsPositive() {
		out.FromHigh = out.RangeHigh.Sub(out.LastClose).Div(out.RangeHigh).Mul(hundred)
	}
	if len(bars) >= 40 {
		recent, prior := decimal.Zero, decimal.Zero
		for i := len(bars) - 20; i < len(bars); i++ {
			recent = recent.Add(decimal.NewFromInt(bars[i].Volume))
		}
		for i := len(bars) - 40; i < len(bars)-20; i++ {
			prior = prior.Add(decimal.NewFromInt(bars[i].Volume))
		}
		if prior.IsPositive() {
			out.VolumeTrend = recent.Sub(prior).Div(prior).Mul(hundred)
		}
	}
	return out, nil
}

func sma(closes []decimal.Decimal, n int) decimal.Decimal {
	if len(closes) < n {
		return decimal.Zero
	}
	return decimal.Sum(closes[len(closes)-n], closes[len(closes)-n+1:]...).Div(decimal.NewFromInt(int64(n)))
}

// change is the percent move over the last n bars.
func change(closes []decimal.Decimal, n int) decimal.Decimal {
	if len(closes) <= n {
		return decimal.Zero
	}
	base := closes[len(closes)-1-n]
	if base.IsZero() {
		return decimal.Zero
	}
	return closes[len(closes)-1].Sub(base).Div(base).Mul(hundred)
}

// rsi is the simple-average relative strength index over n periods.
func rsi(closes []decimal.Decimal, n int) decimal.Decimal {
	if len(closes) <= n {
		return decimal.Zero
	}
	gain, loss := decimal.Zero, decimal.Zero
	for i := len(closes) - n; i < len(closes); i++ {
		d := closes[i].Sub(closes[i-1])
		if d.IsPositive() {
			gain = gain.Add(d)
		} else {
			loss = loss.Sub(d)
		}
	}
	if loss.IsZero() {
		return hundred
	}
	rs := gain.Div(loss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

func (t TechnicalSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Last close %s on %s (%d daily bars)\n", t.LastClose.StringFixed(2), t.LastDate.Format("2006-01-02"), t.Bars)
	for _, ma := range []struct {
		name string
		v    decimal.Decimal
	}{{"SMA20", t.SMA20}, {"SMA50", t.SMA50}, {"SMA200", t.SMA200}} {
		if ma.v.IsZero() {
			continue
		}
		rel := "above"
		if t.LastClose.LessThan(ma.v) {
			rel = "below"
		}
		fmt.Fprintf(&b, "%s: %s (price %s)\n", ma.name, ma.v.StringFixed(2), rel)
	}
	fmt.Fprintf(&b, "Returns: 5d %s%%, 20d %s%%, 60d %s%%\n", t.Return5.StringFixed(1), t.Return20.StringFixed(1), t.Return60.StringFixed(1))
	fmt.Fprintf(&b, "Range: %s to %s, %s%% below high\n", t.RangeLow.StringFixed(2), t.RangeHigh.StringFixed(2), t.FromHigh.StringFixed(1))
	if !t.RSI14.IsZero() {
		fmt.Fprintf(&b, "RSI(14): %s\n", t.RSI14.StringFixed(1))
	}
	if !t.VolumeTrend.IsZero() {
		fmt.Fprintf(&b, "20-day volume vs prior 20 days: %s%%\n", t.VolumeTrend.StringFixed(1))
	}
	if !t.MACD.IsZero() {
		fmt.Fprintf(&b, "MACD(12,26,9): %s, signal %s, histogram %s\n",
			t.MACD.StringFixed(3), t.MACDSignal.StringFixed(3), t.MACDHistogram().StringFixed(3))
	}
	if !t.BollUpper.IsZero() {
		fmt.Fprintf(&b, "Bollinger(20,2): %s to %s\n", t.BollLower.StringFixed(2), t.BollUpper.StringFixed(2))
	}
	if !t.ATR14.IsZero() {
		fmt.Fprintf(&b, "ATR(14): %s\n", t.ATR14.StringFixed(2))
	}
	return b.String()
}
