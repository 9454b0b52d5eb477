package analysts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CortexThesis/models"
)

// Indicators are the oscillator and volatility readings appended to the
// technical digest. Zero means not enough bars.
type Indicators struct {
	MACD       decimal.Decimal // EMA12 - EMA26
	MACDSignal decimal.Decimal // EMA9 of MACD
	BollUpper  decimal.Decimal // SMA20 + 2 sd
	BollLower  decimal.Decimal
	ATR14      decimal.Decimal
}

func (i Indicators) MACDHistogram() decimal.Decimal { return i.MACD.Sub(i.MACDSignal) }

// ComputeIndicators reads bars ordered oldest first.
func ComputeIndicators(bars []models.PriceBar) Indicators {
	closes := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		closes[i] = decimal.NewFromFloat(b.Close)
	}
	var out Indicators

	ema12, ema26 := emaSeries(closes, 12), emaSeries(closes, 26)
	if len(ema26) > 0 {
		// ema12 starts 14 bars before ema26
		macd := make([]decimal.Decimal, len(ema26))
		for i := range ema26 {
			macd[i] = ema12[i+14].Sub(ema26[i])
		}
		out.MACD = macd[len(macd)-1]
		if sig := emaSeries(macd, 9); len(sig) > 0 {
			out.MACDSignal = sig[len(sig)-1]
		}
	}

	if len(closes) >= 20 {
		window := closes[len(closes)-20:]
		mean := decimal.Avg(window[0], window[1:]...)
		variance := decimal.Zero
		for _, c := range window {
			d := c.Sub(mean)
			variance = variance.Add(d.Mul(d))
		}
		variance = variance.Div(decimal.NewFromInt(20))
		sd := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
		band := sd.Mul(decimal.NewFromInt(2))
		out.BollUpper, out.BollLower = mean.Add(band), mean.Sub(band)
	}

	if len(bars) > 14 {
		sum := decimal.Zero
		for i := len(bars) - 14; i < len(bars); i++ {
			sum = sum.Add(trueRange(bars[i], bars[i-1].Close))
		}
		out.ATR14 = sum.Div(decimal.NewFromInt(14))
	}
	return out
}

// emaSeries seeds with the SMA of the first n values, so the result has
// len(values)-n+1 points.
func emaSeries(values []decimal.Decimal, n int) []decimal.Decimal {
	if len(values) < n {
		return nil
	}
	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(n + 1)))
	out := make([]decimal.Decimal, 0, len(values)-n+1)
	prev := decimal.Avg(values[0], values[1:n]...)
	out = append(out, prev)
	for _, v := range values[n:] {
		prev = v.Sub(prev).Mul(k).Add(prev)
		out = append(out, prev)
	}
	return out
}

func trueRange(b models.PriceBar, prevClose float64) decimal.Decimal {
	hi, lo := b.High, b.Low
	if hi == 0 && lo == 0 {
		hi, lo = b.Close, b.Close
	}
	tr := math.Max(hi-lo, math.Max(math.Abs(hi-prevClose), math.Abs(lo-prevClose)))
	return decimal.NewFromFloat(tr)
}

// FallbackHistory tries each source in order and returns the first non-empty
// result.
type FallbackHistory []HistorySource

func (f FallbackHistory) History(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	var errs []error
	for _, src := range f {
		if src == nil {
			continue
		}
		bars, err := src.History(ctx, symbol, start, end)
		if err == nil && len(bars) > 0 {
			return bars, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: empty history", ErrNoEvidence)
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no history source", ErrNoEvidence)
	}
	return nil, errors.Join(errs...)
}
