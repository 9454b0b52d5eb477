package dataflows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexThesis/models"
)

type LongportConfig struct {
	AppKey      string
	AppSecret   string
	AccessToken string
}

func (c LongportConfig) Configured() bool {
	return c.AppKey != "" && c.AppSecret != "" && c.AccessToken != ""
}

type LongportClient struct {
	quoteCtx *quote.QuoteContext
}

func NewLongportClient(cfg LongportConfig) (*LongportClient, error) {
	if !cfg.Configured() {
		return nil, errors.New("longport API credentials not configured")
	}

	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.AppKey, cfg.AppSecret, cfg.AccessToken))
	if err != nil {
		return nil, err
	}

	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}
	return &LongportClient{quoteCtx: quoteContext}, nil
}

// LongportSymbol maps a ticker to Longport's "<code>.<market>" form. Bare
// tickers are treated as US listings; "BRK.B" style share classes become
// "BRK-B.US".
func LongportSymbol(ticker string) string {
	ticker = NormalizeSymbol(ticker)
	for _, market := range []string{".US", ".HK", ".SH", ".SZ", ".SG"} {
		if strings.HasSuffix(ticker, market) {
			return ticker
		}
	}
	return strings.ReplaceAll(ticker, ".", "-") + ".US"
}

func (lpc *LongportClient) GetStaticInfo(ctx context.Context, symbols []string) ([]*quote.StaticInfo, error) {
	if lpc.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	return lpc.quoteCtx.StaticInfo(ctx, symbols)
}

func (lpc *LongportClient) GetSticksWithDay(ctx context.Context, symbol string, count int) ([]*quote.Candlestick, error) {
	if lpc.quoteCtx == nil {
		return nil, errors.New("quote context is nil")
	}
	return lpc.quoteCtx.Candlesticks(ctx, symbol, quote.PeriodDay, int32(count), quote.AdjustTypeNo)
}

// maxSticks is the most daily candlesticks Longport returns per call.
const maxSticks = 1000

// History returns daily bars between start and end, oldest first. Longport
// only serves the most recent N sticks, so N is sized from the window.
func (lpc *LongportClient) History(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	count := int(end.Sub(start).Hours()/24)*5/7 + 5
	if count > maxSticks {
		count = maxSticks
	}
	sticks, err := lpc.GetSticksWithDay(ctx, LongportSymbol(symbol), count)
	if err != nil {
		return nil, fmt.Errorf("longport candlesticks %s: %w", symbol, err)
	}
	bars := CandlesToBars(symbol, sticks, start, end)
	if len(bars) == 0 {
		return nil, fmt.Errorf("longport candlesticks %s: no bars in range", symbol)
	}
	return bars, nil
}

// CandlesToBars converts sticks inside [start, end] and sorts them by date.
func CandlesToBars(symbol string, sticks []*quote.Candlestick, start, end time.Time) []models.PriceBar {
	bars := make([]models.PriceBar, 0, len(sticks))
	for _, s := range sticks {
		if s == nil {
			continue
		}
		at := time.Unix(s.Timestamp, 0).UTC()
		if at.Before(start) || at.After(end) {
			continue
		}
		bars = append(bars, models.PriceBar{
			Symbol: NormalizeSymbol(symbol),
			Date:   at,
			Open:   decFloat(s.Open),
			High:   decFloat(s.High),
			Low:    decFloat(s.Low),
			Close:  decFloat(s.Close),
			Volume: s.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}

func decFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

func (lpc *LongportClient) Close() {
	if lpc.quoteCtx != nil {
		_ = lpc.quoteCtx.Close()
	}
}
