package dataflows

import (
	"context"
	"fmt"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/piquette/finance-go/quote"

	"github.com/dyike/CortexThesis/models"
)

// YahooFinanceClient handles Yahoo Finance data operations
type YahooFinanceClient struct {
	retry *RetryConfig
	now   func() time.Time
}

func NewYahooFinanceClient() *YahooFinanceClient {
	return &YahooFinanceClient{retry: DefaultRetryConfig(), now: time.Now}
}

// Quote gets current quote data for a symbol. A nil quote with a nil
// error means Yahoo does not know the symbol.
func (yf *YahooFinanceClient) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = NormalizeSymbol(symbol)
	var result *models.Quote
	err := WithRetry(ctx, yf.retry, func() error {
		q, err := quote.Get(symbol)
		if err != nil {
			return fmt.Errorf("failed to get quote for %s: %w", symbol, err)
		}
		if q == nil {
			return nil
		}
		result = quoteFromYahoo(q, yf.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, ctx.Err()
}

// Equity returns the quote enriched with valuation fields and the next
// earnings timestamp, when Yahoo publishes one.
func (yf *YahooFinanceClient) Equity(ctx context.Context, symbol string) (*models.Quote, *time.Time, error) {
	symbol = NormalizeSymbol(symbol)
	var (
		result   *models.Quote
		earnings *time.Time
	)
	err := WithRetry(ctx, yf.retry, func() error {
		e, err := equity.Get(symbol)
		if err != nil {
			return fmt.Errorf("failed to get equity for %s: %w", symbol, err)
		}
		if e == nil {
			return nil
		}
		result, earnings = quoteFromEquity(e, yf.now())
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, earnings, ctx.Err()
}

func quoteFromYahoo(q *finance.Quote, at time.Time) *models.Quote {
	return &models.Quote{
		Symbol:        q.Symbol,
		Name:          q.ShortName,
		Exchange:      q.FullExchangeName,
		Currency:      q.CurrencyID,
		QuoteType:     string(q.QuoteType),
		Price:         q.RegularMarketPrice,
		ChangePercent: q.RegularMarketChangePercent,
		FetchedAt:     at,
	}
}

// quoteFromEquity prefers the long name, which only the equity endpoint
// returns.
func quoteFromEquity(e *finance.Equity, at time.Time) (*models.Quote, *time.Time) {
	q := quoteFromYahoo(&e.Quote, at)
	if e.LongName != "" {
		q.Name = e.LongName
	}
	q.MarketCap = float64(e.MarketCap)
	q.TrailingPE = e.TrailingPE
	if e.EarningsTimestamp <= 0 {
		return q, nil
	}
	t := time.Unix(int64(e.EarningsTimestamp), 0).UTC()
	return q, &t
}

// History gets daily bars between start and end, oldest first.
func (yf *YahooFinanceClient) History(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	symbol = NormalizeSymbol(symbol)
	var result []models.PriceBar
	err := WithRetry(ctx, yf.retry, func() error {
		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		}
		iter := chart.Get(params)

		result = result[:0]
		for iter.Next() {
			bar := iter.Bar()
			result = append(result, models.PriceBar{
				Symbol: symbol,
				Date:   time.Unix(int64(bar.Timestamp), 0).UTC(),
				Open:   bar.Open.InexactFloat64(),
				High:   bar.High.InexactFloat64(),
				Low:    bar.Low.InexactFloat64(),
				Close:  bar.Close.InexactFloat64(),
				Volume: int64(bar.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to get history for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, ctx.Err()
}
