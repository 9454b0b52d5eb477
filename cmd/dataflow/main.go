// Command dataflow prints the daily bars and indicators one history source
// returns for a ticker. It exercises the data clients without an LLM.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dyike/CortexThesis/config"
	"github.com/dyike/CortexThesis/internal/agents/analysts"
	"github.com/dyike/CortexThesis/internal/dataflows"
	"github.com/dyike/CortexThesis/internal/logging"
	"github.com/dyike/CortexThesis/models"
)

func main() {
	ticker := flag.String("ticker", "AAPL", "ticker to fetch")
	source := flag.String("source", "yahoo", "history source: yahoo or longport")
	days := flag.Int("days", 90, "calendar days of history")
	flag.Parse()

	cfg := config.DefaultConfig()
	logging.Setup(logging.Options{Level: cfg.LogLevel, Format: "console"})

	if err := run(context.Background(), cfg, *ticker, *source, *days); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, ticker, source string, days int) error {
	var src analysts.HistorySource
	switch source {
	case "yahoo":
		src = dataflows.NewYahooFinanceClient()
	case "longport":
		lp, err := dataflows.NewLongportClient(dataflows.LongportConfig{
			AppKey:      cfg.LongportAppKey,
			AppSecret:   cfg.LongportAppSecret,
			AccessToken: cfg.LongportAccessToken,
		})
		if err != nil {
			return err
		}
		defer lp.Close()
		src = lp
	default:
		return fmt.Errorf("unknown source %q", source)
	}

	end := time.Now()
	bars, err := src.History(ctx, dataflows.NormalizeSymbol(ticker), end.AddDate(0, 0, -days), end)
	if err != nil {
		return err
	}
	out := struct {
		Bars       []models.PriceBar `json:"bars"`
		Indicators map[string]string `json:"indicators"`
	}{Bars: bars}
	ind := analysts.ComputeIndicators(bars)
	out.Indicators = map[string]string{
		"macd":        ind.MACD.StringFixed(4),
		"macd_signal": ind.MACDSignal.StringFixed(4),
		"boll_upper":  ind.BollUpper.StringFixed(2),
		"boll_lower":  ind.BollLower.StringFixed(2),
		"atr14":       ind.ATR14.StringFixed(2),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
