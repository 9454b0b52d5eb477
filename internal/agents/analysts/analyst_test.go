package analysts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/internal/agents"
	"github.com/dyike/CortexThesis/internal/agents/agenttest"
	"github.com/dyike/CortexThesis/internal/dataflows"
	"github.com/dyike/CortexThesis/models"
)

func testSubject() agents.Subject {
	return agents.Subject{
		Identity: models.Identity{
			Ticker:         "AAPL",
			TradeDuration:  consts.DurationMedium,
			TradeDirection: consts.DirectionLong,
		},
		Industry: "Technology",
		Business: "Apple Inc.",
		AsOf:     time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC),
	}
}

func TestLLMAnalystParsesReply(t *testing.T) {
	chat := &agenttest.ScriptedModel{
		Replies:          []string{"```json\n{\"label\": \"Positive\", \"points\": [\"margins expanding\", \" \"], \"confidence\": \"HIGH\"}\n```"},
		PromptTokens:     120,
		CompletionTokens: 30,
	}
	g := GathererFunc(func(ctx context.Context, s agents.Subject) (string, error) {
		return "P/E (TTM): 28.10", nil
	})
	a, err := NewLLMAnalyst(consts.BranchFundamental, g, &agents.LLM{Model: chat, Name: "quick"})
	if err != nil {
		t.Fatalf("NewLLMAnalyst: %v", err)
	}

	sent, usage, err := a.Analyze(context.Background(), testSubject())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sent.Label != consts.LabelBullish || sent.Confidence != consts.ConfidenceHigh {
		t.Fatalf("unexpected sentiment: %+v", sent)
	}
	if len(sent.Points) != 1 || sent.Points[0] != "margins expanding" {
		t.Fatalf("points not cleaned: %q", sent.Points)
	}
	if usage.Tokens() != 150 || usage.Model != "quick" {
		t.Fatalf("unexpected usage: %+v", usage)
	}

	prompt := chat.LastPrompt()
	for _, want := range []string{"Ticker: AAPL", "Company: Apple Inc.", "P/E (TTM): 28.10", "medium-term", "2025-03-14", `"label"`} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestLLMAnalystGatherFailureSkipsModel(t *testing.T) {
	chat := &agenttest.ScriptedModel{Replies: []string{"{}"}}
	boom := errors.New("provider down")
	a, err := NewLLMAnalyst(consts.BranchMacro, GathererFunc(func(context.Context, agents.Subject) (string, error) {
		return "", boom
	}), &agents.LLM{Model: chat})
	if err != nil {
		t.Fatalf("NewLLMAnalyst: %v", err)
	}
	if _, _, err := a.Analyze(context.Background(), testSubject()); !errors.Is(err, boom) {
		t.Fatalf("expected gather error, got %v", err)
	}
	if chat.Calls() != 0 {
		t.Fatalf("model should not be called, got %d calls", chat.Calls())
	}
}

func TestLLMAnalystRejectsUnknownLabel(t *testing.T) {
	chat := &agenttest.ScriptedModel{Replies: []string{`{"label": "sideways", "points": ["x"], "confidence": "low"}`}}
	a, err := NewLLMAnalyst(consts.BranchHeadline, GathererFunc(func(context.Context, agents.Subject) (string, error) {
		return "- headline", nil
	}), &agents.LLM{Model: chat})
	if err != nil {
		t.Fatalf("NewLLMAnalyst: %v", err)
	}
	if _, _, err := a.Analyze(context.Background(), testSubject()); err == nil {
		t.Fatal("expected an error for an unknown label")
	}
}

func TestEveryBranchHasPrompt(t *testing.T) {
	for _, b := range consts.Branches {
		if _, err := NewLLMAnalyst(b, GathererFunc(nil), &agents.LLM{}); err != nil {
			t.Fatalf("branch %s: %v", b, err)
		}
	}
}

func dailyBars(closes ...float64) []models.PriceBar {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = models.PriceBar{Symbol: "T", Date: start.AddDate(0, 0, i), Close: c, Volume: 1000}
	}
	return bars
}

func TestSummarize(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	sum, err := Summarize(dailyBars(closes...))
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got := sum.LastClose.StringFixed(2); got != "159.00" {
		t.Fatalf("last close = %s", got)
	}
	// mean of 140..159
	if got := sum.SMA20.StringFixed(2); got != "149.50" {
		t.Fatalf("SMA20 = %s", got)
	}
	if !sum.SMA200.IsZero() {
		t.Fatalf("SMA200 needs 200 bars, got %s", sum.SMA200)
	}
	// 159 vs 154
	if got := sum.Return5.StringFixed(2); got != "3.25" {
		t.Fatalf("5d return = %s", got)
	}
	if got := sum.RSI14.StringFixed(0); got != "100" {
		t.Fatalf("RSI of a monotonic rise = %s", got)
	}
	if !sum.FromHigh.IsZero() {
		t.Fatalf("price at the high should be 0%% below, got %s", sum.FromHigh)
	}
	if !strings.Contains(sum.String(), "SMA20: 149.50 (price above)") {
		t.Fatalf("rendered summary:\n%s", sum)
	}
}

func TestSummarizeNeedsBars(t *testing.T) {
	if _, err := Summarize(dailyBars(10)); !errors.Is(err, ErrNoEvidence) {
		t.Fatalf("expected ErrNoEvidence, got %v", err)
	}
}

type fakeSeries map[string][]dataflows.Observation

func (f fakeSeries) Latest(_ context.Context, series string, n int) ([]dataflows.Observation, error) {
	obs, ok := f[series]
	if !ok {
		return nil, errors.New("unknown series " + series)
	}
	if len(obs) > n {
		obs = obs[:n]
	}
	return obs, nil
}

func TestMacroGathererSkipsMissingValues(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2025, 2, day, 0, 0, 0, 0, time.UTC) }
	g := &MacroGatherer{
		Series: fakeSeries{
			"DGS10": {
				{Series: "DGS10", Date: d(3), Valid: false},
				{Series: "DGS10", Date: d(2), Value: 4.51, Valid: true},
				{Series: "DGS10", Date: d(1), Value: 4.47, Valid: true},
			},
		},
		Names: map[string]string{"DGS10": "10-year yield", "UNRATE": "Unemployment"},
	}
	out, err := g.Gather(context.Background(), testSubject())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	want := "10-year yield: 4.51 (2025-02-02), prior 4.47 (2025-02-01)\n"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

type fakePeers []string

func (f fakePeers) Peers(context.Context, string) ([]string, error) { return f, nil }

type fakeEquities map[string]*models.Quote

func (f fakeEquities) Equity(_ context.Context, symbol string) (*models.Quote, *time.Time, error) {
	q, ok := f[symbol]
	if !ok {
		return nil, nil, errors.New("no quote")
	}
	return q, nil, nil
}

func TestPeerGatherer(t *testing.T) {
	g := &PeerGatherer{
		Peers: fakePeers{"MSFT", "DELL", "HPQ"},
		Quotes: fakeEquities{
			"AAPL": {Symbol: "AAPL", Name: "Apple", Price: 210, MarketCap: 3.2e12, TrailingPE: 33},
			"MSFT": {Symbol: "MSFT", Name: "Microsoft", Price: 400, MarketCap: 3e12},
			"HPQ":  {Symbol: "HPQ", Name: "HP", Price: 30},
		},
		Max: 3,
	}
	out, err := g.Gather(context.Background(), testSubject())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, want := range []string{"Apple (subject)", "| MSFT | Microsoft | 400.00 | 0.00 | 3.00T | n/a |", "| HPQ |"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "DELL") {
		t.Fatalf("failed quote should be skipped:\n%s", out)
	}
}

func TestPeerGathererNoPeerQuotes(t *testing.T) {
	g := &PeerGatherer{
		Peers:  fakePeers{"MSFT"},
		Quotes: fakeEquities{"AAPL": {Symbol: "AAPL", Name: "Apple", Price: 210}},
	}
	if _, err := g.Gather(context.Background(), testSubject()); !errors.Is(err, ErrNoEvidence) {
		t.Fatalf("expected ErrNoEvidence, got %v", err)
	}
}

type fakeCompanyNews []models.NewsArticle

func (f fakeCompanyNews) CompanyNews(context.Context, string, time.Time, time.Time) ([]models.NewsArticle, error) {
	return f, nil
}

func TestHeadlineGathererLimits(t *testing.T) {
	at := time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)
	g := &HeadlineGatherer{
		News: fakeCompanyNews{
			{Title: "Apple unveils chip", Source: "Reuters", PublishedAt: at},
			{Title: "Apple faces inquiry", PublishedAt: at},
			{Title: "dropped"},
		},
		Limit: 2,
	}
	out, err := g.Gather(context.Background(), testSubject())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	want := "- [2025-03-13] Apple unveils chip (Reuters)\n- [2025-03-13] Apple faces inquiry\n"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestComputeIndicators(t *testing.T) {
	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 50
	}
	ind := ComputeIndicators(dailyBars(flat...))
	if got := ind.BollUpper.StringFixed(2); got != "50.00" {
		t.Fatalf("Bollinger upper of a flat series = %s", got)
	}
	if !ind.MACD.IsZero() || !ind.MACDHistogram().IsZero() {
		t.Fatalf("MACD of a flat series = %s / %s", ind.MACD, ind.MACDHistogram())
	}

	rising := make([]float64, 60)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	ind = ComputeIndicators(dailyBars(rising...))
	if !ind.MACD.IsPositive() {
		t.Fatalf("MACD of a rising series = %s, want positive", ind.MACD)
	}
	if !ind.BollUpper.GreaterThan(ind.BollLower) {
		t.Fatalf("bands inverted: %s..%s", ind.BollLower, ind.BollUpper)
	}
	// close-only bars: true range is the one-unit daily step
	if got := ind.ATR14.StringFixed(2); got != "1.00" {
		t.Fatalf("ATR14 = %s", got)
	}

	if short := ComputeIndicators(dailyBars(1, 2, 3)); !short.MACD.IsZero() || !short.ATR14.IsZero() {
		t.Fatalf("three bars produced indicators: %+v", short)
	}
}

type historyFunc func() ([]models.PriceBar, error)

func (f historyFunc) History(context.Context, string, time.Time, time.Time) ([]models.PriceBar, error) {
	return f()
}

func TestFallbackHistory(t *testing.T) {
	failing := historyFunc(func() ([]models.PriceBar, error) { return nil, errors.New("longport down") })
	empty := historyFunc(func() ([]models.PriceBar, error) { return nil, nil })
	good := historyFunc(func() ([]models.PriceBar, error) { return dailyBars(1, 2), nil })

	bars, err := FallbackHistory{failing, empty, good}.History(context.Background(), "T", time.Time{}, time.Now())
	if err != nil || len(bars) != 2 {
		t.Fatalf("bars = %v, err = %v", bars, err)
	}
	_, err = FallbackHistory{failing, empty}.History(context.Background(), "T", time.Time{}, time.Now())
	if err == nil || !errors.Is(err, ErrNoEvidence) || !strings.Contains(err.Error(), "longport down") {
		t.Fatalf("err = %v", err)
	}
}
