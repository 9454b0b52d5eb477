package dataflows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dyike/CortexThesis/models"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubClient handles Finnhub API operations
type FinnhubClient struct {
	client *resty.Client
	apiKey string
	retry  *RetryConfig
}

// NewFinnhubClient creates a new Finnhub client. An empty baseURL selects
// the public endpoint.
func NewFinnhubClient(apiKey, baseURL string) *FinnhubClient {
	if baseURL == "" {
		baseURL = finnhubBaseURL
	}
	return &FinnhubClient{
		client: newRestClient(baseURL, 20*time.Second, ""),
		apiKey: apiKey,
		retry:  DefaultRetryConfig(),
	}
}

var ErrNoAPIKey = errors.New("finnhub API key not configured")

func (fc *FinnhubClient) get(ctx context.Context, path string, params map[string]string, out any) error {
	if fc.apiKey == "" {
		return ErrNoAPIKey
	}
	return WithRetry(ctx, fc.retry, func() error {
		resp, err := fc.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetQueryParam("token", fc.apiKey).
			SetResult(out).
			Get(path)
		return checkResponse(resp, err, "finnhub "+path)
	})
}

// Profile returns the company profile. A symbol unknown to Finnhub yields
// a zero profile with an empty Name.
func (fc *FinnhubClient) Profile(ctx context.Context, symbol string) (*CompanyProfile, error) {
	var p CompanyProfile
	if err := fc.get(ctx, "/stock/profile2", map[string]string{"symbol": NormalizeSymbol(symbol)}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Metrics returns the numeric entries of the basic financials "metric" map.
func (fc *FinnhubClient) Metrics(ctx context.Context, symbol string) (map[string]float64, error) {
	var body struct {
		Metric map[string]any `json:"metric"`
	}
	params := map[string]string{"symbol": NormalizeSymbol(symbol), "metric": "all"}
	if err := fc.get(ctx, "/stock/metric", params, &body); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(body.Metric))
	for k, v := range body.Metric {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out, nil
}

// Peers lists same-industry symbols, excluding symbol itself.
func (fc *FinnhubClient) Peers(ctx context.Context, symbol string) ([]string, error) {
	var peers []string
	symbol = NormalizeSymbol(symbol)
	if err := fc.get(ctx, "/stock/peers", map[string]string{"symbol": symbol}, &peers); err != nil {
		return nil, err
	}
	out := peers[:0]
	for _, p := range peers {
		if p != symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

// FinnhubNews represents news from Finnhub API
type FinnhubNews struct {
	Category string `json:"category"`
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// CompanyNews gets news articles for a company, newest first.
func (fc *FinnhubClient) CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]models.NewsArticle, error) {
	var news []FinnhubNews
	params := map[string]string{
		"symbol": NormalizeSymbol(symbol),
		"from":   from.Format("2006-01-02"),
		"to":     to.Format("2006-01-02"),
	}
	if err := fc.get(ctx, "/company-news", params, &news); err != nil {
		return nil, err
	}
	out := make([]models.NewsArticle, 0, len(news))
	for _, n := range news {
		out = append(out, models.NewsArticle{
			Title:       n.Headline,
			Summary:     n.Summary,
			Source:      n.Source,
			URL:         n.URL,
			PublishedAt: time.Unix(n.DateTime, 0).UTC(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return out, nil
}

// NextEarnings returns the first scheduled earnings date on or after now
// within the next 120 days, or nil when none is scheduled.
func (fc *FinnhubClient) NextEarnings(ctx context.Context, symbol string, now time.Time) (*time.Time, error) {
	var body struct {
		EarningsCalendar []struct {
			Date   string `json:"date"`
			Symbol string `json:"symbol"`
		} `json:"earningsCalendar"`
	}
	params := map[string]string{
		"symbol": NormalizeSymbol(symbol),
		"from":   now.Format("2006-01-02"),
		"to":     now.AddDate(0, 0, 120).Format("2006-01-02"),
	}
	if err := fc.get(ctx, "/calendar/earnings", params, &body); err != nil {
		return nil, err
	}
	var next *time.Time
	today := now.UTC().Truncate(24 * time.Hour)
	for _, e := range body.EarningsCalendar {
		d, err := time.Parse("2006-01-02", e.Date)
		if err != nil {
			return nil, fmt.Errorf("finnhub earnings date %q: %w", e.Date, err)
		}
		if d.Before(today) {
			continue
		}
		if next == nil || d.Before(*next) {
			next = &d
		}
	}
	return next, nil
}
