package dataflows

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const fredBaseURL = "https://api.stlouisfed.org/fred"

// MacroSeries are the FRED series the macro branch summarizes.
var MacroSeries = map[string]string{
	"FEDFUNDS": "Effective federal funds rate (%)",
	"CPIAUCSL": "CPI, all urban consumers (index)",
	"UNRATE":   "Unemployment rate (%)",
	"DGS10":    "10-year Treasury yield (%)",
	"T10Y2Y":   "10y minus 2y Treasury spread (%)",
}

type FredClient struct {
	client *resty.Client
	apiKey string
	retry  *RetryConfig
}

func NewFredClient(apiKey, baseURL string) *FredClient {
	if baseURL == "" {
		baseURL = fredBaseURL
	}
	return &FredClient{
		client: newRestClient(baseURL, 20*time.Second, ""),
		apiKey: apiKey,
		retry:  DefaultRetryConfig(),
	}
}

// Latest returns up to n most recent observations of series, newest first.
func (fc *FredClient) Latest(ctx context.Context, series string, n int) ([]Observation, error) {
	if fc.apiKey == "" {
		return nil, fmt.Errorf("fred API key not configured")
	}
	var body struct {
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	err := WithRetry(ctx, fc.retry, func() error {
		resp, err := fc.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"series_id":  series,
				"api_key":    fc.apiKey,
				"file_type":  "json",
				"sort_order": "desc",
				"limit":      strconv.Itoa(n),
			}).
			SetResult(&body).
			Get("/series/observations")
		return checkResponse(resp, err, "fred "+series)
	})
	if err != nil {
		return nil, err
	}
	out := make([]Observation, 0, len(body.Observations))
	for _, o := range body.Observations {
		d, err := time.Parse("2006-01-02", o.Date)
		if err != nil {
			return nil, fmt.Errorf("fred %s: bad date %q: %w", series, o.Date, err)
		}
		obs := Observation{Series: series, Date: d}
		if v, err := strconv.ParseFloat(o.Value, 64); err == nil {
			obs.Value, obs.Valid = v, true
		}
		out = append(out, obs)
	}
	return out, nil
}
