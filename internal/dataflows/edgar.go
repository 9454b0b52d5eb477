package dataflows

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	secWWWBaseURL  = "https://www.sec.gov"
	secDataBaseURL = "https://data.sec.gov"

	// SEC fair-access limit
	secRequestsPerSecond = 10
)

// EdgarClient reads the SEC EDGAR ticker map, submission index and filing
// documents. SEC requires a descriptive User-Agent with contact details.
type EdgarClient struct {
	www   *resty.Client
	data  *resty.Client
	retry *RetryConfig
	limit *rate.Limiter

	mu      sync.Mutex
	tickers map[string]string // ticker -> zero-padded CIK
}

func NewEdgarClient(userAgent, wwwBaseURL, dataBaseURL string) *EdgarClient {
	if wwwBaseURL == "" {
		wwwBaseURL = secWWWBaseURL
	}
	if dataBaseURL == "" {
		dataBaseURL = secDataBaseURL
	}
	return &EdgarClient{
		www:   newRestClient(wwwBaseURL, 30*time.Second, userAgent),
		data:  newRestClient(dataBaseURL, 30*time.Second, userAgent),
		retry: DefaultRetryConfig(),
		limit: rate.NewLimiter(rate.Limit(secRequestsPerSecond), 1),
	}
}

// get issues one rate-limited GET.
func (ec *EdgarClient) get(ctx context.Context, c *resty.Client, path string, result any) (*resty.Response, error) {
	if err := ec.limit.Wait(ctx); err != nil {
		return nil, err
	}
	req := c.R().SetContext(ctx)
	if result != nil {
		req = req.ForceContentType("application/json").SetResult(result)
	}
	return req.Get(path)
}

// CIK resolves a ticker to its ten-digit CIK. ok is false for tickers SEC
// does not list.
func (ec *EdgarClient) CIK(ctx context.Context, ticker string) (string, bool, error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.tickers == nil {
		var body map[string]struct {
			CIK    int64  `json:"cik_str"`
			Ticker string `json:"ticker"`
			Title  string `json:"title"`
		}
		err := WithRetry(ctx, ec.retry, func() error {
			resp, err := ec.get(ctx, ec.www, "/files/company_tickers.json", &body)
			return checkResponse(resp, err, "edgar ticker map")
		})
		if err != nil {
			return "", false, err
		}
		ec.tickers = make(map[string]string, len(body))
		for _, e := range body {
			ec.tickers[strings.ToUpper(e.Ticker)] = fmt.Sprintf("%010d", e.CIK)
		}
	}
	// EDGAR writes share classes with a dash
	key := strings.ReplaceAll(NormalizeSymbol(ticker), ".", "-")
	cik, ok := ec.tickers[key]
	return cik, ok, nil
}

// RecentFilings lists up to n most recent filings of the given forms.
func (ec *EdgarClient) RecentFilings(ctx context.Context, cik string, forms []string, n int) ([]Filing, error) {
	var body struct {
		Filings struct {
			Recent struct {
				AccessionNumber []string `json:"accessionNumber"`
				Form            []string `json:"form"`
				PrimaryDocument []string `json:"primaryDocument"`
				FilingDate      []string `json:"filingDate"`
			} `json:"recent"`
		} `json:"filings"`
	}
	err := WithRetry(ctx, ec.retry, func() error {
		resp, err := ec.get(ctx, ec.data, "/submissions/CIK"+cik+".json", &body)
		return checkResponse(resp, err, "edgar submissions "+cik)
	})
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(forms))
	for _, f := range forms {
		wanted[f] = true
	}
	r := body.Filings.Recent
	var out []Filing
	for i := range r.Form {
		if !wanted[r.Form[i]] || i >= len(r.AccessionNumber) || i >= len(r.PrimaryDocument) {
			continue
		}
		f := Filing{
			CIK:             cik,
			Form:            r.Form[i],
			AccessionNumber: r.AccessionNumber[i],
			PrimaryDocument: r.PrimaryDocument[i],
		}
		if i < len(r.FilingDate) {
			f.FiledAt, _ = time.Parse("2006-01-02", r.FilingDate[i])
		}
		out = append(out, f)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// DocumentPath is the archive path of a filing's primary document.
func (f Filing) DocumentPath() string {
	cik := strings.TrimLeft(f.CIK, "0")
	if _, err := strconv.ParseInt(cik, 10, 64); err != nil {
		cik = f.CIK
	}
	return fmt.Sprintf("/Archives/edgar/data/%s/%s/%s", cik, strings.ReplaceAll(f.AccessionNumber, "-", ""), f.PrimaryDocument)
}

// Document downloads the primary document HTML of f.
func (ec *EdgarClient) Document(ctx context.Context, f Filing) (string, error) {
	var html string
	err := WithRetry(ctx, ec.retry, func() error {
		resp, err := ec.get(ctx, ec.www, f.DocumentPath(), nil)
		if err := checkResponse(resp, err, "edgar document "+f.AccessionNumber); err != nil {
			return err
		}
		html = resp.String()
		return nil
	})
	return html, err
}
