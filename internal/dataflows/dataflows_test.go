package dataflows

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	var calls int
	err := WithRetry(context.Background(), fastRetry(), func() error {
		calls++
		return ErrPermanent
	})
	if !errors.Is(err, ErrPermanent) || calls != 1 {
		t.Fatalf("permanent errors must not be retried: calls=%d err=%v", calls, err)
	}

	calls = 0
	err = WithRetry(context.Background(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt: calls=%d err=%v", calls, err)
	}
}

func TestFinnhubClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("token") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/stock/profile2":
			_, _ = w.Write([]byte(`{"ticker":"NVDA","name":"NVIDIA Corp","finnhubIndustry":"Semiconductors","exchange":"NASDAQ","currency":"USD","marketCapitalization":3200000}`))
		case "/stock/peers":
			_, _ = w.Write([]byte(`["NVDA","AMD","INTC"]`))
		case "/stock/metric":
			_, _ = w.Write([]byte(`{"metric":{"peTTM":55.2,"52WeekHighDate":"2026-01-01","roeTTM":91.1}}`))
		case "/calendar/earnings":
			_, _ = w.Write([]byte(`{"earningsCalendar":[{"date":"2026-08-27","symbol":"NVDA"},{"date":"2026-05-28","symbol":"NVDA"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fc := NewFinnhubClient("k", srv.URL)
	fc.retry = fastRetry()
	ctx := context.Background()

	p, err := fc.Profile(ctx, "nvda")
	if err != nil || p.Industry != "Semiconductors" || p.Name != "NVIDIA Corp" {
		t.Fatalf("Profile: %+v %v", p, err)
	}
	peers, err := fc.Peers(ctx, "NVDA")
	if err != nil || strings.Join(peers, ",") != "AMD,INTC" {
		t.Fatalf("Peers should exclude the subject: %v %v", peers, err)
	}
	m, err := fc.Metrics(ctx, "NVDA")
	if err != nil || m["peTTM"] != 55.2 || len(m) != 2 {
		t.Fatalf("Metrics should keep numeric entries only: %v %v", m, err)
	}
	next, err := fc.NextEarnings(ctx, "NVDA", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || next == nil || next.Format("2006-01-02") != "2026-05-28" {
		t.Fatalf("NextEarnings: %v %v", next, err)
	}

	before := hits.Load()
	bad := NewFinnhubClient("wrong", srv.URL)
	bad.retry = fastRetry()
	if _, err := bad.Profile(ctx, "NVDA"); !errors.Is(err, ErrPermanent) {
		t.Fatalf("401 should be permanent, got %v", err)
	}
	if hits.Load()-before != 1 {
		t.Fatalf("401 should not be retried")
	}
	if _, err := NewFinnhubClient("", srv.URL).Profile(ctx, "NVDA"); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestFredLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("series_id") != "UNRATE" || r.URL.Query().Get("sort_order") != "desc" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"observations":[{"date":"2026-06-01","value":"4.1"},{"date":"2026-05-01","value":"."}]}`))
	}))
	defer srv.Close()

	fc := NewFredClient("k", srv.URL)
	obs, err := fc.Latest(context.Background(), "UNRATE", 2)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(obs) != 2 || !obs[0].Valid || obs[0].Value != 4.1 || obs[1].Valid {
		t.Fatalf("unexpected observations: %+v", obs)
	}
}

func TestEdgarClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.UserAgent(), "research@example.com") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch {
		case r.URL.Path == "/files/company_tickers.json":
			_, _ = w.Write([]byte(`{"0":{"cik_str":320193,"ticker":"AAPL","title":"Apple Inc."},"1":{"cik_str":1067983,"ticker":"BRK-B","title":"Berkshire"}}`))
		case r.URL.Path == "/submissions/CIK0000320193.json":
			_, _ = w.Write([]byte(`{"filings":{"recent":{
				"accessionNumber":["0000320193-26-000010","0000320193-26-000008","0000320193-25-000106"],
				"form":["8-K","10-Q","10-K"],
				"primaryDocument":["a8k.htm","aapl-20260328.htm","aapl-20250927.htm"],
				"filingDate":["2026-05-02","2026-05-01","2025-10-31"]}}}`))
		case strings.HasPrefix(r.URL.Path, "/Archives/edgar/data/320193/000032019326000008/"):
			_, _ = w.Write([]byte(`<html><body><p>Net sales increased.</p></body></html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ec := NewEdgarClient("CortexThesis research@example.com", srv.URL, srv.URL)
	ctx := context.Background()

	cik, ok, err := ec.CIK(ctx, "aapl")
	if err != nil || !ok || cik != "0000320193" {
		t.Fatalf("CIK: %q %v %v", cik, ok, err)
	}
	if _, ok, _ := ec.CIK(ctx, "BRK.B"); !ok {
		t.Fatalf("share class tickers should resolve with a dash")
	}
	if _, ok, _ := ec.CIK(ctx, "ZZZZ"); ok {
		t.Fatalf("unknown ticker should not resolve")
	}

	filings, err := ec.RecentFilings(ctx, cik, []string{"10-K", "10-Q"}, 5)
	if err != nil || len(filings) != 2 || filings[0].Form != "10-Q" {
		t.Fatalf("RecentFilings: %+v %v", filings, err)
	}
	if got := filings[0].DocumentPath(); got != "/Archives/edgar/data/320193/000032019326000008/aapl-20260328.htm" {
		t.Fatalf("DocumentPath = %q", got)
	}
	doc, err := ec.Document(ctx, filings[0])
	if err != nil || !strings.Contains(doc, "Net sales increased") {
		t.Fatalf("Document: %q %v", doc, err)
	}
}

func TestNewsScraperParsesFeed(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>search</title>
<item><title>Chip demand surges - Reuters</title><link>https://example.com/a</link>
<pubDate>Mon, 01 Jun 2026 12:00:00 GMT</pubDate><description>&lt;a href="x"&gt;Chip demand surges&lt;/a&gt;</description>
<source url="https://reuters.com">Reuters</source></item>
<item><title>Foundry capacity tight - Bloomberg</title><link>https://example.com/b</link>
<pubDate>Sun, 31 May 2026 09:30:00 GMT</pubDate><source url="https://bloomberg.com">Bloomberg</source></item>
<item><title>Third item - AP</title><link>https://example.com/c</link><source url="https://ap.org">AP</source></item>
</channel></rss>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rss/search" || !strings.Contains(r.URL.Query().Get("q"), "semiconductors") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	ns := NewNewsScraperClient(srv.URL)
	articles, err := ns.Search(context.Background(), "semiconductors industry", 7*24*time.Hour, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected limit of 2 articles, got %d", len(articles))
	}
	a := articles[0]
	if a.Title != "Chip demand surges" || a.Source != "Reuters" || a.URL != "https://example.com/a" {
		t.Fatalf("unexpected first article: %+v", a)
	}
	if a.PublishedAt.IsZero() || a.Summary != "Chip demand surges" {
		t.Fatalf("date or summary not parsed: %+v", a)
	}
}
