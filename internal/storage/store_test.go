package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &models.RunRecord{RequestId: "req-1", Ticker: "AAPL", TradeDuration: "long", TradeDirection: "long",
		Compliant: true, Revisions: 1, CombinedSentiment: "BULLISH", TotalTokens: 1234}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.Id == 0 || rec.Status != StatusDone || rec.CreatedAt.IsZero() {
		t.Fatalf("record not stamped: %+v", rec)
	}
	got, err := s.Get(ctx, rec.Id)
	if err != nil || got == nil {
		t.Fatalf("Get: %+v, %v", got, err)
	}
	if got.Ticker != "AAPL" || !got.Compliant || got.TotalTokens != 1234 || got.RequestId != "req-1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt.Truncate(time.Millisecond)) {
		t.Fatalf("created_at %v != %v", got.CreatedAt, rec.CreatedAt)
	}
	missing, err := s.Get(ctx, 999)
	if err != nil || missing != nil {
		t.Fatalf("missing run: %+v, %v", missing, err)
	}
	if err := s.Save(ctx, &models.RunRecord{}); err == nil {
		t.Fatal("a run without ticker should be rejected")
	}
}

func TestListPagesNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, ticker := range []string{"AAPL", "MSFT", "AAPL", "NVDA", "AAPL"} {
		if err := s.Save(ctx, &models.RunRecord{Ticker: ticker, TradeDuration: "short", TradeDirection: "long", Revisions: i}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	page, err := s.List(ctx, models.HistoryParams{Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].Id != 5 || page.Items[1].Id != 4 || page.NextCursor != 4 {
		t.Fatalf("first page %+v next=%d", page.Items, page.NextCursor)
	}
	page, err = s.List(ctx, models.HistoryParams{Limit: 2, BeforeId: page.NextCursor})
	if err != nil || len(page.Items) != 2 || page.Items[0].Id != 3 || page.NextCursor != 2 {
		t.Fatalf("second page %+v, %v", page, err)
	}
	page, err = s.List(ctx, models.HistoryParams{Limit: 2, BeforeId: page.NextCursor})
	if err != nil || len(page.Items) != 1 || page.NextCursor != 0 {
		t.Fatalf("last page %+v, %v", page, err)
	}

	page, err = s.List(ctx, models.HistoryParams{Ticker: "aapl"})
	if err != nil || len(page.Items) != 3 {
		t.Fatalf("ticker filter %+v, %v", page, err)
	}
	for _, it := range page.Items {
		if it.Ticker != "AAPL" {
			t.Fatalf("filter leaked %s", it.Ticker)
		}
	}
}

func TestListEmpty(t *testing.T) {
	s := openTestStore(t)
	page, err := s.List(context.Background(), models.HistoryParams{Limit: 1000})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Items == nil || len(page.Items) != 0 || page.NextCursor != 0 {
		t.Fatalf("empty page %+v", page)
	}
}

func TestNewRunRecord(t *testing.T) {
	id := models.Identity{Ticker: "AAPL", TradeDuration: consts.DurationShort, TradeDirection: consts.DirectionShort}
	st := models.NewState(id)
	st.CombinedSentiment = "BEARISH"
	st.RevisionIterationCount = 2
	st.Metrics = models.NodeFragment("aggregate", models.NodeMetrics{PromptTokens: 10, CompletionTokens: 5})

	rec := NewRunRecord("req-9", id, st, StatusDone, nil)
	if rec.Revisions != 2 || rec.TotalTokens != 15 || rec.TradeDirection != "short" || rec.Error != "" {
		t.Fatalf("record %+v", rec)
	}
	if !strings.Contains(rec.StateJSON, `"combined_sentiment":"BEARISH"`) {
		t.Fatalf("state json %s", rec.StateJSON)
	}

	failed := NewRunRecord("req-10", id, nil, StatusError, errors.New("timeout"))
	if failed.Error != "timeout" || failed.StateJSON != "" || failed.Status != StatusError {
		t.Fatalf("failed record %+v", failed)
	}
}

func TestRecorderDrainsOnClose(t *testing.T) {
	s := openTestStore(t)
	r, err := NewRecorder(s)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	for i := 0; i < 10; i++ {
		r.Record(&models.RunRecord{Ticker: "MSFT", TradeDuration: "medium", TradeDirection: "long"})
	}
	r.Close()
	r.Close()
	r.Record(&models.RunRecord{Ticker: "LATE", TradeDuration: "medium", TradeDirection: "long"})

	page, err := s.List(context.Background(), models.HistoryParams{Limit: 50})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 10 {
		t.Fatalf("persisted %d runs, want 10", len(page.Items))
	}
	if _, err := NewRecorder(nil); err == nil {
		t.Fatal("nil store should be rejected")
	}
}
