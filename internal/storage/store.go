package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyike/CortexThesis/models"
	"github.com/dyike/CortexThesis/pkg/sqlite"
)

const (
	StatusDone     = "done"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Store persists finished analysis runs.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath, runsSchema)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    ticker TEXT NOT NULL,
    trade_duration TEXT NOT NULL,
    trade_direction TEXT NOT NULL,
    status TEXT NOT NULL,
    compliant INTEGER NOT NULL DEFAULT 0,
    revisions INTEGER NOT NULL DEFAULT 0,
    combined_sentiment TEXT NOT NULL DEFAULT '',
    total_tokens INTEGER NOT NULL DEFAULT 0,
    state_json TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_ticker_id ON runs(ticker, id);
`

// Save inserts rec and sets its Id and CreatedAt.
func (s *Store) Save(ctx context.Context, rec *models.RunRecord) error {
	if strings.TrimSpace(rec.Ticker) == "" {
		return errors.New("run ticker is required")
	}
	if rec.Status == "" {
		rec.Status = StatusDone
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO runs (request_id, ticker, trade_duration, trade_direction, status, compliant, revisions,
    combined_sentiment, total_tokens, state_json, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, rec.RequestId, rec.Ticker, rec.TradeDuration, rec.TradeDirection, rec.Status, rec.Compliant, rec.Revisions,
		rec.CombinedSentiment, rec.TotalTokens, rec.StateJSON, rec.Error, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert run id: %w", err)
	}
	rec.Id = id
	return nil
}

const runColumns = `id, request_id, ticker, trade_duration, trade_direction, status, compliant, revisions,
    combined_sentiment, total_tokens, state_json, error, created_at`

func scanRun(row interface{ Scan(...any) error }) (*models.RunRecord, error) {
	var (
		rec     models.RunRecord
		created int64
	)
	if err := row.Scan(&rec.Id, &rec.RequestId, &rec.Ticker, &rec.TradeDuration, &rec.TradeDirection, &rec.Status,
		&rec.Compliant, &rec.Revisions, &rec.CombinedSentiment, &rec.TotalTokens, &rec.StateJSON, &rec.Error, &created); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	return &rec, nil
}

// Get returns the run with id, or nil when there is none.
func (s *Store) Get(ctx context.Context, id int64) (*models.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ? LIMIT 1`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// List pages runs newest first. BeforeId is the bookmark returned as
// NextCursor by the previous page; zero starts from the newest run.
func (s *Store) List(ctx context.Context, p models.HistoryParams) (*models.HistoryPage, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	ticker := strings.ToUpper(strings.TrimSpace(p.Ticker))

	// one extra row tells whether another page exists
	rows, err := s.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM runs
WHERE (? = 0 OR id < ?) AND (? = '' OR ticker = ?)
ORDER BY id DESC
LIMIT ?
`, p.BeforeId, p.BeforeId, ticker, ticker, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	page := &models.HistoryPage{Items: []*models.RunRecord{}}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		page.Items = append(page.Items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.NextCursor = page.Items[limit-1].Id
	}
	return page, nil
}
